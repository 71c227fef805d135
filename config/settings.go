package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"magiclink/internal/service"

	"github.com/sirupsen/logrus"
)

const settingsPrefix = "MAGICLINK_"

// Settings is everything the process reads from the environment.
type Settings struct {
	MagicLink service.Config

	LoginFailedRedirect string
	LogoutRedirect      string
	SweepInterval       time.Duration
	// TrustedProxies are the networks whose X-Forwarded-For header is
	// believed. Empty means the client IP is the TCP peer.
	TrustedProxies []*net.IPNet
}

// LoadSettings builds Settings from MAGICLINK_* environment variables on top
// of service.DefaultConfig. Unset variables keep their defaults.
func LoadSettings(log logrus.FieldLogger) (Settings, error) {
	return loadSettings(os.LookupEnv, log)
}

type lookupFunc func(key string) (string, bool)

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func loadSettings(lookup lookupFunc, log logrus.FieldLogger) (Settings, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &envReader{lookup: lookup}
	cfg := service.DefaultConfig()

	cfg.TokenLength = r.int("TOKEN_LENGTH", cfg.TokenLength)
	cfg.AuthTimeout = r.seconds("AUTH_TIMEOUT", cfg.AuthTimeout)
	cfg.TokenUses = r.int("TOKEN_USES", cfg.TokenUses)
	cfg.LoginRequestTimeLimit = r.seconds("LOGIN_REQUEST_TIME_LIMIT", cfg.LoginRequestTimeLimit)

	cfg.EmailIgnoreCase = r.bool("EMAIL_IGNORE_CASE", cfg.EmailIgnoreCase)
	cfg.EmailAsUsername = r.bool("EMAIL_AS_USERNAME", cfg.EmailAsUsername)
	cfg.AllowSuperuserLogin = r.bool("ALLOW_SUPERUSER_LOGIN", cfg.AllowSuperuserLogin)
	cfg.AllowStaffLogin = r.bool("ALLOW_STAFF_LOGIN", cfg.AllowStaffLogin)
	cfg.IgnoreIsActiveFlag = r.bool("IGNORE_IS_ACTIVE_FLAG", cfg.IgnoreIsActiveFlag)
	cfg.VerifyIncludeEmail = r.bool("VERIFY_INCLUDE_EMAIL", cfg.VerifyIncludeEmail)
	cfg.RequireSameBrowser = r.bool("REQUIRE_SAME_BROWSER", cfg.RequireSameBrowser)
	cfg.RequireSameIP = r.bool("REQUIRE_SAME_IP", cfg.RequireSameIP)
	cfg.AnonymizeIP = r.bool("ANONYMIZE_IP", cfg.AnonymizeIP)
	cfg.OneTokenPerUser = r.bool("ONE_TOKEN_PER_USER", cfg.OneTokenPerUser)
	cfg.RequireSignup = r.bool("REQUIRE_SIGNUP", cfg.RequireSignup)

	cfg.DefaultRedirect = r.string("DEFAULT_REDIRECT", cfg.DefaultRedirect)
	cfg.SignupLoginRedirect = r.string("SIGNUP_LOGIN_REDIRECT", cfg.SignupLoginRedirect)
	cfg.EmailSubject = r.string("EMAIL_SUBJECT", cfg.EmailSubject)
	cfg.EmailStyles.LogoURL = r.string("EMAIL_LOGO_URL", cfg.EmailStyles.LogoURL)
	cfg.AllowedHosts = r.list("ALLOWED_HOSTS", cfg.AllowedHosts)
	if value, ok := lookup("APP_BASE_URL"); ok {
		cfg.AppBaseURL = strings.TrimSpace(value)
	}

	settings := Settings{
		MagicLink:           cfg,
		LoginFailedRedirect: r.string("LOGIN_FAILED_REDIRECT", ""),
		LogoutRedirect:      r.string("LOGOUT_REDIRECT", ""),
		SweepInterval:       r.seconds("SWEEP_INTERVAL", 0),
		TrustedProxies:      r.networks("TRUSTED_PROXIES"),
	}

	if err := errors.Join(r.errs...); err != nil {
		return Settings{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	if cfg.WeakTokenLength() {
		log.WithField("token_length", cfg.TokenLength).Warn("MAGICLINK_TOKEN_LENGTH is shorter than recommended")
	}
	return settings, nil
}

func (r *envReader) get(name string) (string, bool) {
	value, ok := r.lookup(settingsPrefix + name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (r *envReader) string(name string, fallback string) string {
	if value, ok := r.get(name); ok {
		return value
	}
	return fallback
}

func (r *envReader) int(name string, fallback int) int {
	value, ok := r.get(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %q is not an integer", settingsPrefix, name, value))
		return fallback
	}
	return parsed
}

func (r *envReader) bool(name string, fallback bool) bool {
	value, ok := r.get(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %q is not a boolean", settingsPrefix, name, value))
		return fallback
	}
	return parsed
}

// list splits a comma separated value, dropping empty items.
func (r *envReader) list(name string, fallback []string) []string {
	value, ok := r.get(name)
	if !ok {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// networks parses a comma separated list of CIDRs or bare IPs.
func (r *envReader) networks(name string) []*net.IPNet {
	var networks []*net.IPNet
	for _, item := range r.list(name, nil) {
		cidr := item
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil && ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s%s: %q is not a network", settingsPrefix, name, item))
			continue
		}
		networks = append(networks, network)
	}
	return networks
}

// seconds accepts either a bare number of seconds or a Go duration string.
func (r *envReader) seconds(name string, fallback time.Duration) time.Duration {
	value, ok := r.get(name)
	if !ok {
		return fallback
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %q is not a duration", settingsPrefix, name, value))
		return fallback
	}
	return parsed
}
