package service

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"magiclink/internal/entity"
	"magiclink/internal/utils"
)

const (
	DefaultTokenLength           = 50
	DefaultAuthTimeout           = 300 * time.Second
	DefaultTokenUses             = 1
	DefaultLoginRequestTimeLimit = 30 * time.Second
	DefaultRedirect              = "/"
	DefaultVerifyPath            = "/auth/login/verify"
	DefaultEmailSubject          = "Your login magic link"

	// staleLinkGrace is how far past the rate-limit window an unused link
	// may linger before the sweeper disables it.
	staleLinkGrace = 7 * 24 * time.Hour
)

// Config holds the magic link policy. Build it once with DefaultConfig (or
// config.LoadSettings) and hand it to the services; it is never reloaded.
type Config struct {
	TokenLength           int
	AuthTimeout           time.Duration
	TokenUses             int
	LoginRequestTimeLimit time.Duration

	EmailIgnoreCase     bool
	EmailAsUsername     bool
	AllowSuperuserLogin bool
	AllowStaffLogin     bool
	IgnoreIsActiveFlag  bool
	VerifyIncludeEmail  bool
	RequireSameBrowser  bool
	RequireSameIP       bool
	AnonymizeIP         bool
	OneTokenPerUser     bool
	RequireSignup       bool

	DefaultRedirect     string
	SignupLoginRedirect string
	VerifyPath          string
	AppBaseURL          string
	// AllowedHosts lists the request hosts emailed links may point at when
	// AppBaseURL is empty. A leading dot matches the domain and its subdomains.
	AllowedHosts []string

	EmailSubject string
	EmailStyles  EmailStyles
}

type EmailStyles struct {
	LogoURL               string
	BackgroundColor       string
	MainTextColor         string
	ButtonBackgroundColor string
	ButtonTextColor       string
}

func DefaultEmailStyles() EmailStyles {
	return EmailStyles{
		BackgroundColor:       "#ffffff",
		MainTextColor:         "#000000",
		ButtonBackgroundColor: "#0078be",
		ButtonTextColor:       "#ffffff",
	}
}

func DefaultConfig() Config {
	return Config{
		TokenLength:           DefaultTokenLength,
		AuthTimeout:           DefaultAuthTimeout,
		TokenUses:             DefaultTokenUses,
		LoginRequestTimeLimit: DefaultLoginRequestTimeLimit,
		EmailIgnoreCase:       true,
		EmailAsUsername:       true,
		AllowSuperuserLogin:   true,
		AllowStaffLogin:       true,
		IgnoreIsActiveFlag:    false,
		VerifyIncludeEmail:    true,
		RequireSameBrowser:    true,
		RequireSameIP:         true,
		AnonymizeIP:           false,
		OneTokenPerUser:       true,
		RequireSignup:         true,
		DefaultRedirect:       DefaultRedirect,
		VerifyPath:            DefaultVerifyPath,
		EmailSubject:          DefaultEmailSubject,
		EmailStyles:           DefaultEmailStyles(),
	}
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.TokenLength < 1 {
		errs = append(errs, errors.New("token length must be at least 1"))
	}
	if c.AuthTimeout <= 0 {
		errs = append(errs, errors.New("auth timeout must be positive"))
	}
	if c.TokenUses < 1 {
		errs = append(errs, errors.New("token uses must be at least 1"))
	}
	if c.LoginRequestTimeLimit < 0 {
		errs = append(errs, errors.New("login request time limit must not be negative"))
	}
	if base := strings.TrimSpace(c.AppBaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, errors.New("app base url must be an absolute http(s) url"))
		}
	} else if len(c.AllowedHosts) == 0 {
		errs = append(errs, errors.New("app base url or allowed hosts must be set"))
	}
	return errors.Join(errs...)
}

// hostAllowed reports whether host (optionally with a port) is listed in AllowedHosts.
func (c Config) hostAllowed(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	bare := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		bare = h
	}
	for _, allowed := range c.AllowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		switch {
		case allowed == "":
		case allowed == host || allowed == bare:
			return true
		case strings.HasPrefix(allowed, ".") &&
			(bare == allowed[1:] || strings.HasSuffix(bare, allowed)):
			return true
		}
	}
	return false
}

// WeakTokenLength reports whether the token length is below the recommended minimum.
func (c Config) WeakTokenLength() bool {
	return c.TokenLength < utils.MinRecommendedTokenLength
}

func (c Config) normalized() Config {
	if c.TokenLength <= 0 {
		c.TokenLength = DefaultTokenLength
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.TokenUses <= 0 {
		c.TokenUses = DefaultTokenUses
	}
	if c.DefaultRedirect == "" {
		c.DefaultRedirect = DefaultRedirect
	}
	if c.VerifyPath == "" {
		c.VerifyPath = DefaultVerifyPath
	}
	if c.EmailSubject == "" {
		c.EmailSubject = DefaultEmailSubject
	}
	return c
}

// RequestContext is the read-only view of the inbound request the services need.
type RequestContext interface {
	ClientIP() string
	Cookie(name string) (string, bool)
	// Origin is scheme://host of the request, used to build absolute links.
	Origin() string
}

// StaticRequestContext is a RequestContext backed by plain values.
type StaticRequestContext struct {
	IP      string
	Cookies map[string]string
	BaseURL string
}

func (r StaticRequestContext) ClientIP() string {
	return r.IP
}

func (r StaticRequestContext) Cookie(name string) (string, bool) {
	value, ok := r.Cookies[name]
	return value, ok
}

func (r StaticRequestContext) Origin() string {
	return r.BaseURL
}

type TokenGenerator interface {
	Token(length int) (string, error)
	Fingerprint() string
}

type RandomTokenGenerator struct{}

func (RandomTokenGenerator) Token(length int) (string, error) {
	return utils.GenerateToken(length)
}

func (RandomTokenGenerator) Fingerprint() string {
	return utils.GenerateFingerprint()
}

type MagicLinkEmail struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type EmailSender interface {
	SendMagicLink(ctx context.Context, msg MagicLinkEmail) error
}

type SessionIssuer interface {
	IssueSession(user entity.User) (string, time.Duration, error)
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

type SignupInput struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
}

type ValidationResult struct {
	User *entity.User
	Link *entity.MagicLink
}

type SweepResult struct {
	Disabled int64
	Deleted  int64
}
