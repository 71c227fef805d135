package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"magiclink/internal/entity"
	"magiclink/internal/repository"
	"magiclink/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const randomUsernameLength = 10

type MagicLinkService struct {
	links        repository.MagicLinkRepository
	users        repository.UserRepository
	securityLogs repository.SecurityLogRepository

	emailSender EmailSender
	emails      *emailRenderer
	tokens      TokenGenerator
	clock       Clock
	log         logrus.FieldLogger
	config      Config
}

func NewMagicLinkService(
	links repository.MagicLinkRepository,
	users repository.UserRepository,
	securityLogs repository.SecurityLogRepository,
	emailSender EmailSender,
	tokens TokenGenerator,
	clock Clock,
	log logrus.FieldLogger,
	config Config,
) *MagicLinkService {
	if tokens == nil {
		tokens = RandomTokenGenerator{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MagicLinkService{
		links:        links,
		users:        users,
		securityLogs: securityLogs,
		emailSender:  emailSender,
		emails:       newEmailRenderer(),
		tokens:       tokens,
		clock:        clock,
		log:          log,
		config:       config.normalized(),
	}
}

func (s *MagicLinkService) Config() Config {
	return s.config
}

// Issue creates a new magic link for email. redirectURL must already be
// checked by the caller; an empty value falls back to the default redirect.
func (s *MagicLinkService) Issue(ctx context.Context, email string, req RequestContext, redirectURL string) (*entity.MagicLink, error) {
	email = s.normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidInput
	}

	now := s.now()
	// The window check and Create are separate statements, so concurrent
	// requests for one email may both pass it.
	if s.config.LoginRequestTimeLimit > 0 {
		recent, err := s.links.ExistsCreatedSince(ctx, email, now.Add(-s.config.LoginRequestTimeLimit))
		if err != nil {
			return nil, fmt.Errorf("check recent magic links: %w", err)
		}
		if recent {
			s.log.WithField("email", email).Warn("magic link rate limit hit")
			return nil, ErrTooManyRequests
		}
	}

	if s.config.OneTokenPerUser {
		if _, err := s.links.DisableActiveByEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("disable previous magic links: %w", err)
		}
	}

	if strings.TrimSpace(redirectURL) == "" {
		redirectURL = s.config.DefaultRedirect
	}

	token, err := s.tokens.Token(s.config.TokenLength)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	link := &entity.MagicLink{
		Email:       email,
		Token:       token,
		Expiry:      now.Add(s.config.AuthTimeout),
		RedirectURL: redirectURL,
		CookieValue: s.tokens.Fingerprint(),
		IPAddress:   s.captureIP(req),
		Created:     now,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("create magic link: %w", err)
	}

	magicLinksIssued.Inc()
	s.log.WithFields(logrus.Fields{"email": email, "link_id": link.ID}).Info("magic link issued")
	_ = s.logSecurity(ctx, nil, &email, link.IPAddress, entity.MagicLinkIssued, map[string]any{"link_id": link.ID})
	return link, nil
}

// RequestLogin is the login form flow: resolve (or create) the account,
// issue a link and email it.
func (s *MagicLinkService) RequestLogin(ctx context.Context, email string, req RequestContext, redirectURL string) (*entity.MagicLink, error) {
	email = s.normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.linkBase(originOf(req)); err != nil {
		return nil, err
	}

	if s.config.RequireSignup {
		user, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
	} else if _, err := s.GetOrCreateUser(ctx, SignupInput{Email: email}); err != nil {
		return nil, err
	}

	link, err := s.Issue(ctx, email, req, redirectURL)
	if err != nil {
		return nil, err
	}
	if err := s.Send(ctx, link, req); err != nil {
		return nil, err
	}
	return link, nil
}

// Signup registers a new account and sends it a login link.
func (s *MagicLinkService) Signup(ctx context.Context, input SignupInput, req RequestContext, redirectURL string) (*entity.MagicLink, error) {
	input.Email = s.normalizeEmail(input.Email)
	input.Username = strings.TrimSpace(input.Username)
	if input.Email == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.linkBase(originOf(req)); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	if input.Username != "" {
		taken, err := s.users.FindByUsername(ctx, input.Username)
		if err != nil {
			return nil, err
		}
		if taken != nil {
			return nil, ErrUsernameTaken
		}
	}

	if _, err := s.GetOrCreateUser(ctx, input); err != nil {
		return nil, err
	}

	if strings.TrimSpace(redirectURL) == "" {
		redirectURL = s.config.SignupLoginRedirect
	}
	link, err := s.Issue(ctx, input.Email, req, redirectURL)
	if err != nil {
		return nil, err
	}
	if err := s.Send(ctx, link, req); err != nil {
		return nil, err
	}
	return link, nil
}

// GetOrCreateUser returns the account for input.Email, creating it when missing.
func (s *MagicLinkService) GetOrCreateUser(ctx context.Context, input SignupInput) (*entity.User, error) {
	email := s.normalizeEmail(input.Email)
	if email == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	username := strings.TrimSpace(input.Username)
	if username == "" && s.config.EmailAsUsername {
		username = email
	}
	if username == "" {
		username, err = s.randomUsername(ctx)
		if err != nil {
			return nil, err
		}
	}

	user = &entity.User{
		Email:     email,
		Username:  &username,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		IsActive:  true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.WithField("email", email).Info("user created")
	return user, nil
}

func (s *MagicLinkService) randomUsername(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		candidate, err := s.tokens.Token(randomUsernameLength)
		if err != nil {
			return "", err
		}
		existing, err := s.users.FindByUsername(ctx, candidate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique username")
}

func (s *MagicLinkService) normalizeEmail(email string) string {
	if s.config.EmailIgnoreCase {
		return utils.NormalizeEmail(email)
	}
	return strings.TrimSpace(email)
}

// captureIP returns the client IP as stored on links, anonymized per policy.
func (s *MagicLinkService) captureIP(req RequestContext) *string {
	if req == nil {
		return nil
	}
	ip := strings.TrimSpace(req.ClientIP())
	if ip == "" {
		return nil
	}
	if s.config.AnonymizeIP {
		ip = utils.AnonymizeIP(ip)
	}
	return &ip
}

func (s *MagicLinkService) logSecurity(
	ctx context.Context,
	userID *uuid.UUID,
	email *string,
	ipAddress *string,
	action entity.SecurityAction,
	metadata map[string]any,
) error {
	return writeSecurityLog(ctx, s.securityLogs, userID, email, ipAddress, action, metadata)
}

func writeSecurityLog(
	ctx context.Context,
	logs repository.SecurityLogRepository,
	userID *uuid.UUID,
	email *string,
	ipAddress *string,
	action entity.SecurityAction,
	metadata map[string]any,
) error {
	if logs == nil {
		return nil
	}
	var payload datatypes.JSON
	if metadata != nil {
		bytes, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		payload = datatypes.JSON(bytes)
	}

	return logs.Log(ctx, &entity.SecurityLog{
		UserID:    userID,
		Email:     email,
		IPAddress: ipAddress,
		Action:    action,
		Metadata:  payload,
	})
}

func (s *MagicLinkService) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func (s *MagicLinkService) GetCurrentUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	return s.users.FindByID(ctx, userID)
}

// OutstandingLinks lists the links for email that could still be redeemed,
// newest first.
func (s *MagicLinkService) OutstandingLinks(ctx context.Context, email string) ([]entity.MagicLink, error) {
	links, err := s.links.ListByEmail(ctx, s.normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("list magic links: %w", err)
	}
	now := s.now()
	usable := make([]entity.MagicLink, 0, len(links))
	for i := range links {
		if links[i].Usable(now, s.config.TokenUses) {
			usable = append(usable, links[i])
		}
	}
	return usable, nil
}

func (s *MagicLinkService) ListUsers(ctx context.Context, limit, offset int) ([]entity.User, error) {
	return s.users.List(ctx, limit, offset)
}

// Logout records the end of a session. Sessions are stateless, so there is
// nothing to revoke server side.
func (s *MagicLinkService) Logout(ctx context.Context, userID uuid.UUID, email string, req RequestContext) error {
	email = s.normalizeEmail(email)
	s.log.WithFields(logrus.Fields{"user_id": userID, "email": email}).Info("logout")
	var emailPtr *string
	if email != "" {
		emailPtr = &email
	}
	return s.logSecurity(ctx, &userID, emailPtr, s.captureIP(req), entity.Logout, nil)
}
