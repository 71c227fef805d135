package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"magiclink/internal/entity"
	"magiclink/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureSender struct {
	mu   sync.Mutex
	sent []MagicLinkEmail
	err  error
}

func (s *captureSender) SendMagicLink(_ context.Context, msg MagicLinkEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *captureSender) Sent() []MagicLinkEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MagicLinkEmail(nil), s.sent...)
}

type testEnv struct {
	svc     *MagicLinkService
	links   *repository.MagicLinkMemoryRepository
	users   *repository.UserMemoryRepository
	logs    *repository.SecurityLogMemoryRepository
	clock   *testClock
	sender  *captureSender
	config  Config
	logger  *logrus.Logger
	usersIf repository.UserRepository
}

type envOption func(*testEnv)

func withConfig(mutate func(*Config)) envOption {
	return func(e *testEnv) { mutate(&e.config) }
}

func withUsers(users repository.UserRepository) envOption {
	return func(e *testEnv) { e.usersIf = users }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	config := DefaultConfig()
	config.AppBaseURL = "https://app.example.com"

	env := &testEnv{
		links:  repository.NewMagicLinkMemoryRepository(),
		users:  repository.NewUserMemoryRepository(),
		logs:   repository.NewSecurityLogMemoryRepository(),
		clock:  &testClock{now: t0},
		sender: &captureSender{},
		config: config,
		logger: logger,
	}
	env.usersIf = env.users
	for _, opt := range opts {
		opt(env)
	}
	env.svc = NewMagicLinkService(env.links, env.usersIf, env.logs, env.sender, RandomTokenGenerator{}, env.clock, logger, env.config)
	return env
}

func (e *testEnv) addUser(t *testing.T, user entity.User) *entity.User {
	t.Helper()
	if user.Username == nil {
		username := user.Email
		user.Username = &username
	}
	require.NoError(t, e.users.Create(context.Background(), &user))
	return &user
}

func (e *testEnv) issue(t *testing.T, email string, req RequestContext) *entity.MagicLink {
	t.Helper()
	link, err := e.svc.Issue(context.Background(), email, req, "")
	require.NoError(t, err)
	return link
}

// browser returns the request context of the browser that asked for link.
func browser(ip string, link *entity.MagicLink) StaticRequestContext {
	return StaticRequestContext{
		IP:      ip,
		Cookies: map[string]string{link.CookieName(): link.CookieValue},
		BaseURL: "https://app.example.com",
	}
}

func (e *testEnv) stored(t *testing.T, id uint) *entity.MagicLink {
	t.Helper()
	link, err := e.links.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, link)
	return link
}
