package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"magiclink/internal/entity"
	"magiclink/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	userEmail = "user@x.com"
	homeIP    = "127.0.0.1"
)

func TestValidate_Success(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})
	assert.True(t, link.Usable(env.clock.Now(), env.config.TokenUses))

	result, err := env.svc.Validate(context.Background(), link.Token, browser(homeIP, link), userEmail)
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)
	assert.Equal(t, link.ID, result.Link.ID)

	stored := env.stored(t, link.ID)
	assert.True(t, stored.Disabled)
	assert.Equal(t, 1, stored.TimesUsed)
	assert.False(t, stored.Usable(env.clock.Now(), env.config.TokenUses))

	activity, err := env.svc.RecentActivity(context.Background(), userEmail, 1)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, entity.LoginSuccess, activity[0].Action)
	assert.Equal(t, user.ID, *activity[0].UserID)
}

func TestValidate_SingleUseThenDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})
	req := browser(homeIP, link)

	_, err := env.svc.Validate(context.Background(), link.Token, req, userEmail)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = env.svc.Validate(context.Background(), link.Token, req, userEmail)
		assert.ErrorIs(t, err, ErrLinkDisabled)
	}
	assert.Equal(t, 1, env.stored(t, link.ID).TimesUsed)
}

func TestValidate_MultiUse(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *Config) { c.TokenUses = 2 }))
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})
	req := browser(homeIP, link)

	_, err := env.svc.Validate(context.Background(), link.Token, req, userEmail)
	require.NoError(t, err)
	assert.False(t, env.stored(t, link.ID).Disabled)
	assert.True(t, env.stored(t, link.ID).Usable(env.clock.Now(), 2))

	_, err = env.svc.Validate(context.Background(), link.Token, req, userEmail)
	require.NoError(t, err)
	assert.True(t, env.stored(t, link.ID).Disabled)
	assert.False(t, env.stored(t, link.ID).Usable(env.clock.Now(), 2))

	_, err = env.svc.Validate(context.Background(), link.Token, req, userEmail)
	assert.ErrorIs(t, err, ErrLinkDisabled)
}

func TestValidate_UnknownTokenDoesNotMutate(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})
	before := env.links.All()

	_, err := env.svc.Validate(context.Background(), "not-a-token", browser(homeIP, link), userEmail)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.Equal(t, before, env.links.All())
}

func TestValidate_IPMismatchDisablesAndStaysDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})

	_, err := env.svc.Validate(context.Background(), link.Token, browser("10.0.0.9", link), userEmail)
	assert.ErrorIs(t, err, ErrIPMismatch)
	assert.True(t, env.stored(t, link.ID).Disabled)

	// the issuing IP no longer helps
	_, err = env.svc.Validate(context.Background(), link.Token, browser(homeIP, link), userEmail)
	assert.ErrorIs(t, err, ErrLinkDisabled)
}

func TestValidate_Expired(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})
	assert.Equal(t, t0.Add(300*time.Second), link.Expiry)

	env.clock.Advance(301 * time.Second)
	_, err := env.svc.Validate(context.Background(), link.Token, browser(homeIP, link), userEmail)
	assert.ErrorIs(t, err, ErrLinkExpired)
	assert.True(t, env.stored(t, link.ID).Disabled)
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})

	env.clock.Advance(300 * time.Second)
	_, err := env.svc.Validate(context.Background(), link.Token, browser(homeIP, link), userEmail)
	assert.ErrorIs(t, err, ErrLinkExpired)
}

func TestValidate_EmailCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, "User@X.com", StaticRequestContext{IP: homeIP})
	assert.Equal(t, userEmail, link.Email)

	_, err := env.svc.Validate(context.Background(), link.Token, browser(homeIP, link), "USER@X.COM")
	assert.NoError(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		config  func(*Config)
		user    *entity.User
		email   *string
		request func(link *entity.MagicLink) StaticRequestContext
		want    error
	}{
		{
			name:  "email mismatch",
			user:  &entity.User{Email: userEmail, IsActive: true},
			email: ptr("other@x.com"),
			want:  ErrEmailMismatch,
		},
		{
			name:  "missing email when required",
			user:  &entity.User{Email: userEmail, IsActive: true},
			email: ptr(""),
			want:  ErrEmailMismatch,
		},
		{
			name: "no browser cookie",
			user: &entity.User{Email: userEmail, IsActive: true},
			request: func(*entity.MagicLink) StaticRequestContext {
				return StaticRequestContext{IP: homeIP}
			},
			want: ErrBrowserMismatch,
		},
		{
			name: "wrong browser cookie",
			user: &entity.User{Email: userEmail, IsActive: true},
			request: func(link *entity.MagicLink) StaticRequestContext {
				return StaticRequestContext{IP: homeIP, Cookies: map[string]string{link.CookieName(): "stolen"}}
			},
			want: ErrBrowserMismatch,
		},
		{
			name: "no user behind the link",
			want: ErrEmailMismatch,
		},
		{
			name:   "superuser forbidden",
			config: func(c *Config) { c.AllowSuperuserLogin = false },
			user:   &entity.User{Email: userEmail, IsActive: true, IsSuperuser: true},
			want:   ErrSuperuserLoginForbidden,
		},
		{
			name:   "staff forbidden",
			config: func(c *Config) { c.AllowStaffLogin = false },
			user:   &entity.User{Email: userEmail, IsActive: true, IsStaff: true},
			want:   ErrStaffLoginForbidden,
		},
		{
			name: "inactive user",
			user: &entity.User{Email: userEmail, IsActive: false},
			want: ErrInactiveUser,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []envOption
			if tt.config != nil {
				opts = append(opts, withConfig(tt.config))
			}
			env := newTestEnv(t, opts...)
			if tt.user != nil {
				env.addUser(t, *tt.user)
			}
			link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})

			req := browser(homeIP, link)
			if tt.request != nil {
				req = tt.request(link)
			}
			email := userEmail
			if tt.email != nil {
				email = *tt.email
			}

			_, err := env.svc.Validate(context.Background(), link.Token, req, email)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsRejection(err))

			stored := env.stored(t, link.ID)
			assert.True(t, stored.Disabled)
			assert.Equal(t, 1, stored.TimesUsed)
			assert.False(t, stored.Usable(env.clock.Now(), env.config.TokenUses))
		})
	}
}

func TestValidate_PolicyFlagsOff(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *Config) {
		c.RequireSameIP = false
		c.RequireSameBrowser = false
		c.VerifyIncludeEmail = false
		c.IgnoreIsActiveFlag = true
	}))
	env.addUser(t, entity.User{Email: userEmail, IsActive: false})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})

	_, err := env.svc.Validate(context.Background(), link.Token, StaticRequestContext{IP: "10.9.9.9"}, "")
	assert.NoError(t, err)
}

func TestValidate_AnonymizedIPMatchesSameNetwork(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *Config) { c.AnonymizeIP = true }))
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: "192.168.1.20"})
	require.NotNil(t, link.IPAddress)
	assert.Equal(t, "192.168.1.0", *link.IPAddress)

	_, err := env.svc.Validate(context.Background(), link.Token, browser("192.168.1.77", link), userEmail)
	assert.NoError(t, err)
}

func TestValidate_UseLimitAlreadyReached(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := &entity.MagicLink{
		Email:       userEmail,
		Token:       "worn-out-token",
		Expiry:      t0.Add(time.Minute),
		RedirectURL: "/",
		TimesUsed:   1,
		CookieValue: "cookie",
		IPAddress:   ptr(homeIP),
		Created:     t0,
	}
	require.NoError(t, env.links.Create(context.Background(), link))

	_, err := env.svc.Validate(context.Background(), link.Token, browser(homeIP, link), userEmail)
	assert.ErrorIs(t, err, ErrUseLimitExceeded)
	assert.True(t, env.stored(t, link.ID).Disabled)
}

func TestValidate_ConcurrentSingleUse(t *testing.T) {
	for round := 0; round < 20; round++ {
		env := newTestEnv(t)
		env.addUser(t, entity.User{Email: userEmail, IsActive: true})
		link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})
		req := browser(homeIP, link)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.svc.Validate(context.Background(), link.Token, req, userEmail)
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, ErrLinkDisabled)
		}
		require.Equal(t, 1, successes)
		assert.Equal(t, 1, env.stored(t, link.ID).TimesUsed)
	}
}

type failingUserRepository struct {
	*repository.UserMemoryRepository
}

func (failingUserRepository) FindByEmail(context.Context, string) (*entity.User, error) {
	return nil, errors.New("directory unavailable")
}

func TestValidate_StorageErrorDoesNotBurnLink(t *testing.T) {
	env := newTestEnv(t, withUsers(failingUserRepository{repository.NewUserMemoryRepository()}))
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})

	_, err := env.svc.Validate(context.Background(), link.Token, browser(homeIP, link), userEmail)
	require.Error(t, err)
	assert.False(t, IsRejection(err))
	assert.False(t, env.stored(t, link.ID).Disabled)
}

func TestValidate_CanceledContext(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.svc.Validate(ctx, link.Token, browser(homeIP, link), userEmail)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, env.stored(t, link.ID).Disabled)
}

func TestValidate_RejectionsAreAudited(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})
	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})

	_, err := env.svc.Validate(context.Background(), link.Token, browser("10.0.0.1", link), userEmail)
	require.ErrorIs(t, err, ErrIPMismatch)

	activity, err := env.svc.RecentActivity(context.Background(), userEmail, 0)
	require.NoError(t, err)
	require.NotEmpty(t, activity)
	assert.Equal(t, entity.MagicLinkRejected, activity[0].Action)
	assert.Contains(t, string(activity[0].Metadata), "ip address is different")
}

func ptr(s string) *string {
	return &s
}
