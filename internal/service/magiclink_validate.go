package service

import (
	"context"
	"errors"
	"fmt"

	"magiclink/internal/entity"

	"github.com/sirupsen/logrus"
)

// maxRecordUseAttempts bounds the compare-and-set retries when concurrent
// validations of a multi-use link keep moving times_used.
const maxRecordUseAttempts = 5

// Validate checks a presented token and, on success, consumes one use of the
// link and returns the account it logs in.
//
// Checks run in a fixed order: existence, disabled, email, expiry, IP,
// browser, use count, then account policy. Every failure after the disabled
// check burns the link before returning. Storage errors are returned as they
// are and never burn the link.
func (s *MagicLinkService) Validate(ctx context.Context, token string, req RequestContext, email string) (*ValidationResult, error) {
	if req == nil {
		req = StaticRequestContext{}
	}

	link, err := s.links.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("find magic link: %w", err)
	}
	if link == nil {
		s.logRejection(ctx, nil, email, req, ErrTokenNotFound)
		return nil, ErrTokenNotFound
	}
	if link.Disabled {
		s.logRejection(ctx, link, email, req, ErrLinkDisabled)
		return nil, ErrLinkDisabled
	}

	if s.config.VerifyIncludeEmail && s.normalizeEmail(email) != link.Email {
		return nil, s.reject(ctx, link, email, req, ErrEmailMismatch)
	}

	if !s.now().Before(link.Expiry) {
		return nil, s.reject(ctx, link, email, req, ErrLinkExpired)
	}

	if s.config.RequireSameIP && !sameIP(link.IPAddress, s.captureIP(req)) {
		return nil, s.reject(ctx, link, email, req, ErrIPMismatch)
	}

	if s.config.RequireSameBrowser {
		value, ok := req.Cookie(link.CookieName())
		if !ok || value != link.CookieValue {
			return nil, s.reject(ctx, link, email, req, ErrBrowserMismatch)
		}
	}

	if link.TimesUsed >= s.config.TokenUses {
		return nil, s.reject(ctx, link, email, req, ErrUseLimitExceeded)
	}

	user, err := s.users.FindByEmail(ctx, link.Email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, s.reject(ctx, link, email, req, ErrEmailMismatch)
	}

	if !s.config.AllowSuperuserLogin && user.IsSuperuser {
		return nil, s.reject(ctx, link, email, req, ErrSuperuserLoginForbidden)
	}
	if !s.config.AllowStaffLogin && user.IsStaff {
		return nil, s.reject(ctx, link, email, req, ErrStaffLoginForbidden)
	}
	if !s.config.IgnoreIsActiveFlag && !user.IsActive {
		return nil, s.reject(ctx, link, email, req, ErrInactiveUser)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.recordUse(ctx, link, email, req); err != nil {
		return nil, err
	}

	magicLinkValidations.WithLabelValues(outcomeSuccess).Inc()
	s.log.WithFields(logrus.Fields{
		"email":   link.Email,
		"link_id": link.ID,
		"uses":    link.TimesUsed,
	}).Info("login successful")
	_ = s.logSecurity(ctx, &user.ID, &link.Email, s.captureIP(req), entity.LoginSuccess, map[string]any{"link_id": link.ID})

	return &ValidationResult{User: user, Link: link}, nil
}

// recordUse consumes one use with a compare-and-set on times_used. A lost
// race re-reads the link so the caller sees the state the winner left behind.
func (s *MagicLinkService) recordUse(ctx context.Context, link *entity.MagicLink, email string, req RequestContext) error {
	seen := link.TimesUsed
	for attempt := 0; attempt < maxRecordUseAttempts; attempt++ {
		ok, err := s.links.RecordUse(ctx, link.ID, seen, s.config.TokenUses)
		if err != nil {
			return fmt.Errorf("record magic link use: %w", err)
		}
		if ok {
			link.TimesUsed = seen + 1
			link.Disabled = link.TimesUsed >= s.config.TokenUses
			return nil
		}

		current, err := s.links.FindByID(ctx, link.ID)
		if err != nil {
			return fmt.Errorf("reload magic link: %w", err)
		}
		if current == nil || current.Disabled {
			s.logRejection(ctx, link, email, req, ErrLinkDisabled)
			return ErrLinkDisabled
		}
		if current.TimesUsed >= s.config.TokenUses {
			return s.reject(ctx, current, email, req, ErrUseLimitExceeded)
		}
		seen = current.TimesUsed
	}
	return errUseContention
}

// reject burns the link and returns reason, joined with any storage error
// raised while disabling it.
func (s *MagicLinkService) reject(ctx context.Context, link *entity.MagicLink, email string, req RequestContext, reason error) error {
	s.logRejection(ctx, link, email, req, reason)
	if _, err := s.links.Disable(ctx, link.ID); err != nil {
		return errors.Join(reason, fmt.Errorf("disable magic link %d: %w", link.ID, err))
	}
	link.Disabled = true
	return reason
}

func (s *MagicLinkService) logRejection(ctx context.Context, link *entity.MagicLink, email string, req RequestContext, reason error) {
	fields := logrus.Fields{"reason": reason.Error()}
	metadata := map[string]any{"reason": reason.Error()}
	target := s.normalizeEmail(email)
	if link != nil {
		fields["link_id"] = link.ID
		metadata["link_id"] = link.ID
		target = link.Email
	}
	if target != "" {
		fields["email"] = target
	}
	magicLinkValidations.WithLabelValues(rejectionOutcome(reason)).Inc()
	s.log.WithFields(fields).Warn("magic link rejected")

	var emailPtr *string
	if target != "" {
		emailPtr = &target
	}
	_ = s.logSecurity(ctx, nil, emailPtr, s.captureIP(req), entity.MagicLinkRejected, metadata)
}

// RecentActivity lists the newest security log entries for email.
func (s *MagicLinkService) RecentActivity(ctx context.Context, email string, limit int) ([]entity.SecurityLog, error) {
	if s.securityLogs == nil {
		return nil, nil
	}
	return s.securityLogs.ListByEmail(ctx, s.normalizeEmail(email), limit)
}

func sameIP(stored *string, current *string) bool {
	if stored == nil || current == nil {
		return stored == nil && current == nil
	}
	return *stored == *current
}
