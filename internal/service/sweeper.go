package service

import (
	"context"
	"fmt"
	"time"

	"magiclink/internal/entity"
	"magiclink/internal/repository"

	"github.com/sirupsen/logrus"
)

// Sweeper disables magic links that were abandoned long ago and deletes
// every disabled link.
type Sweeper struct {
	links        repository.MagicLinkRepository
	securityLogs repository.SecurityLogRepository
	clock        Clock
	log          logrus.FieldLogger
	config       Config
}

func NewSweeper(
	links repository.MagicLinkRepository,
	securityLogs repository.SecurityLogRepository,
	clock Clock,
	log logrus.FieldLogger,
	config Config,
) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		links:        links,
		securityLogs: securityLogs,
		clock:        clock,
		log:          log,
		config:       config.normalized(),
	}
}

// Cutoff is the expiry at or before which a still-enabled link counts as stale.
func (s *Sweeper) Cutoff() time.Time {
	return s.now().Add(-s.config.LoginRequestTimeLimit - staleLinkGrace)
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	disabled, err := s.links.DisableExpiredBefore(ctx, s.Cutoff())
	if err != nil {
		return result, fmt.Errorf("disable stale magic links: %w", err)
	}
	result.Disabled = disabled

	deleted, err := s.links.DeleteDisabled(ctx)
	if err != nil {
		return result, fmt.Errorf("delete disabled magic links: %w", err)
	}
	result.Deleted = deleted

	magicLinksSwept.WithLabelValues("disabled").Add(float64(result.Disabled))
	magicLinksSwept.WithLabelValues("deleted").Add(float64(result.Deleted))
	s.log.WithFields(logrus.Fields{
		"disabled": result.Disabled,
		"deleted":  result.Deleted,
	}).Info("magic links swept")
	_ = writeSecurityLog(ctx, s.securityLogs, nil, nil, nil, entity.MagicLinksSwept, map[string]any{
		"disabled": result.Disabled,
		"deleted":  result.Deleted,
	})
	return result, nil
}

// Run sweeps every interval until ctx is done. Failed sweeps are logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.WithError(err).Error("magic link sweep failed")
			}
		}
	}
}

func (s *Sweeper) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}
