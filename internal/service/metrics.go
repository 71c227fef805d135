package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	magicLinksIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "magiclink_issued_total",
		Help: "Magic links created",
	})

	magicLinkValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magiclink_validations_total",
		Help: "Magic link validations by outcome",
	}, []string{"outcome"}) // success or the rejection reason

	magicLinksSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magiclink_swept_total",
		Help: "Magic links touched by the sweeper",
	}, []string{"action"}) // disabled, deleted
)

const outcomeSuccess = "success"

var rejectionOutcomes = map[error]string{
	ErrTokenNotFound:           "token_not_found",
	ErrLinkDisabled:            "link_disabled",
	ErrEmailMismatch:           "email_mismatch",
	ErrLinkExpired:             "link_expired",
	ErrIPMismatch:              "ip_mismatch",
	ErrBrowserMismatch:         "browser_mismatch",
	ErrUseLimitExceeded:        "use_limit_exceeded",
	ErrSuperuserLoginForbidden: "superuser_forbidden",
	ErrStaffLoginForbidden:     "staff_forbidden",
	ErrInactiveUser:            "inactive_user",
}

func rejectionOutcome(err error) string {
	for target, outcome := range rejectionOutcomes {
		if errors.Is(err, target) {
			return outcome
		}
	}
	return "other"
}
