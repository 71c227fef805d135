package service

import (
	"context"
	"testing"

	"magiclink/internal/entity"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectionOutcome(t *testing.T) {
	assert.Equal(t, "ip_mismatch", rejectionOutcome(ErrIPMismatch))
	assert.Equal(t, "link_expired", rejectionOutcome(ErrLinkExpired))
	assert.Equal(t, "other", rejectionOutcome(ErrTooManyRequests))
	assert.Len(t, rejectionOutcomes, 10)
}

func TestValidationMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, entity.User{Email: userEmail, IsActive: true})

	issuedBefore := testutil.ToFloat64(magicLinksIssued)
	successBefore := testutil.ToFloat64(magicLinkValidations.WithLabelValues(outcomeSuccess))
	disabledBefore := testutil.ToFloat64(magicLinkValidations.WithLabelValues("link_disabled"))

	link := env.issue(t, userEmail, StaticRequestContext{IP: homeIP})
	_, err := env.svc.Validate(context.Background(), link.Token, browser(homeIP, link), userEmail)
	require.NoError(t, err)
	_, err = env.svc.Validate(context.Background(), link.Token, browser(homeIP, link), userEmail)
	require.ErrorIs(t, err, ErrLinkDisabled)

	assert.Equal(t, issuedBefore+1, testutil.ToFloat64(magicLinksIssued))
	assert.Equal(t, successBefore+1, testutil.ToFloat64(magicLinkValidations.WithLabelValues(outcomeSuccess)))
	assert.Equal(t, disabledBefore+1, testutil.ToFloat64(magicLinkValidations.WithLabelValues("link_disabled")))
}
