package service

import (
	"errors"
	"time"

	"magiclink/internal/entity"
	"magiclink/internal/utils"
)

var ErrSessionNotConfigured = errors.New("session issuer not configured")

type JWTSessionIssuer struct {
	Manager *utils.JWTManager
}

func (j JWTSessionIssuer) IssueSession(user entity.User) (string, time.Duration, error) {
	if j.Manager == nil {
		return "", 0, ErrSessionNotConfigured
	}
	return j.Manager.IssueSessionToken(user.ID.String(), user.Email, user.Role())
}
