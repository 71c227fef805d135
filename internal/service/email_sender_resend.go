package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	resend "github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

var ErrEmailSenderNotConfigured = errors.New("email sender not configured")

type ResendEmailSender struct {
	Client *resend.Client
	From   string
}

// NewResendEmailSender needs both an API key and a sender address.
func NewResendEmailSender(apiKey string, from string) (*ResendEmailSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: missing api key", ErrEmailSenderNotConfigured)
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("%w: missing from address", ErrEmailSenderNotConfigured)
	}
	return &ResendEmailSender{
		Client: resend.NewClient(apiKey),
		From:   strings.TrimSpace(from),
	}, nil
}

func (s *ResendEmailSender) SendMagicLink(ctx context.Context, msg MagicLinkEmail) error {
	if s.Client == nil {
		return ErrEmailSenderNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &resend.SendEmailRequest{
		From:    s.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	if _, err := s.Client.Emails.Send(params); err != nil {
		return err
	}
	return nil
}

// LogEmailSender writes outgoing mail to the log instead of delivering it.
// The body carries the login token, so it only shows up at debug level.
type LogEmailSender struct {
	Log logrus.FieldLogger
}

func (s LogEmailSender) SendMagicLink(ctx context.Context, msg MagicLinkEmail) error {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	})
	entry.Info("magic link email")
	entry.Debug(msg.Text)
	return nil
}
