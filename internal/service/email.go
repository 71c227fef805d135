package service

import (
	"bytes"
	"context"
	"embed"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"magiclink/internal/entity"
)

//go:embed templates/login_email.txt templates/login_email.html
var emailTemplates embed.FS

type emailData struct {
	Subject            string
	Name               string
	Email              string
	Link               string
	Expiry             time.Time
	Created            time.Time
	IPAddress          string
	RequireSameIP      bool
	RequireSameBrowser bool
	TokenUses          int
	Style              EmailStyles
}

type emailRenderer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

func newEmailRenderer() *emailRenderer {
	return &emailRenderer{
		text: texttemplate.Must(texttemplate.ParseFS(emailTemplates, "templates/login_email.txt")),
		html: htmltemplate.Must(htmltemplate.ParseFS(emailTemplates, "templates/login_email.html")),
	}
}

func (r *emailRenderer) render(data emailData) (string, string, error) {
	var text, html bytes.Buffer
	if err := r.text.Execute(&text, data); err != nil {
		return "", "", err
	}
	if err := r.html.Execute(&html, data); err != nil {
		return "", "", err
	}
	return text.String(), html.String(), nil
}

// Send emails link to its owner.
func (s *MagicLinkService) Send(ctx context.Context, link *entity.MagicLink, req RequestContext) error {
	if s.emailSender == nil {
		return nil
	}

	user, err := s.users.FindByEmail(ctx, link.Email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	linkURL, err := s.LinkURL(link, originOf(req))
	if err != nil {
		return err
	}
	data := emailData{
		Subject:            s.config.EmailSubject,
		Name:               displayName(user),
		Email:              user.Email,
		Link:               linkURL,
		Expiry:             link.Expiry,
		Created:            link.Created,
		RequireSameIP:      s.config.RequireSameIP,
		RequireSameBrowser: s.config.RequireSameBrowser,
		TokenUses:          s.config.TokenUses,
		Style:              s.config.EmailStyles,
	}
	if link.IPAddress != nil {
		data.IPAddress = *link.IPAddress
	}

	text, html, err := s.emails.render(data)
	if err != nil {
		return err
	}
	return s.emailSender.SendMagicLink(ctx, MagicLinkEmail{
		To:      user.Email,
		Subject: s.config.EmailSubject,
		Text:    text,
		HTML:    html,
	})
}

// LinkURL builds the absolute verification URL for link. AppBaseURL wins
// over the request origin, which is only used when its host is allowed.
func (s *MagicLinkService) LinkURL(link *entity.MagicLink, origin string) (string, error) {
	base, err := s.linkBase(origin)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("token", link.Token)
	if s.config.VerifyIncludeEmail {
		query.Set("email", link.Email)
	}
	return base + s.config.VerifyPath + "?" + query.Encode(), nil
}

func (s *MagicLinkService) linkBase(origin string) (string, error) {
	if base := strings.TrimRight(strings.TrimSpace(s.config.AppBaseURL), "/"); base != "" {
		return base, nil
	}
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", ErrUntrustedHost
	}
	if !s.config.hostAllowed(parsed.Host) {
		s.log.WithField("host", parsed.Host).Warn("magic link requested for untrusted host")
		return "", ErrUntrustedHost
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

func originOf(req RequestContext) string {
	if req == nil {
		return ""
	}
	return req.Origin()
}

func displayName(user *entity.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name != "" {
		return name
	}
	if user.Username != nil && *user.Username != "" {
		return *user.Username
	}
	return user.Email
}
