package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"magiclink/api/middleware"
	"magiclink/internal/dto"
	"magiclink/internal/entity"
	"magiclink/internal/service"
	"magiclink/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSessionCookieName = "session"
	defaultActivityLimit     = 20
	maxActivityLimit         = 100
)

var errAuthenticationFailed = errors.New("authentication failed")

type MagicLinkHandler struct {
	Service  *service.MagicLinkService
	Sweeper  *service.Sweeper
	Sessions service.SessionIssuer
	Validate *validator.Validate
	Log      logrus.FieldLogger

	SessionCookieName string
	CookieDomain      string
	SecureCookies     bool
	SameSite          http.SameSite

	// LoginFailedRedirect, when set, receives the browser after a rejected
	// link instead of a 401 body.
	LoginFailedRedirect string
	LogoutRedirect      string
}

func NewMagicLinkHandler(svc *service.MagicLinkService, sweeper *service.Sweeper, sessions service.SessionIssuer, validate *validator.Validate) *MagicLinkHandler {
	return &MagicLinkHandler{
		Service:           svc,
		Sweeper:           sweeper,
		Sessions:          sessions,
		Validate:          validate,
		Log:               logrus.StandardLogger(),
		SessionCookieName: DefaultSessionCookieName,
		SecureCookies:     true,
		// Lax so the browser cookie rides along when the link is opened
		// from a mail client.
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *MagicLinkHandler) Login(c echo.Context) error {
	var req dto.LoginRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	link, err := h.Service.RequestLogin(c.Request().Context(), req.Email, requestContext(c), h.nextURL(c))
	if err != nil {
		return h.writeServiceError(c, err)
	}
	h.setBrowserCookie(c, link)
	return c.JSON(http.StatusAccepted, dto.LoginSentResponse{
		Message:   "check your email for a login link",
		Email:     link.Email,
		ExpiresAt: link.Expiry,
	})
}

func (h *MagicLinkHandler) Signup(c echo.Context) error {
	var req dto.SignupRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	firstName, lastName := splitName(req.Name)
	input := service.SignupInput{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: firstName,
		LastName:  lastName,
	}
	link, err := h.Service.Signup(c.Request().Context(), input, requestContext(c), h.nextURL(c))
	if err != nil {
		return h.writeServiceError(c, err)
	}
	h.setBrowserCookie(c, link)
	return c.JSON(http.StatusCreated, dto.LoginSentResponse{
		Message:   "account created, check your email for a login link",
		Email:     link.Email,
		ExpiresAt: link.Expiry,
	})
}

// LoginVerify is the landing page of the emailed link.
func (h *MagicLinkHandler) LoginVerify(c echo.Context) error {
	var req dto.VerifyRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &req); err != nil {
		return h.loginFailed(c)
	}
	if err := h.validate(req); err != nil {
		return h.loginFailed(c)
	}

	result, err := h.Service.Validate(c.Request().Context(), req.Token, requestContext(c), req.Email)
	if err != nil {
		if service.IsRejection(err) {
			return h.loginFailed(c)
		}
		return h.writeServiceError(c, err)
	}

	if h.Sessions == nil {
		return h.writeServiceError(c, service.ErrSessionNotConfigured)
	}
	token, ttl, err := h.Sessions.IssueSession(*result.User)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	h.setSessionCookie(c, token, ttl)
	h.clearCookie(c, result.Link.CookieName())
	return c.Redirect(http.StatusFound, result.Link.RedirectURL)
}

func (h *MagicLinkHandler) Logout(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	email, _ := middleware.EmailFromContext(c)
	if err := h.Service.Logout(c.Request().Context(), userID, email, requestContext(c)); err != nil {
		h.logger().WithError(err).Warn("record logout")
	}
	h.clearCookie(c, h.SessionCookieName)
	if next := h.nextURL(c); next != "" {
		return c.Redirect(http.StatusFound, next)
	}
	if h.LogoutRedirect != "" {
		return c.Redirect(http.StatusFound, h.LogoutRedirect)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *MagicLinkHandler) Me(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	user, err := h.Service.GetCurrentUser(c.Request().Context(), userID)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	if user == nil {
		return writeError(c, http.StatusNotFound, errors.New("user not found"))
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user))
}

func (h *MagicLinkHandler) MyActivity(c echo.Context) error {
	email, ok := middleware.EmailFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	logs, err := h.Service.RecentActivity(c.Request().Context(), email, parseLimit(c))
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.SecurityEventsFromEntities(logs))
}

func (h *MagicLinkHandler) MyLinks(c echo.Context) error {
	email, ok := middleware.EmailFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	links, err := h.Service.OutstandingLinks(c.Request().Context(), email)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.MagicLinkResponsesFromEntities(links))
}

func (h *MagicLinkHandler) AdminSweep(c echo.Context) error {
	if h.Sweeper == nil {
		return writeError(c, http.StatusNotFound, errors.New("sweeper not configured"))
	}
	result, err := h.Sweeper.Sweep(c.Request().Context())
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.SweepResponse{Disabled: result.Disabled, Deleted: result.Deleted})
}

func (h *MagicLinkHandler) AdminListUsers(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	users, err := h.Service.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponsesFromEntities(users))
}

func (h *MagicLinkHandler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(payload)
}

// nextURL returns the ?next= target when it stays on this host, or "" so the
// service falls back to its default redirect.
func (h *MagicLinkHandler) nextURL(c echo.Context) string {
	next := c.QueryParam("next")
	if next == "" {
		return ""
	}
	if !utils.SafeRedirect(next, c.Request().Host, h.SecureCookies) {
		h.logger().WithField("next", next).Warn("unsafe redirect ignored")
		return ""
	}
	return next
}

func (h *MagicLinkHandler) loginFailed(c echo.Context) error {
	if h.LoginFailedRedirect != "" {
		return c.Redirect(http.StatusFound, h.LoginFailedRedirect)
	}
	return writeError(c, http.StatusUnauthorized, errAuthenticationFailed)
}

func (h *MagicLinkHandler) setBrowserCookie(c echo.Context, link *entity.MagicLink) {
	if !h.Service.Config().RequireSameBrowser {
		return
	}
	maxAge := int(h.Service.Config().AuthTimeout / time.Second)
	c.SetCookie(&http.Cookie{
		Name:     link.CookieName(),
		Value:    link.CookieValue,
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   maxAge,
		Expires:  link.Expiry,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *MagicLinkHandler) setSessionCookie(c echo.Context, token string, ttl time.Duration) {
	maxAge := int(ttl / time.Second)
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetCookie(&http.Cookie{
		Name:     h.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   maxAge,
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *MagicLinkHandler) clearCookie(c echo.Context, name string) {
	if name == "" {
		return
	}
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *MagicLinkHandler) logger() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}

func (h *MagicLinkHandler) writeServiceError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrUntrustedHost):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUserNotFound):
		return c.JSON(http.StatusBadRequest, dto.FieldErrorResponse{Field: "email", Message: err.Error()})
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		return c.JSON(http.StatusConflict, dto.FieldErrorResponse{Field: "email", Message: err.Error()})
	case errors.Is(err, service.ErrUsernameTaken):
		return c.JSON(http.StatusConflict, dto.FieldErrorResponse{Field: "username", Message: err.Error()})
	case errors.Is(err, service.ErrTooManyRequests):
		status = http.StatusTooManyRequests
	case service.IsRejection(err):
		return writeError(c, http.StatusUnauthorized, errAuthenticationFailed)
	}
	if status == http.StatusInternalServerError {
		h.logger().WithError(err).Error("request failed")
		return writeError(c, status, errors.New("internal server error"))
	}
	return writeError(c, status, err)
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"message": err.Error()})
}

func parseLimit(c echo.Context) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		return defaultActivityLimit
	}
	if limit > maxActivityLimit {
		return maxActivityLimit
	}
	return limit
}

func parseLimitOffset(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}

func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	first, last, _ := strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}
