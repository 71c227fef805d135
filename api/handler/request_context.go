package handler

import (
	"magiclink/internal/service"

	"github.com/labstack/echo/v4"
)

// echoRequestContext exposes the parts of an echo request the magic link
// service reads.
type echoRequestContext struct {
	c echo.Context
}

func requestContext(c echo.Context) service.RequestContext {
	return echoRequestContext{c: c}
}

func (r echoRequestContext) ClientIP() string {
	return r.c.RealIP()
}

func (r echoRequestContext) Cookie(name string) (string, bool) {
	cookie, err := r.c.Cookie(name)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

func (r echoRequestContext) Origin() string {
	return r.c.Scheme() + "://" + r.c.Request().Host
}
