package routes

import (
	"time"

	"magiclink/api/handler"
	"magiclink/api/middleware"
	"magiclink/internal/entity"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type Router struct {
	Echo           *echo.Echo
	MagicLink      *handler.MagicLinkHandler
	AuthMiddleware middleware.AuthMiddleware
	LoginRate      *middleware.RateLimiter
	VerifyRate     *middleware.RateLimiter
}

func NewRouter(e *echo.Echo, magicLinkHandler *handler.MagicLinkHandler, authMiddleware middleware.AuthMiddleware) *Router {
	if e.IPExtractor == nil {
		e.IPExtractor = middleware.IPExtractor(nil)
	}
	return &Router{
		Echo:           e,
		MagicLink:      magicLinkHandler,
		AuthMiddleware: authMiddleware,
		LoginRate:      middleware.NewRateLimiter(rate.Limit(2), 4, 10*time.Minute),
		VerifyRate:     middleware.NewRateLimiter(rate.Limit(5), 10, 5*time.Minute),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo
	verifyPath := r.MagicLink.Service.Config().VerifyPath

	e.POST("/auth/login", r.MagicLink.Login, r.LoginRate.Middleware())
	e.POST("/auth/signup", r.MagicLink.Signup, r.LoginRate.Middleware())
	e.GET(verifyPath, r.MagicLink.LoginVerify, r.VerifyRate.Middleware())
	e.POST("/auth/logout", r.MagicLink.Logout, r.AuthMiddleware.RequireAuth)

	e.GET("/me", r.MagicLink.Me, r.AuthMiddleware.RequireAuth)
	e.GET("/me/activity", r.MagicLink.MyActivity, r.AuthMiddleware.RequireAuth)
	e.GET("/me/links", r.MagicLink.MyLinks, r.AuthMiddleware.RequireAuth)
	e.GET("/admin/users", r.MagicLink.AdminListUsers, r.AuthMiddleware.RequireAuth, middleware.RequireRole(entity.UserRoleSuperuser, entity.UserRoleStaff))
	e.POST("/admin/magiclinks/sweep", r.MagicLink.AdminSweep, r.AuthMiddleware.RequireAuth, middleware.RequireRole(entity.UserRoleSuperuser))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
