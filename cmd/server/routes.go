package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/gatehouse/backend/internal/handlers"
	"github.com/huangang/gatehouse/backend/internal/middleware"
	"github.com/huangang/gatehouse/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, a *app) error {
	// Middleware
	r.Use(logger.GinLogger("/health"), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	if err := r.SetTrustedProxies(a.cfg.Server.TrustedProxies); err != nil {
		return err
	}
	r.Use(middleware.CORS(a.cfg.Server.CORSOrigins, a.cfg.Auth.RemoteUserHeader))

	authHandler := handlers.NewAuthHandler(a.auth, a.sessions, a.settings, a.twoFactor, a.cfg.Auth.RemoteUserHeader)
	twoFactorHandler := handlers.NewTwoFactorHandler(a.twoFactor, a.sessions, a.settings, a.events)
	eventHandler := handlers.NewAuthEventHandler(a.events)
	healthHandler := handlers.NewHealthHandler(a.db, a.queue, a.cfg.Throttle.Store)

	optional := middleware.OptionalSession(a.sessions)
	session := middleware.SessionRequired(a.sessions, a.users)

	// Health check
	r.GET("/health", healthHandler.CheckHealth)

	// Sign-in (public)
	r.GET("/login", optional, authHandler.ShowLogin)
	if a.limiter != nil {
		r.POST("/login", a.limiter.Middleware(), authHandler.Login)
	} else {
		r.POST("/login", authHandler.Login)
	}
	r.GET("/logout", optional, authHandler.Logout)
	r.POST("/logout", optional, authHandler.Logout)

	// Second factor: signed in, not yet verified
	twoFactor := r.Group("", session)
	{
		twoFactor.GET("/two-factor-enroll", twoFactorHandler.Enroll)
		twoFactor.GET("/two-factor", twoFactorHandler.Prompt)
		twoFactor.POST("/two-factor", twoFactorHandler.Verify)
	}

	// API routes
	api := r.Group("/api", session, middleware.TwoFactorRequired(a.settings, a.twoFactor))
	{
		api.GET("/me", authHandler.Me)
		api.GET("/auth-events", eventHandler.List)
	}
	return nil
}
