package main

import (
	"fmt"

	"github.com/huangang/gatehouse/backend/internal/config"
	"github.com/huangang/gatehouse/backend/internal/middleware"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/services"
	"github.com/huangang/gatehouse/backend/pkg/logger"
	"gorm.io/gorm"
)

// app holds the services shared by the HTTP server and the admin commands.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	settings  *services.SystemConfigService
	users     *services.UserService
	sessions  *services.SessionService
	twoFactor *services.TwoFactorService
	events    *services.AuthEventService
	attempts  services.AttemptStore
	throttle  *services.Throttle
	auth      *services.AuthService
	queue     services.EventQueue
	cleanup   *services.CleanupService

	// serve only
	worker  *services.Worker
	limiter *middleware.RateLimiter
}

// openDatabase connects, migrates and seeds default settings.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := models.Open(&cfg.Database, cfg.Server.Mode == "debug")
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := models.SeedDefaultData(db); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}
	return db, nil
}

// bootstrap initializes all application dependencies. Background work is
// started separately by startBackground.
func bootstrap(cfg *config.Config) (*app, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		settings: services.NewSystemConfigService(db),
		users:    services.NewUserService(db),
		events:   services.NewAuthEventService(db),
	}

	// Events go through Redis when enabled, otherwise a goroutine writes them
	a.queue = services.NewEventQueue(cfg, a.events.Write)
	a.events.SetQueue(a.queue)

	// lockout counters and revoked sessions share one store
	a.attempts = services.NewAttemptStore(cfg, db)
	a.sessions = services.NewSessionService(cfg.Session, a.attempts)
	a.throttle = services.NewThrottle(a.attempts, cfg.Throttle.MaxAttempts, cfg.Throttle.LockoutDuration())
	a.twoFactor = services.NewTwoFactorService(a.users, cfg.TwoFactor)

	sources := services.DefaultSources(a.users, services.NewLDAPService(cfg.LDAP))
	a.auth = services.NewAuthService(a.settings, a.users, sources, a.throttle, a.sessions, a.events)

	// Redis expires its own keys, so only the memory and database stores need purging
	purger, _ := a.attempts.(services.ExpiredPurger)
	a.cleanup = services.NewCleanupService(db, a.settings, a.events, purger)

	return a, nil
}

// startBackground starts the event worker, the cleanup scheduler and the
// login rate limiter.
func (a *app) startBackground() error {
	if a.queue.IsAsync() {
		a.worker = services.NewWorker(&a.cfg.Redis, a.events.Write)
		if a.worker != nil {
			if err := a.worker.Start(); err != nil {
				return fmt.Errorf("start worker: %w", err)
			}
		}
	}

	if err := a.cleanup.StartScheduler(a.cfg.Log.CleanupSchedule); err != nil {
		return fmt.Errorf("start cleanup scheduler: %w", err)
	}

	a.limiter = middleware.NewRateLimiter(a.cfg.Auth.LoginRateLimit, a.cfg.Auth.LoginBurst)
	return nil
}

// shutdown gracefully stops all services.
func (a *app) shutdown() {
	if a.cleanup != nil {
		a.cleanup.StopScheduler()
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close event queue")
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info().Msg("Shutdown complete")
}
