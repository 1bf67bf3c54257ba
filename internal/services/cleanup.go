package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultCleanupSchedule = "30 3 * * *"
	cleanupLockName        = "auth_cleanup"
)

// ExpiredPurger is implemented by attempt stores that do not expire entries on their own.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type CleanupResult struct {
	EventsPurged   int64
	AttemptsPurged int64
}

// CleanupService prunes old auth events and elapsed attempt counters on a cron schedule.
type CleanupService struct {
	db       *gorm.DB
	settings *SystemConfigService
	events   *AuthEventService
	attempts ExpiredPurger
	instance string
	now      func() time.Time

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewCleanupService accepts a nil attempts purger (Redis expires keys itself).
func NewCleanupService(db *gorm.DB, settings *SystemConfigService, events *AuthEventService, attempts ExpiredPurger) *CleanupService {
	return &CleanupService{
		db:       db,
		settings: settings,
		events:   events,
		attempts: attempts,
		instance: uuid.NewString(),
		now:      time.Now,
	}
}

func (s *CleanupService) StartScheduler(spec string) error {
	if spec == "" {
		spec = DefaultCleanupSchedule
	}
	s.cron = cron.New()
	id, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			logger.Errorf("[Cleanup] Run failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	logger.Infof("[Cleanup] Scheduler started (cron: %s)", spec)
	return nil
}

func (s *CleanupService) StopScheduler() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce purges once. It returns a nil result when another instance already
// claimed this hour's run.
func (s *CleanupService) RunOnce(ctx context.Context) (*CleanupResult, error) {
	now := s.now()
	claimed, err := s.claim(ctx, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		logger.Debug().Msg("[Cleanup] Run claimed by another instance, skipping")
		return nil, nil
	}

	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{}
	if settings.LogRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -settings.LogRetentionDays)
		if result.EventsPurged, err = s.events.PurgeBefore(ctx, cutoff); err != nil {
			return nil, err
		}
	}
	if s.attempts != nil {
		if result.AttemptsPurged, err = s.attempts.PurgeExpired(ctx); err != nil {
			return nil, err
		}
	}

	logger.Infof("[Cleanup] Purged %d auth events and %d expired login attempts",
		result.EventsPurged, result.AttemptsPurged)
	return result, nil
}

func (s *CleanupService) claim(ctx context.Context, now time.Time) (bool, error) {
	db := s.db.WithContext(ctx)
	if err := db.Where("lock_name = ? AND expires_at < ?", cleanupLockName, now).
		Delete(&models.SchedulerLock{}).Error; err != nil {
		return false, err
	}

	lock := models.SchedulerLock{
		LockName:  cleanupLockName,
		LockKey:   now.UTC().Format("2006-01-02T15"),
		LockedBy:  s.instance,
		LockedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
