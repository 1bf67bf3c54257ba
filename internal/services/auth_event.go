package services

import (
	"context"
	"time"

	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	EventLoginSucceeded    = "login_succeeded"
	EventLoginFailed       = "login_failed"
	EventLoginLockedOut    = "login_locked_out"
	EventLoginDisabled     = "login_disabled"
	EventDirectoryFallback = "directory_fallback"
	EventLogout            = "logout"
	EventTwoFactorEnrolled = "two_factor_enrolled"
	EventTwoFactorVerified = "two_factor_verified"
	EventTwoFactorFailed   = "two_factor_failed"
	EventTwoFactorReset    = "two_factor_reset"
	EventThrottleCleared   = "throttle_cleared"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// EventRecorder accepts auth events. Recording never fails the caller.
type EventRecorder interface {
	Record(ctx context.Context, event *models.AuthEvent)
}

type AuthEventService struct {
	db    *gorm.DB
	queue EventQueue
}

func NewAuthEventService(db *gorm.DB) *AuthEventService {
	return &AuthEventService{db: db}
}

// SetQueue routes Record through queue. Without one, events are written inline.
func (s *AuthEventService) SetQueue(queue EventQueue) {
	s.queue = queue
}

// Write persists an event. It is the processor behind both queue kinds.
func (s *AuthEventService) Write(ctx context.Context, event *models.AuthEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *AuthEventService) Record(ctx context.Context, event *models.AuthEvent) {
	if event.Level == "" {
		event.Level = LevelInfo
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	logger.Debug().
		Str("event", event.Event).
		Str("username", event.Username).
		Str("source", event.Source).
		Str("ip", event.IP).
		Msg(event.Message)

	if s.queue != nil {
		err := s.queue.Enqueue(event)
		if err == nil {
			return
		}
		logger.Warnf("[AuthEvent] Enqueue failed, writing inline: %v", err)
	}
	if err := s.Write(ctx, event); err != nil {
		logger.Errorf("[AuthEvent] Failed to write %s: %v", event.Event, err)
	}
}

type AuthEventListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Username string `form:"-"`
	Event    string `form:"event"`
}

type AuthEventListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.AuthEvent `json:"items"`
}

func (s *AuthEventService) List(ctx context.Context, req *AuthEventListRequest) (*AuthEventListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	query := s.db.WithContext(ctx).Model(&models.AuthEvent{})
	if req.Username != "" {
		query = query.Where("username = ?", req.Username)
	}
	if req.Event != "" {
		query = query.Where("event = ?", req.Event)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.AuthEvent
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, err
	}

	return &AuthEventListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// PurgeBefore deletes events created before cutoff.
func (s *AuthEventService) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuthEvent{})
	return res.RowsAffected, res.Error
}
