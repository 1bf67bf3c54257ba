package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/gatehouse/backend/internal/config"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/pkg/logger"
)

const (
	TaskTypeAuthEvent = "auth:event"
	authEventQueue    = "auth"
)

// EventProcessor persists one auth event.
type EventProcessor func(context.Context, *models.AuthEvent) error

// EventQueue hands auth events to a writer off the request path
type EventQueue interface {
	Enqueue(event *models.AuthEvent) error
	// IsAsync returns true if events are written by a separate worker
	IsAsync() bool
	Close() error
}

// NewEventQueue uses Redis when enabled and reachable, otherwise writes from a goroutine.
func NewEventQueue(cfg *config.Config, processor EventProcessor) EventQueue {
	if cfg.Redis.Enabled {
		queue, err := NewAsyncQueue(&cfg.Redis)
		if err != nil {
			logger.Warnf("[EventQueue] Redis unavailable, falling back to sync mode: %v", err)
		} else {
			logger.Infof("[EventQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
			return queue
		}
	} else {
		logger.Infof("[EventQueue] Sync queue initialized (Redis disabled)")
	}

	q := NewSyncQueue()
	q.SetProcessor(processor)
	return q
}

// AsyncQueue implements EventQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Queues() fails fast when Redis cannot be reached
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(event *models.AuthEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	info, err := q.client.Enqueue(asynq.NewTask(TaskTypeAuthEvent, payload),
		asynq.Queue(authEventQueue),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("id", info.ID).Str("event", event.Event).Msg("[AsyncQueue] Auth event enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue writes events from a goroutine in the same process (no Redis)
type SyncQueue struct {
	processor EventProcessor
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor EventProcessor) {
	q.processor = processor
}

// Enqueue returns immediately; the write happens in the background.
func (q *SyncQueue) Enqueue(event *models.AuthEvent) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, auth event %s dropped", event.Event)
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.processor(context.Background(), event); err != nil {
			logger.Errorf("[SyncQueue] Failed to write auth event %s: %v", event.Event, err)
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for pending writes.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
