package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names a registrar state transition.
type Type string

// Emitted transition types.
const (
	TypeEnrolled        Type = "enrollment.enrolled"
	TypeWaitlisted      Type = "enrollment.waitlisted"
	TypeRejected        Type = "enrollment.rejected"
	TypeDropped         Type = "enrollment.dropped"
	TypePromoted        Type = "enrollment.promoted"
	TypeGraded          Type = "grade.recorded"
	TypeRequestApproved Type = "request.approved"
	TypeRequestRejected Type = "request.rejected"
)

// Event describes one state transition for downstream notification.
// Delivery is fire-and-forget; a lost event never affects the
// originating transaction.
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	StudentID    string    `json:"student_id,omitempty"`
	SectionID    string    `json:"section_id,omitempty"`
	EnrollmentID string    `json:"enrollment_id,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Rule         string    `json:"rule,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Attempt      int       `json:"-"`
	At           time.Time `json:"at"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// BusConfig tunes the dispatcher.
type BusConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Bus is an in-process dispatcher delivering events to a sink through a
// bounded buffer and a small worker pool.
type Bus struct {
	sink Sink

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	events  chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewBus builds a dispatcher for the given sink.
func NewBus(sink Sink, cfg BusConfig) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 16
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Bus{
		sink:       sink,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		events:     make(chan Event, cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call once.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	b.started = true
	b.logger.Sugar().Infow("event bus started", "workers", b.workers)
}

// Stop cancels workers and waits for them to exit.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.cancel()
	b.mu.Unlock()
	b.wg.Wait()
	b.logger.Sugar().Infow("event bus stopped")
}

// Publish enqueues an event without blocking the caller. When the
// buffer is full or the bus is stopped the event is dropped with a
// warning; publishing never fails the calling transaction.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case b.events <- event:
	default:
		b.logger.Sugar().Warnw("event buffer full, dropping", "type", event.Type, "event_id", event.ID)
	}
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.events:
			if err := b.sink.Deliver(b.ctx, event); err != nil {
				b.handleFailure(event, err)
			}
		}
	}
}

func (b *Bus) handleFailure(event Event, err error) {
	event.Attempt++
	if event.Attempt > b.maxRetries {
		b.logger.Sugar().Errorw("event exceeded retries", "type", event.Type, "event_id", event.ID, "error", err)
		return
	}
	b.logger.Sugar().Warnw("event delivery failed, retrying", "type", event.Type, "event_id", event.ID, "attempt", event.Attempt, "error", err)

	go func(e Event) {
		timer := time.NewTimer(b.retryDelay)
		defer timer.Stop()
		select {
		case <-b.ctx.Done():
			return
		case <-timer.C:
			select {
			case b.events <- e:
			default:
				b.logger.Sugar().Errorw("failed to requeue event", "event_id", e.ID)
			}
		}
	}(event)
}
