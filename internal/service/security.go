package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/peopleforge/peopleforge/internal/adapter/otel"
	"github.com/peopleforge/peopleforge/internal/domain/event"
	"github.com/peopleforge/peopleforge/internal/port/database"
	"github.com/peopleforge/peopleforge/internal/port/messagequeue"
)

// SecurityLog records security events to the audit store and publishes them
// on the message queue. All writes are fire-and-forget: a failed write is
// logged and swallowed, never surfaced to the request that produced it.
type SecurityLog struct {
	store   database.Store
	queue   messagequeue.Queue
	metrics *otel.Metrics
	log     *slog.Logger
}

// NewSecurityLog creates a SecurityLog. queue and metrics may be nil when
// messaging or telemetry is not configured; events then go to the store only.
func NewSecurityLog(store database.Store, queue messagequeue.Queue, metrics *otel.Metrics, log *slog.Logger) *SecurityLog {
	return &SecurityLog{store: store, queue: queue, metrics: metrics, log: log}
}

// Emit records a security event asynchronously. The write uses its own
// deadline, detached from the request context, so request cancellation does
// not lose the event.
func (s *SecurityLog) Emit(ev event.SecurityEvent) {
	ev.ID = uuid.New().String()
	ev.CreatedAt = time.Now().UTC()
	s.count(ev.Kind)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.store.CreateSecurityEvent(ctx, &ev); err != nil {
			s.log.Warn("security event write failed", "kind", ev.Kind, "error", err)
		}

		if s.queue == nil {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := s.queue.Publish(ctx, subjectFor(ev.Kind), data); err != nil {
			s.log.Warn("security event publish failed", "kind", ev.Kind, "error", err)
		}
	}()
}

// Recent returns the newest events from the audit store.
func (s *SecurityLog) Recent(ctx context.Context, limit int) ([]event.SecurityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListSecurityEvents(ctx, limit)
}

func (s *SecurityLog) count(kind event.Kind) {
	if s.metrics == nil {
		return
	}
	ctx := context.Background()
	switch kind {
	case event.KindRateLimitExceeded:
		s.metrics.RateLimited.Add(ctx, 1)
	case event.KindIPBlocked:
		s.metrics.IPBlocks.Add(ctx, 1)
	case event.KindAccessDenied:
		s.metrics.AccessDenied.Add(ctx, 1)
	case event.KindLogin:
		s.metrics.Logins.Add(ctx, 1)
	}
}

func subjectFor(kind event.Kind) string {
	switch kind {
	case event.KindIPBlocked, event.KindBlockedAccess:
		return messagequeue.SubjectSecurityBlock
	case event.KindRateLimitExceeded:
		return messagequeue.SubjectSecurityRateLimit
	case event.KindAccessDenied:
		return messagequeue.SubjectSecurityDenied
	default:
		return messagequeue.SubjectSecurityAuth
	}
}
