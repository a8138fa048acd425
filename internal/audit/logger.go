package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cryptoforum/backend/internal/audit/domain"
	auditrepo "cryptoforum/backend/internal/audit/repository"
	"cryptoforum/backend/internal/identity/events"
)

// Sink appends LogAction events to the audit log. Redelivered events produce duplicate
// rows, which is acceptable for an append-only audit trail.
type Sink struct {
	repo auditrepo.Repository
	now  func() time.Time
}

// NewSink returns a Sink persisting to repo.
func NewSink(repo auditrepo.Repository) *Sink {
	return &Sink{repo: repo, now: time.Now}
}

// Append writes one audit entry for e. The error is returned so the bus can redeliver.
func (s *Sink) Append(ctx context.Context, e events.LogAction) error {
	status := string(e.Status)
	if status != domain.StatusSuccess && status != domain.StatusError {
		return fmt.Errorf("audit: invalid status %q", e.Status)
	}
	if e.Event == "" {
		return fmt.Errorf("audit: event category is required")
	}
	at := e.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		Event:     e.Event,
		Message:   e.Message,
		Status:    status,
		UserID:    e.UserID,
		CreatedAt: at.UTC(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("audit: create %s entry: %w", e.Event, err)
	}
	return nil
}
