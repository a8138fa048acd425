package telemetry

import (
	"context"

	"cryptoforum/backend/internal/telemetry/domain"
)

// EventEmitter writes one identity event to a telemetry backend (OTel logs).
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}
