// Package telemetry records operational events about engine behavior, such
// as invalid actions being discarded. It is distinct from the in-game
// history log, which players can read.
package telemetry

import (
	"context"
	"time"

	"github.com/lowenmark/crownfall/internal/storage"
)

// Severity describes the telemetry severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Emitter records operational telemetry events.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
}

// NewEmitter creates a new telemetry emitter.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records a telemetry event. It is a no-op when the emitter or its
// store is nil, so callers never guard the call site.
func (e *Emitter) Emit(ctx context.Context, name string, severity Severity, attrs map[string]string) error {
	if e == nil || e.store == nil {
		return nil
	}
	now := time.Now().UTC()
	if e.clock != nil {
		now = e.clock().UTC()
	}
	return e.store.AppendTelemetryEvent(ctx, storage.TelemetryEvent{
		Name:      name,
		Severity:  string(severity),
		Attrs:     attrs,
		Timestamp: now,
	})
}
