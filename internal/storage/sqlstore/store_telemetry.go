package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lowenmark/crownfall/internal/storage"
)

// AppendTelemetryEvent persists one operational telemetry event.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(evt.Name) == "" {
		return fmt.Errorf("telemetry event name is required")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	attrs := "{}"
	if len(evt.Attrs) > 0 {
		raw, err := json.Marshal(evt.Attrs)
		if err != nil {
			return fmt.Errorf("encode telemetry attrs: %w", err)
		}
		attrs = string(raw)
	}

	_, err := s.sqlDB.ExecContext(ctx, s.rebind(`
INSERT INTO telemetry_events (name, severity, attrs, created_at) VALUES (?, ?, ?, ?)
`), evt.Name, evt.Severity, attrs, evt.Timestamp.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

// ListTelemetryEvents lists newest-first telemetry events.
func (s *Store) ListTelemetryEvents(ctx context.Context, limit int) ([]storage.TelemetryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, s.rebind(`
SELECT id, name, severity, attrs, created_at
FROM telemetry_events
ORDER BY created_at DESC, id DESC
LIMIT ?
`), limit)
	if err != nil {
		return nil, fmt.Errorf("list telemetry events: %w", err)
	}
	defer rows.Close()

	events := make([]storage.TelemetryEvent, 0, limit)
	for rows.Next() {
		var (
			evt       storage.TelemetryEvent
			attrs     string
			createdAt int64
		)
		if err := rows.Scan(&evt.ID, &evt.Name, &evt.Severity, &attrs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}
		if attrs != "" && attrs != "{}" {
			if err := json.Unmarshal([]byte(attrs), &evt.Attrs); err != nil {
				return nil, fmt.Errorf("decode telemetry attrs: %w", err)
			}
		}
		evt.Timestamp = time.UnixMilli(createdAt).UTC()
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry events: %w", err)
	}
	return events, nil
}
