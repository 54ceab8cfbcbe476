package postgres

import (
	"context"
	"fmt"

	"pixel-relay/internal/model"
)

// EventStore is the append-only event log.
type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore { return &EventStore{db: db} }

// Append writes one event row. Rows are immutable once written; created_at
// is assigned by the database at insert time.
func (s *EventStore) Append(ctx context.Context, evt model.Event) error {
	productData, err := evt.ProductJSON()
	if err != nil {
		return fmt.Errorf("encode product data: %w", err)
	}
	var product any
	if productData != nil {
		product = string(productData)
	}

	_, err = s.db.Pool.Exec(ctx, `
INSERT INTO events (
  event_type, host, path, full_url, referrer, ua,
  ip_address, device_type, ts, product_data, value, currency
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		evt.Type,
		nullable(evt.Host),
		nullable(evt.Path),
		nullable(evt.FullURL),
		nullable(evt.Referrer),
		nullable(evt.UserAgent),
		nullable(evt.IPAddress),
		nullable(evt.DeviceType),
		evt.TS,
		product,
		evt.Value,
		nullable(evt.Currency),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
