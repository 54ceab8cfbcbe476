package postgres

import (
	"context"
	"fmt"

	"pixel-relay/internal/model"
)

// VisitorStore tracks unique visitors keyed by (ip_address, device_type).
type VisitorStore struct {
	db *DB
}

func NewVisitorStore(db *DB) *VisitorStore { return &VisitorStore{db: db} }

// Upsert records a visit. A new (ip, device) pair inserts with visit_count 1;
// an existing pair increments visit_count and refreshes last_seen. Location
// fields coalesce on write: an incoming NULL never erases a stored value.
// The single conditional statement keeps concurrent visits from the same
// pair from racing into duplicate rows.
func (s *VisitorStore) Upsert(ctx context.Context, ip, deviceType, userAgent string, geo model.Geolocation) error {
	_, err := s.db.Pool.Exec(ctx, `
INSERT INTO unique_users (
  ip_address, device_type, user_agent,
  country, region, city, district, latitude, longitude,
  visit_count
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
ON CONFLICT (ip_address, device_type) DO UPDATE SET
  last_seen   = now(),
  visit_count = unique_users.visit_count + 1,
  user_agent  = COALESCE(EXCLUDED.user_agent, unique_users.user_agent),
  country     = COALESCE(EXCLUDED.country, unique_users.country),
  region      = COALESCE(EXCLUDED.region, unique_users.region),
  city        = COALESCE(EXCLUDED.city, unique_users.city),
  district    = COALESCE(EXCLUDED.district, unique_users.district),
  latitude    = COALESCE(EXCLUDED.latitude, unique_users.latitude),
  longitude   = COALESCE(EXCLUDED.longitude, unique_users.longitude)`,
		ip,
		deviceType,
		nullable(userAgent),
		geo.Country,
		geo.Region,
		geo.City,
		geo.District,
		geo.Latitude,
		geo.Longitude,
	)
	if err != nil {
		return fmt.Errorf("upsert visitor: %w", err)
	}
	return nil
}

// ExistsByIP reports whether any visitor row matches the IP, regardless of
// device type. The geolocation resolver uses it to look addresses up only
// once.
func (s *VisitorStore) ExistsByIP(ctx context.Context, ip string) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM unique_users WHERE ip_address = $1)`, ip,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check visitor: %w", err)
	}
	return exists, nil
}
