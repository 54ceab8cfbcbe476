package postgres

import (
	"context"
	"encoding/json"
	"time"
)

// Read-side reporting queries over the two stores. These back the query-api
// facade; the ingestion pipeline never calls them.

type DeviceCount struct {
	DeviceType string `json:"device_type"`
	Count      int64  `json:"count"`
}

type LocationCount struct {
	Country  *string `json:"country"`
	Region   *string `json:"region"`
	City     *string `json:"city"`
	District *string `json:"district"`
	Count    int64   `json:"count"`
}

type EventCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

type EventSummary struct {
	ID          int64           `json:"id"`
	Path        *string         `json:"path"`
	IPAddress   *string         `json:"ip_address"`
	DeviceType  *string         `json:"device_type"`
	Value       *float64        `json:"value,omitempty"`
	Currency    *string         `json:"currency,omitempty"`
	ProductData json.RawMessage `json:"product_data"`
	CreatedAt   time.Time       `json:"created_at"`
}

type VisitorSummary struct {
	IPAddress  string    `json:"ip_address"`
	DeviceType string    `json:"device_type"`
	Country    *string   `json:"country"`
	City       *string   `json:"city"`
	District   *string   `json:"district"`
	VisitCount int64     `json:"visit_count"`
	LastSeen   time.Time `json:"last_seen"`
}

// TotalUniqueUsers counts visitor rows.
func (db *DB) TotalUniqueUsers(ctx context.Context) (int64, error) {
	var count int64
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM unique_users`).Scan(&count)
	return count, err
}

// UniqueUsersByDevice groups visitors by device type.
func (db *DB) UniqueUsersByDevice(ctx context.Context) ([]DeviceCount, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT device_type, COUNT(*)
FROM unique_users
GROUP BY device_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DeviceCount
	for rows.Next() {
		var d DeviceCount
		if err := rows.Scan(&d.DeviceType, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UniqueUsersByLocation groups located visitors by place, most common first.
func (db *DB) UniqueUsersByLocation(ctx context.Context) ([]LocationCount, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT country, region, city, district, COUNT(*)
FROM unique_users
WHERE country IS NOT NULL
GROUP BY country, region, city, district
ORDER BY COUNT(*) DESC
LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LocationCount
	for rows.Next() {
		var l LocationCount
		if err := rows.Scan(&l.Country, &l.Region, &l.City, &l.District, &l.Count); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// EventCounts groups logged events by type.
func (db *DB) EventCounts(ctx context.Context) ([]EventCount, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT event_type, COUNT(*)
FROM events
GROUP BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventCount
	for rows.Next() {
		var e EventCount
		if err := rows.Scan(&e.EventType, &e.Count); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentEventsByType returns the newest events of one type, e.g. recent
// purchases or add-to-carts.
func (db *DB) RecentEventsByType(ctx context.Context, eventType string, limit int) ([]EventSummary, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT id, path, ip_address, device_type, value, currency, product_data, created_at
FROM events
WHERE event_type = $1
ORDER BY created_at DESC
LIMIT $2`, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventSummary
	for rows.Next() {
		var e EventSummary
		if err := rows.Scan(&e.ID, &e.Path, &e.IPAddress, &e.DeviceType, &e.Value, &e.Currency, &e.ProductData, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentUniqueUsers returns the most recently seen visitors.
func (db *DB) RecentUniqueUsers(ctx context.Context, limit int) ([]VisitorSummary, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT ip_address, device_type, country, city, district, visit_count, last_seen
FROM unique_users
ORDER BY last_seen DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VisitorSummary
	for rows.Next() {
		var v VisitorSummary
		if err := rows.Scan(&v.IPAddress, &v.DeviceType, &v.Country, &v.City, &v.District, &v.VisitCount, &v.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
