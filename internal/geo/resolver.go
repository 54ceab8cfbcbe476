package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"pixel-relay/internal/model"
)

const lookupFields = "status,country,region,regionName,city,district,lat,lon,message"

// VisitorChecker reports whether an IP is already known to the visitor store.
type VisitorChecker interface {
	ExistsByIP(ctx context.Context, ip string) (bool, error)
}

// Resolver maps a public IP to a coarse location via ip-api.com. Lookups are
// performed once per IP: if the visitor store already knows the address, the
// external call is skipped. Resolve never returns an error; every failure
// degrades to an all-null Geolocation.
type Resolver struct {
	base     string
	client   *http.Client
	visitors VisitorChecker
}

// NewResolver builds a resolver against the given API base
// (e.g. http://ip-api.com) with a bounded per-lookup timeout.
func NewResolver(base string, timeout time.Duration, visitors VisitorChecker) *Resolver {
	return &Resolver{
		base:     strings.TrimSuffix(base, "/"),
		client:   &http.Client{Timeout: timeout},
		visitors: visitors,
	}
}

type lookupResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	Region     string  `json:"region"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	District   string  `json:"district"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Resolve returns the location for ip, or the zero Geolocation for private,
// loopback, unknown, or already-seen addresses and for any lookup failure.
func (r *Resolver) Resolve(ctx context.Context, ip string) model.Geolocation {
	if skipLookup(ip) {
		return model.Geolocation{}
	}

	if r.visitors != nil {
		// A store error counts as "not seen": better one redundant lookup
		// than a permanently unresolved visitor.
		exists, err := r.visitors.ExistsByIP(ctx, ip)
		if err == nil && exists {
			return model.Geolocation{}
		}
	}

	url := fmt.Sprintf("%s/json/%s?fields=%s", r.base, ip, lookupFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Geolocation{}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("[geo] lookup %s failed: %v", ip, err)
		return model.Geolocation{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("[geo] lookup %s: unexpected status %d", ip, resp.StatusCode)
		return model.Geolocation{}
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("[geo] lookup %s: decode: %v", ip, err)
		return model.Geolocation{}
	}
	if body.Status != "success" {
		log.Printf("[geo] lookup %s: status=%q message=%q", ip, body.Status, body.Message)
		return model.Geolocation{}
	}

	region := body.RegionName
	if region == "" {
		region = body.Region
	}
	out := model.Geolocation{}
	if body.Country != "" {
		out.Country = &body.Country
	}
	if region != "" {
		out.Region = &region
	}
	if body.City != "" {
		out.City = &body.City
	}
	if body.District != "" {
		out.District = &body.District
	}
	if body.Lat != 0 {
		out.Latitude = &body.Lat
	}
	if body.Lon != 0 {
		out.Longitude = &body.Lon
	}
	return out
}

// skipLookup guards against wasting lookups on non-public addresses. The
// 172. prefix check is intentionally broader than RFC1918 172.16/12 and also
// excludes public 172.x space; kept for parity with stored history.
func skipLookup(ip string) bool {
	return ip == "" ||
		ip == "0.0.0.0" ||
		strings.HasPrefix(ip, "127.") ||
		strings.HasPrefix(ip, "192.168.") ||
		strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "172.")
}
