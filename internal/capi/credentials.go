package capi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Credentials identify one Facebook pixel. The yaml tags match the pixels
// config file; the json tags match the remote credentials service response.
type Credentials struct {
	PixelID       string `yaml:"pixel_id" json:"pixel_id"`
	AccessToken   string `yaml:"access_token" json:"token"`
	TestEventCode string `yaml:"test_event_code" json:"test_code"`
}

// Valid reports whether the credentials are complete enough to dispatch.
func (c Credentials) Valid() bool {
	return c.PixelID != "" && c.AccessToken != ""
}

// Resolver looks up pixel credentials for a path-derived slug. Deployments
// choose between a static config-file resolver and a remote HTTP one.
type Resolver interface {
	Resolve(ctx context.Context, slug string) (Credentials, error)
}

// SlugFromPath returns the last segment of a request path, used as the
// credentials lookup key.
func SlugFromPath(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

// StaticResolver serves credentials from an in-memory map keyed by slug,
// falling back to the "default" entry when the slug is unknown.
type StaticResolver struct {
	pixels map[string]Credentials
}

func NewStaticResolver(pixels map[string]Credentials) *StaticResolver {
	return &StaticResolver{pixels: pixels}
}

func (r *StaticResolver) Resolve(_ context.Context, slug string) (Credentials, error) {
	if creds, ok := r.pixels[slug]; ok {
		return creds, nil
	}
	return r.pixels["default"], nil
}

// HTTPResolver fetches credentials per slug from an external product service.
type HTTPResolver struct {
	base   string
	client *http.Client
}

func NewHTTPResolver(base string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		base:   strings.TrimSuffix(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, slug string) (Credentials, error) {
	url := fmt.Sprintf("%s/products/get-fb-credentials/%s", r.base, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Credentials{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("fetch credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("fetch credentials: status %d", resp.StatusCode)
	}
	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}
