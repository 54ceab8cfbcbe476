package httpx

import (
	"net/http"
	"regexp"
	"strings"
)

// Request is the minimal view of an inbound request the pipeline needs.
// Implementations exist per host framework so the core never branches on a
// concrete request type.
type Request interface {
	// Header returns the first value for a header, looked up
	// case-insensitively, or "" when absent.
	Header(name string) string
	// Cookie returns a named cookie value, or "" when absent.
	Cookie(name string) string
	// PeerAddr returns the transport-level remote IP, without port, or "".
	PeerAddr() string
}

// StdRequest adapts a *http.Request (the gin boundary hands us one).
type StdRequest struct {
	R *http.Request
}

func (s StdRequest) Header(name string) string {
	if strings.EqualFold(name, "host") {
		return s.R.Host
	}
	return s.R.Header.Get(name)
}

func (s StdRequest) Cookie(name string) string {
	c, err := s.R.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s StdRequest) PeerAddr() string {
	addr := s.R.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i != -1 {
		host := addr[:i]
		host = strings.TrimPrefix(host, "[")
		host = strings.TrimSuffix(host, "]")
		return host
	}
	return addr
}

// HeaderMap adapts a plain header bag, for embedding and tests. Lookups are
// case-insensitive; cookies are parsed out of the Cookie header.
type HeaderMap struct {
	Headers map[string]string
	Peer    string
}

func (h HeaderMap) Header(name string) string {
	if v, ok := h.Headers[name]; ok {
		return v
	}
	for k, v := range h.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (h HeaderMap) Cookie(name string) string {
	raw := h.Header("cookie")
	if raw == "" {
		return ""
	}
	re := regexp.MustCompile(regexp.QuoteMeta(name) + `=([^;]+)`)
	if m := re.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func (h HeaderMap) PeerAddr() string { return h.Peer }

// ipHeaders in precedence order; the first header carrying a value wins.
var ipHeaders = []string{"x-forwarded-for", "x-real-ip", "cf-connecting-ip", "true-client-ip"}

// ClientIP resolves the client address from proxy headers, falling back to
// the peer address and finally to "0.0.0.0". Comma-separated header values
// keep only the first element (the originating client behind proxy chains).
func ClientIP(req Request) string {
	if req == nil {
		return "0.0.0.0"
	}
	for _, name := range ipHeaders {
		if ip := firstIP(req.Header(name)); ip != "" {
			return ip
		}
	}
	if peer := req.PeerAddr(); peer != "" && !isLoopbackOrPrivate(peer) {
		return peer
	}
	return "0.0.0.0"
}

func firstIP(value string) string {
	if value == "" {
		return ""
	}
	if i := strings.Index(value, ","); i != -1 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

func isLoopbackOrPrivate(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" ||
		strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "192.168.")
}
