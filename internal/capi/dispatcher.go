package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pixel-relay/internal/httpx"
	"pixel-relay/internal/model"
)

var dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "capi_dispatch_total",
	Help: "Conversions API dispatch attempts by outcome",
}, []string{"outcome"})

// Result describes the single delivery attempt for one event.
type Result struct {
	// Delivered is true when the Conversions API accepted the payload.
	Delivered bool
	// Skipped is true when no delivery was attempted (missing credentials).
	Skipped bool
	// StatusCode is the upstream HTTP status, when a response was received.
	StatusCode int
	// EventsReceived echoes the API's accepted-event count.
	EventsReceived int
	// Err holds the transport or upstream failure, if any.
	Err error
}

// Dispatcher sends conversion events to the Facebook Conversions API. One
// attempt per event; failures are reported in the Result, never raised.
type Dispatcher struct {
	graphBase string
	client    *http.Client
	creds     Resolver
	opts      Options
}

// NewDispatcher builds a dispatcher against a Graph API base such as
// https://graph.facebook.com/v21.0.
func NewDispatcher(graphBase string, timeout time.Duration, creds Resolver, opts Options) *Dispatcher {
	return &Dispatcher{
		graphBase: strings.TrimSuffix(graphBase, "/"),
		client:    &http.Client{Timeout: timeout},
		creds:     creds,
		opts:      opts,
	}
}

type graphResponse struct {
	EventsReceived int `json:"events_received"`
	Messages       []struct {
		Message string `json:"message"`
	} `json:"messages"`
}

// Dispatch resolves credentials for the event's path slug, builds the
// conversion payload, and posts it upstream.
func (d *Dispatcher) Dispatch(ctx context.Context, evt model.Event, req httpx.Request) Result {
	creds, err := d.creds.Resolve(ctx, SlugFromPath(evt.Path))
	if err != nil {
		log.Printf("[capi] resolve credentials: %v", err)
		creds = Credentials{}
	}
	if !creds.Valid() {
		log.Printf("[capi] missing pixel credentials, skipping dispatch")
		dispatchTotal.WithLabelValues("skipped").Inc()
		return Result{Skipped: true}
	}

	payload := envelope{
		Data:        []ConversionEvent{BuildPayload(evt, req, d.opts)},
		AccessToken: creds.AccessToken,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		dispatchTotal.WithLabelValues("failed").Inc()
		return Result{Err: fmt.Errorf("encode payload: %w", err)}
	}

	url := fmt.Sprintf("%s/%s/events", d.graphBase, creds.PixelID)
	if creds.TestEventCode != "" {
		url += "?test_event_code=" + creds.TestEventCode
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		dispatchTotal.WithLabelValues("failed").Inc()
		return Result{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		log.Printf("[capi] send event: %v", err)
		dispatchTotal.WithLabelValues("failed").Inc()
		return Result{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("[capi] upstream error: status=%d body=%s", resp.StatusCode, errText)
		dispatchTotal.WithLabelValues("failed").Inc()
		return Result{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("conversions api status %d", resp.StatusCode),
		}
	}

	var parsed graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("[capi] decode response: %v", err)
		dispatchTotal.WithLabelValues("failed").Inc()
		return Result{StatusCode: resp.StatusCode, Err: err}
	}
	for _, msg := range parsed.Messages {
		if msg.Message != "" {
			log.Printf("[capi] upstream warning: %s", msg.Message)
		}
	}
	if parsed.EventsReceived == 0 {
		log.Printf("[capi] upstream received 0 events, check payload structure")
	}

	dispatchTotal.WithLabelValues("delivered").Inc()
	return Result{
		Delivered:      true,
		StatusCode:     resp.StatusCode,
		EventsReceived: parsed.EventsReceived,
	}
}
