package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pixel-relay/internal/capi"
	"pixel-relay/internal/httpx"
	"pixel-relay/internal/model"
	"pixel-relay/internal/util"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_total",
		Help: "Events accepted by the ingestion pipeline",
	}, []string{"event_type"})
	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_failures_total",
		Help: "Pipeline stage failures by stage",
	}, []string{"stage"})
)

// Pipeline stages, in execution order.
const (
	StageGeolocate     = "geolocate"
	StagePersistEvent  = "persist_event"
	StageUpsertVisitor = "upsert_visitor"
	StageDispatch      = "dispatch"
)

// EventAppender is the append-only event log sink.
type EventAppender interface {
	Append(ctx context.Context, evt model.Event) error
}

// VisitorUpserter is the unique-visitor identity sink.
type VisitorUpserter interface {
	Upsert(ctx context.Context, ip, deviceType, userAgent string, geo model.Geolocation) error
}

// Locator resolves a coarse location for an IP; it degrades to the zero
// Geolocation instead of failing.
type Locator interface {
	Resolve(ctx context.Context, ip string) model.Geolocation
}

// ConversionDispatcher performs the single outbound delivery attempt.
type ConversionDispatcher interface {
	Dispatch(ctx context.Context, evt model.Event, req httpx.Request) capi.Result
}

// StageResult records the outcome of one pipeline stage.
type StageResult struct {
	Stage string
	Err   error
}

// Ack is the pipeline's answer to the caller. OK is always true once the
// pipeline ran: a fire-and-forget beacon never needs to handle a sink being
// down, so stage failures are reported here and logged but never surfaced.
type Ack struct {
	OK     bool
	Stages []StageResult
}

// Pipeline sequences normalization, enrichment, persistence, and dispatch
// for one event. It holds no per-request state; all collaborators are
// injected at construction.
type Pipeline struct {
	geo      Locator
	events   EventAppender
	visitors VisitorUpserter
	capi     ConversionDispatcher
	now      func() time.Time
}

func New(geo Locator, events EventAppender, visitors VisitorUpserter, dispatcher ConversionDispatcher) *Pipeline {
	return &Pipeline{
		geo:      geo,
		events:   events,
		visitors: visitors,
		capi:     dispatcher,
		now:      time.Now,
	}
}

// Normalize merges the request body with the request context into the
// canonical event shape, applying defaults for absent fields.
func (p *Pipeline) Normalize(in model.IncomingEvent, req httpx.Request) model.Event {
	userAgent := in.UA
	if userAgent == "" && req != nil {
		userAgent = req.Header("user-agent")
	}
	host := ""
	if req != nil {
		host = req.Header("host")
	}
	ts := in.TS
	if ts == 0 {
		ts = p.now().UnixMilli()
	}
	eventType := in.Event
	if eventType == "" {
		eventType = model.EventPageView
	}

	return model.Event{
		Type:       eventType,
		Host:       host,
		Path:       in.Path,
		FullURL:    in.URL,
		Referrer:   in.Referrer,
		UserAgent:  userAgent,
		IPAddress:  httpx.ClientIP(req),
		DeviceType: util.DetectDeviceType(userAgent),
		TS:         ts,
		Product:    in.Product,
		Products:   in.Products,
		Value:      in.Value,
		Currency:   in.Currency,
		Email:      in.Email,
		Phone:      in.Phone,
		EventID:    in.EventID,
	}
}

// Process runs the full pipeline for one event. Each stage's failure is
// isolated: it is logged, counted, and recorded in the Ack, and the
// remaining stages still run.
func (p *Pipeline) Process(ctx context.Context, in model.IncomingEvent, req httpx.Request) Ack {
	evt := p.Normalize(in, req)
	eventsTotal.WithLabelValues(evt.Type).Inc()

	ack := Ack{OK: true}
	record := func(stage string, err error) {
		ack.Stages = append(ack.Stages, StageResult{Stage: stage, Err: err})
		if err != nil {
			stageFailures.WithLabelValues(stage).Inc()
			log.Printf("[pipeline] stage %s failed: %v", stage, err)
		}
	}

	// Enrichment: the resolver swallows its own failures into a null
	// location, so this stage cannot fail.
	geoData := p.geo.Resolve(ctx, evt.IPAddress)
	record(StageGeolocate, nil)

	record(StagePersistEvent, p.events.Append(ctx, evt))
	record(StageUpsertVisitor, p.visitors.Upsert(ctx, evt.IPAddress, evt.DeviceType, evt.UserAgent, geoData))

	result := p.capi.Dispatch(ctx, evt, req)
	record(StageDispatch, result.Err)

	return ack
}
