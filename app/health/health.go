// Package health serves the GET/HEAD /health endpoint of spec.md §6: a
// JSON probe of every registered app.Component, mirroring
// Application.Health into the wire shape
// {is_sick, checks, version?, build_time?, start_time?, up_time?}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ipapp-go/ipapp/tracer"
	"github.com/ipapp-go/ipapp/tracer/ext"
)

// Probe is the minimal view of app.Application this package needs,
// satisfied by *app.Application without importing package app (which
// would otherwise create an app -> health -> app import cycle once app
// itself wants to mount this handler).
type Probe interface {
	Health(ctx context.Context) map[string]error
	Version() string
	BuildStamp() string
	StartStamp() time.Time
}

// Response is the wire shape of spec.md §6 "Health endpoint".
type Response struct {
	IsSick    bool              `json:"is_sick"`
	Checks    map[string]string `json:"checks"`
	Version   string            `json:"version,omitempty"`
	BuildTime string            `json:"build_time,omitempty"`
	StartTime string            `json:"start_time,omitempty"`
	UpTime    string            `json:"up_time,omitempty"`
}

// Handler serves GET /health (full JSON body) and HEAD /health (status
// only, spec.md §6).
type Handler struct {
	probe  Probe
	logger *tracer.Logger
}

// NewHandler builds a health Handler probing probe, minting its span from
// logger.
func NewHandler(probe Probe, logger *tracer.Logger) *Handler {
	if logger == nil {
		logger = tracer.NewLogger()
	}
	return &Handler{probe: probe, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	span := h.logger.New("health", tracer.WithKind(ext.SpanKindServer))
	ctx := tracer.ContextWithSpan(r.Context(), span)
	defer func() { span.Finish(nil) }()

	resp := evaluate(h.probe, ctx)

	// A healthy healthcheck span is always marked skip so it does not
	// pollute traces (spec.md §6); a sick one is left visible since it's
	// exactly the kind of event an adapter should see.
	if !resp.IsSick {
		span.Skip()
	}

	status := http.StatusOK
	if resp.IsSick {
		status = http.StatusInternalServerError
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// evaluate runs probe.Health and shapes it into Response, independent of
// the HTTP transport so tests in this package can call it directly.
func evaluate(probe Probe, ctx context.Context) Response {
	checks := probe.Health(ctx)
	resp := Response{Checks: make(map[string]string, len(checks))}
	for name, err := range checks {
		if err != nil {
			resp.IsSick = true
			resp.Checks[name] = err.Error()
		} else {
			resp.Checks[name] = "ok"
		}
	}
	resp.Version = probe.Version()
	resp.BuildTime = probe.BuildStamp()
	if start := probe.StartStamp(); !start.IsZero() {
		resp.StartTime = start.Format(time.RFC3339)
		resp.UpTime = time.Since(start).String()
	}
	return resp
}
