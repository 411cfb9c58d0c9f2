package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/fortypixels/invoice-pilot/internal/core/ports"
)

// EventRecorder counts one webhook delivery by event type and disposition.
type EventRecorder func(eventType, disposition string)

// Router is the webhook-facing surface. It verifies, acknowledges and
// enqueues chat events; all pipeline work happens in the worker process.
type Router struct {
	queue       ports.EventQueue
	verifier    *SignatureVerifier
	record      EventRecorder
	rateRPS     float64
	rateBurst   int
	maxInFlight int
}

type RouterOptions struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	Recorder       EventRecorder
}

func NewRouter(queue ports.EventQueue, verifier *SignatureVerifier, opts RouterOptions) *Router {
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 20
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 40
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}
	if opts.Recorder == nil {
		opts.Recorder = func(string, string) {}
	}
	return &Router{
		queue:       queue,
		verifier:    verifier,
		record:      opts.Recorder,
		rateRPS:     opts.RateLimitRPS,
		rateBurst:   opts.RateLimitBurst,
		maxInFlight: opts.MaxInFlight,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/slack/events", rt.handleEvents)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, 0)
	handler = rateLimitMiddleware(handler, rt.rateRPS, rt.rateBurst)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
