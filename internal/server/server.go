// Package server exposes the triage pipeline over HTTP. One classify
// endpoint, a health probe, and a stats snapshot.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"triagebot/internal/breaker"
	"triagebot/internal/domain"
	"triagebot/internal/pipeline"
)

type Server struct {
	pipeline      *pipeline.Pipeline
	gate          *breaker.Gate
	maxMessageLen int
}

func New(p *pipeline.Pipeline, gate *breaker.Gate, maxMessageLen int) *Server {
	return &Server{pipeline: p, gate: gate, maxMessageLen: maxMessageLen}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/classify", s.handleClassify)
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/stats", s.handleStats)
	return mux
}

// ListenAndServe blocks until the server exits.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("http listening addr=%s", addr)
	return srv.ListenAndServe()
}

type classifyRequest struct {
	Message  string `json:"message"`
	Channel  string `json:"channel"`
	ClientID string `json:"client_id"`
}

type classifyResponse struct {
	Category            string  `json:"category"`
	Confidence          float64 `json:"confidence"`
	Reasoning           string  `json:"reasoning"`
	IsFallback          bool    `json:"is_fallback"`
	Action              string  `json:"action"`
	Priority            string  `json:"priority"`
	RequiresHumanReview bool    `json:"requires_human_review"`
	ExternalSystemRef   string  `json:"external_system_ref,omitempty"`
}

type errorResponse struct {
	Error      string  `json:"error"`
	RetryAfter float64 `json:"retry_after_seconds,omitempty"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var body classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if body.Channel == "" {
		body.Channel = string(domain.ChannelChat)
	}

	req := domain.ClassificationRequest{
		Text:      body.Message,
		Channel:   domain.Channel(body.Channel),
		ClientKey: body.ClientID,
	}
	if err := req.Validate(s.maxMessageLen); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.pipeline.ProcessMessage(r.Context(), req)
	if err != nil {
		var limited *pipeline.RateLimitedError
		if errors.As(err, &limited) {
			setRetryAfter(w, limited.RetryAfter)
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:      "rate limit exceeded",
				RetryAfter: limited.RetryAfter.Seconds(),
			})
			return
		}
		var open *pipeline.CircuitOpenError
		if errors.As(err, &open) {
			setRetryAfter(w, open.RetryAfter)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{
				Error:      "classification service unavailable",
				RetryAfter: open.RetryAfter.Seconds(),
			})
			return
		}
		log.Printf("http classify unexpected error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		Category:            string(res.Classification.Category),
		Confidence:          res.Classification.Confidence,
		Reasoning:           res.Classification.Reasoning,
		IsFallback:          res.Classification.IsFallback,
		Action:              res.Outcome.Action,
		Priority:            string(res.Outcome.Priority),
		RequiresHumanReview: res.Outcome.RequiresHumanReview,
		ExternalSystemRef:   res.Outcome.ExternalSystemRef,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"breaker": string(s.gate.State()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	stats := s.pipeline.Stats()
	writeJSON(w, http.StatusOK, map[string]int64{
		"processed":    stats.Processed.Load(),
		"rate_limited": stats.RateLimited.Load(),
		"breaker_open": stats.BreakerOpen.Load(),
		"fallbacks":    stats.Fallbacks.Load(),
		"escalations":  stats.Escalations.Load(),
	})
}

// setRetryAfter rounds up so a client that waits the advertised time is
// guaranteed a token.
func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("http encode error: %v", err)
	}
}
