package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"questline/core"
)

// Sink posts domain events to configured HTTP endpoints.
// Delivery is synchronous; subscribe it to an async EventBus to keep it off
// the request path.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     map[core.EventType]struct{}
	log       *slog.Logger
	failures  atomic.Uint64
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTimeout sets the client timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

// WithEventTypes limits delivery to the given event types.
func WithEventTypes(types ...core.EventType) Option {
	return func(s *Sink) {
		if len(types) == 0 {
			return
		}
		s.types = make(map[core.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Failures reports how many deliveries failed since the sink was created.
func (s *Sink) Failures() uint64 { return s.failures.Load() }

// Handle has the signature of an EventBus handler.
func (s *Sink) Handle(ctx context.Context, e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	if s.types != nil {
		if _, ok := s.types[e.Type]; !ok {
			return
		}
	}
	body, err := json.Marshal(e)
	if err != nil {
		s.log.Error("webhook encode failed", "event", e.Type, "error", err)
		return
	}
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, body, e.Type); err != nil {
			s.failures.Add(1)
			s.log.Warn("webhook delivery failed", "endpoint", ep, "event", e.Type, "user", e.UserID, "error", err)
		}
	}
}

// OnEvent delivers e without a caller context.
func (s *Sink) OnEvent(e core.Event) { s.Handle(context.Background(), e) }

func (s *Sink) post(ctx context.Context, endpoint string, body []byte, typ core.EventType) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Questline-Event", string(typ))
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
