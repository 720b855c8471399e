package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"cycleline/internal/config"
	"cycleline/internal/domain"
)

const (
	defaultRelayInterval  = 2 * time.Second
	defaultWebhookTimeout = 5 * time.Second
	defaultRelayBatch     = 100
)

// Source is the read side of the event log.
type Source interface {
	EventsAfter(ctx context.Context, limit int, cursor int64, workflowID string) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Sink receives events in id order. A Deliver error stops the batch and
// the event is retried on the next tick.
type Sink interface {
	Name() string
	Accepts(evtType string) bool
	Deliver(ctx context.Context, evt domain.Event) error
}

// Relay forwards events appended after it started to every sink, keeping
// one cursor per sink.
type Relay struct {
	Source   Source
	Sinks    []Sink
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger

	mu      sync.Mutex
	cursors map[string]int64
}

// NewRelay builds webhook and NATS sinks from config. The returned close
// function releases the NATS connection, if any.
func NewRelay(src Source, cfg *config.Config, logger *slog.Logger) (*Relay, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{Source: src, Logger: logger.With(slog.String("component", "events.relay"))}
	closeFn := func() {}
	if cfg == nil {
		return r, closeFn, nil
	}
	for i, hook := range cfg.Events.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		r.Sinks = append(r.Sinks, NewWebhookSink(i, hook))
	}
	if url := strings.TrimSpace(cfg.Events.NATS.URL); url != "" {
		conn, err := nats.Connect(url, nats.Name("cycleline"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		r.Sinks = append(r.Sinks, NewNATSSink(conn, cfg.SubjectPrefix(), cfg.Events.NATS.Events))
		closeFn = func() {
			if err := conn.Drain(); err != nil {
				conn.Close()
			}
		}
	}
	return r, closeFn, nil
}

// Run dispatches on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if len(r.Sinks) == 0 {
		<-ctx.Done()
		return nil
	}
	interval := r.Interval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Relay) DispatchOnce(ctx context.Context) {
	for _, sink := range r.Sinks {
		r.dispatch(ctx, sink)
	}
}

func (r *Relay) dispatch(ctx context.Context, sink Sink) {
	logger := r.logger().With(slog.String("sink", sink.Name()))
	cursor, err := r.cursorFor(ctx, sink)
	if err != nil {
		logger.Warn("init cursor failed", slog.Any("error", err))
		return
	}
	batch := r.Batch
	if batch <= 0 {
		batch = defaultRelayBatch
	}
	evts, err := r.Source.EventsAfter(ctx, batch, cursor, "")
	if err != nil {
		logger.Warn("fetch events failed", slog.Any("error", err))
		return
	}
	for _, evt := range evts {
		if sink.Accepts(evt.Type) {
			if err := sink.Deliver(ctx, evt); err != nil {
				logger.Warn("deliver failed", slog.Int64("event_id", evt.ID), slog.Any("error", err))
				return
			}
			logger.Debug("delivered", slog.Int64("event_id", evt.ID), slog.String("type", evt.Type))
		}
		r.setCursor(sink.Name(), evt.ID)
	}
}

// cursorFor starts a new sink at the current end of the log. The cursor is
// left unset on error so the next tick retries.
func (r *Relay) cursorFor(ctx context.Context, sink Sink) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursors == nil {
		r.cursors = make(map[string]int64)
	}
	if cur, ok := r.cursors[sink.Name()]; ok {
		return cur, nil
	}
	cur, err := r.Source.LatestEventID(ctx)
	if err != nil {
		return 0, err
	}
	r.cursors[sink.Name()] = cur
	return cur, nil
}

func (r *Relay) setCursor(name string, value int64) {
	r.mu.Lock()
	r.cursors[name] = value
	r.mu.Unlock()
}

func (r *Relay) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Message is the JSON body delivered to every sink.
type Message struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func NewMessage(evt domain.Event) Message {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	return Message{
		ID:         evt.ID,
		Type:       evt.Type,
		WorkflowID: evt.WorkflowID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
}

type WebhookSink struct {
	hook   config.WebhookConfig
	name   string
	filter eventFilter
	client *http.Client
}

func NewWebhookSink(idx int, hook config.WebhookConfig) *WebhookSink {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &WebhookSink{
		hook:   hook,
		name:   fmt.Sprintf("webhook[%d]", idx),
		filter: newEventFilter(hook.Events),
		client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Name() string                { return s.name }
func (s *WebhookSink) Accepts(evtType string) bool { return s.filter.match(evtType) }

func (s *WebhookSink) Deliver(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(NewMessage(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cycleline-Event", evt.Type)
	req.Header.Set("X-Cycleline-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.WorkflowID != "" {
		req.Header.Set("X-Cycleline-Workflow", evt.WorkflowID)
	}
	if strings.TrimSpace(s.hook.Secret) != "" {
		req.Header.Set("X-Cycleline-Secret", s.hook.Secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// Publisher is the subset of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type NATSSink struct {
	conn   Publisher
	prefix string
	filter eventFilter
}

func NewNATSSink(conn Publisher, prefix string, events []string) *NATSSink {
	return &NATSSink{conn: conn, prefix: strings.TrimSuffix(prefix, "."), filter: newEventFilter(events)}
}

func (s *NATSSink) Name() string                { return "nats" }
func (s *NATSSink) Accepts(evtType string) bool { return s.filter.match(evtType) }

// Subject maps an event type to <prefix>.<type>.
func (s *NATSSink) Subject(evtType string) string {
	return s.prefix + "." + evtType
}

func (s *NATSSink) Deliver(_ context.Context, evt domain.Event) error {
	data, err := json.Marshal(NewMessage(evt))
	if err != nil {
		return err
	}
	return s.conn.Publish(s.Subject(evt.Type), data)
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
