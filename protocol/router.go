package protocol

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"telemetry-relay/domain"
)

// DefaultTelemetryTypes is the allow-list used when none is configured.
var DefaultTelemetryTypes = []string{"motor", "steering", "arm"}

type Outcome int

const (
	OutcomeReject Outcome = iota
	OutcomeRelay
	OutcomeLogOnly
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReject:
		return "reject"
	case OutcomeRelay:
		return "relay"
	case OutcomeLogOnly:
		return "log_only"
	default:
		return "unknown"
	}
}

// Archiver receives every relayed telemetry frame. Implementations must not
// block.
type Archiver interface {
	Archive(kind string, payload []byte) bool
}

type Stats struct {
	Received  int64 `json:"received"`
	Relayed   int64 `json:"relayed"`
	Rejected  int64 `json:"rejected"`
	LogOnly   int64 `json:"log_only"`
	LogEvents int64 `json:"log_events"`
	Dropped   int64 `json:"dropped"`
}

// Router classifies inbound frames and fans relayed telemetry and log events
// out to monitors. Its methods are meant to be driven by a single Dispatcher
// goroutine; Stats may be read from anywhere.
type Router struct {
	registry domain.Registry
	allowed  map[string]struct{}
	logger   *slog.Logger
	now      func() time.Time
	archive  Archiver

	received  atomic.Int64
	relayed   atomic.Int64
	rejected  atomic.Int64
	logOnly   atomic.Int64
	logEvents atomic.Int64
	dropped   atomic.Int64
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the source of log event timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

func WithArchiver(a Archiver) Option {
	return func(r *Router) { r.archive = a }
}

func NewRouter(registry domain.Registry, telemetryTypes []string, opts ...Option) *Router {
	if len(telemetryTypes) == 0 {
		telemetryTypes = DefaultTelemetryTypes
	}
	allowed := make(map[string]struct{}, len(telemetryTypes))
	for _, t := range telemetryTypes {
		allowed[t] = struct{}{}
	}

	r := &Router{
		registry: registry,
		allowed:  allowed,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify decides what to do with a raw frame. The returned string is the
// telemetry type for OutcomeRelay and empty otherwise.
func (r *Router) Classify(data []byte) (Outcome, string) {
	if !json.Valid(data) {
		return OutcomeReject, ""
	}

	// Non-objects and missing or non-string types fall through to log-only.
	kind, ok := domain.MessageType(data)
	if !ok {
		return OutcomeLogOnly, ""
	}
	if _, ok := r.allowed[kind]; !ok {
		return OutcomeLogOnly, ""
	}
	return OutcomeRelay, kind
}

func (r *Router) Handle(conn domain.Connection, data []byte) Outcome {
	r.received.Add(1)

	outcome, kind := r.Classify(data)
	switch outcome {
	case OutcomeReject:
		r.rejected.Add(1)
		r.Error("invalid payload", map[string]any{"role": conn.Role(), "payload": string(data)})
	case OutcomeRelay:
		r.relayed.Add(1)
		r.Info("monitoring data received", map[string]any{"type": kind})
		r.Broadcast(data)
		if r.archive != nil && !r.archive.Archive(kind, data) {
			r.logger.Warn("telemetry not archived", "type", kind, "clientId", conn.ID())
		}
	case OutcomeLogOnly:
		r.logOnly.Add(1)
		r.Info("message received", map[string]any{"role": conn.Role(), "payload": string(data)})
	}
	return outcome
}

func (r *Router) Connected(conn domain.Connection) {
	r.registry.Register(conn, conn.Role())
	r.Info("connected", map[string]any{"role": conn.Role()})
}

func (r *Router) Disconnected(conn domain.Connection) {
	r.registry.Unregister(conn)
	r.Info("disconnected", map[string]any{"role": conn.Role()})
}

// TransportError records a socket failure. Cleanup is left to the close event
// that follows it.
func (r *Router) TransportError(conn domain.Connection, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	r.Error("socket error", map[string]any{"role": conn.Role(), "error": msg})
}

// Command handles a body posted to the command endpoint. Commands are not
// delivered to devices yet; they are only logged.
func (r *Router) Command(body []byte) {
	var command any
	switch {
	case len(body) == 0:
	case json.Valid(body):
		command = json.RawMessage(body)
	default:
		command = string(body)
	}
	r.Info("command broadcast stub", map[string]any{"command": command})
}

func (r *Router) Info(message string, meta any) {
	r.emit(domain.LevelInfo, message, meta)
}

func (r *Router) Error(message string, meta any) {
	r.emit(domain.LevelError, message, meta)
}

func (r *Router) emit(level domain.Level, message string, meta any) {
	slogLevel := slog.LevelInfo
	if level == domain.LevelError {
		slogLevel = slog.LevelError
	}
	r.logger.Log(context.Background(), slogLevel, message, "meta", meta)

	event := domain.LogEvent{
		Type:      domain.LogEventType,
		Level:     level,
		Message:   message,
		Timestamp: r.now().UnixMilli(),
		Meta:      meta,
	}
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Warn("marshal log event", "message", message, "error", err)
		return
	}
	r.logEvents.Add(1)
	r.Broadcast(data)
}

// Broadcast sends data to every open monitor and returns how many accepted it.
func (r *Router) Broadcast(data []byte) int {
	delivered := 0
	for conn := range r.registry.Monitors() {
		if conn.State() != domain.StateOpen {
			continue
		}
		if err := conn.Send(data); err != nil {
			r.dropped.Add(1)
			r.logger.Debug("send dropped", "clientId", conn.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Router) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Relayed:   r.relayed.Load(),
		Rejected:  r.rejected.Load(),
		LogOnly:   r.logOnly.Load(),
		LogEvents: r.logEvents.Load(),
		Dropped:   r.dropped.Load(),
	}
}
