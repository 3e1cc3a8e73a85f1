package domain

import (
	"encoding/json"
	"errors"
	"iter"
)

type Role string

const (
	RoleDevice  Role = "device"
	RoleMonitor Role = "monitor"
)

// ParseRole maps the connect-time role parameter to a Role. Only the exact
// value "monitor" selects RoleMonitor.
func ParseRole(s string) Role {
	if s == string(RoleMonitor) {
		return RoleMonitor
	}
	return RoleDevice
}

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// LogEventType is the discriminant monitors use to tell log envelopes apart
// from relayed telemetry.
const LogEventType = "log"

type LogEvent struct {
	Type      string `json:"type"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Meta      any    `json:"meta"`
}

// MessageType returns the string value of the top-level "type" key of a JSON
// object. The key must match exactly; struct decoding would also accept
// "Type" or "TYPE".
func MessageType(data []byte) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", false
	}
	raw, ok := fields["type"]
	if !ok {
		return "", false
	}
	var t string
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", false
	}
	return t, true
}

var (
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

type Connection interface {
	ID() string
	Role() Role
	State() State
	Send(data []byte) error
	Close() error
}

type Registry interface {
	Register(conn Connection, role Role)
	Unregister(conn Connection)
	Monitors() iter.Seq[Connection]
}

type EventKind int

const (
	EventConnect EventKind = iota
	EventMessage
	EventClose
	EventError
	EventCommand
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Event is one connection lifecycle notification or inbound frame. Conn is
// nil for EventCommand.
type Event struct {
	Kind EventKind
	Conn Connection
	Data []byte
	Err  error
}

type EventSink interface {
	Submit(ev Event) error
}
