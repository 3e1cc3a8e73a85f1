package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"telemetry-relay/domain"
)

type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameLog
	FrameTelemetry
)

// Frame is one decoded message from the relay.
type Frame struct {
	Kind FrameKind
	Log  domain.LogEvent
	Type string
	Raw  []byte
}

// Decode tells log envelopes apart from relayed telemetry by the type field.
func Decode(data []byte) Frame {
	f := Frame{Raw: data}

	kind, ok := domain.MessageType(data)
	if !ok || kind == "" {
		return f
	}

	if kind == domain.LogEventType {
		if err := json.Unmarshal(data, &f.Log); err == nil {
			f.Kind = FrameLog
			return f
		}
		return f
	}

	f.Kind = FrameTelemetry
	f.Type = kind
	return f
}

// Format renders a frame as a single plain line. Log events carry their own
// timestamp; other frames are stamped with the receive time.
func Format(f Frame, receivedAt time.Time) string {
	switch f.Kind {
	case FrameLog:
		ts := time.UnixMilli(f.Log.Timestamp).Format("15:04:05")
		line := fmt.Sprintf("%s %-5s %s", ts, strings.ToUpper(string(f.Log.Level)), f.Log.Message)
		if f.Log.Meta != nil {
			if meta, err := json.Marshal(f.Log.Meta); err == nil {
				line += " " + string(meta)
			}
		}
		return line
	case FrameTelemetry:
		return fmt.Sprintf("%s [%s] %s", receivedAt.Format("15:04:05"), f.Type, compact(f.Raw))
	default:
		return fmt.Sprintf("%s ? %s", receivedAt.Format("15:04:05"), compact(f.Raw))
	}
}

func compact(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
