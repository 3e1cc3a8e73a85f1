package websocket

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"telemetry-relay/domain"
)

// RoleParam is the query parameter a client uses to declare its role.
const RoleParam = "role"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades requests and hands each connection's events to sink.
func Handler(sink domain.EventSink, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		// Query() drops pairs it cannot parse, so a malformed query string
		// falls back to the device role.
		role := domain.ParseRole(r.URL.Query().Get(RoleParam))

		conn := NewConn(uuid.New().String(), role, ws, sink, cfg)
		slog.Debug("connection upgraded", "clientId", conn.ID(), "role", role, "remote", r.RemoteAddr)
		conn.Start()
	}
}
