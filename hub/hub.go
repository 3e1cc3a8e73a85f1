package hub

import (
	"iter"
	"log/slog"
	"slices"
	"sync"

	"telemetry-relay/domain"
)

// Hub is the connection registry. The monitor subset is kept as an immutable
// slice that is replaced on every mutation, so Monitors can hand out a
// snapshot without holding the lock during iteration.
type Hub struct {
	mu       sync.RWMutex
	conns    map[domain.Connection]domain.Role
	monitors []domain.Connection
}

func New() *Hub {
	return &Hub{
		conns: make(map[domain.Connection]domain.Role),
	}
}

func (h *Hub) Register(conn domain.Connection, role domain.Role) {
	h.mu.Lock()
	if _, exists := h.conns[conn]; exists {
		// Role is fixed at connect time.
		h.mu.Unlock()
		return
	}
	h.conns[conn] = role
	if role == domain.RoleMonitor {
		next := make([]domain.Connection, 0, len(h.monitors)+1)
		next = append(next, h.monitors...)
		h.monitors = append(next, conn)
	}
	count := len(h.conns)
	h.mu.Unlock()

	slog.Debug("connection registered", "clientId", conn.ID(), "role", role, "clients", count)
}

func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	role, exists := h.conns[conn]
	if !exists {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn)
	if role == domain.RoleMonitor {
		h.monitors = slices.DeleteFunc(slices.Clone(h.monitors), func(c domain.Connection) bool {
			return c == conn
		})
	}
	count := len(h.conns)
	h.mu.Unlock()

	slog.Debug("connection unregistered", "clientId", conn.ID(), "role", role, "clients", count)
}

// Monitors returns the monitors registered at call time. The sequence may be
// ranged over more than once and always yields the same snapshot; callers
// must still check each connection's state before sending.
func (h *Hub) Monitors() iter.Seq[domain.Connection] {
	h.mu.RLock()
	snapshot := h.monitors
	h.mu.RUnlock()

	return func(yield func(domain.Connection) bool) {
		for _, conn := range snapshot {
			if !yield(conn) {
				return
			}
		}
	}
}

func (h *Hub) Role(conn domain.Connection) (domain.Role, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	role, ok := h.conns[conn]
	return role, ok
}

func (h *Hub) Stats() (devices, monitors int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	monitors = len(h.monitors)
	devices = len(h.conns) - monitors
	return devices, monitors
}
