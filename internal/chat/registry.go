package chat

import "sync"

// Conn is the registry's view of a live connection. The registry never owns
// or closes it.
type Conn interface {
	Send(payload []byte) error
}

// Registry maps user ids to the connection they registered last in this
// process.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register points userID at conn, replacing any earlier connection for the
// same id. The replaced connection is left open.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = conn
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// Remove drops every entry whose handle is conn and returns the ids it was
// registered under. Close events only carry the handle, hence the scan.
// Unknown handles are a no-op.
func (r *Registry) Remove(conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for userID, c := range r.conns {
		if c == conn {
			delete(r.conns, userID)
			removed = append(removed, userID)
		}
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
