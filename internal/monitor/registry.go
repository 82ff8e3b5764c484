package monitor

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/sempr/labjudge/pkg/models"
)

var ErrDuplicateMonitor = errors.New("monitor is already connected")

const connBuffer = 32

// Conn is one live monitor connection. Verdicts that do not fit in its
// buffer are dropped for that monitor only.
type Conn struct {
	ID        string
	SessionID string

	mu     sync.Mutex
	ch     chan *models.Verdict
	closed bool
}

func newConn(sessionID, id string) *Conn {
	return &Conn{ID: id, SessionID: sessionID, ch: make(chan *models.Verdict, connBuffer)}
}

// C is closed when the monitor is unsubscribed or the hub shuts down.
func (c *Conn) C() <-chan *models.Verdict { return c.ch }

func (c *Conn) deliver(v *models.Verdict) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- v:
		return true
	default:
		slog.Warn("monitor buffer full, dropping verdict", "monitor_id", c.ID, "session_id", c.SessionID)
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Registry tracks which monitors watch which session, and each monitor's
// connection. A monitor id belongs to at most one session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
	conns    map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]struct{}),
		conns:    make(map[string]*Conn),
	}
}

// Add registers c and reports whether it is the session's first monitor.
func (r *Registry) Add(c *Conn) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return false, ErrDuplicateMonitor
	}
	members, ok := r.sessions[c.SessionID]
	if !ok {
		members = make(map[string]struct{})
		r.sessions[c.SessionID] = members
	}
	members[c.ID] = struct{}{}
	r.conns[c.ID] = c
	return !ok, nil
}

// Remove drops a monitor and closes its connection. last is true when the
// session has no monitors left.
func (r *Registry) Remove(sessionID, monitorID string) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[monitorID]
	if !ok || c.SessionID != sessionID {
		return false, false
	}
	delete(r.conns, monitorID)
	c.close()
	members := r.sessions[sessionID]
	delete(members, monitorID)
	if len(members) == 0 {
		delete(r.sessions, sessionID)
		return true, true
	}
	return true, false
}

func (r *Registry) Lookup(monitorID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[monitorID]
	return c, ok
}

// Members is a snapshot of the session's connections.
func (r *Registry) Members(sessionID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.sessions[sessionID]
	conns := make([]*Conn, 0, len(members))
	for id := range members {
		conns = append(conns, r.conns[id])
	}
	return conns
}

func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
