// Package monitor fans session-level verdicts out to live monitors.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sempr/labjudge/internal/pubsub"
	"github.com/sempr/labjudge/pkg/models"
)

// Hub opens one upstream session subscription when a session gets its first
// monitor and closes it when the last monitor leaves.
type Hub struct {
	bus      pubsub.Bus
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	upstream map[string]*upstream
	wg       sync.WaitGroup
}

type upstream struct {
	sub     *pubsub.Subscription
	stopped bool
}

func NewHub(bus pubsub.Bus) *Hub {
	return &Hub{
		bus:      bus,
		registry: NewRegistry(),
		logger:   slog.Default().With("component", "monitor"),
		upstream: make(map[string]*upstream),
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

// SubscribeSession registers monitorID on the session and returns its
// verdict stream. Only verdicts published after this call are delivered.
func (h *Hub) SubscribeSession(ctx context.Context, sessionID, monitorID string) (<-chan *models.Verdict, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := newConn(sessionID, monitorID)
	first, err := h.registry.Add(c)
	if err != nil {
		return nil, err
	}
	if first {
		sub, err := h.bus.Subscribe(ctx, pubsub.SessionTopic(sessionID))
		if err != nil {
			h.registry.Remove(sessionID, monitorID)
			return nil, err
		}
		up := &upstream{sub: sub}
		h.upstream[sessionID] = up
		h.wg.Add(1)
		go h.relay(sessionID, up)
		h.logger.Info("opened session channel", "session_id", sessionID)
	}
	h.logger.Info("monitor connected", "session_id", sessionID, "monitor_id", monitorID)
	return c.C(), nil
}

// UnsubscribeSession is safe to call for monitors that are already gone.
func (h *Hub) UnsubscribeSession(sessionID, monitorID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed, last := h.registry.Remove(sessionID, monitorID)
	if !removed {
		return nil
	}
	h.logger.Info("monitor disconnected", "session_id", sessionID, "monitor_id", monitorID)
	if !last {
		return nil
	}
	return h.closeUpstream(sessionID)
}

// closeUpstream must be called with h.mu held.
func (h *Hub) closeUpstream(sessionID string) error {
	up, ok := h.upstream[sessionID]
	if !ok {
		return nil
	}
	up.stopped = true
	delete(h.upstream, sessionID)
	h.logger.Info("closed session channel", "session_id", sessionID)
	return h.bus.Unsubscribe(up.sub.Topic, up.sub.ID)
}

func (h *Hub) relay(sessionID string, up *upstream) {
	defer h.wg.Done()
	for payload := range up.sub.C {
		var v models.Verdict
		if err := json.Unmarshal(payload, &v); err != nil {
			h.logger.Warn("dropping undecodable session message", "session_id", sessionID, "err", err)
			continue
		}
		h.dispatch(sessionID, up, &v)
	}
}

func (h *Hub) dispatch(sessionID string, up *upstream, v *models.Verdict) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// messages still buffered on a closed upstream must not reach monitors
	// that joined after it closed
	if up.stopped {
		return
	}
	for _, c := range h.registry.Members(sessionID) {
		c.deliver(v)
	}
}

// Close disconnects every monitor and waits for the relays to stop.
func (h *Hub) Close() error {
	h.mu.Lock()
	for _, sessionID := range h.registry.Sessions() {
		for _, c := range h.registry.Members(sessionID) {
			h.registry.Remove(sessionID, c.ID)
		}
		if err := h.closeUpstream(sessionID); err != nil {
			h.logger.Warn("closing session channel", "session_id", sessionID, "err", err)
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}
