package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agent-racer/observer/internal/bus"
	"github.com/agent-racer/observer/internal/persona"
	"github.com/agent-racer/observer/internal/poller"
	"github.com/agent-racer/observer/internal/project"
	"github.com/agent-racer/observer/internal/reconciler"
	"github.com/agent-racer/observer/internal/session"
	"github.com/gorilla/websocket"
)

// ErrTooManyConnections is returned by AddClient once the connection cap is hit.
var ErrTooManyConnections = errors.New("too many WebSocket connections")

// Default hysteresis thresholds, spec.md §6.6.
const (
	DefaultPauseHighBytes  = 64 * 1024
	DefaultResumeLowBytes  = 16 * 1024
	defaultWriteTimeout    = 2 * time.Second
	defaultSendQueueLength = 256
)

// client is one connected WebSocket client (spec.md's "Connected Client").
type client struct {
	conn     *websocket.Conn
	b        *Broadcaster
	send     chan []byte
	buffered atomic.Int64
	paused   atomic.Bool
	closed   atomic.Bool

	pauseHigh int64
	resumeLow int64

	dropsMu sync.Mutex
	drops   map[Priority]uint64
}

func newClient(conn *websocket.Conn, b *Broadcaster, pauseHigh, resumeLow int64) *client {
	c := &client{
		conn:      conn,
		b:         b,
		send:      make(chan []byte, defaultSendQueueLength),
		pauseHigh: pauseHigh,
		resumeLow: resumeLow,
		drops:     make(map[Priority]uint64),
	}
	go c.writePump()
	return c
}

// writePump drains the client's send queue until it is closed or a write
// fails. A write failure means the socket is dead, so it removes the client
// from the registry itself rather than waiting for the next queue-full
// delivery to notice.
func (c *client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.buffered.Add(-int64(len(data)))
		if err != nil {
			if c.b != nil {
				c.b.RemoveClient(c)
			}
			return
		}
	}
}

func (c *client) close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.send)
	}
}

// updatePaused applies the hysteresis rule from current buffered bytes.
func (c *client) updatePaused() {
	b := c.buffered.Load()
	if !c.paused.Load() && b >= c.pauseHigh {
		c.paused.Store(true)
	} else if c.paused.Load() && b <= c.resumeLow {
		c.paused.Store(false)
	}
}

// deliver applies spec.md §4.8's per-client delivery rule. Returns false if
// the client should be removed (queue saturated = "send raised").
func (c *client) deliver(data []byte, prio Priority) bool {
	if c.closed.Load() {
		return true
	}
	c.updatePaused()

	if prio != High && c.paused.Load() {
		c.dropsMu.Lock()
		c.drops[prio]++
		c.dropsMu.Unlock()
		return true
	}

	select {
	case c.send <- data:
		c.buffered.Add(int64(len(data)))
		return true
	default:
		return false
	}
}

// Broadcaster is C8: the registry of connected clients plus broadcast(msg).
// It is fed by the event bus rather than called directly by the reconciler,
// keeping C7 and C8 decoupled per spec.md's component table.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool

	maxConns  int
	pauseHigh int64
	resumeLow int64

	store    *session.Store
	personas *persona.Registry
	projects *project.Registry
	privacy  *PrivacyFilter

	cache *terminalContentCache
	seq   atomic.Uint64
}

func NewBroadcaster(store *session.Store, personas *persona.Registry, projects *project.Registry, maxConns int, pauseHigh, resumeLow int64) *Broadcaster {
	if pauseHigh <= 0 {
		pauseHigh = DefaultPauseHighBytes
	}
	if resumeLow <= 0 {
		resumeLow = DefaultResumeLowBytes
	}
	return &Broadcaster{
		clients:   make(map[*client]bool),
		maxConns:  maxConns,
		pauseHigh: pauseHigh,
		resumeLow: resumeLow,
		store:     store,
		personas:  personas,
		projects:  projects,
		privacy:   &PrivacyFilter{},
		cache:     newTerminalContentCache(50),
	}
}

func (b *Broadcaster) SetPrivacyFilter(f *PrivacyFilter) {
	b.mu.Lock()
	b.privacy = f
	b.mu.Unlock()
}

func (b *Broadcaster) privacyFilter() *PrivacyFilter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.privacy
}

// Start subscribes to the bus topics that drive outbound broadcasts.
func (b *Broadcaster) Start(ctx context.Context, bs *bus.Bus) {
	bs.Subscribe(ctx, bus.TopicSnapshot, func(ev bus.Event) {
		snap, ok := ev.Payload.(poller.Snapshot)
		if !ok || len(snap.Groups) == 0 {
			return
		}
		b.broadcast(Message{Type: MsgWindows, Payload: WindowsPayload{Groups: snap.Groups}})
	})
	bs.Subscribe(ctx, bus.TopicStatusChanged, func(ev bus.Event) {
		sc, ok := ev.Payload.(reconciler.StatusChanged)
		if !ok {
			return
		}
		b.broadcastPaneUpdate(sc.TerminalID)
	})
	bs.Subscribe(ctx, bus.TopicErrorSet, func(ev bus.Event) {
		if hev, ok := ev.Payload.(reconciler.HookEvent); ok {
			b.broadcastPaneUpdate(hev.TerminalID)
		}
	})
	bs.Subscribe(ctx, bus.TopicErrorCleared, func(ev bus.Event) {
		if hev, ok := ev.Payload.(reconciler.HookEvent); ok {
			b.broadcastPaneUpdate(hev.TerminalID)
		}
	})
	bs.Subscribe(ctx, bus.TopicCaptured, func(ev bus.Event) {
		cap, ok := ev.Payload.(poller.Captured)
		if !ok {
			return
		}
		b.broadcastCaptured(cap)
	})
	bs.Subscribe(ctx, bus.TopicSourceHealth, func(ev bus.Event) {
		he, ok := ev.Payload.(poller.HealthEvent)
		if !ok {
			return
		}
		b.broadcast(Message{Type: MsgSourceHealth, Payload: SourceHealthPayload{
			Status:    string(he.Status),
			LastError: he.LastError,
		}})
	})
}

func (b *Broadcaster) broadcastPaneUpdate(terminalID string) {
	st, ok := b.store.Get(terminalID)
	if !ok {
		b.broadcast(Message{Type: MsgPaneRemoved, Payload: PaneRemovedPayload{PaneID: terminalID}})
		return
	}
	// Path-based allow/block filtering needs the session's resolved project
	// root; session.State only carries the derived project id (set once at
	// creation, spec.md §4.7 rule 1), so PrivacyFilter.IsAllowed is not
	// applied here, and no other caller applies it either. Only field
	// masking (PrivacyFilter.Apply) runs on the broadcast path.
	info := SessionInfo{
		ID:     st.PersonaID,
		Name:   st.PersonaID,
		Status: st.Status,
	}
	if st.LastError != nil {
		info.LastError = st.LastError
	}
	info = b.privacyFilter().Apply(info)
	b.broadcast(Message{Type: MsgPaneUpdate, Payload: PaneUpdatePayload{PaneID: terminalID, Session: info}})
}

func (b *Broadcaster) broadcastCaptured(cap poller.Captured) {
	b.broadcast(Message{Type: MsgTerminalOutput, Payload: TerminalOutputPayload{
		PaneID:  cap.TerminalID,
		Content: cap.Content,
	}})

	prev, existed := b.cache.GetAndSet(cap.TerminalID, cap.Content)
	if !existed {
		return
	}
	ops := lineDiff(prev, cap.Content)
	if len(ops) == 0 {
		return
	}
	b.broadcast(Message{Type: MsgTerminalDiff, Payload: TerminalDiffPayload{
		PaneID: cap.TerminalID,
		Ops:    ops,
		Seq:    b.seq.Add(1),
	}})
}

// Sessions returns the privacy-filtered wire projection of every known
// session, for the /api/sessions snapshot endpoint.
func (b *Broadcaster) Sessions() []SessionInfo {
	all := b.store.GetAll()
	filter := b.privacyFilter()
	out := make([]SessionInfo, 0, len(all))
	for _, st := range all {
		info := SessionInfo{ID: st.PersonaID, Name: st.PersonaID, Status: st.Status}
		if st.LastError != nil {
			info.LastError = st.LastError
		}
		out = append(out, filter.Apply(info))
	}
	return out
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn, b, b.pauseHigh, b.resumeLow)
	b.clients[c] = true
	b.mu.Unlock()

	b.sendTo(c, Message{Type: MsgConnected, Payload: ConnectedPayload{Timestamp: time.Now()}})
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) sendTo(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] marshal error for %s: %v", msg.Type, err)
		return
	}
	if !c.deliver(data, msg.priority()) {
		b.RemoveClient(c)
	}
}

// broadcast iterates a copy-on-write snapshot of the client set so connects
// and disconnects never block it (spec.md §5). A concurrently-joining
// client only sees messages enqueued after its registration completes.
func (b *Broadcaster) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] marshal error for %s: %v", msg.Type, err)
		return
	}
	prio := msg.priority()

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var failed []*client
	for _, c := range clients {
		if !c.deliver(data, prio) {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		b.RemoveClient(c)
	}
}
