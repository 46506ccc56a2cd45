// Package presence drives the connection lifecycle to the rich-presence
// gateway and pushes listening activities through it.
package presence

import (
	"sync"
	"time"

	"dancefm-presence/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ConnState is the gateway connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Activity is the structured presence payload. Details is the primary line
// (the author), State the secondary line (the title).
type Activity struct {
	Details     string
	State       string
	ButtonLabel string
	ButtonURL   string
}

// Transport is the underlying rich-presence connection. Implementations are
// synchronous; the gateway turns their results into lifecycle events.
type Transport interface {
	Connect() error
	Disconnect()
	SetActivity(a Activity) error
	ClearActivity() error
}

// Event is one gateway lifecycle transition, delivered to the engine.
type Event struct {
	State   ConnState
	Code    int
	Message string
}

const (
	maxReconnectRetries = 4
	reconnectDelay      = 5 * time.Second
	reconnectGrace      = time.Second
	eventBuffer         = 8
)

// Gateway owns the connect/disconnect/error lifecycle of a presence
// transport, with a bounded fixed-delay retry on failed reconnects: one
// initial attempt plus at most four retries, giving up silently after that.
type Gateway struct {
	transport Transport
	metrics   *metrics.Metrics

	mu           sync.Mutex
	state        ConnState
	attempts     int
	reconnecting bool
	closed       bool

	retryDelay time.Duration
	grace      time.Duration
	events     chan Event
}

func NewGateway(t Transport, m *metrics.Metrics) *Gateway {
	return &Gateway{
		transport:  t,
		metrics:    m,
		state:      StateDisconnected,
		retryDelay: reconnectDelay,
		grace:      reconnectGrace,
		events:     make(chan Event, eventBuffer),
	}
}

// Events delivers lifecycle transitions. The channel is buffered; if the
// consumer stops draining, transitions are dropped rather than blocking.
func (g *Gateway) Events() <-chan Event {
	return g.events
}

// State returns the current connection state.
func (g *Gateway) State() ConnState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Reconnecting reports whether a reconnect was initiated within the last
// grace window. This is a status-display debounce, not a correctness gate.
func (g *Gateway) Reconnecting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reconnecting
}

// Reconnect tears the connection down and attempts a fresh connect. On
// failure it schedules another attempt after a fixed delay; the retry
// counter resets only on a successful connect. Reconnect never blocks on the
// retry schedule: failed attempts re-enter through time.AfterFunc.
func (g *Gateway) Reconnect() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.reconnecting = true
	g.state = StateConnecting
	g.mu.Unlock()

	g.emit(Event{State: StateConnecting})

	time.AfterFunc(g.grace, func() {
		g.mu.Lock()
		g.reconnecting = false
		g.mu.Unlock()
	})

	g.transport.Disconnect()
	g.metrics.IncConnectAttempts()
	err := g.transport.Connect()

	g.mu.Lock()
	if err != nil {
		g.state = StateDisconnected
		g.attempts++
		attempt := g.attempts
		retry := attempt <= maxReconnectRetries && !g.closed
		g.mu.Unlock()

		log.Warn().Err(err).Int("attempt", attempt).Msg("Presence connect failed")
		g.emit(Event{State: StateDisconnected, Message: err.Error()})

		if retry {
			time.AfterFunc(g.retryDelay, g.Reconnect)
		} else {
			log.Warn().Msg("Giving up on presence reconnect")
		}
		return
	}

	g.attempts = 0
	g.state = StateConnected
	g.mu.Unlock()

	log.Info().Msg("Presence gateway connected")
	g.emit(Event{State: StateConnected})
}

// SetPresence pushes the activity to the remote display. A transport failure
// counts as a gateway error: the state flips to Error and an event is
// emitted; the connection is not retried until Reconnect is invoked.
func (g *Gateway) SetPresence(a Activity) error {
	if err := g.transport.SetActivity(a); err != nil {
		g.fail(err)
		return err
	}
	return nil
}

// ResetPresence clears the remote display.
func (g *Gateway) ResetPresence() error {
	if err := g.transport.ClearActivity(); err != nil {
		g.fail(err)
		return err
	}
	return nil
}

// Close disconnects and prevents any scheduled retry from reconnecting.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.state = StateDisconnected
	g.mu.Unlock()
	g.transport.Disconnect()
}

func (g *Gateway) fail(err error) {
	g.mu.Lock()
	g.state = StateError
	g.mu.Unlock()

	log.Error().Err(err).Msg("Presence transport error")
	g.emit(Event{State: StateError, Message: err.Error()})
}

func (g *Gateway) emit(ev Event) {
	select {
	case g.events <- ev:
	default:
	}
}
