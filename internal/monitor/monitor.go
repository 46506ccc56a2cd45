// Package monitor derives playback status and a live-latency estimate from
// the stream player's transport signals.
package monitor

// Status is the coarse transport state of the stream player.
type Status int

const (
	StatusStopped Status = iota
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "Stopped"
	case StatusPlaying:
		return "Playing"
	case StatusPaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// LatencyUnknown marks a live latency that cannot be computed because no
// buffered range exists yet.
const LatencyUnknown = -1.0

// TransportEvent is one observation of the player's transport. Position and
// Buffered are in seconds; Buffered < 0 means no buffered range is available.
type TransportEvent struct {
	Rate     float64
	Position float64
	Buffered float64
}

// Update is the derived state handed to the engine.
type Update struct {
	Status      Status
	LiveLatency float64
}

// Monitor folds raw transport events into playback status and a live-latency
// estimate. The latency is latched once, at the moment playback starts, from
// the first available buffered range; it surfaces to the user as a signal
// that the stream has fallen behind the live edge.
type Monitor struct {
	userStopped bool
	latched     bool
	latency     float64
}

func New() *Monitor {
	return &Monitor{latency: LatencyUnknown}
}

// MarkStopped records an explicit user stop so the next zero-rate event maps
// to Stopped rather than Paused.
func (m *Monitor) MarkStopped() {
	m.userStopped = true
}

// Reset clears the latched latency and the stop marker, ahead of a fresh
// playback session.
func (m *Monitor) Reset() {
	m.userStopped = false
	m.latched = false
	m.latency = LatencyUnknown
}

// Observe folds one transport event into the monitor and returns the derived
// update.
func (m *Monitor) Observe(ev TransportEvent) Update {
	if ev.Rate == 0 {
		status := StatusPaused
		if m.userStopped {
			status = StatusStopped
		}
		return Update{Status: status, LiveLatency: m.latency}
	}

	m.userStopped = false
	if !m.latched && ev.Buffered >= 0 {
		m.latency = ev.Buffered - ev.Position
		if m.latency < 0 {
			m.latency = 0
		}
		m.latched = true
	}
	return Update{Status: StatusPlaying, LiveLatency: m.latency}
}
