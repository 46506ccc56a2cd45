// Package engine reconciles playback and track state against the presence
// gateway and publishes snapshots to the state bus.
package engine

import (
	"sync"
	"time"

	"dancefm-presence/internal/metrics"
	"dancefm-presence/internal/monitor"
	"dancefm-presence/internal/presence"
	"dancefm-presence/internal/statebus"
	"dancefm-presence/internal/track"

	"github.com/rs/zerolog/log"
)

const (
	reconcileInterval   = time.Second
	defaultPollInterval = 5 * time.Second
)

// Player is the playback collaborator. Transport changes come back through
// the events channel on the player's own scheduling context.
type Player interface {
	Play(streamURL string) error
	Pause()
	Stop()
	Teardown()
	Events() <-chan monitor.TransportEvent
}

// Fetcher is the metadata polling collaborator.
type Fetcher interface {
	Start(interval time.Duration)
	Stop()
}

// Gateway is the presence connection collaborator.
type Gateway interface {
	SetPresence(presence.Activity) error
	ResetPresence() error
	Reconnect()
	Events() <-chan presence.Event
}

// Options carries the station identity and the fixed presence payload parts.
type Options struct {
	StreamURL    string
	PollInterval time.Duration
	ButtonLabel  string
	ButtonURL    string

	tick time.Duration
}

type command int

const (
	cmdPlayPause command = iota
	cmdReset
	cmdReconnect
)

// Engine owns the canonical track and playback state. All mutations happen
// on a single run-loop goroutine; collaborators feed it through channels, so
// no caller ever blocks on the engine's work.
type Engine struct {
	opts    Options
	player  Player
	fetcher Fetcher
	gateway Gateway
	bus     *statebus.Bus
	metrics *metrics.Metrics

	// Canonical state, touched only by the run loop.
	current    track.Info
	status     monitor.Status
	latency    float64
	connected  bool
	connStatus string
	mon        *monitor.Monitor
	lastPrint  string
	hasPrint   bool

	trackCh   chan track.Info
	commandCh chan command

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// New constructs the engine and starts its run loop.
func New(player Player, fetcher Fetcher, gateway Gateway, bus *statebus.Bus, m *metrics.Metrics, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.tick <= 0 {
		opts.tick = reconcileInterval
	}

	e := &Engine{
		opts:       opts,
		player:     player,
		fetcher:    fetcher,
		gateway:    gateway,
		bus:        bus,
		metrics:    m,
		status:     monitor.StatusStopped,
		latency:    monitor.LatencyUnknown,
		connStatus: presence.StateDisconnected.String(),
		mon:        monitor.New(),
		trackCh:    make(chan track.Info, 4),
		commandCh:  make(chan command, 4),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	e.bus.Publish(e.snapshot())
	go e.run()
	return e
}

// OnTrack delivers a parsed metadata result. Safe to call from any
// goroutine; results arriving after Close are dropped.
func (e *Engine) OnTrack(info track.Info) {
	select {
	case e.trackCh <- info:
	case <-e.done:
	}
}

// PlayPause toggles playback intent.
func (e *Engine) PlayPause() { e.send(cmdPlayPause) }

// ResetState clears all cached track state and tears down the playback
// session so the next play reconnects at the live edge.
func (e *Engine) ResetState() { e.send(cmdReset) }

// Reconnect clears the presence fingerprint and re-dials the gateway.
func (e *Engine) Reconnect() { e.send(cmdReconnect) }

// Close stops the run loop, the fetcher, and the player, and waits for the
// loop to drain.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	<-e.stopped
}

func (e *Engine) send(c command) {
	select {
	case e.commandCh <- c:
	case <-e.done:
	}
}

func (e *Engine) run() {
	defer close(e.stopped)

	var ticker *time.Ticker
	var tickCh <-chan time.Time

	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickCh = nil
		}
	}
	defer stopTicker()

	for {
		select {
		case <-e.done:
			e.fetcher.Stop()
			e.player.Stop()
			return

		case info := <-e.trackCh:
			if e.status != monitor.StatusPlaying {
				// Stale result from a fetch that was in flight when
				// playback stopped.
				continue
			}
			e.current = info
			e.publish()

		case ev := <-e.player.Events():
			upd := e.mon.Observe(ev)
			e.status = upd.Status
			e.latency = upd.LiveLatency
			if upd.LiveLatency >= 0 {
				e.metrics.SetLiveLatency(upd.LiveLatency)
			}
			e.publish()

		case gev := <-e.gateway.Events():
			e.connected = gev.State == presence.StateConnected
			e.connStatus = displayStatus(gev.State)
			if e.connected {
				if ticker == nil {
					ticker = time.NewTicker(e.opts.tick)
					tickCh = ticker.C
				}
			} else {
				stopTicker()
			}
			e.publish()

		case c := <-e.commandCh:
			e.handleCommand(c)

		case <-tickCh:
			e.reconcile()
		}
	}
}

func (e *Engine) handleCommand(c command) {
	switch c {
	case cmdPlayPause:
		if e.status != monitor.StatusPlaying {
			e.mon.Reset()
			e.status = monitor.StatusPlaying
			e.fetcher.Start(e.opts.PollInterval)
			// The stream dial can take seconds; keep the loop responsive.
			go func() {
				if err := e.player.Play(e.opts.StreamURL); err != nil {
					log.Error().Err(err).Msg("Failed to start playback")
				}
			}()
		} else {
			e.fetcher.Stop()
			e.player.Pause()
			e.status = monitor.StatusPaused
		}
		e.publish()

	case cmdReset:
		e.fetcher.Stop()
		e.mon.MarkStopped()
		e.player.Teardown()
		e.current = track.Info{}
		e.latency = monitor.LatencyUnknown
		e.status = monitor.StatusStopped
		e.publish()

	case cmdReconnect:
		e.lastPrint = ""
		e.hasPrint = false
		// Reconnect blocks on the transport dial; keep the loop responsive.
		go e.gateway.Reconnect()
	}
}

// reconcile is the 1 Hz decision point. The reset check always runs before
// the push check within the same tick.
func (e *Engine) reconcile() {
	if e.status != monitor.StatusPlaying && e.hasPrint {
		e.hasPrint = false
		e.lastPrint = ""
		if err := e.gateway.ResetPresence(); err == nil {
			log.Debug().Msg("Presence reset")
			e.metrics.IncPresenceResets()
		}
	}

	if e.status != monitor.StatusPlaying || !e.connected {
		return
	}

	// Nothing to announce until the first metadata fetch lands.
	if e.current.IsZero() {
		return
	}

	fp := e.current.Fingerprint()
	if e.hasPrint && fp == e.lastPrint {
		return
	}

	act := presence.Activity{
		Details:     e.current.Author,
		State:       e.current.Title,
		ButtonLabel: e.opts.ButtonLabel,
		ButtonURL:   e.opts.ButtonURL,
	}
	if err := e.gateway.SetPresence(act); err != nil {
		log.Warn().Err(err).Msg("Presence update failed")
		return
	}

	e.lastPrint = fp
	e.hasPrint = true
	e.metrics.IncPresencePushes()
	log.Debug().Str("author", e.current.Author).Str("title", e.current.Title).Msg("Presence updated")
}

func (e *Engine) publish() {
	e.bus.Publish(e.snapshot())
}

func (e *Engine) snapshot() statebus.State {
	return statebus.State{
		Title:            e.current.Title,
		Author:           e.current.Author,
		IsPlaying:        e.status == monitor.StatusPlaying,
		LiveLatency:      e.latency,
		ConnectionStatus: e.connStatus,
	}
}

// displayStatus maps connection states to the user-facing status strings;
// a connect in progress reads as "Reconnecting".
func displayStatus(s presence.ConnState) string {
	if s == presence.StateConnecting {
		return "Reconnecting"
	}
	return s.String()
}
