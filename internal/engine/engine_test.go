package engine

import (
	"sync"
	"testing"
	"time"

	"dancefm-presence/internal/monitor"
	"dancefm-presence/internal/presence"
	"dancefm-presence/internal/statebus"
	"dancefm-presence/internal/track"
)

type fakePlayer struct {
	mu        sync.Mutex
	events    chan monitor.TransportEvent
	plays     int
	pauses    int
	teardown  int
	playDelay time.Duration
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{events: make(chan monitor.TransportEvent, 8)}
}

func (p *fakePlayer) Play(string) error {
	p.mu.Lock()
	p.plays++
	delay := p.playDelay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
}

func (p *fakePlayer) Stop() {}

func (p *fakePlayer) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardown++
}

func (p *fakePlayer) Events() <-chan monitor.TransportEvent { return p.events }

type fakeFetcher struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeFetcher) Start(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakeFetcher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

type fakeGateway struct {
	mu         sync.Mutex
	events     chan presence.Event
	pushes     []presence.Activity
	resets     int
	reconnects int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: make(chan presence.Event, 8)}
}

func (g *fakeGateway) SetPresence(a presence.Activity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, a)
	return nil
}

func (g *fakeGateway) ResetPresence() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resets++
	return nil
}

func (g *fakeGateway) Reconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reconnects++
}

func (g *fakeGateway) Events() <-chan presence.Event { return g.events }

func (g *fakeGateway) pushCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pushes)
}

func (g *fakeGateway) resetCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resets
}

type harness struct {
	engine  *Engine
	player  *fakePlayer
	fetcher *fakeFetcher
	gateway *fakeGateway
	bus     *statebus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		player:  newFakePlayer(),
		fetcher: &fakeFetcher{},
		gateway: newFakeGateway(),
		bus:     statebus.New(),
	}
	h.engine = New(h.player, h.fetcher, h.gateway, h.bus, nil, Options{
		StreamURL:   "https://streams.example.net/mp3-hq",
		ButtonLabel: "The Beat Of Amsterdam",
		ButtonURL:   "https://dance.fm/",
		tick:        10 * time.Millisecond,
	})
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) connectAndPlay(t *testing.T) {
	t.Helper()
	h.gateway.events <- presence.Event{State: presence.StateConnected}
	h.engine.PlayPause()
	h.waitFor(t, "playing state", func() bool {
		s := h.bus.Snapshot()
		return s.IsPlaying && s.ConnectionStatus == "Connected"
	})
}

func TestTrackChangePublishesParsedFields(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t)

	h.engine.OnTrack(track.Parse("DJ Nova - Night Drive"))
	h.waitFor(t, "published track", func() bool {
		s := h.bus.Snapshot()
		return s.Author == "DJ Nova" && s.Title == "Night Drive"
	})
}

func TestSeparatorlessTrackPublishesAuthorOnly(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t)

	h.engine.OnTrack(track.Parse("Station Jingle"))
	h.waitFor(t, "published jingle", func() bool {
		s := h.bus.Snapshot()
		return s.Author == "Station Jingle" && s.Title == ""
	})
}

func TestUnchangedTrackPushesOnce(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t)

	h.engine.OnTrack(track.Parse("DJ Nova - Night Drive"))
	h.waitFor(t, "first push", func() bool { return h.gateway.pushCount() >= 1 })

	// Several reconciliation ticks with the same fingerprint.
	time.Sleep(100 * time.Millisecond)

	if got := h.gateway.pushCount(); got != 1 {
		t.Errorf("SetPresence calls = %d across unchanged ticks, want 1", got)
	}

	h.gateway.mu.Lock()
	push := h.gateway.pushes[0]
	h.gateway.mu.Unlock()
	if push.Details != "DJ Nova" || push.State != "Night Drive" {
		t.Errorf("pushed activity = %+v, want Details=author State=title", push)
	}
	if push.ButtonLabel != "The Beat Of Amsterdam" || push.ButtonURL != "https://dance.fm/" {
		t.Errorf("pushed button = %q/%q, want the fixed call-to-action", push.ButtonLabel, push.ButtonURL)
	}
}

func TestNewTrackPushesAgain(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t)

	h.engine.OnTrack(track.Parse("DJ Nova - Night Drive"))
	h.waitFor(t, "first push", func() bool { return h.gateway.pushCount() >= 1 })

	h.engine.OnTrack(track.Parse("DJ Nova - Day Drive"))
	h.waitFor(t, "second push", func() bool { return h.gateway.pushCount() >= 2 })

	time.Sleep(50 * time.Millisecond)
	if got := h.gateway.pushCount(); got != 2 {
		t.Errorf("SetPresence calls = %d, want 2", got)
	}
}

func TestStopAfterPushResetsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t)

	h.engine.OnTrack(track.Parse("DJ Nova - Night Drive"))
	h.waitFor(t, "push", func() bool { return h.gateway.pushCount() >= 1 })

	// Transport reports the rate dropping to zero.
	h.player.events <- monitor.TransportEvent{Rate: 0, Buffered: monitor.LatencyUnknown}
	h.waitFor(t, "reset", func() bool { return h.gateway.resetCount() >= 1 })

	// Subsequent ticks with playback still stopped stay silent.
	time.Sleep(100 * time.Millisecond)
	if got := h.gateway.resetCount(); got != 1 {
		t.Errorf("ResetPresence calls = %d, want 1", got)
	}
	if got := h.gateway.pushCount(); got != 1 {
		t.Errorf("SetPresence calls = %d after stop, want still 1", got)
	}
}

func TestNoPushWithoutGatewayConnection(t *testing.T) {
	h := newHarness(t)

	h.engine.PlayPause()
	h.engine.OnTrack(track.Parse("DJ Nova - Night Drive"))
	h.waitFor(t, "playing state", func() bool { return h.bus.Snapshot().IsPlaying })

	time.Sleep(100 * time.Millisecond)
	if got := h.gateway.pushCount(); got != 0 {
		t.Errorf("SetPresence calls = %d while disconnected, want 0", got)
	}
}

func TestDisconnectStopsReconciliation(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t)

	h.engine.OnTrack(track.Parse("DJ Nova - Night Drive"))
	h.waitFor(t, "push", func() bool { return h.gateway.pushCount() >= 1 })

	h.gateway.events <- presence.Event{State: presence.StateDisconnected}
	h.waitFor(t, "disconnected status", func() bool {
		return h.bus.Snapshot().ConnectionStatus == "Disconnected"
	})

	h.engine.OnTrack(track.Parse("DJ Nova - Day Drive"))
	time.Sleep(100 * time.Millisecond)

	if got := h.gateway.pushCount(); got != 1 {
		t.Errorf("SetPresence calls = %d after disconnect, want still 1", got)
	}
}

func TestReconnectClearsFingerprint(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t)

	h.engine.OnTrack(track.Parse("DJ Nova - Night Drive"))
	h.waitFor(t, "push", func() bool { return h.gateway.pushCount() >= 1 })

	h.engine.Reconnect()
	h.waitFor(t, "gateway reconnect", func() bool {
		h.gateway.mu.Lock()
		defer h.gateway.mu.Unlock()
		return h.gateway.reconnects >= 1
	})

	// Same track, cleared fingerprint: the next tick pushes again.
	h.waitFor(t, "re-push", func() bool { return h.gateway.pushCount() >= 2 })
}

func TestPlayPauseTogglesCollaborators(t *testing.T) {
	h := newHarness(t)

	h.engine.PlayPause()
	h.waitFor(t, "play", func() bool {
		h.player.mu.Lock()
		defer h.player.mu.Unlock()
		return h.player.plays == 1
	})

	h.fetcher.mu.Lock()
	starts := h.fetcher.starts
	h.fetcher.mu.Unlock()
	if starts != 1 {
		t.Errorf("fetcher starts = %d after play, want 1", starts)
	}

	h.engine.PlayPause()
	h.waitFor(t, "pause", func() bool {
		h.player.mu.Lock()
		defer h.player.mu.Unlock()
		return h.player.pauses == 1
	})

	h.fetcher.mu.Lock()
	stops := h.fetcher.stops
	h.fetcher.mu.Unlock()
	if stops == 0 {
		t.Error("fetcher was not stopped when playback paused")
	}
	if h.bus.Snapshot().IsPlaying {
		t.Error("IsPlaying still true after pause")
	}
}

func TestSlowStreamDialDoesNotStallRunLoop(t *testing.T) {
	h := newHarness(t)

	h.player.mu.Lock()
	h.player.playDelay = 600 * time.Millisecond
	h.player.mu.Unlock()

	start := time.Now()
	h.engine.PlayPause()

	time.Sleep(20 * time.Millisecond)
	h.gateway.events <- presence.Event{State: presence.StateConnected}

	h.waitFor(t, "connected status", func() bool {
		return h.bus.Snapshot().ConnectionStatus == "Connected"
	})

	if elapsed := time.Since(start); elapsed >= 600*time.Millisecond {
		t.Errorf("gateway event surfaced after %v, the stream dial must not block the loop", elapsed)
	}
}

func TestResetStateClearsTrackAndTearsDownSession(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t)

	h.engine.OnTrack(track.Parse("DJ Nova - Night Drive"))
	h.waitFor(t, "track", func() bool { return h.bus.Snapshot().Title == "Night Drive" })

	h.engine.ResetState()
	h.waitFor(t, "cleared state", func() bool {
		s := h.bus.Snapshot()
		return s.Title == "" && s.Author == "" && !s.IsPlaying
	})

	h.player.mu.Lock()
	teardown := h.player.teardown
	h.player.mu.Unlock()
	if teardown != 1 {
		t.Errorf("player teardowns = %d, want 1", teardown)
	}

	if got := h.bus.Snapshot().LiveLatency; got != monitor.LatencyUnknown {
		t.Errorf("LiveLatency after reset = %v, want unknown", got)
	}
}

func TestStaleTrackResultDiscardedWhenStopped(t *testing.T) {
	h := newHarness(t)

	// A fetch completing after playback stopped must not mutate state.
	h.engine.OnTrack(track.Parse("DJ Nova - Night Drive"))
	time.Sleep(50 * time.Millisecond)

	if s := h.bus.Snapshot(); s.Title != "" || s.Author != "" {
		t.Errorf("stale track mutated state: %+v", s)
	}
}

func TestGatewayLifecycleRepublishesStatus(t *testing.T) {
	h := newHarness(t)

	h.gateway.events <- presence.Event{State: presence.StateConnecting}
	h.waitFor(t, "reconnecting status", func() bool {
		return h.bus.Snapshot().ConnectionStatus == "Reconnecting"
	})

	h.gateway.events <- presence.Event{State: presence.StateConnected}
	h.waitFor(t, "connected status", func() bool {
		return h.bus.Snapshot().ConnectionStatus == "Connected"
	})

	h.gateway.events <- presence.Event{State: presence.StateError, Message: "pipe closed"}
	h.waitFor(t, "error status", func() bool {
		return h.bus.Snapshot().ConnectionStatus == "Error"
	})
}
