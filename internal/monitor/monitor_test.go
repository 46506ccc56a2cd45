package monitor

import "testing"

func TestObserveStatus(t *testing.T) {
	tests := []struct {
		name       string
		rate       float64
		markStop   bool
		wantStatus Status
	}{
		{"nonzero rate is playing", 1.0, false, StatusPlaying},
		{"zero rate is paused", 0, false, StatusPaused},
		{"zero rate after user stop", 0, true, StatusStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			if tt.markStop {
				m.MarkStopped()
			}

			upd := m.Observe(TransportEvent{Rate: tt.rate, Buffered: LatencyUnknown})
			if upd.Status != tt.wantStatus {
				t.Errorf("Observe().Status = %v, want %v", upd.Status, tt.wantStatus)
			}
		})
	}
}

func TestLatencyLatchedAtPlaybackStart(t *testing.T) {
	m := New()

	// No buffered range yet: latency stays unknown.
	upd := m.Observe(TransportEvent{Rate: 1, Position: 0, Buffered: LatencyUnknown})
	if upd.LiveLatency != LatencyUnknown {
		t.Errorf("LiveLatency = %v, want unknown before any buffered range", upd.LiveLatency)
	}

	// First buffered range: latency = buffered - position.
	upd = m.Observe(TransportEvent{Rate: 1, Position: 1.5, Buffered: 4.5})
	if upd.LiveLatency != 3.0 {
		t.Errorf("LiveLatency = %v, want 3.0", upd.LiveLatency)
	}

	// Later events must not move the latched value.
	upd = m.Observe(TransportEvent{Rate: 1, Position: 10, Buffered: 30})
	if upd.LiveLatency != 3.0 {
		t.Errorf("LiveLatency = %v after later event, want latched 3.0", upd.LiveLatency)
	}
}

func TestLatencyNeverNegative(t *testing.T) {
	m := New()
	upd := m.Observe(TransportEvent{Rate: 1, Position: 5, Buffered: 2})
	if upd.LiveLatency != 0 {
		t.Errorf("LiveLatency = %v, want clamped to 0", upd.LiveLatency)
	}
}

func TestResetClearsLatchAndStopMarker(t *testing.T) {
	m := New()
	m.Observe(TransportEvent{Rate: 1, Position: 0, Buffered: 2})
	m.MarkStopped()
	m.Reset()

	upd := m.Observe(TransportEvent{Rate: 0, Buffered: LatencyUnknown})
	if upd.Status != StatusPaused {
		t.Errorf("Status after Reset = %v, want Paused (stop marker cleared)", upd.Status)
	}
	if upd.LiveLatency != LatencyUnknown {
		t.Errorf("LiveLatency after Reset = %v, want unknown", upd.LiveLatency)
	}

	upd = m.Observe(TransportEvent{Rate: 1, Position: 1, Buffered: 3})
	if upd.LiveLatency != 2.0 {
		t.Errorf("LiveLatency after Reset = %v, want re-latched 2.0", upd.LiveLatency)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusStopped, "Stopped"},
		{StatusPlaying, "Playing"},
		{StatusPaused, "Paused"},
		{Status(42), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
