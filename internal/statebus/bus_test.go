package statebus

import "testing"

func TestSnapshotReflectsLastPublish(t *testing.T) {
	bus := New()

	if got := bus.Snapshot(); got != (State{}) {
		t.Errorf("initial Snapshot() = %+v, want zero value", got)
	}

	want := State{Title: "Night Drive", Author: "DJ Nova", IsPlaying: true, LiveLatency: 2.5, ConnectionStatus: "Connected"}
	bus.Publish(want)

	if got := bus.Snapshot(); got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestSubscriberReceivesPublishedState(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()

	want := State{Title: "Night Drive", ConnectionStatus: "Connected"}
	bus.Publish(want)

	select {
	case got := <-ch:
		if got != want {
			t.Errorf("received %+v, want %+v", got, want)
		}
	default:
		t.Fatal("subscriber channel is empty after Publish")
	}
}

func TestSlowSubscriberGetsLatestValue(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()

	bus.Publish(State{Title: "first"})
	bus.Publish(State{Title: "second"})
	bus.Publish(State{Title: "third"})

	select {
	case got := <-ch:
		if got.Title != "third" {
			t.Errorf("received %q, want the latest value %q", got.Title, "third")
		}
	default:
		t.Fatal("subscriber channel is empty")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	bus.Publish(State{Title: "after unsubscribe"})

	select {
	case got := <-ch:
		t.Errorf("unsubscribed channel received %+v", got)
	default:
	}
}
