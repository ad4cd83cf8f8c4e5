package analytics

import (
	"testing"
)

func TestRecorder_DeliversEvents(t *testing.T) {
	sink := &MemorySink{}
	rec := NewRecorder(sink, 16)

	rec.Track("quick bet", "u1", "c1", "will-it-rain", "UP")
	rec.Track("quick bet", "u1", "c1", "will-it-rain", "DOWN")

	// Closing first makes Run drain synchronously and return.
	rec.Close()
	rec.Run()

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	ev := events[0]
	if ev.Name != "quick bet" || ev.UserID != "u1" || ev.Slug != "will-it-rain" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Direction != "UP" || events[1].Direction != "DOWN" {
		t.Errorf("directions out of order: %+v", events)
	}
	if ev.At.IsZero() {
		t.Error("expected timestamp on event")
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	sink := &MemorySink{}
	rec := NewRecorder(sink, 1)

	// Second track overflows the buffer; it must drop, not block.
	rec.Track("quick bet", "u1", "c1", "s", "UP")
	rec.Track("quick bet", "u1", "c1", "s", "UP")

	rec.Close()
	rec.Run()

	if n := len(sink.Events()); n != 1 {
		t.Errorf("expected 1 delivered event, got %d", n)
	}
}
