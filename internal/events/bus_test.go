package events

import (
	"sync/atomic"
	"testing"
	"time"

	"callpilot/internal/calls"
)

func ev(id string, st calls.Status) Event {
	return Event{CallID: id, Status: st, Timestamp: time.Now()}
}

func TestBus_FanOutInOrder(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe(8)
	s2 := b.Subscribe(8)
	defer s1.Close()
	defer s2.Close()

	seq := []calls.Status{calls.StatusPending, calls.StatusInitiating, calls.StatusDialing, calls.StatusCompleted}
	for _, st := range seq {
		b.Publish(ev("c1", st))
	}
	for _, s := range []*Subscription{s1, s2} {
		for i, want := range seq {
			select {
			case got := <-s.Events():
				if got.Status != want {
					t.Fatalf("event %d: got %s want %s", i, got.Status, want)
				}
			case <-time.After(time.Second):
				t.Fatalf("event %d not delivered", i)
			}
		}
	}
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	var hooked atomic.Int64
	b := NewBus(WithDropHook(func() { hooked.Add(1) }))
	slow := b.Subscribe(1)
	fast := b.Subscribe(10)
	defer slow.Close()
	defer fast.Close()

	for i := 0; i < 3; i++ {
		b.Publish(ev("c1", calls.StatusDialing))
	}
	if slow.Dropped() != 2 {
		t.Fatalf("expected 2 drops, got %d", slow.Dropped())
	}
	if fast.Dropped() != 0 {
		t.Fatalf("fast subscriber should not drop, got %d", fast.Dropped())
	}
	if hooked.Load() != 2 {
		t.Fatalf("expected drop hook twice, got %d", hooked.Load())
	}
	if len(fast.Events()) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(fast.Events()))
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(0)
	if b.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	s.Close()
	s.Close()
	if b.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers")
	}
	if _, ok := <-s.Events(); ok {
		t.Fatalf("expected closed channel")
	}
	// Publishing after close must not panic.
	b.Publish(ev("c1", calls.StatusDialing))
}

func TestSubscriberMissesEventsBeforeSubscribe(t *testing.T) {
	b := NewBus()
	b.Publish(ev("early", calls.StatusPending))
	s := b.Subscribe(4)
	defer s.Close()
	b.Publish(ev("late", calls.StatusPending))

	got := <-s.Events()
	if got.CallID != "late" {
		t.Fatalf("expected no replay, got %s", got.CallID)
	}
}

func TestFromCall(t *testing.T) {
	now := time.Now()
	c := calls.Call{
		ID:             "c1",
		ProviderCallID: "prov-1",
		Status:         calls.StatusCompleted,
		Transcript:     calls.Ptr("Confirmed."),
		Success:        calls.Ptr(true),
	}
	e := FromCall(c, "call completed", now)
	if !e.Terminal() || e.Success == nil || !*e.Success || e.Transcript == nil {
		t.Fatalf("terminal event missing outcome: %+v", e)
	}

	c.Status = calls.StatusDialing
	e = FromCall(c, "dialing", now)
	if e.Success != nil || e.Transcript != nil {
		t.Fatalf("non-terminal event must not carry outcome: %+v", e)
	}
	if e.ProviderCallID != "prov-1" {
		t.Fatalf("provider id missing: %+v", e)
	}
}
