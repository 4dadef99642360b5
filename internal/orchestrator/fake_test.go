package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"callpilot/internal/calls"
	"callpilot/internal/classifier"
	"callpilot/internal/events"
	"callpilot/internal/telephony"
)

type step struct {
	raw string
	err error
}

// fakeProvider replays scripted statuses. The last step repeats forever.
type fakeProvider struct {
	mu sync.Mutex

	createID  string
	createErr error
	// onCreate, when set, runs before CreateCall returns.
	onCreate func(ctx context.Context) error

	steps []step
	// onStatus, when set, runs before the n-th (1-based) GetStatus returns.
	onStatus func(ctx context.Context, n int)

	transcript    string
	transcriptErr error

	creates     int
	statusCalls int
	transcripts int
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) HealthCheck(context.Context) error { return nil }

func (f *fakeProvider) CreateCall(ctx context.Context, _ calls.CallRequest) (telephony.CreateCallResult, error) {
	f.mu.Lock()
	f.creates++
	hook := f.onCreate
	id, err := f.createID, f.createErr
	f.mu.Unlock()
	if hook != nil {
		if herr := hook(ctx); herr != nil {
			return telephony.CreateCallResult{}, herr
		}
	}
	if err != nil {
		return telephony.CreateCallResult{}, err
	}
	return telephony.CreateCallResult{ProviderCallID: id}, nil
}

func (f *fakeProvider) GetStatus(ctx context.Context, _ string) (telephony.StatusResult, error) {
	f.mu.Lock()
	f.statusCalls++
	n := f.statusCalls
	s := step{raw: "ringing"}
	if len(f.steps) > 0 {
		idx := n - 1
		if idx >= len(f.steps) {
			idx = len(f.steps) - 1
		}
		s = f.steps[idx]
	}
	hook := f.onStatus
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, n)
	}
	if s.err != nil {
		return telephony.StatusResult{}, s.err
	}
	d := 30
	return telephony.StatusResult{RawStatus: s.raw, DurationSeconds: &d}, nil
}

func (f *fakeProvider) GetTranscript(context.Context, string) (telephony.TranscriptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts++
	if f.transcriptErr != nil {
		return telephony.TranscriptResult{}, f.transcriptErr
	}
	return telephony.TranscriptResult{Text: f.transcript}, nil
}

func (f *fakeProvider) counts() (creates, statuses, transcripts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.statusCalls, f.transcripts
}

type harness struct {
	o     *Orchestrator
	store *calls.MemoryStore
	prov  *fakeProvider
	bus   *events.Bus
	sub   *events.Subscription
}

func testConfig() Config {
	return Config{
		PollInterval:         time.Millisecond,
		MaxPolls:             24,
		QueueStuckPolls:      6,
		MaxConsecutiveErrors: 3,
		StaleAfter:           30 * time.Minute,
		MaxConcurrent:        4,
	}
}

func newHarness(t *testing.T, prov *fakeProvider, cfg Config, opts ...Option) *harness {
	t.Helper()
	store := calls.NewMemoryStore()
	bus := events.NewBus()
	sub := bus.Subscribe(256)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	o, err := New(store, prov, classifier.NewDefault(), bus, cfg, opts...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
		sub.Close()
	})
	return &harness{o: o, store: store, prov: prov, bus: bus, sub: sub}
}

func janeDoe() calls.CallRequest {
	return calls.CallRequest{
		PhoneNumber:   "+15553334444",
		CallerName:    "Jane Doe",
		CallerPhone:   "+15551112222",
		AccountAction: "close account",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	waitFor(t, "workers to exit", func() bool { return h.o.InFlight() == 0 })
}

func (h *harness) waitStatus(t *testing.T, id string, want calls.Status) calls.Call {
	t.Helper()
	var c calls.Call
	waitFor(t, "status "+string(want), func() bool {
		got, err := h.store.Get(context.Background(), id)
		c = got
		return err == nil && got.Status == want
	})
	return c
}

// statuses drains buffered events for id in delivery order.
func (h *harness) statuses(id string) []calls.Status {
	var out []calls.Status
	for {
		select {
		case ev := <-h.sub.Events():
			if ev.CallID == id {
				out = append(out, ev.Status)
			}
		default:
			return out
		}
	}
}
