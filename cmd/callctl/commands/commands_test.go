package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"callpilot/internal/app"
	"callpilot/internal/calls"
	"callpilot/internal/config"
	"callpilot/internal/orchestrator"
	"callpilot/internal/telephony"
	"callpilot/pkg/logger"
)

type scriptedProvider struct{ healthErr error }

func (scriptedProvider) Name() string { return "scripted" }

func (p scriptedProvider) HealthCheck(context.Context) error { return p.healthErr }

func (scriptedProvider) CreateCall(context.Context, calls.CallRequest) (telephony.CreateCallResult, error) {
	return telephony.CreateCallResult{ProviderCallID: "prov-1"}, nil
}

func (scriptedProvider) GetStatus(context.Context, string) (telephony.StatusResult, error) {
	d := 42
	return telephony.StatusResult{RawStatus: "completed", DurationSeconds: &d}, nil
}

func (scriptedProvider) GetTranscript(context.Context, string) (telephony.TranscriptResult, error) {
	return telephony.TranscriptResult{Text: "All done, the change is confirmed."}, nil
}

// stallingProvider never answers CreateCall until the worker is cancelled.
type stallingProvider struct{ scriptedProvider }

func (stallingProvider) CreateCall(ctx context.Context, _ calls.CallRequest) (telephony.CreateCallResult, error) {
	<-ctx.Done()
	return telephony.CreateCallResult{}, ctx.Err()
}

// newTestApp returns a factory that always hands out the same in-memory app,
// so state written by one command is visible to the next.
func newTestApp(t *testing.T, p telephony.Provider) (*app.App, AppFactory) {
	t.Helper()
	cfg := config.Config{
		App:   config.AppConfig{Env: "local"},
		Store: config.StoreConfig{Driver: config.DriverMemory},
		Orchestrator: config.OrchestratorConfig{
			PollInterval:         time.Millisecond,
			MaxPolls:             10,
			QueueStuckPolls:      3,
			MaxConsecutiveErrors: 2,
			StaleAfter:           time.Minute,
			SweepInterval:        time.Hour,
			MaxConcurrent:        4,
		},
	}
	a, err := app.New(context.Background(), cfg, logger.Discard(), app.WithProvider(p))
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a, func(context.Context, bool) (*app.App, func(), error) {
		return a, func() {}, nil
	}
}

func run(t *testing.T, factory AppFactory, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand("test", factory)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

var callArgs = []string{
	"call",
	"--phone", "+15553334444",
	"--name", "Jane Doe",
	"--caller-phone", "+15551112222",
	"--action", "switch to the unlimited plan",
}

func TestCall_FollowsToCompletion(t *testing.T) {
	_, factory := newTestApp(t, scriptedProvider{})
	out, _, err := run(t, factory, callArgs...)
	if err != nil {
		t.Fatalf("call: %v\n%s", err, out)
	}
	for _, want := range []string{"pending", "initiating", "completed", "success:   yes", "duration:  42s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCall_JSONStreamsOneEventPerLine(t *testing.T) {
	_, factory := newTestApp(t, scriptedProvider{})
	out, _, err := run(t, factory, append(callArgs, "--json")...)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var last map[string]any
	for _, l := range lines {
		last = map[string]any{}
		if err := json.Unmarshal([]byte(l), &last); err != nil {
			t.Fatalf("line is not json: %q: %v", l, err)
		}
	}
	if last["status"] != string(calls.StatusCompleted) {
		t.Fatalf("last event should be completed, got %v", last["status"])
	}
}

func TestCall_ValidationListsFields(t *testing.T) {
	_, factory := newTestApp(t, scriptedProvider{})
	_, stderr, err := run(t, factory, "call", "--phone", "12", "--name", "Jane")
	var verr *calls.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"phone_number", "caller_phone", "account_action"} {
		if !strings.Contains(stderr, field) {
			t.Fatalf("stderr missing %q:\n%s", field, stderr)
		}
	}
}

func TestCall_QuietWaitsForTheCallBeforeRelease(t *testing.T) {
	a, shared := newTestApp(t, scriptedProvider{})
	// Release the app exactly like the env-backed factory does.
	closing := func(context.Context, bool) (*app.App, func(), error) {
		return a, closeApp(a), nil
	}

	out, _, err := run(t, closing, append(callArgs, "--quiet", "--json")...)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var accepted struct {
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal([]byte(out), &accepted); err != nil || accepted.CallID == "" {
		t.Fatalf("bad quiet output %q: %v", out, err)
	}

	c, err := a.Store.Get(context.Background(), accepted.CallID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != calls.StatusCompleted || c.ProviderCallID != "prov-1" {
		t.Fatalf("call stranded by release: status=%s provider_call_id=%q", c.Status, c.ProviderCallID)
	}

	out, _, err = run(t, shared, "status", accepted.CallID)
	if err != nil || !strings.Contains(out, "status:    completed") {
		t.Fatalf("status: %v\n%s", err, out)
	}

	out, _, err = run(t, shared, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var rows []calls.Call
	if err := json.Unmarshal([]byte(out), &rows); err != nil || len(rows) != 1 || rows[0].ID != accepted.CallID {
		t.Fatalf("unexpected list %q: %v", out, err)
	}

	out, _, err = run(t, shared, "list", "--status", "failed")
	if err != nil || !strings.Contains(out, "no calls") {
		t.Fatalf("filtered list: %v\n%s", err, out)
	}

	_, _, err = run(t, shared, "terminate", accepted.CallID)
	if !errors.Is(err, orchestrator.ErrNotTerminable) {
		t.Fatalf("expected not terminable, got %v", err)
	}
}

func TestCall_QuietGivesUpWithContext(t *testing.T) {
	a, _ := newTestApp(t, stallingProvider{})
	closing := func(context.Context, bool) (*app.App, func(), error) {
		return a, closeApp(a), nil
	}

	var out, errOut bytes.Buffer
	root := NewRootCommand("test", closing)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(callArgs, "--quiet"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := root.ExecuteContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !strings.Contains(out.String(), "accepted") || !strings.Contains(errOut.String(), "stopped waiting") {
		t.Fatalf("unexpected output %q / %q", out.String(), errOut.String())
	}
}

func TestStatus_UnknownCall(t *testing.T) {
	_, factory := newTestApp(t, scriptedProvider{})
	if _, _, err := run(t, factory, "status", "nope"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := run(t, factory, "status"); err == nil {
		t.Fatalf("expected arg count error")
	}
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	_, factory := newTestApp(t, scriptedProvider{})
	if _, _, err := run(t, factory, "list", "--status", "ringing"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestCleanupAndSummary(t *testing.T) {
	_, factory := newTestApp(t, scriptedProvider{})
	out, _, err := run(t, factory, "cleanup")
	if err != nil || !strings.Contains(out, "cleaned 0") {
		t.Fatalf("cleanup: %v\n%s", err, out)
	}

	if _, _, err := run(t, factory, callArgs...); err != nil {
		t.Fatalf("call: %v", err)
	}
	out, _, err = run(t, factory, "summary", "--days", "7")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, want := range []string{"Last 7 day(s)", "success rate: 100.0%", "DATE"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}

	if _, _, err := run(t, factory, "summary", "--days", "999"); err == nil {
		t.Fatalf("expected error for window over a year")
	}
}

func TestHealth(t *testing.T) {
	_, factory := newTestApp(t, scriptedProvider{})
	out, _, err := run(t, factory, "health")
	if err != nil || !strings.Contains(out, "scripted: ok") {
		t.Fatalf("health: %v\n%s", err, out)
	}

	_, bad := newTestApp(t, scriptedProvider{healthErr: errors.New("401 unauthorized")})
	if _, _, err := run(t, bad, "health"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected provider error, got %v", err)
	}
}
