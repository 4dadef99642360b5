package reporting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"callpilot/internal/calls"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, rows ...calls.Call) *calls.MemoryStore {
	t.Helper()
	s := calls.NewMemoryStore()
	for _, c := range rows {
		if err := s.Save(context.Background(), c); err != nil {
			t.Fatalf("save %s: %v", c.ID, err)
		}
	}
	return s
}

func finished(id string, st calls.Status, created time.Time, success bool, dur int, errMsg string) calls.Call {
	done := created.Add(time.Duration(dur) * time.Second)
	c := calls.Call{
		ID:              id,
		Status:          st,
		CreatedAt:       created,
		CompletedAt:     &done,
		DurationSeconds: calls.Ptr(dur),
		Success:         calls.Ptr(success),
	}
	if errMsg != "" {
		c.ErrorMessage = calls.Ptr(errMsg)
	}
	return c
}

func TestSummary_Aggregates(t *testing.T) {
	store := seed(t,
		finished("ok1", calls.StatusCompleted, now.Add(-2*time.Hour), true, 60, ""),
		finished("ok2", calls.StatusCompleted, now.Add(-26*time.Hour), true, 120, ""),
		finished("neg", calls.StatusCompleted, now.Add(-3*time.Hour), false, 30, ""),
		finished("busy", calls.StatusBusy, now.Add(-4*time.Hour), false, 0, ""),
		finished("f1", calls.StatusFailed, now.Add(-5*time.Hour), false, 0, "call stuck in queue"),
		finished("f2", calls.StatusFailed, now.Add(-6*time.Hour), false, 0, "call stuck in queue"),
		calls.Call{ID: "live", Status: calls.StatusInProgress, CreatedAt: now.Add(-time.Minute)},
		// Outside the window.
		finished("old", calls.StatusCompleted, now.AddDate(0, 0, -8), true, 500, ""),
	)
	svc := NewService(NewStoreRepo(store)).WithClock(func() time.Time { return now })

	out, err := svc.Summary(context.Background(), SummaryRequest{Days: 7})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if out.TotalCalls != 7 || out.FinishedCalls != 6 || out.ActiveCalls != 1 {
		t.Fatalf("unexpected totals: %+v", out)
	}
	if out.SuccessfulCalls != 2 || out.FailedCalls != 4 {
		t.Fatalf("unexpected outcome split: %+v", out)
	}
	if out.SuccessRate < 0.333 || out.SuccessRate > 0.334 {
		t.Fatalf("expected success rate 1/3, got %f", out.SuccessRate)
	}
	if out.TotalDurationSeconds != 210 || out.AverageDurationSeconds != 35 {
		t.Fatalf("unexpected durations: total %d avg %f", out.TotalDurationSeconds, out.AverageDurationSeconds)
	}
	if out.ByStatus["failed"] != 2 || out.ByStatus["in_progress"] != 1 {
		t.Fatalf("unexpected by-status: %v", out.ByStatus)
	}
	if len(out.FailureReasons) == 0 || out.FailureReasons[0] != (FailureReason{Reason: "call stuck in queue", Count: 2}) {
		t.Fatalf("unexpected failure reasons: %+v", out.FailureReasons)
	}
	if len(out.VolumeByHour) != 24 || out.VolumeByHour[10].Count != 2 {
		t.Fatalf("unexpected hourly volume: %+v", out.VolumeByHour)
	}
	if len(out.DailySuccess) != 2 || out.DailySuccess[0].Date != "2026-03-09" || out.DailySuccess[1].Finished != 5 {
		t.Fatalf("unexpected daily trend: %+v", out.DailySuccess)
	}
}

func TestSummary_Empty(t *testing.T) {
	svc := NewService(NewStoreRepo(calls.NewMemoryStore())).WithClock(func() time.Time { return now })
	out, err := svc.Summary(context.Background(), SummaryRequest{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if out.PeriodDays != DefaultDays || out.TotalCalls != 0 || out.SuccessRate != 0 {
		t.Fatalf("unexpected empty summary: %+v", out)
	}
	if out.FailureReasons == nil || out.DailySuccess == nil {
		t.Fatalf("slices must encode as [] not null")
	}
}

func TestSummary_RejectsBadWindow(t *testing.T) {
	svc := NewService(NewStoreRepo(calls.NewMemoryStore()))
	for _, d := range []int{-1, MaxDays + 1} {
		if _, err := svc.Summary(context.Background(), SummaryRequest{Days: d}); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("days=%d: expected ErrInvalidRequest, got %v", d, err)
		}
	}
}

func TestStoreRepo_PagesUntilRangeStart(t *testing.T) {
	var rows []calls.Call
	for i := 0; i < 7; i++ {
		rows = append(rows, calls.Call{ID: string(rune('a' + i)), Status: calls.StatusPending, CreatedAt: now.Add(-time.Duration(i) * time.Hour)})
	}
	repo := &StoreRepo{Store: seed(t, rows...), PageSize: 2}

	got, err := repo.ListCalls(context.Background(), now.Add(-4*time.Hour-time.Minute), now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Row "a" sits exactly at `to` and is excluded; b..e fall inside.
	if len(got) != 4 || got[0].ID != "b" || got[3].ID != "e" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestFailureReasonCutsOnRuneBoundary(t *testing.T) {
	msg := "échec: " + strings.Repeat("é", 200)
	c := calls.Call{Status: calls.StatusFailed, ErrorMessage: calls.Ptr(msg)}

	got := failureReason(c)
	if !utf8.ValidString(got) {
		t.Fatalf("reason is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != maxReasonLength {
		t.Fatalf("expected %d runes, got %d", maxReasonLength, n)
	}
	if !strings.HasPrefix(msg, got) {
		t.Fatalf("reason is not a prefix of the error text")
	}
}
