// Package reporting aggregates stored calls into dashboard analytics.
package reporting

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"callpilot/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository returns calls created in [from, to).
type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

// WithClock overrides the service clock. Used by tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	days := req.Days
	if days == 0 {
		days = DefaultDays
	}
	if days < 0 || days > MaxDays {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("reporting: repository not configured")
	}

	to := s.clock().UTC()
	from := to.AddDate(0, 0, -days)
	rows, err := s.repo.ListCalls(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		PeriodDays: days,
		Range:      TimeRange{From: from, To: to},
		ByStatus:   map[string]int{},
	}
	hours := make([]HourBucket, 24)
	for h := range hours {
		hours[h].Hour = h
	}
	daily := map[string]*DailyPoint{}
	reasons := map[string]int{}
	timed := 0

	for _, c := range rows {
		out.TotalCalls++
		out.ByStatus[string(c.Status)]++
		hours[c.CreatedAt.UTC().Hour()].Count++

		if c.DurationSeconds != nil {
			out.TotalDurationSeconds += *c.DurationSeconds
			timed++
		}
		if !c.Status.IsTerminal() {
			out.ActiveCalls++
			continue
		}

		out.FinishedCalls++
		ok := c.Success != nil && *c.Success
		day := finishedAt(c).Format(time.DateOnly)
		p := daily[day]
		if p == nil {
			p = &DailyPoint{Date: day}
			daily[day] = p
		}
		p.Finished++
		if ok {
			out.SuccessfulCalls++
			p.Successful++
			continue
		}
		out.FailedCalls++
		reasons[failureReason(c)]++
	}

	if out.FinishedCalls > 0 {
		out.SuccessRate = float64(out.SuccessfulCalls) / float64(out.FinishedCalls)
	}
	if timed > 0 {
		out.AverageDurationSeconds = float64(out.TotalDurationSeconds) / float64(timed)
	}
	out.VolumeByHour = hours
	out.DailySuccess = sortedDaily(daily)
	out.FailureReasons = topReasons(reasons, topFailureReasons)
	return out, nil
}

func finishedAt(c calls.Call) time.Time {
	if c.CompletedAt != nil {
		return c.CompletedAt.UTC()
	}
	return c.CreatedAt.UTC()
}

// failureReason is the recorded error text, or the status for outcomes like
// busy and no_answer that carry none.
func failureReason(c calls.Call) string {
	if c.ErrorMessage == nil || strings.TrimSpace(*c.ErrorMessage) == "" {
		return string(c.Status)
	}
	r := strings.TrimSpace(*c.ErrorMessage)
	if utf8.RuneCountInString(r) > maxReasonLength {
		r = string([]rune(r)[:maxReasonLength])
	}
	return r
}

func sortedDaily(m map[string]*DailyPoint) []DailyPoint {
	out := make([]DailyPoint, 0, len(m))
	for _, p := range m {
		if p.Finished > 0 {
			p.SuccessRate = float64(p.Successful) / float64(p.Finished)
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func topReasons(m map[string]int, n int) []FailureReason {
	out := make([]FailureReason, 0, len(m))
	for r, c := range m {
		out = append(out, FailureReason{Reason: r, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
