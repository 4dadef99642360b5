package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callpilot/internal/calls"
	"callpilot/internal/telephony"
)

// run drives one call: create at the provider, then poll until terminal.
func (o *Orchestrator) run(ctx context.Context, id string) {
	log := o.log.With("call_id", id)
	defer func() {
		if r := recover(); r != nil {
			log.Error("call worker panicked", "panic", r)
			o.fail(context.Background(), id, fmt.Sprintf("internal error: %v", r), calls.ActiveStatuses(), nil)
		}
	}()

	if err := o.limiter.Acquire(ctx); err != nil {
		if ctx.Err() == nil {
			log.Error("acquire concurrency slot failed", "err", err)
			o.fail(ctx, id, fmt.Sprintf("concurrency limiter: %v", err), []calls.Status{calls.StatusPending}, nil)
		}
		return
	}
	defer o.limiter.Release()

	c, err := o.apply(ctx, id, calls.Patch{
		Status:   calls.Ptr(calls.StatusInitiating),
		IfStatus: []calls.Status{calls.StatusPending},
	}, "initiating call")
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, calls.ErrStatusConflict) {
			log.Error("mark initiating failed", "err", err)
		}
		return
	}

	start := time.Now()
	res, err := o.provider.CreateCall(ctx, c.Request)
	o.observe("create_call", start, err)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("provider rejected call", "err", err, "kind", telephony.KindOf(err))
		o.fail(ctx, id, err.Error(), []calls.Status{calls.StatusInitiating}, nil)
		return
	}

	if _, err := o.apply(ctx, id, calls.Patch{
		Status:         calls.Ptr(calls.StatusDialing),
		ProviderCallID: &res.ProviderCallID,
		IfStatus:       []calls.Status{calls.StatusInitiating},
	}, "dialing"); err != nil {
		if ctx.Err() == nil && !errors.Is(err, calls.ErrStatusConflict) {
			log.Error("mark dialing failed", "err", err)
		}
		return
	}
	log.Info("provider accepted call", "provider_call_id", res.ProviderCallID)

	o.poll(ctx, log, id, res.ProviderCallID)
}

// poll watches the provider until the call is terminal, the budget is spent
// or ctx ends. Each iteration first re-reads the local record so a terminate
// or cleanup is observed before the next provider request.
func (o *Orchestrator) poll(ctx context.Context, log *slog.Logger, id, providerID string) {
	var (
		queuedRun int
		errRun    int
	)
	for n := 1; n <= o.cfg.MaxPolls; n++ {
		if !o.wait(ctx) {
			return
		}

		cur, err := o.store.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, calls.ErrNotFound) {
				return
			}
			log.Warn("read call failed; retrying next poll", "err", err)
			continue
		}
		if cur.Status.IsTerminal() {
			log.Info("call already terminal; polling stopped", "status", cur.Status)
			return
		}

		start := time.Now()
		res, err := o.provider.GetStatus(ctx, providerID)
		o.observe("get_status", start, err)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errRun++
			log.Warn("status poll failed", "err", err, "consecutive", errRun)
			if errRun >= o.cfg.MaxConsecutiveErrors {
				o.fail(ctx, id, fmt.Sprintf("gave up after %d consecutive provider errors: %v", errRun, err), calls.ActiveStatuses(), nil)
				return
			}
			continue
		}
		errRun = 0

		mapped := telephony.MapStatus(res.RawStatus)
		if mapped == calls.StatusQueued {
			queuedRun++
		} else {
			queuedRun = 0
		}

		if mapped.IsProviderTerminal() {
			o.complete(ctx, log, id, providerID, mapped, res)
			return
		}

		if queuedRun > o.cfg.QueueStuckPolls {
			msg := fmt.Sprintf("call stuck in queue for %d consecutive polls; the assistant likely has no outbound phone number assigned", queuedRun)
			log.Warn("call stuck in queue", "polls", queuedRun)
			o.fail(ctx, id, msg, calls.ActiveStatuses(), map[string]any{"queued_polls": queuedRun, "provider_status": res.RawStatus})
			return
		}

		if mapped == cur.Status {
			continue
		}
		_, err = o.apply(ctx, id, calls.Patch{
			Status:          &mapped,
			DurationSeconds: res.DurationSeconds,
			Metadata:        map[string]any{"provider_status": res.RawStatus, "polls": n},
			IfStatus:        calls.ActiveStatuses(),
		}, fmt.Sprintf("status changed to %s", mapped))
		if errors.Is(err, calls.ErrStatusConflict) {
			log.Info("late poll result discarded; call already terminal")
			return
		}
		if err != nil && ctx.Err() == nil {
			log.Error("persist status failed", "err", err)
		}
	}

	if ctx.Err() != nil {
		return
	}
	now := o.clock().UTC()
	msg := fmt.Sprintf("%v after %d polls", ErrPollTimeout, o.cfg.MaxPolls)
	_, err := o.apply(ctx, id, calls.Patch{
		Status:       calls.Ptr(calls.StatusTimeout),
		ErrorMessage: &msg,
		CompletedAt:  &now,
		IfStatus:     calls.ActiveStatuses(),
	}, "polling timed out")
	if err != nil && !errors.Is(err, calls.ErrStatusConflict) {
		log.Error("persist timeout failed", "err", err)
		return
	}
	log.Warn("call polling timed out", "polls", o.cfg.MaxPolls)
}

// complete records a provider-terminal outcome. A transcript fetch failure
// is noted in metadata and the call is classified on an empty transcript.
func (o *Orchestrator) complete(ctx context.Context, log *slog.Logger, id, providerID string, status calls.Status, res telephony.StatusResult) {
	meta := map[string]any{"provider_status": res.RawStatus}

	start := time.Now()
	tr, err := o.provider.GetTranscript(ctx, providerID)
	o.observe("get_transcript", start, err)
	text := ""
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("transcript fetch failed; continuing without it", "err", err)
		meta["transcript_error"] = err.Error()
	} else {
		text = tr.Text
	}

	success := o.classifier.Classify(text)
	now := o.clock().UTC()
	_, err = o.apply(ctx, id, calls.Patch{
		Status:          &status,
		CompletedAt:     &now,
		DurationSeconds: res.DurationSeconds,
		Transcript:      &text,
		Success:         &success,
		Metadata:        meta,
		IfStatus:        calls.ActiveStatuses(),
	}, fmt.Sprintf("call finished: %s", status))
	switch {
	case errors.Is(err, calls.ErrStatusConflict):
		log.Info("final result discarded; call already terminal")
	case err != nil:
		log.Error("persist final result failed", "err", err)
	default:
		log.Info("call finished", "status", status, "success", success)
	}
}

// fail marks the call failed if its status is still one of from.
func (o *Orchestrator) fail(ctx context.Context, id, msg string, from []calls.Status, meta map[string]any) {
	now := o.clock().UTC()
	_, err := o.apply(ctx, id, calls.Patch{
		Status:       calls.Ptr(calls.StatusFailed),
		ErrorMessage: &msg,
		CompletedAt:  &now,
		Metadata:     meta,
		IfStatus:     from,
	}, "call failed")
	if err != nil && !errors.Is(err, calls.ErrStatusConflict) {
		o.log.Error("persist failure failed", "call_id", id, "err", err)
	}
}

// wait sleeps one poll interval. It reports false if ctx ended first.
func (o *Orchestrator) wait(ctx context.Context) bool {
	t := time.NewTimer(o.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (o *Orchestrator) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(telephony.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	o.metrics.ProviderRequest(op, outcome, time.Since(start))
}
