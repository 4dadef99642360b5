package calls

import "time"

// CallRequest is the caller-supplied description of an outbound call.
// It is immutable once a Call has been created from it.
type CallRequest struct {
	// PhoneNumber is the destination the AI agent dials.
	PhoneNumber string `json:"phone_number" db:"phone_number" validate:"notblank,phone"`

	CallerName  string `json:"caller_name" db:"caller_name" validate:"notblank,max=100"`
	CallerPhone string `json:"caller_phone" db:"caller_phone" validate:"notblank,phone"`

	// AccountAction is the free-text instruction the agent must get done.
	AccountAction  string `json:"account_action" db:"account_action" validate:"notblank,max=1000"`
	AdditionalInfo string `json:"additional_info,omitempty" db:"additional_info" validate:"max=2000"`
}

// Call is one orchestration attempt.
//
// Ownership: the record is created and mutated only through a Store; the
// orchestrator is the only writer. Records are never deleted by the core.
//
// Nullable columns are pointers so "not yet known" survives JSON and SQL round trips.
type Call struct {
	ID      string      `json:"id" db:"id"`
	Request CallRequest `json:"request"`

	// ProviderCallID is empty until the provider accepts the call.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Status Status `json:"status" db:"status"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	DurationSeconds *int    `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Transcript      *string `json:"transcript,omitempty" db:"transcript"`
	Success         *bool   `json:"success,omitempty" db:"success"`
	ErrorMessage    *string `json:"error_message,omitempty" db:"error_message"`

	// Metadata holds forward-compatible fields (raw provider status, poll counters, ...).
	Metadata map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// Clone returns a deep copy so callers never share the metadata map or pointer fields.
func (c Call) Clone() Call {
	out := c
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		out.DurationSeconds = &d
	}
	if c.Transcript != nil {
		s := *c.Transcript
		out.Transcript = &s
	}
	if c.Success != nil {
		b := *c.Success
		out.Success = &b
	}
	if c.ErrorMessage != nil {
		s := *c.ErrorMessage
		out.ErrorMessage = &s
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInitiating Status = "initiating"
	StatusDialing    Status = "dialing"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusUnknown    Status = "unknown"

	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
	StatusBusy       Status = "busy"
	StatusTerminated Status = "terminated"
	StatusTimeout    Status = "timeout"
)

var allStatuses = []Status{
	StatusPending,
	StatusInitiating,
	StatusDialing,
	StatusQueued,
	StatusInProgress,
	StatusUnknown,
	StatusCompleted,
	StatusFailed,
	StatusNoAnswer,
	StatusBusy,
	StatusTerminated,
	StatusTimeout,
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus accepts only the canonical lower-snake values.
func ParseStatus(s string) (Status, bool) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions may follow this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusTerminated, StatusTimeout:
		return true
	default:
		return false
	}
}

// IsProviderTerminal reports the terminal statuses the provider itself can report.
// TERMINATED and TIMEOUT are decided locally.
func (s Status) IsProviderTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy:
		return true
	default:
		return false
	}
}

// ActiveStatuses are all non-terminal statuses.
func ActiveStatuses() []Status {
	out := make([]Status, 0, len(allStatuses))
	for _, s := range allStatuses {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// TerminableStatuses are the statuses from which an operator may terminate a
// call: the remote call exists. queued and unknown are holds inside dialing.
func TerminableStatuses() []Status {
	return []Status{StatusDialing, StatusQueued, StatusUnknown, StatusInProgress}
}
