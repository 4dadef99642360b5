package events

import (
	"time"

	"callpilot/internal/calls"
)

// Event is one observed call transition, delivered to dashboards as one JSON object.
type Event struct {
	CallID    string       `json:"call_id"`
	Status    calls.Status `json:"status"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`

	ProviderCallID string `json:"provider_call_id,omitempty"`
	Error          string `json:"error,omitempty"`

	// Set on terminal events only.
	Success    *bool   `json:"success,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
}

// Terminal reports whether the event carries a terminal status.
func (e Event) Terminal() bool { return e.Status.IsTerminal() }

// FromCall builds an event from the record as persisted.
func FromCall(c calls.Call, msg string, at time.Time) Event {
	e := Event{
		CallID:         c.ID,
		Status:         c.Status,
		Message:        msg,
		Timestamp:      at.UTC(),
		ProviderCallID: c.ProviderCallID,
	}
	if c.ErrorMessage != nil {
		e.Error = *c.ErrorMessage
	}
	if c.Status.IsTerminal() {
		ok := c.Success != nil && *c.Success
		e.Success = &ok
		if c.Transcript != nil {
			t := *c.Transcript
			e.Transcript = &t
		}
	}
	return e
}
