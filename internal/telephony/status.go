package telephony

import (
	"strings"

	"callpilot/internal/calls"
)

// statusTable is the only place provider vocabulary is translated.
// Keys are normalized: lower-case with '-' and ' ' folded to '_'.
var statusTable = map[string]calls.Status{
	"queue":  calls.StatusQueued,
	"queued": calls.StatusQueued,

	"initiated": calls.StatusDialing,
	"ringing":   calls.StatusDialing,
	"dialing":   calls.StatusDialing,

	"in_progress": calls.StatusInProgress,
	"ongoing":     calls.StatusInProgress,
	"answered":    calls.StatusInProgress,
	"active":      calls.StatusInProgress,

	"completed": calls.StatusCompleted,
	"complete":  calls.StatusCompleted,
	"ended":     calls.StatusCompleted,

	"failed": calls.StatusFailed,
	"error":  calls.StatusFailed,

	"no_answer": calls.StatusNoAnswer,
	"noanswer":  calls.StatusNoAnswer,

	"busy": calls.StatusBusy,
}

// MapStatus translates a raw provider status. Unrecognized values map to
// StatusUnknown, a non-terminal holding status.
func MapStatus(raw string) calls.Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if s, ok := statusTable[key]; ok {
		return s
	}
	return calls.StatusUnknown
}
