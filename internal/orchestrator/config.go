package orchestrator

import "time"

// Config tunes the call lifecycle. Zero values fall back to the defaults below.
type Config struct {
	// PollInterval is the wait before each provider status poll.
	PollInterval time.Duration
	// MaxPolls bounds the poll loop; exhausting it marks the call timeout.
	MaxPolls int
	// QueueStuckPolls is how many consecutive queued polls are tolerated.
	// One more fails the call as stuck in queue.
	QueueStuckPolls int
	// MaxConsecutiveErrors is the run of failed polls that gives up on a call.
	MaxConsecutiveErrors int
	// StaleAfter is the age past which CleanupStuck force-fails a non-terminal call.
	StaleAfter time.Duration
	// MaxConcurrent caps calls driven at once by the default local limiter.
	MaxConcurrent int
}

const (
	DefaultPollInterval         = 5 * time.Second
	DefaultMaxPolls             = 24
	DefaultQueueStuckPolls      = 6
	DefaultMaxConsecutiveErrors = 3
	DefaultStaleAfter           = 30 * time.Minute
	DefaultMaxConcurrent        = 50
)

func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	out := c
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.MaxPolls <= 0 {
		out.MaxPolls = DefaultMaxPolls
	}
	if out.QueueStuckPolls <= 0 {
		out.QueueStuckPolls = DefaultQueueStuckPolls
	}
	if out.MaxConsecutiveErrors <= 0 {
		out.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = DefaultStaleAfter
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = DefaultMaxConcurrent
	}
	return out
}
