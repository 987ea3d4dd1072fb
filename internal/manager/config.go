package manager

import "time"

// Defaults applied when corresponding Config fields are unset.
const (
	defaultSweepInterval    = 100 * time.Millisecond
	defaultMaxRetries       = 10
	defaultRetryInitial     = 10 * time.Millisecond
	defaultRetryMax         = 1 * time.Second
	defaultTaskRetention    = 10 * time.Minute
	defaultShutdownTimeout  = 5 * time.Second
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	// SweepInterval is the period of the reaper sweep that enforces task
	// deadlines and reclaims old terminal tasks.
	SweepInterval time.Duration
	// MaxRetries bounds dispatch attempts per task before the task fails
	// with ResourceUnavailable.
	MaxRetries int
	// RetryInitial/RetryMax bound the exponential backoff between failed
	// dispatch attempts for one task.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// TaskRetention is how long terminal tasks stay queryable before the
	// sweep reaps them.
	TaskRetention time.Duration
	// ShutdownTimeout bounds Close waiting for in-flight work.
	ShutdownTimeout time.Duration
	// Publisher receives lifecycle events; nil drops them.
	Publisher EventPublisher
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = defaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
	if c.TaskRetention <= 0 {
		c.TaskRetention = defaultTaskRetention
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}
