package webhooks

import "time"

// Config controls delivery and retry behavior.
type Config struct {
	Timeout      time.Duration
	MaxAttempts  int
	RetryDelays  []time.Duration
	Workers      int
	QueueSize    int
	PollInterval time.Duration
	Lease        time.Duration
	BatchSize    int
	// MaxResponseBody bounds the response body kept in delivery logs.
	MaxResponseBody int
}

func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		MaxAttempts:     3,
		RetryDelays:     []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second},
		Workers:         4,
		QueueSize:       256,
		PollInterval:    15 * time.Second,
		Lease:           30 * time.Second,
		BatchSize:       100,
		MaxResponseBody: 1000,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = d.RetryDelays
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	// The lease must outlive one attempt or a slow receiver could be sent
	// the same attempt twice.
	if c.Lease <= c.Timeout {
		c.Lease = c.Timeout + 5*time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = d.MaxResponseBody
	}
	return c
}

// retryDelay is the wait after the given failed attempt (1-based).
func (c Config) retryDelay(attempt int) time.Duration {
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(c.RetryDelays) {
		i = len(c.RetryDelays) - 1
	}
	return c.RetryDelays[i]
}
