package dispatch

import (
	"errors"
	"time"
)

// Policy bounds one submission: how many times the same signed bytes are
// resent and how long each send is polled for confirmation.
type Policy struct {
	// MaxRetries is the number of resubmissions after the first send.
	MaxRetries   int
	WaitWindow   time.Duration
	PollInterval time.Duration
}

// DefaultPolicy is used for withdrawals, dev transfers, burns and account creation.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   49, // 50 sends in total
		WaitWindow:   time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}

// FastFailPolicy sends once; callers retry on a later cycle instead.
func FastFailPolicy() Policy {
	return Policy{
		MaxRetries:   0,
		WaitWindow:   time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}

// Attempts is the total number of sends the policy allows.
func (p Policy) Attempts() int {
	return p.MaxRetries + 1
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if p.WaitWindow <= 0 {
		return errors.New("wait window must be greater than 0")
	}
	if p.PollInterval <= 0 {
		return errors.New("poll interval must be greater than 0")
	}
	return nil
}
