// Package util contains worker utilities.
package util

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	initialTimeoutLowerBound = 0
	maximumTimeoutUpperBound = math.MaxInt64 / 2
)

// Backoff implements retry backoff on failure.
type Backoff struct {
	initialTimeout time.Duration
	currentTimeout time.Duration
	maximumTimeout time.Duration
}

// NewBackoff returns a new backoff.
func NewBackoff(initialTimeout time.Duration, maximumTimeout time.Duration) (*Backoff, error) {
	if initialTimeout <= initialTimeoutLowerBound {
		return nil, fmt.Errorf(
			"initial timeout %fs less than lower bound %ds",
			initialTimeout.Seconds(),
			initialTimeoutLowerBound,
		)
	}
	if maximumTimeout < initialTimeout || maximumTimeout >= maximumTimeoutUpperBound {
		return nil, fmt.Errorf(
			"maximum timeout %fs outside of [%fs, %ds)",
			maximumTimeout.Seconds(),
			initialTimeout.Seconds(),
			maximumTimeoutUpperBound,
		)
	}
	return &Backoff{initialTimeout, initialTimeout, maximumTimeout}, nil
}

// Failure doubles the timeout, up to the maximum.
func (b *Backoff) Failure() {
	b.currentTimeout *= 2
	if b.currentTimeout > b.maximumTimeout {
		b.currentTimeout = b.maximumTimeout
	}
}

// Success halves the timeout, down to the initial one.
func (b *Backoff) Success() {
	b.currentTimeout /= 2
	if b.currentTimeout < b.initialTimeout {
		b.currentTimeout = b.initialTimeout
	}
}

// Reset resets the backoff.
func (b *Backoff) Reset() {
	b.currentTimeout = b.initialTimeout
}

// Timeout returns the backoff timeout.
func (b *Backoff) Timeout() time.Duration {
	return b.currentTimeout
}

// ClosingChannel returns a channel that closes once wg is done.
func ClosingChannel(wg *sync.WaitGroup) <-chan struct{} {
	c := make(chan struct{})
	go func() {
		wg.Wait()
		close(c)
	}()
	return c
}
