// Package ratelimit provides the token bucket that paces DCC payload reads.
package ratelimit

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrStopped is returned by Acquire after the bucket has been stopped.
var ErrStopped = errors.New("ratelimit: bucket stopped")

// readChunk is the payload read size the bucket is calibrated against.
const readChunk = 4096

// Bucket refills with a fixed number of tokens per interval, up to a cap.
// Acquire takes one token, blocking until one is available. Stop wakes
// every blocked acquirer.
type Bucket struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tokens  int
	max     int
	gain    int
	every   time.Duration
	stopped bool
}

// New returns a running bucket that gains gain tokens every interval,
// holding at most max. The bucket starts full.
func New(gain, max int, every time.Duration) *Bucket {
	b := &Bucket{
		tokens: max,
		max:    max,
		gain:   gain,
		every:  every,
	}
	b.cond = sync.NewCond(&b.mu)
	go b.fill()
	return b
}

// FromRate returns a bucket that averages kibPerSec KiB/s over 4 KiB reads:
// four tokens of capacity, refilled four at a time.
func FromRate(kibPerSec float64) *Bucket {
	every := time.Duration(float64(readChunk) / 1024 / (kibPerSec / 4) * float64(time.Second))
	return New(4, 4, every)
}

func (b *Bucket) fill() {
	ticker := time.NewTicker(b.every)
	defer ticker.Stop()
	for range ticker.C {
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return
		}
		b.tokens += b.gain
		if b.tokens > b.max {
			b.tokens = b.max
		}
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// Acquire blocks until a token is available and takes it.
func (b *Bucket) Acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.tokens < 1 && !b.stopped {
		b.cond.Wait()
	}
	if b.stopped {
		return ErrStopped
	}
	b.tokens--
	return nil
}

// Stop shuts the bucket down and releases all blocked acquirers.
func (b *Bucket) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
