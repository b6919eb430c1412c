package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket gates transmission cadence. Tokens refill lazily at a
// fixed rate against an injected clock, so tests can drive time.
type TokenBucket struct {
	mu       sync.Mutex
	clk      clock.Clock
	capacity float64
	tokens   float64
	rate     float64
	last     time.Time
}

// NewTokenBucket creates a full bucket. A non-positive capacity
// defaults to max(rate, 1), mirroring the reference implementation.
func NewTokenBucket(rate, capacity float64, clk clock.Clock) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	if capacity <= 0 {
		capacity = rate
		if capacity < 1 {
			capacity = 1
		}
	}
	return &TokenBucket{
		clk:      clk,
		capacity: capacity,
		tokens:   capacity,
		rate:     rate,
		last:     clk.Now(),
	}
}

// TryAcquire consumes one token if available and reports whether the
// transmission may proceed now. It never blocks; the relay path drops
// or requeues on false.
func (b *TokenBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Acquire blocks until a token is available or ctx is done. Only the
// local send path uses it; the receive/relay path must stay
// non-blocking.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		rate := b.rate
		wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
		b.mu.Unlock()

		// A zero-rate bucket never refills; only cancellation releases.
		if rate <= 0 {
			<-ctx.Done()
			return ctx.Err()
		}

		timer := b.clk.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refill credits tokens for the time elapsed since the last check,
// capped at capacity. Callers hold b.mu.
func (b *TokenBucket) refill() {
	now := b.clk.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
