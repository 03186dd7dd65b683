package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gatehouse.org/internal/obs"
)

// Cleaner periodically deletes terminal session rows: expired sessions on a
// short interval and revoked sessions past a retention window on a long one.
// The two jobs run independently and share no mutable state. Deletion only
// ever targets rows that are already terminal, so no coordination with
// in-flight logins or refreshes is needed.
type Cleaner struct {
	sessions SessionStore

	expiredInterval  time.Duration
	revokedInterval  time.Duration
	revokedRetention time.Duration
	now              func() time.Time

	wg sync.WaitGroup
}

// CleanerOption configures Cleaner behavior.
type CleanerOption func(*Cleaner)

// WithExpiredInterval sets the sweep interval for expired sessions.
func WithExpiredInterval(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if d > 0 {
			c.expiredInterval = d
		}
	}
}

// WithRevokedInterval sets the sweep interval for old revoked sessions.
func WithRevokedInterval(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if d > 0 {
			c.revokedInterval = d
		}
	}
}

// WithRevokedRetention sets how long revoked sessions are kept before the
// sweep removes them.
func WithRevokedRetention(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if d > 0 {
			c.revokedRetention = d
		}
	}
}

// WithCleanerClock overrides the time source (useful for tests).
func WithCleanerClock(fn func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCleaner constructs a Cleaner with hourly expired sweeps and weekly
// revoked sweeps over a 30-day retention window by default.
func NewCleaner(sessions SessionStore, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		sessions:         sessions,
		expiredInterval:  time.Hour,
		revokedInterval:  7 * 24 * time.Hour,
		revokedRetention: 30 * 24 * time.Hour,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches both sweep loops. They stop when ctx is cancelled; Wait
// blocks until they have drained.
func (c *Cleaner) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.loop(ctx, "expired", c.expiredInterval, c.sweepExpired)
	go c.loop(ctx, "revoked", c.revokedInterval, c.sweepRevoked)
}

// Wait blocks until both loops have exited.
func (c *Cleaner) Wait() {
	c.wg.Wait()
}

// loop runs fn on every tick. A failed run is logged and never stops the
// loop; a run that is still in progress when the next tick fires is skipped
// rather than run concurrently against the same rows.
func (c *Cleaner) loop(ctx context.Context, job string, interval time.Duration, fn func(context.Context) (int64, error)) {
	defer c.wg.Done()

	var inFlight atomic.Bool
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !inFlight.CompareAndSwap(false, true) {
				obs.Event("cleanup.skipped", map[string]any{"job": job})
				continue
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer inFlight.Store(false)
				n, err := fn(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					obs.Event("cleanup.failed", map[string]any{"job": job, "error": err.Error()})
					return
				}
				obs.SessionsSweptTotal.WithLabelValues(job).Add(float64(n))
				if n > 0 {
					obs.Event("cleanup.swept", map[string]any{"job": job, "deleted": n})
				}
			}()
		}
	}
}

func (c *Cleaner) sweepExpired(ctx context.Context) (int64, error) {
	return c.sessions.DeleteExpired(ctx, c.now().UTC())
}

func (c *Cleaner) sweepRevoked(ctx context.Context) (int64, error) {
	return c.sessions.DeleteRevokedBefore(ctx, c.now().UTC().Add(-c.revokedRetention))
}
