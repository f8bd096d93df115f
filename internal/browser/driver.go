// Package browser is the second verification tier. It drives a real browser
// through the Driver interface, waits for the tracking scripts to render and
// judges the resulting markup.
package browser

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ErrDriverLost means the browser session is gone and must be replaced.
var ErrDriverLost = errors.New("browser: driver lost")

// Driver is a single browser session.
type Driver interface {
	// Navigate loads url and waits for the page load event.
	Navigate(ctx context.Context, url string) error
	// HTML returns the current rendered document markup.
	HTML(ctx context.Context) (string, error)
	// Scroll moves the viewport to vertical offset y.
	Scroll(ctx context.Context, y int) error
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// between returns a uniformly random duration in [lo, hi].
func between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
