package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromeLauncherStartsOnSessionContext(t *testing.T) {
	l := NewChromeLauncher(LaunchConfig{StartAttempts: 1}, zerolog.Nop())

	var first context.Context
	l.run = func(ctx context.Context, actions ...chromedp.Action) error {
		first = ctx
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d, err := l.Launch(ctx)
	require.NoError(t, err)
	defer d.Close()

	cd, ok := d.(*chromeDriver)
	require.True(t, ok)

	_, hasDeadline := first.Deadline()
	assert.False(t, hasDeadline, "the allocating Run must not carry a deadline")
	assert.True(t, first == cd.ctx, "the allocating Run must use the session context")

	// The session outlives the launch call.
	cancel()
	assert.NoError(t, cd.ctx.Err())
}

func TestChromeLauncherStartTimeout(t *testing.T) {
	l := NewChromeLauncher(LaunchConfig{
		StartAttempts:   1,
		PageLoadTimeout: 50 * time.Millisecond,
	}, zerolog.Nop())
	l.run = func(ctx context.Context, actions ...chromedp.Action) error {
		<-ctx.Done()
		return ctx.Err()
	}

	d, err := l.Launch(context.Background())
	assert.Nil(t, d)
	assert.ErrorContains(t, err, "failed to start after 1 attempts")
}

func TestChromeLauncherCallerCancelDuringStart(t *testing.T) {
	l := NewChromeLauncher(LaunchConfig{StartAttempts: 1, PageLoadTimeout: time.Minute}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	l.run = func(runCtx context.Context, actions ...chromedp.Action) error {
		cancel()
		<-runCtx.Done()
		return runCtx.Err()
	}

	_, err := l.Launch(ctx)
	assert.Error(t, err)
}
