package browser

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWarmPatterns are URL substrings of sites that reject a cold
// deep-link and need a homepage visit first.
var DefaultWarmPatterns = []string{
	"cloudflare",
	"imperva",
	"incapsula",
	"perimeter",
	"distil",
	"lithia.com",
	"autonation.com",
	"carmax.com",
	"penske",
	"asbury",
	"dealer.com",
	"dealertrack",
	"audinorthlake.com",
	"audisouthaustin.com",
	"audiusa",
}

// Warmer visits a site's homepage before the target page.
type Warmer struct {
	Patterns    []string
	IdleMin     time.Duration
	IdleMax     time.Duration
	ScrollY     int
	ScrollPause time.Duration

	sleep SleepFunc
	log   zerolog.Logger
}

// NewWarmer returns a Warmer with the production timings.
func NewWarmer(patterns []string, log zerolog.Logger) *Warmer {
	if len(patterns) == 0 {
		patterns = DefaultWarmPatterns
	}
	return &Warmer{
		Patterns:    patterns,
		IdleMin:     4 * time.Second,
		IdleMax:     8 * time.Second,
		ScrollY:     500,
		ScrollPause: 500 * time.Millisecond,
		sleep:       Sleep,
		log:         log,
	}
}

// NeedsWarming reports whether rawURL matches any pattern.
func (w *Warmer) NeedsWarming(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, p := range w.Patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Warm loads the homepage of rawURL, idles and scrolls. Failures are logged
// and otherwise ignored; the caller proceeds to the target either way.
func (w *Warmer) Warm(ctx context.Context, d Driver, rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		w.log.Warn().Str("url", rawURL).Msg("session warming skipped: unparseable url")
		return
	}
	home := u.Scheme + "://" + u.Host

	w.log.Debug().Str("homepage", home).Msg("warming session")
	if err := d.Navigate(ctx, home); err != nil {
		w.log.Warn().Err(err).Str("homepage", home).Msg("session warming failed, continuing")
		return
	}
	if err := w.sleep(ctx, between(w.IdleMin, w.IdleMax)); err != nil {
		return
	}
	if err := d.Scroll(ctx, w.ScrollY); err != nil {
		w.log.Debug().Err(err).Msg("warming scroll failed")
		return
	}
	_ = w.sleep(ctx, w.ScrollPause)
}
