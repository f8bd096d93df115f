package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// WindowSize is a browser viewport in pixels.
type WindowSize struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// LaunchConfig controls how sessions are started.
type LaunchConfig struct {
	Headless        bool
	ExecPath        string
	PageLoadTimeout time.Duration
	StartAttempts   int
	StartRetryPause time.Duration
	UserAgents      []string
	WindowSizes     []WindowSize
	Languages       []string
}

// DefaultLaunchConfig returns the launch defaults.
func DefaultLaunchConfig() LaunchConfig {
	return LaunchConfig{
		Headless:        true,
		PageLoadTimeout: 30 * time.Second,
		StartAttempts:   3,
		StartRetryPause: 2 * time.Second,
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		WindowSizes: []WindowSize{
			{1920, 1080},
			{1366, 768},
			{1440, 900},
			{1536, 864},
			{1280, 720},
		},
		Languages: []string{"en-US,en", "en-GB,en", "en-CA,en"},
	}
}

// sessionScript runs before any page script on every new document.
const sessionScript = `
(function() {
    Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
    Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
    Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
    if (!window.chrome) {
        window.chrome = { runtime: {} };
    }
    const originalQuery = window.navigator.permissions.query;
    window.navigator.permissions.query = (parameters) => (
        parameters.name === 'notifications' ?
            Promise.resolve({ state: Notification.permission }) :
            originalQuery(parameters)
    );
})();
`

// ChromeLauncher starts Chrome sessions through chromedp with a randomized
// user agent, window size and accept-language per session.
type ChromeLauncher struct {
	cfg   LaunchConfig
	log   zerolog.Logger
	sleep SleepFunc
	run   func(ctx context.Context, actions ...chromedp.Action) error
}

// NewChromeLauncher returns a launcher. Zero fields fall back to defaults.
func NewChromeLauncher(cfg LaunchConfig, log zerolog.Logger) *ChromeLauncher {
	def := DefaultLaunchConfig()
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = def.PageLoadTimeout
	}
	if cfg.StartAttempts <= 0 {
		cfg.StartAttempts = def.StartAttempts
	}
	if cfg.StartRetryPause < 0 {
		cfg.StartRetryPause = def.StartRetryPause
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = def.UserAgents
	}
	if len(cfg.WindowSizes) == 0 {
		cfg.WindowSizes = def.WindowSizes
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = def.Languages
	}
	return &ChromeLauncher{cfg: cfg, log: log, sleep: Sleep, run: chromedp.Run}
}

// Launch starts a session, retrying up to StartAttempts times.
func (l *ChromeLauncher) Launch(ctx context.Context) (Driver, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.StartAttempts; attempt++ {
		d, err := l.launchOnce(ctx)
		if err == nil {
			return d, nil
		}
		lastErr = err
		l.log.Warn().Err(err).Int("attempt", attempt).Msg("browser start failed")

		if attempt < l.cfg.StartAttempts {
			if err := l.sleep(ctx, l.cfg.StartRetryPause); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("browser: failed to start after %d attempts: %w", l.cfg.StartAttempts, lastErr)
}

func (l *ChromeLauncher) launchOnce(ctx context.Context) (*chromeDriver, error) {
	ua := l.cfg.UserAgents[rand.IntN(len(l.cfg.UserAgents))]
	size := l.cfg.WindowSizes[rand.IntN(len(l.cfg.WindowSizes))]
	lang := l.cfg.Languages[rand.IntN(len(l.cfg.Languages))]

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("accept-lang", lang),
		chromedp.WindowSize(size.Width, size.Height),
		chromedp.UserAgent(ua),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}

	// The session outlives the launch call, so it hangs off Background and
	// is torn down by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	d := &chromeDriver{
		ctx:             browserCtx,
		cancel:          browserCancel,
		allocCancel:     allocCancel,
		pageLoadTimeout: l.cfg.PageLoadTimeout,
	}

	// The first Run allocates the process and ties it to the context it is
	// given, so it must be the session context itself. The start timeout and
	// the caller's cancellation tear the allocator down instead.
	timer := time.AfterFunc(l.cfg.PageLoadTimeout, allocCancel)
	stop := context.AfterFunc(ctx, allocCancel)

	err := l.run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(sessionScript).Do(ctx)
			return err
		}),
	)
	expired := !timer.Stop()
	cancelled := !stop()
	if err == nil && (expired || cancelled) {
		err = errors.New("start interrupted by timeout or cancellation")
	}
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("browser: starting chrome: %w", err)
	}

	l.log.Info().
		Str("user_agent", ua).
		Str("window", strconv.Itoa(size.Width)+"x"+strconv.Itoa(size.Height)).
		Str("lang", lang).
		Msg("browser started")
	return d, nil
}

type chromeDriver struct {
	ctx             context.Context
	cancel          context.CancelFunc
	allocCancel     context.CancelFunc
	pageLoadTimeout time.Duration
}

// bound derives a context from the session that also ends when caller ends.
func (d *chromeDriver) bound(caller context.Context, timeout time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithTimeout(d.ctx, timeout)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (d *chromeDriver) run(caller context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if d.ctx.Err() != nil {
		return ErrDriverLost
	}
	ctx, stop := d.bound(caller, timeout)
	defer stop()

	err := chromedp.Run(ctx, actions...)
	if err != nil && d.ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrDriverLost, err)
	}
	if err != nil && errors.Is(err, chromedp.ErrInvalidContext) {
		return fmt.Errorf("%w: %w", ErrDriverLost, err)
	}
	return err
}

func (d *chromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, d.pageLoadTimeout, chromedp.Navigate(url))
}

func (d *chromeDriver) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, 10*time.Second, chromedp.Evaluate(
		`document.documentElement ? document.documentElement.outerHTML : ""`, &html))
	return html, err
}

func (d *chromeDriver) Scroll(ctx context.Context, y int) error {
	var ok bool
	return d.run(ctx, 5*time.Second, chromedp.Evaluate(
		fmt.Sprintf("window.scrollTo(0, %d); true", y), &ok))
}

func (d *chromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, 15*time.Second, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// Close shuts the browser down, killing the process if a graceful
// shutdown does not finish within five seconds.
func (d *chromeDriver) Close() error {
	var proc *os.Process
	if c := chromedp.FromContext(d.ctx); c != nil && c.Browser != nil {
		proc = c.Browser.Process()
	}

	done := make(chan struct{})
	go func() {
		d.cancel()
		d.allocCancel()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		if proc != nil {
			return proc.Kill()
		}
		return nil
	}
}
