package browser

import (
	"context"
	"strings"
	"sync"
	"time"
)

// fakeDriver serves canned markup keyed by how many navigations to the
// target have happened.
type fakeDriver struct {
	mu sync.Mutex

	// pages[i] is the markup after the (i+1)th navigation; the last entry
	// repeats.
	pages   []string
	navErrs []error

	navigated []string
	scrolls   []int
	shots     int
	closed    bool
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	if n := len(f.navigated) - 1; n < len(f.navErrs) && f.navErrs[n] != nil {
		return f.navErrs[n]
	}
	if len(f.navErrs) > 0 && len(f.navigated) > len(f.navErrs) && f.navErrs[len(f.navErrs)-1] != nil {
		return f.navErrs[len(f.navErrs)-1]
	}
	return nil
}

func (f *fakeDriver) HTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pages) == 0 {
		return "<html></html>", nil
	}
	i := len(f.navigated) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(f.pages) {
		i = len(f.pages) - 1
	}
	return f.pages[i], nil
}

func (f *fakeDriver) Scroll(_ context.Context, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls = append(f.scrolls, y)
	return nil
}

func (f *fakeDriver) Screenshot(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shots++
	return []byte("\x89PNG fake"), nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func scripts(path string, n int) string {
	return strings.Repeat(`<script src="https://`+path+`"></script>`, n)
}

func htmlPage(head, body string) string {
	return "<html><head>" + head + "</head><body>" + body + "</body></html>"
}
