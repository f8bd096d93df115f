package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hakim/scriptwatch/internal/browser"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/probe"
)

type fakeProber struct {
	mu       sync.Mutex
	outcomes map[string]probe.Outcome
	calls    []string
	hook     func(url string)
}

func (f *fakeProber) Probe(_ context.Context, url string) probe.Outcome {
	if f.hook != nil {
		f.hook(url)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if out, ok := f.outcomes[url]; ok {
		return out
	}
	return probe.Outcome{Reason: probe.ReasonNoSignature}
}

func passOutcome() probe.Outcome {
	return probe.Outcome{Verdict: &models.Verdict{
		Status:   models.StatusPass,
		Message:  "Found via HTTP: cdn.example/sdk.js",
		Category: models.CategorySTD,
		Vendor:   "Other",
	}}
}

// fakeVerifier answers per URL. A verdict func may return an error or panic.
type fakeVerifier struct {
	mu      sync.Mutex
	answers map[string]func(d browser.Driver) (models.Verdict, error)
	seen    []browser.Driver
}

func (f *fakeVerifier) Verify(_ context.Context, d browser.Driver, job models.ScanJob) (models.Verdict, error) {
	f.mu.Lock()
	f.seen = append(f.seen, d)
	fn, ok := f.answers[job.TargetURL]
	f.mu.Unlock()
	if !ok {
		return models.Verdict{Status: models.StatusPass, Message: "Perfect (Rule of 2)", Category: models.CategorySPA, Vendor: "Other"}, nil
	}
	return fn(d)
}

type stubDriver struct {
	mu     sync.Mutex
	closed bool
}

func (s *stubDriver) Navigate(context.Context, string) error { return nil }
func (s *stubDriver) HTML(context.Context) (string, error) { return "<html></html>", nil }
func (s *stubDriver) Scroll(context.Context, int) error { return nil }
func (s *stubDriver) Screenshot(context.Context) ([]byte, error) { return nil, nil }

func (s *stubDriver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubDriver) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeLauncher struct {
	mu      sync.Mutex
	drivers []*stubDriver
	err     error
}

func (f *fakeLauncher) Launch(context.Context) (browser.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d := &stubDriver{}
	f.drivers = append(f.drivers, d)
	return d, nil
}

// memTracker is an in-memory BlockTracker.
type memTracker struct {
	mu          sync.Mutex
	threshold   int
	blocks      map[string]int
	quarantined map[string]bool
	successes   []string
}

func newMemTracker() *memTracker {
	return &memTracker{threshold: 3, blocks: map[string]int{}, quarantined: map[string]bool{}}
}

func (m *memTracker) IsQuarantined(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quarantined[url]
}

func (m *memTracker) RecordBlock(url string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[url]++
	n := m.blocks[url]
	if n >= m.threshold && !m.quarantined[url] {
		m.quarantined[url] = true
		return n, true, nil
	}
	return n, false, nil
}

func (m *memTracker) RecordSuccess(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, url)
	delete(m.blocks, url)
	return nil
}

func (m *memTracker) ListQuarantined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for u := range m.quarantined {
		out = append(out, u)
	}
	return out
}

func (m *memTracker) Threshold() int { return m.threshold }

type memStore struct {
	mu      sync.Mutex
	batches []models.BatchStatus
	results map[string][]models.ScanResult
}

func (m *memStore) SaveBatch(meta *models.BatchMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, meta.Status)
	return nil
}

func (m *memStore) SaveResult(batchID string, r models.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string][]models.ScanResult{}
	}
	m.results[batchID] = append(m.results[batchID], r)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

type harness struct {
	prober   *fakeProber
	verifier *fakeVerifier
	launcher *fakeLauncher
	tracker  BlockTracker
	store    *memStore
}

func newHarness() *harness {
	return &harness{
		prober:   &fakeProber{outcomes: map[string]probe.Outcome{}},
		verifier: &fakeVerifier{answers: map[string]func(browser.Driver) (models.Verdict, error){}},
		launcher: &fakeLauncher{},
		tracker:  newMemTracker(),
		store:    &memStore{},
	}
}

func (h *harness) orchestrator(cfg Config) *Orchestrator {
	o, err := New(cfg, Deps{
		Prober:   h.prober,
		Verifier: h.verifier,
		Launcher: h.launcher,
		Tracker:  h.tracker,
		Store:    h.store,
		Log:      zerolog.Nop(),
	})
	if err != nil {
		panic(err)
	}
	return o.WithSleep(noSleep)
}

func jobsFor(urls ...string) []models.ScanJob {
	out := make([]models.ScanJob, len(urls))
	for i, u := range urls {
		out[i] = models.ScanJob{Position: i, DisplayName: "site " + u, TargetURL: u}
	}
	return out
}

func collect(events *[]Event) func(Event) {
	return func(ev Event) { *events = append(*events, ev) }
}

func results(events []Event) []models.ScanResult {
	var out []models.ScanResult
	for _, ev := range events {
		if ev.Kind == EventResult {
			out = append(out, *ev.Result)
		}
	}
	return out
}

func percents(events []Event) []int {
	var out []int
	for _, ev := range events {
		if ev.Kind == EventProgress {
			out = append(out, ev.Percent)
		}
	}
	return out
}
