// Package blocktrack remembers which domains keep blocking the browser and
// quarantines them once they cross a threshold inside a trailing window.
//
// State lives in a single JSON file that is rewritten whole on every change.
// A missing or unreadable file starts the tracker empty.
package blocktrack

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultThreshold = 3
	DefaultWindow    = 7 * 24 * time.Hour
)

// fileState is the on-disk layout. Unknown fields are ignored on load.
type fileState struct {
	History      map[string][]string `json:"history"`
	Unverifiable []string            `json:"unverifiable"`
	LastUpdated  string              `json:"last_updated"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	path      string
	threshold int
	window    time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu          sync.Mutex
	history     map[string][]time.Time
	quarantined map[string]struct{}
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithThreshold sets the block count that triggers quarantine.
func WithThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithWindow sets the trailing window block events are counted in.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used for load and save warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// Open loads the tracker state at path. A missing or corrupt file is not an
// error; the tracker starts empty and the first change rewrites the file.
func Open(path string, opts ...Option) *Tracker {
	t := &Tracker{
		path:        path,
		threshold:   DefaultThreshold,
		window:      DefaultWindow,
		now:         time.Now,
		log:         zerolog.Nop(),
		history:     make(map[string][]time.Time),
		quarantined: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.load()
	return t
}

// Threshold returns the quarantine threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// NormalizeDomain reduces a URL to its tracking key: the lowercased host
// (with port, if any) without a leading "www.". Bare hostnames are accepted.
func NormalizeDomain(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	host := ""
	if u, err := url.Parse(s); err == nil {
		host = u.Host
	}
	if host == "" {
		host = strings.TrimSpace(raw)
	}
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

// IsQuarantined reports whether the domain of rawURL is quarantined.
// Quarantine holds until RecordSuccess or Reset clears it.
func (t *Tracker) IsQuarantined(rawURL string) bool {
	domain := NormalizeDomain(rawURL)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.quarantined[domain]
	return ok
}

// BlockCount returns the number of block events inside the window.
func (t *Tracker) BlockCount(rawURL string) int {
	domain := NormalizeDomain(rawURL)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pruneLocked(domain))
}

// RecordBlock appends a block event for the domain of rawURL and returns the
// windowed count and whether this event moved the domain into quarantine.
func (t *Tracker) RecordBlock(rawURL string) (int, bool, error) {
	domain := NormalizeDomain(rawURL)

	t.mu.Lock()
	defer t.mu.Unlock()

	events := append(t.pruneLocked(domain), t.now())
	t.history[domain] = events

	newly := false
	if len(events) >= t.threshold {
		if _, already := t.quarantined[domain]; !already {
			t.quarantined[domain] = struct{}{}
			newly = true
		}
	}

	if err := t.saveLocked(); err != nil {
		return len(events), newly, err
	}
	return len(events), newly, nil
}

// RecordSuccess clears all block history and quarantine for the domain.
// It only writes when there was something to clear.
func (t *Tracker) RecordSuccess(rawURL string) error {
	_, err := t.Reset(rawURL)
	return err
}

// Reset clears the domain for re-testing and reports whether anything changed.
func (t *Tracker) Reset(rawURL string) (bool, error) {
	domain := NormalizeDomain(rawURL)

	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	if _, ok := t.quarantined[domain]; ok {
		delete(t.quarantined, domain)
		changed = true
	}
	if _, ok := t.history[domain]; ok {
		delete(t.history, domain)
		changed = true
	}
	if !changed {
		return false, nil
	}
	return true, t.saveLocked()
}

// ListQuarantined returns quarantined domains in sorted order.
func (t *Tracker) ListQuarantined() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedQuarantineLocked()
}

// Snapshot returns the windowed block counts for every domain with history.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int, len(t.history))
	for domain := range t.history {
		if n := len(t.pruneLocked(domain)); n > 0 {
			out[domain] = n
		}
	}
	return out
}

func (t *Tracker) pruneLocked(domain string) []time.Time {
	events := t.history[domain]
	if len(events) == 0 {
		return nil
	}
	cutoff := t.now().Add(-t.window)
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(t.history, domain)
		return nil
	}
	t.history[domain] = kept
	return kept
}

func (t *Tracker) sortedQuarantineLocked() []string {
	out := make([]string, 0, len(t.quarantined))
	for d := range t.quarantined {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.log.Warn().Err(err).Str("path", t.path).Msg("block history unreadable, starting empty")
		}
		return
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		t.log.Warn().Err(err).Str("path", t.path).Msg("block history corrupt, starting empty")
		return
	}

	for domain, stamps := range st.History {
		for _, s := range stamps {
			ts, err := parseTimestamp(s)
			if err != nil {
				continue
			}
			t.history[domain] = append(t.history[domain], ts)
		}
	}
	for _, d := range st.Unverifiable {
		t.quarantined[d] = struct{}{}
	}
}

func (t *Tracker) saveLocked() error {
	st := fileState{
		History:      make(map[string][]string, len(t.history)),
		Unverifiable: t.sortedQuarantineLocked(),
		LastUpdated:  t.now().Format(time.RFC3339Nano),
	}
	for domain, events := range t.history {
		stamps := make([]string, 0, len(events))
		for _, ts := range events {
			stamps = append(stamps, ts.Format(time.RFC3339Nano))
		}
		st.History[domain] = stamps
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("blocktrack: marshaling state: %w", err)
	}
	if err := writeAtomic(t.path, data); err != nil {
		t.log.Warn().Err(err).Str("path", t.path).Msg("could not persist block history")
		return err
	}
	return nil
}

// writeAtomic replaces path with data via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("blocktrack: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("blocktrack: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("blocktrack: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blocktrack: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blocktrack: replacing %s: %w", path, err)
	}
	return nil
}

// Older files carry naive local timestamps without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if layout == time.RFC3339Nano {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
			continue
		}
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("blocktrack: unrecognised timestamp %q", s)
}
