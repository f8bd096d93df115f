package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/scriptwatch/internal/blocktrack"
	"github.com/hakim/scriptwatch/internal/browser"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/probe"
)

func blocked(browser.Driver) (models.Verdict, error) {
	return models.Verdict{
		Status:   models.StatusBlocked,
		Message:  "Bot Detection / CAPTCHA",
		Category: models.CategoryErr,
		Vendor:   "Security Block",
	}, nil
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{Log: zerolog.Nop()})
	require.Error(t, err)
}

func TestQuickPassSkipsBrowser(t *testing.T) {
	h := newHarness()
	h.prober.outcomes["https://a.example/"] = passOutcome()

	var events []Event
	meta := h.orchestrator(Config{}).Run(context.Background(), jobsFor("https://a.example/"), collect(&events))

	require.Len(t, events, 3)
	assert.Equal(t, EventResult, events[0].Kind)
	assert.Equal(t, EventProgress, events[1].Kind)
	assert.Equal(t, 100, events[1].Percent)
	assert.Equal(t, EventCompleted, events[2].Kind)

	r := events[0].Result
	assert.Equal(t, models.StatusPass, r.Status)
	assert.Equal(t, models.MethodQuick, r.Method)
	assert.Equal(t, "Found via HTTP: cdn.example/sdk.js", r.Message)

	assert.Empty(t, h.launcher.drivers)
	assert.Empty(t, h.tracker.(*memTracker).successes)
	assert.Equal(t, models.BatchComplete, meta.Status)
	assert.Equal(t, 1, meta.Counts[models.StatusPass])
}

func TestQuarantinedJobSkipsBothTiers(t *testing.T) {
	h := newHarness()
	h.tracker.(*memTracker).quarantined["https://q.example/"] = true

	var events []Event
	h.orchestrator(Config{}).Run(context.Background(), jobsFor("https://q.example/"), collect(&events))

	got := results(events)
	require.Len(t, got, 1)
	assert.Equal(t, models.StatusUnverifiable, got[0].Status)
	assert.Equal(t, "Manual Required", got[0].Vendor)
	assert.Equal(t, "Site blocks automation. Manual check required.", got[0].Message)
	assert.Equal(t, models.MethodTracker, got[0].Method)
	assert.Empty(t, h.prober.calls)
	assert.Empty(t, h.launcher.drivers)
}

func TestRepeatedBlocksEscalate(t *testing.T) {
	h := newHarness()
	h.tracker = blocktrack.Open(filepath.Join(t.TempDir(), "blocks.json"), blocktrack.WithThreshold(3))
	url := "https://www.guarded.example/inventory"
	h.verifier.answers[url] = blocked

	var events []Event
	h.orchestrator(Config{RestartEvery: 10}).Run(context.Background(), jobsFor(url, url, url), collect(&events))

	got := results(events)
	require.Len(t, got, 3)
	assert.Equal(t, "Bot Detection / CAPTCHA (1/3)", got[0].Message)
	assert.Equal(t, models.StatusBlocked, got[0].Status)
	assert.Equal(t, "Bot Detection / CAPTCHA (2/3)", got[1].Message)

	assert.Equal(t, models.StatusUnverifiable, got[2].Status)
	assert.Equal(t, "Blocked 3x. Manual verification required.", got[2].Message)
	assert.Equal(t, "Persistent Block", got[2].Vendor)
	assert.True(t, h.tracker.IsQuarantined(url))

	// A later batch never reaches the probe.
	h.prober.calls = nil
	events = nil
	h.orchestrator(Config{}).Run(context.Background(), jobsFor(url), collect(&events))
	assert.Empty(t, h.prober.calls)
	assert.Equal(t, models.StatusUnverifiable, results(events)[0].Status)
}

func TestBrowserRestartsOnSchedule(t *testing.T) {
	h := newHarness()
	urls := []string{"https://1.example/", "https://2.example/", "https://3.example/", "https://4.example/",
		"https://5.example/", "https://6.example/", "https://7.example/"}

	h.orchestrator(Config{RestartEvery: 3}).Run(context.Background(), jobsFor(urls...), nil)

	require.Len(t, h.launcher.drivers, 3)
	for _, d := range h.launcher.drivers {
		assert.True(t, d.isClosed())
	}
	require.Len(t, h.verifier.seen, 7)
	assert.Same(t, h.verifier.seen[0], h.verifier.seen[2])
	assert.NotSame(t, h.verifier.seen[2], h.verifier.seen[3])
	assert.Same(t, h.verifier.seen[3], h.verifier.seen[5])
	assert.NotSame(t, h.verifier.seen[5], h.verifier.seen[6])
}

func TestBrowserCrashRecovers(t *testing.T) {
	cases := map[string]func(browser.Driver) (models.Verdict, error){
		"driver lost": func(browser.Driver) (models.Verdict, error) {
			return models.Verdict{}, browser.ErrDriverLost
		},
		"panic": func(browser.Driver) (models.Verdict, error) {
			panic("renderer died")
		},
	}
	for name, crash := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			h.verifier.answers["https://b.example/"] = crash

			var events []Event
			meta := h.orchestrator(Config{}).Run(context.Background(),
				jobsFor("https://a.example/", "https://b.example/", "https://c.example/"), collect(&events))

			got := results(events)
			require.Len(t, got, 3)
			assert.Equal(t, models.StatusPass, got[0].Status)
			assert.Equal(t, models.StatusError, got[1].Status)
			assert.Equal(t, "Browser crashed/Recovered", got[1].Message)
			assert.Equal(t, models.CategoryErr, got[1].Category)
			assert.Equal(t, "ERR", got[1].Vendor)
			assert.Equal(t, models.StatusPass, got[2].Status)

			require.Len(t, h.launcher.drivers, 2)
			assert.True(t, h.launcher.drivers[0].isClosed())
			assert.True(t, h.launcher.drivers[1].isClosed())
			assert.Equal(t, models.BatchComplete, meta.Status)
		})
	}
}

func TestLaunchFailureFailsRemainingJobs(t *testing.T) {
	h := newHarness()
	h.launcher.err = errors.New("chrome not found")
	h.prober.outcomes["https://a.example/"] = passOutcome()

	var events []Event
	meta := h.orchestrator(Config{}).Run(context.Background(),
		jobsFor("https://a.example/", "https://b.example/", "https://c.example/"), collect(&events))

	got := results(events)
	require.Len(t, got, 3)
	assert.Equal(t, models.StatusPass, got[0].Status)
	for _, r := range got[1:] {
		assert.Equal(t, models.StatusError, r.Status)
		assert.Contains(t, r.Message, "chrome not found")
	}
	assert.Equal(t, models.BatchComplete, meta.Status)
}

func TestProgressAfterEveryJob(t *testing.T) {
	h := newHarness()
	for _, u := range []string{"https://a.example/", "https://b.example/", "https://c.example/"} {
		h.prober.outcomes[u] = passOutcome()
	}

	var events []Event
	h.orchestrator(Config{}).Run(context.Background(),
		jobsFor("https://a.example/", "https://b.example/", "https://c.example/"), collect(&events))

	assert.Equal(t, []int{33, 66, 100}, percents(events))
	got := results(events)
	for i, r := range got {
		assert.Equal(t, i, r.Position)
	}
}

func TestResultsArePersisted(t *testing.T) {
	h := newHarness()
	h.prober.outcomes["https://a.example/"] = passOutcome()

	meta := h.orchestrator(Config{Preset: "fast"}).Run(context.Background(),
		jobsFor("https://a.example/", "https://b.example/"), nil)

	assert.Equal(t, []models.BatchStatus{models.BatchRunning, models.BatchComplete}, h.store.batches)
	assert.Len(t, h.store.results[meta.ID], 2)
	assert.Equal(t, "fast", meta.Preset)
}

func TestStopHaltsBetweenJobs(t *testing.T) {
	h := newHarness()
	h.prober.outcomes["https://a.example/"] = passOutcome()
	entered := make(chan struct{})
	gate := make(chan struct{})
	h.prober.hook = func(url string) {
		if url == "https://a.example/" {
			close(entered)
			<-gate
		}
	}

	b := h.orchestrator(Config{}).Start(context.Background(), jobsFor("https://a.example/", "https://b.example/"))
	<-entered
	b.Stop()
	close(gate)

	var events []Event
	for ev := range b.Events() {
		events = append(events, ev)
	}
	meta := b.Wait()

	assert.Len(t, results(events), 1)
	assert.Equal(t, []int{50}, percents(events))
	assert.Equal(t, EventCompleted, events[len(events)-1].Kind)
	assert.Equal(t, models.BatchCancelled, meta.Status)
	assert.Equal(t, 1, meta.Processed)
	assert.Empty(t, h.launcher.drivers)
}

func TestCancelDropsInFlightResult(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.verifier.answers["https://a.example/"] = func(browser.Driver) (models.Verdict, error) {
		cancel()
		return models.Verdict{Status: models.StatusPass}, nil
	}

	var events []Event
	meta := h.orchestrator(Config{}).Run(ctx, jobsFor("https://a.example/", "https://b.example/"), collect(&events))

	assert.Empty(t, results(events))
	assert.Equal(t, models.BatchCancelled, meta.Status)
	require.Len(t, h.launcher.drivers, 1)
	assert.True(t, h.launcher.drivers[0].isClosed())
}

func TestBrowserPassClearsBlockHistory(t *testing.T) {
	h := newHarness()
	mt := h.tracker.(*memTracker)
	mt.blocks["https://a.example/"] = 2

	h.orchestrator(Config{}).Run(context.Background(), jobsFor("https://a.example/"), nil)

	assert.Equal(t, []string{"https://a.example/"}, mt.successes)
	assert.Zero(t, mt.blocks["https://a.example/"])
}

func TestQuickProbeLeavesBlockHistoryUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.json")
	seed := blocktrack.Open(path)
	_, _, err := seed.RecordBlock("https://guarded.example/")
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	h := newHarness()
	tracker := blocktrack.Open(path)
	h.tracker = tracker
	h.launcher.err = errors.New("chrome not found")
	h.prober.outcomes["https://guarded.example/"] = passOutcome()
	h.prober.outcomes["https://a.example/"] = probe.Outcome{Verdict: &models.Verdict{
		Status: models.StatusFail, Message: "Missing script", Category: models.CategoryNone, Vendor: "Other",
	}}
	h.prober.outcomes["https://b.example/"] = probe.Outcome{Verdict: &models.Verdict{
		Status: models.StatusWarn, Message: "Count mismatch", Category: models.CategorySTD, Vendor: "Other",
	}}
	// c.example is inconclusive and never gets a browser.

	var events []Event
	h.orchestrator(Config{}).Run(context.Background(),
		jobsFor("https://guarded.example/", "https://a.example/", "https://b.example/", "https://c.example/"),
		collect(&events))

	require.Len(t, results(events), 4)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, 1, tracker.BlockCount("https://guarded.example/"))
}

func TestCallerPositionsPassThrough(t *testing.T) {
	h := newHarness()
	h.prober.outcomes["https://a.example/"] = passOutcome()
	h.prober.outcomes["https://b.example/"] = passOutcome()

	jobs := []models.ScanJob{
		{Position: 5, DisplayName: "A", TargetURL: "https://a.example/"},
		{Position: 9, DisplayName: "B", TargetURL: "https://b.example/"},
	}
	var events []Event
	h.orchestrator(Config{}).Run(context.Background(), jobs, collect(&events))

	got := results(events)
	require.Len(t, got, 2)
	assert.Equal(t, 5, got[0].Position)
	assert.Equal(t, 9, got[1].Position)
	assert.Equal(t, 5, jobs[0].Position)
}

func TestTruncateOnRuneBoundary(t *testing.T) {
	got := truncate("Browser unavailable: 設定が見つかりません", 25)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "Browser unavailable: 設", got)
}
