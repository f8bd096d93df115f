package main

import (
	"fmt"
	"time"

	"github.com/hakim/scriptwatch/internal/blocktrack"
	"github.com/hakim/scriptwatch/internal/browser"
	"github.com/hakim/scriptwatch/internal/config"
	"github.com/hakim/scriptwatch/internal/logger"
	"github.com/hakim/scriptwatch/internal/metrics"
	"github.com/hakim/scriptwatch/internal/pipeline"
	"github.com/hakim/scriptwatch/internal/probe"
	"github.com/hakim/scriptwatch/internal/storage"
)

// app holds the long-lived pieces shared by scan and serve.
type app struct {
	cfg     *config.Config
	store   *storage.Store
	tracker *blocktrack.Tracker
	metrics *metrics.Collector
	orch    *pipeline.Orchestrator
	preset  pipeline.Preset
}

// openTracker opens the block tracker described by cfg.
func openTracker(cfg *config.Config) *blocktrack.Tracker {
	return blocktrack.Open(cfg.BlockFile,
		blocktrack.WithThreshold(cfg.Blocks.Threshold),
		blocktrack.WithWindow(config.Duration(cfg.Blocks.Window, 7*24*time.Hour)),
		blocktrack.WithLogger(logger.Named("blocktrack")),
	)
}

// newApp wires every component from configuration. presetName overrides
// the configured preset when non-empty.
func newApp(cfg *config.Config, presetName string) (*app, error) {
	if presetName == "" {
		presetName = cfg.Batch.Preset
	}
	preset, err := pipeline.GetPreset(presetName)
	if err != nil {
		return nil, err
	}

	if err := storage.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tracker := openTracker(cfg)
	m := metrics.New()
	m.SetQuarantined(len(tracker.ListQuarantined()))

	tbl := cfg.RuleTable()
	vendors := cfg.VendorClassifier()
	browserLog := logger.Named("browser")

	var evidence browser.EvidenceSaver
	if cfg.Verify.Screenshots {
		evidence = browser.NewEvidenceWriter(cfg.EvidenceDir)
	}

	verifier := browser.NewVerifier(
		cfg.VerifierConfig(),
		tbl,
		vendors,
		browser.NewWarmer(cfg.Verify.WarmPatterns, browserLog),
		evidence,
		browserLog,
	)

	pcfg := preset.Apply(pipeline.Config{
		RestartEvery: cfg.Browser.RestartEvery,
		RestartPause: config.Duration(cfg.Browser.RestartPause, 0),
	})

	orch, err := pipeline.New(pcfg, pipeline.Deps{
		Prober:   probe.New(cfg.ProberConfig(), tbl, vendors, logger.Named("probe")),
		Verifier: verifier,
		Launcher: browser.NewChromeLauncher(cfg.LaunchConfig(), browserLog),
		Tracker:  tracker,
		Store:    store,
		Observer: m,
		Log:      logger.Named("pipeline"),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		metrics: m,
		orch:    orch,
		preset:  preset,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Printf("[!] Warning: closing database: %v\n", err)
	}
}
