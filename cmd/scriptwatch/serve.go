package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hakim/scriptwatch/internal/api"
	"github.com/hakim/scriptwatch/internal/logger"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Serve the scanner over HTTP.

  GET    /healthz              liveness and whether a batch is running
  GET    /quarantine           block counts and quarantined domains
  DELETE /quarantine/{domain}  release a domain for re-testing
  POST   /scans                run a batch; streams NDJSON progress/result/completed events
  GET    /metrics              prometheus metrics

Only one batch runs at a time; a second POST /scans gets 409.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		presetName, _ := cmd.Flags().GetString("preset")
		if addr == "" {
			addr = cfg.Server.Addr
		}

		a, err := newApp(cfg, presetName)
		if err != nil {
			return err
		}
		defer a.Close()

		log := logger.Named("api")
		srv := api.New(a.orch, a.tracker, a.metrics.Handler(), log)
		if cfg.Notify.WebhookURL != "" {
			notifyCfg := pipeline.NotifyConfig{WebhookURL: cfg.Notify.WebhookURL}
			srv.OnComplete = func(meta *models.BatchMeta) {
				if err := notifyCfg.SendCompletion(context.Background(), meta, a.tracker.ListQuarantined()); err != nil {
					log.Warn().Err(err).Msg("webhook notification failed")
				}
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().String("preset", "", "Pacing preset for batches")
	rootCmd.AddCommand(serveCmd)
}
