package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hakim/scriptwatch/internal/jobs"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/pipeline"
	"github.com/hakim/scriptwatch/internal/report"
	"github.com/hakim/scriptwatch/internal/storage"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Verify a batch of sites",
	Long: `Run a verification batch over a job file or a single URL.

Every site is tried with a quick HTTP probe first. Sites the probe cannot settle
are verified in a browser. Results are printed as they arrive, stored in the
history database and, unless --no-report is set, written as markdown and XLSX
reports.

Job files may be YAML or JSON (a list of {name, url, reference,
expected_provider}) or plain text with one URL per line.

Press Ctrl-C once to stop after the current site.

Examples:
  scriptwatch scan -f dealers.yaml
  scriptwatch scan -u https://www.example-motors.com
  scriptwatch scan -f dealers.yaml --preset careful
  scriptwatch scan -f dealers.txt --scope "*.group.example,example-motors.com"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// ── 1. Read all flags ──────────────────────────────────────────────────
		jobsFile, _ := cmd.Flags().GetString("jobs")
		single, _ := cmd.Flags().GetString("url")
		presetName, _ := cmd.Flags().GetString("preset")
		scopeFlag, _ := cmd.Flags().GetString("scope")
		reportDir, _ := cmd.Flags().GetString("report-dir")
		noReport, _ := cmd.Flags().GetBool("no-report")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		webhookURL, _ := cmd.Flags().GetString("notify-webhook")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		if (jobsFile == "") == (single == "") {
			return errors.New("exactly one of --jobs or --url is required")
		}
		if webhookURL == "" {
			webhookURL = cfg.Notify.WebhookURL
		}
		if reportDir == "" {
			reportDir = cfg.DataDir
		}

		// ── 2. Load jobs ───────────────────────────────────────────────────────
		var list []models.ScanJob
		if single != "" {
			job, err := jobs.FromURL(single)
			if err != nil {
				return fmt.Errorf("invalid --url: %w", err)
			}
			list = []models.ScanJob{job}
		} else {
			var err error
			list, err = jobs.Load(jobsFile)
			if err != nil {
				return err
			}
		}

		// ── 3. Scope filter ────────────────────────────────────────────────────
		if scopeFlag != "" {
			scope := pipeline.ScopeConfig{AllowedDomains: splitCSV(scopeFlag)}
			in, out := scope.FilterJobs(list)
			for _, j := range out {
				fmt.Printf("[!] Skipping out-of-scope site: %s (%s)\n", j.DisplayName, j.TargetURL)
			}
			if len(in) == 0 {
				return errors.New("no jobs left after scope filter")
			}
			list = in
		}

		// ── 4. Build components ────────────────────────────────────────────────
		a, err := newApp(cfg, presetName)
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Printf("[*] Using preset: %s (%s)\n", a.preset.Name, a.preset.Description)

		if q := len(a.tracker.ListQuarantined()); q > 0 {
			fmt.Printf("[*] %d domain(s) quarantined; matching sites will be reported without scanning\n", q)
		}

		// ── 5. Optional metrics endpoint ──────────────────────────────────────
		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fmt.Printf("[!] Warning: metrics endpoint: %v\n", err)
				}
			}()
			defer srv.Close()
			fmt.Printf("[*] Metrics on http://%s/metrics\n", metricsAddr)
		}

		// ── 6. Run the batch ───────────────────────────────────────────────────
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		fmt.Printf("[*] Verifying %d site(s)\n", len(list))
		batch := a.orch.Start(ctx, list)

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)
		go func() {
			if _, ok := <-sigCh; !ok {
				return
			}
			fmt.Println("\n[!] Stopping after the current site (Ctrl-C again to abort)")
			batch.Stop()
			if _, ok := <-sigCh; ok {
				cancel()
			}
		}()

		var results []models.ScanResult
		for ev := range batch.Events() {
			if ev.Kind != pipeline.EventResult {
				continue
			}
			r := *ev.Result
			results = append(results, r)
			printResult(len(results), len(list), r)
		}
		meta := batch.Wait()

		// ── 7. Reports (non-fatal) ─────────────────────────────────────────────
		quarantined := a.tracker.ListQuarantined()
		if !noReport && len(results) > 0 {
			writeReports(reportDir, meta, results, quarantined)
		}

		// ── 8. Webhook notification (non-fatal) ────────────────────────────────
		if webhookURL != "" {
			notifyCfg := pipeline.NotifyConfig{WebhookURL: webhookURL}
			if notifyErr := notifyCfg.SendCompletion(context.Background(), meta, quarantined); notifyErr != nil {
				fmt.Printf("[!] Warning: webhook notification failed: %v\n", notifyErr)
			} else {
				fmt.Printf("[+] Completion notification sent to %s\n", webhookURL)
			}
		}

		// ── 9. Print final summary ─────────────────────────────────────────────
		printSummary(meta)
		return nil
	},
}

func init() {
	scanCmd.Flags().StringP("jobs", "f", "", "Job file (YAML, JSON or one URL per line)")
	scanCmd.Flags().StringP("url", "u", "", "Verify a single URL")
	scanCmd.Flags().String("preset", "", "Pacing preset: "+strings.Join(pipeline.PresetNames(), ", "))
	scanCmd.Flags().String("scope", "", "Comma-separated allowed domain patterns (e.g. example.com,*.example.com)")
	scanCmd.Flags().String("report-dir", "", "Directory for reports (default: data_dir)")
	scanCmd.Flags().Bool("no-report", false, "Skip markdown and XLSX reports")
	scanCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address while scanning")
	scanCmd.Flags().String("notify-webhook", "", "HTTP webhook URL to POST a completion summary to")
	scanCmd.Flags().Duration("timeout", 12*time.Hour, "Hard limit for the whole batch")

	rootCmd.AddCommand(scanCmd)
}

// ── Package-level helpers ──────────────────────────────────────────────────────

// printResult prints one result line as it arrives.
func printResult(n, total int, r models.ScanResult) {
	fmt.Printf("[%d/%d] %s %s %s\n",
		n, total, statusLabel(r.Status), r.DisplayName,
		dimStyle.Render(fmt.Sprintf("%s | %s | %s", r.Message, r.Vendor, r.Method)))
}

func writeReports(dir string, meta *models.BatchMeta, results []models.ScanResult, quarantined []string) {
	mdPath := storage.ReportPath(dir, meta.StartedAt, "md")
	if err := storage.EnsureParent(mdPath); err != nil {
		fmt.Printf("[!] Warning: creating report directory: %v\n", err)
		return
	}
	if err := report.WriteBatchReport(meta, results, quarantined, mdPath); err != nil {
		fmt.Printf("[!] Warning: markdown report failed: %v\n", err)
	} else {
		fmt.Printf("[+] Report written to %s\n", mdPath)
	}

	xlsxPath := storage.ReportPath(dir, meta.StartedAt, "xlsx")
	if err := report.WriteWorkbook(meta, results, xlsxPath); err != nil {
		fmt.Printf("[!] Warning: workbook export failed: %v\n", err)
	} else {
		fmt.Printf("[+] Workbook written to %s\n", xlsxPath)
	}
}

func printSummary(meta *models.BatchMeta) {
	fmt.Println()
	if meta.Status == models.BatchCancelled {
		fmt.Printf("[!] Batch stopped early\n")
	} else {
		fmt.Printf("[+] Batch complete!\n")
	}
	fmt.Printf("    Batch ID:  %s\n", meta.ID)
	fmt.Printf("    Processed: %d of %d\n", meta.Processed, meta.Total)
	if meta.CompletedAt != nil {
		fmt.Printf("    Elapsed:   %s\n", meta.CompletedAt.Sub(meta.StartedAt).Round(time.Second))
	}
	for _, st := range models.Statuses {
		if n := meta.Counts[st]; n > 0 {
			fmt.Printf("    %s %d\n", statusLabel(st), n)
		}
	}
}

// splitCSV splits a comma-separated string into a trimmed, non-empty slice.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
