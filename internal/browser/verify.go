package browser

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/hakim/scriptwatch/internal/document"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/netfail"
	"github.com/hakim/scriptwatch/internal/rules"
	"github.com/hakim/scriptwatch/internal/vendor"
)

// DefaultBlockPhrases identify a bot-protection interstitial in the
// rendered page text or title.
var DefaultBlockPhrases = []string{
	"detected unusual activity",
	"unusual activity from your ip",
	"verify you are a human",
	"verify you are human",
	"access denied",
	"security challenge",
	"please enable cookies",
	"captcha-delivery",
	"challenge-platform",
	"just a moment...",
	"attention required",
	"cloudflare",
}

// VerifyConfig holds the verifier timings.
type VerifyConfig struct {
	MaxAttempts    int
	MaxWait        time.Duration
	Settle         time.Duration
	PollInterval   time.Duration
	RetryJitterMin time.Duration
	RetryJitterMax time.Duration
	BlockPhrases   []string
	Screenshots    bool
}

// DefaultVerifyConfig returns the production timings.
func DefaultVerifyConfig() VerifyConfig {
	return VerifyConfig{
		MaxAttempts:    2,
		MaxWait:        15 * time.Second,
		Settle:         3 * time.Second,
		PollInterval:   time.Second,
		RetryJitterMin: 3 * time.Second,
		RetryJitterMax: 8 * time.Second,
		BlockPhrases:   DefaultBlockPhrases,
		Screenshots:    true,
	}
}

// EvidenceSaver stores a screenshot for a non-passing result.
type EvidenceSaver interface {
	Save(ctx context.Context, d Driver, name string, status models.Status) (string, error)
}

// Verifier judges a page rendered in a real browser.
type Verifier struct {
	cfg      VerifyConfig
	rules    *rules.Table
	vendors  *vendor.Classifier
	warmer   *Warmer
	evidence EvidenceSaver
	sleep    SleepFunc
	log      zerolog.Logger
}

// NewVerifier builds a Verifier. evidence may be nil to disable screenshots.
func NewVerifier(cfg VerifyConfig, tbl *rules.Table, vendors *vendor.Classifier, warmer *Warmer, evidence EvidenceSaver, log zerolog.Logger) *Verifier {
	def := DefaultVerifyConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if len(cfg.BlockPhrases) == 0 {
		cfg.BlockPhrases = def.BlockPhrases
	}
	phrases := make([]string, len(cfg.BlockPhrases))
	for i, ph := range cfg.BlockPhrases {
		phrases[i] = strings.ToLower(ph)
	}
	cfg.BlockPhrases = phrases
	if tbl == nil {
		tbl = rules.DefaultTable()
	}
	if vendors == nil {
		vendors = vendor.NewClassifier(nil)
	}
	if warmer == nil {
		warmer = NewWarmer(nil, log)
	}
	return &Verifier{
		cfg:      cfg,
		rules:    tbl,
		vendors:  vendors,
		warmer:   warmer,
		evidence: evidence,
		sleep:    Sleep,
		log:      log,
	}
}

// WithSleep replaces the pause function for the verifier and its warmer.
func (v *Verifier) WithSleep(fn SleepFunc) *Verifier {
	v.sleep = fn
	v.warmer.sleep = fn
	return v
}

// Verify runs up to MaxAttempts attempts against job. A PASS returns
// immediately; otherwise the last attempt's verdict stands. The error is
// non-nil only when the browser itself is lost, in which case the verdict
// is meaningless and the session must be replaced.
func (v *Verifier) Verify(ctx context.Context, d Driver, job models.ScanJob) (models.Verdict, error) {
	var verdict models.Verdict
	log := v.log.With().Str("name", job.DisplayName).Str("url", job.TargetURL).Logger()

	for attempt := 1; attempt <= v.cfg.MaxAttempts; attempt++ {
		var err error
		verdict, err = v.attempt(ctx, d, job.TargetURL)
		if errors.Is(err, ErrDriverLost) {
			return models.Verdict{}, err
		}

		if err != nil {
			verdict = failureVerdict(err)
		}
		if verdict.Status == models.StatusPass {
			return verdict, nil
		}

		if attempt < v.cfg.MaxAttempts {
			log.Info().
				Int("attempt", attempt).
				Str("status", string(verdict.Status)).
				Msg("attempt did not pass, retrying")
			if err := v.sleep(ctx, between(v.cfg.RetryJitterMin, v.cfg.RetryJitterMax)); err != nil {
				return verdict, nil
			}
			continue
		}

		// Evidence is only meaningful when a page was actually judged.
		if err == nil {
			verdict.Message = v.attachEvidence(ctx, d, job, verdict)
		}
	}
	return verdict, nil
}

func (v *Verifier) attempt(ctx context.Context, d Driver, target string) (models.Verdict, error) {
	if v.warmer.NeedsWarming(target) {
		v.warmer.Warm(ctx, d, target)
	}

	if err := d.Navigate(ctx, target); err != nil {
		return models.Verdict{}, err
	}

	html, err := v.waitForSignature(ctx, d)
	if err != nil {
		return models.Verdict{}, err
	}

	page, err := document.Parse(html)
	if err != nil {
		return models.Verdict{}, err
	}
	return v.judge(page), nil
}

// waitForSignature polls the rendered markup until the base signature
// appears or MaxWait elapses, then lets the page settle once and returns
// the final markup.
func (v *Verifier) waitForSignature(ctx context.Context, d Driver) (string, error) {
	deadline := time.Now().Add(v.cfg.MaxWait)
	for {
		html, err := d.HTML(ctx)
		if err != nil {
			return "", err
		}
		if v.rules.HasBase(html) {
			if err := v.sleep(ctx, v.cfg.Settle); err != nil {
				return "", err
			}
			break
		}
		if !time.Now().Before(deadline) {
			break
		}
		if err := v.sleep(ctx, v.cfg.PollInterval); err != nil {
			return "", err
		}
	}
	return d.HTML(ctx)
}

// judge applies the block check and, failing that, the rule evaluator.
// A page counts as blocked only when it shows block indicators and carries
// no trace of the base signature.
func (v *Verifier) judge(page *document.Page) models.Verdict {
	label := v.vendors.Classify(page)

	indicated := vendor.IsSecurityBlock(label) ||
		containsAny(page.Text(), v.cfg.BlockPhrases) ||
		containsAny(page.Title(), v.cfg.BlockPhrases)

	if indicated && !v.rules.HasBase(page.Markup()) {
		return models.Verdict{
			Status:   models.StatusBlocked,
			Message:  "Bot Detection / CAPTCHA",
			Category: models.CategoryErr,
			Vendor:   vendor.SecurityBlockPrefix,
		}
	}
	return v.rules.Evaluate(page.ScriptCounts(v.rules), label)
}

func (v *Verifier) attachEvidence(ctx context.Context, d Driver, job models.ScanJob, verdict models.Verdict) string {
	if v.evidence == nil || !v.cfg.Screenshots {
		return verdict.Message
	}
	path, err := v.evidence.Save(ctx, d, job.DisplayName, verdict.Status)
	if err != nil {
		v.log.Warn().Err(err).Str("name", job.DisplayName).Msg("evidence screenshot failed")
		return verdict.Message
	}
	v.log.Debug().Str("path", path).Msg("evidence saved")
	return verdict.Message + " (Saved Img)"
}

// failureVerdict maps a navigation or read error to FAIL when the site is
// at fault and to ERROR when the scanner is.
func failureVerdict(err error) models.Verdict {
	msg := truncate(err.Error(), 100)
	if netfail.Classify(err).SiteIssue() {
		return models.Verdict{
			Status:   models.StatusFail,
			Message:  "Site unreachable: " + msg,
			Category: models.CategoryErr,
			Vendor:   "Unreachable",
		}
	}
	return models.Verdict{
		Status:   models.StatusError,
		Message:  msg,
		Category: models.CategoryErr,
		Vendor:   "ERR",
	}
}

// containsAny expects lowercased phrases.
func containsAny(s string, phrases []string) bool {
	s = strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
