// Package probe implements the first, browserless verification tier: a
// single GET whose raw body is searched for the tracking-script signatures.
//
// A probe either settles a job (PASS, or FAIL for a site that is plainly
// down) or reports it inconclusive so the browser tier can take over. It
// never touches block-tracker state.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hakim/scriptwatch/internal/document"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/netfail"
	"github.com/hakim/scriptwatch/internal/rules"
	"github.com/hakim/scriptwatch/internal/vendor"
)

// Reason explains why a probe was inconclusive.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonForbidden   Reason = "forbidden"
	ReasonChallenge   Reason = "challenge"
	ReasonNoSignature Reason = "no_signature"
	ReasonTimeout     Reason = "timeout"
	ReasonConnection  Reason = "connection"
	ReasonOther       Reason = "other"
)

// maxBody caps how much of a response is searched.
const maxBody = 8 << 20

// DefaultChallengePhrases are the interstitial markers that make a raw
// response untrustworthy.
var DefaultChallengePhrases = []string{
	"checking your browser",
	"please enable javascript",
	"captcha",
	"access denied",
	"bot detected",
	"security check",
	"please wait while we verify",
	"ray id",
	"cf-browser-verification",
	"challenge-platform",
	"ddos protection",
	"pardon our interruption",
	"just a moment",
	"attention required",
}

// DefaultHeaders mimic a desktop browser navigation.
var DefaultHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.5",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
}

// Outcome is the result of one probe. Verdict is nil when inconclusive.
type Outcome struct {
	Verdict    *models.Verdict
	Reason     Reason
	Kind       netfail.Kind
	StatusCode int
	Elapsed    time.Duration
}

// Conclusive reports whether the probe settled the job.
func (o Outcome) Conclusive() bool { return o.Verdict != nil }

// Config holds the probe tunables.
type Config struct {
	Client            ClientConfig
	Headers           map[string]string
	ChallengePhrases  []string
	RequestsPerSecond float64
	Burst             int
}

// Prober runs quick probes. Safe for concurrent use.
type Prober struct {
	client  *http.Client
	headers map[string]string
	phrases []string
	rules   *rules.Table
	vendors *vendor.Classifier
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New builds a Prober. A zero RequestsPerSecond disables pacing.
func New(cfg Config, tbl *rules.Table, vendors *vendor.Classifier, log zerolog.Logger) *Prober {
	if tbl == nil {
		tbl = rules.DefaultTable()
	}
	if vendors == nil {
		vendors = vendor.NewClassifier(nil)
	}
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = DefaultHeaders
	}
	phrases := cfg.ChallengePhrases
	if len(phrases) == 0 {
		phrases = DefaultChallengePhrases
	}
	phrases = lowerAll(phrases)

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Prober{
		client:  NewClient(cfg.Client),
		headers: headers,
		phrases: phrases,
		rules:   tbl,
		vendors: vendors,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// WithHTTPClient swaps the underlying client. Intended for tests.
func (p *Prober) WithHTTPClient(c *http.Client) *Prober {
	p.client = c
	return p
}

// Probe fetches rawURL once and classifies the response.
func (p *Prober) Probe(ctx context.Context, rawURL string) Outcome {
	start := time.Now()
	out := p.probe(ctx, rawURL)
	out.Elapsed = time.Since(start)

	ev := p.log.Debug().Str("url", rawURL).Dur("elapsed", out.Elapsed)
	if out.Conclusive() {
		ev.Str("status", string(out.Verdict.Status)).Msg("quick probe conclusive")
	} else {
		ev.Str("reason", string(out.Reason)).Int("code", out.StatusCode).Msg("quick probe inconclusive")
	}
	return out
}

func (p *Prober) probe(ctx context.Context, rawURL string) Outcome {
	if err := p.limiter.Wait(ctx); err != nil {
		return Outcome{Reason: ReasonOther}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Outcome{Reason: ReasonOther}
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return p.transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return Outcome{Reason: ReasonForbidden, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return Outcome{
			StatusCode: resp.StatusCode,
			Verdict: &models.Verdict{
				Status:   models.StatusFail,
				Message:  fmt.Sprintf("Status code: %d", resp.StatusCode),
				Category: models.CategoryErr,
				Vendor:   "HTTP Error",
			},
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return p.transportFailure(ctx, err)
	}
	html := string(body)
	lower := strings.ToLower(html)

	for _, phrase := range p.phrases {
		if strings.Contains(lower, phrase) {
			return Outcome{Reason: ReasonChallenge, StatusCode: resp.StatusCode}
		}
	}

	cat, sig, ok := p.rules.Match(lower)
	if !ok {
		return Outcome{Reason: ReasonNoSignature, StatusCode: resp.StatusCode}
	}

	return Outcome{
		StatusCode: resp.StatusCode,
		Verdict: &models.Verdict{
			Status:   models.StatusPass,
			Message:  "Found via HTTP: " + sig,
			Category: cat,
			Vendor:   p.classify(html),
		},
	}
}

func (p *Prober) classify(html string) string {
	page, err := document.Parse(html)
	if err != nil {
		return vendor.Other
	}
	return p.vendors.Classify(page)
}

// transportFailure maps a request error to an outcome. Only failures that
// prove the site is down are conclusive; everything else escalates.
func (p *Prober) transportFailure(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return Outcome{Reason: ReasonOther}
	}

	kind := netfail.Classify(err)
	switch kind {
	case netfail.KindDNS, netfail.KindRefused, netfail.KindUnreachable, netfail.KindTLS:
		return Outcome{
			Kind: kind,
			Verdict: &models.Verdict{
				Status:   models.StatusFail,
				Message:  kind.Describe(),
				Category: models.CategoryErr,
				Vendor:   kind.Label(),
			},
		}
	case netfail.KindTimeout:
		return Outcome{Kind: kind, Reason: ReasonTimeout}
	default:
		return Outcome{Kind: kind, Reason: ReasonConnection}
	}
}

// lowerAll returns a lowercased copy; page text is matched lowercased.
func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
