// Package notify delivers post-run webhook alerts when a reconciliation
// run needs operator attention.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertReviewRate AlertType = "review_rate"
	AlertConflicts  AlertType = "unresolved_conflicts"
	AlertRuleErrors AlertType = "rule_errors"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	RunID     string         `json:"run_id"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Options configures the notifier. An empty WebhookURL disables it.
type Options struct {
	WebhookURL string
	// ReviewRateThreshold is the fraction of processed records whose
	// actions need manual review above which an alert fires. Zero
	// disables the check.
	ReviewRateThreshold float64
	// ConflictThreshold is the unresolved-conflict count at or above
	// which an alert fires. Zero disables the check.
	ConflictThreshold int
	Timeout           time.Duration
	Retry             resilience.RetryConfig
}

// Notifier evaluates a finished run against configured thresholds and
// sends alerts via webhook when they are breached.
type Notifier struct {
	opts   Options
	client *http.Client
}

// New creates a Notifier with the given options.
func New(opts Options) *Notifier {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Notifier{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.opts.WebhookURL != ""
}

// minProcessedForRate avoids firing the rate alert on tiny runs.
const minProcessedForRate = 5

// Evaluate checks the run result against thresholds and returns any
// alerts. Review rate counts flagged and conflicted actions against
// processed records.
func (n *Notifier) Evaluate(res *engine.Result) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	stats := res.Stats

	review := stats.Flagged + stats.Conflicts
	if n.opts.ReviewRateThreshold > 0 && stats.Processed >= minProcessedForRate {
		rate := float64(review) / float64(stats.Processed)
		if rate > n.opts.ReviewRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertReviewRate,
				Severity: "high",
				RunID:    res.RunID,
				Message: fmt.Sprintf(
					"Manual review rate %.1f%% exceeds threshold %.1f%% (%d actions / %d records)",
					rate*100, n.opts.ReviewRateThreshold*100, review, stats.Processed,
				),
				Details: map[string]any{
					"review_rate": rate,
					"threshold":   n.opts.ReviewRateThreshold,
					"flagged":     stats.Flagged,
					"conflicts":   stats.Conflicts,
					"processed":   stats.Processed,
				},
				Timestamp: now,
			})
		}
	}

	if n.opts.ConflictThreshold > 0 && stats.Conflicts >= n.opts.ConflictThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertConflicts,
			Severity: "high",
			RunID:    res.RunID,
			Message: fmt.Sprintf(
				"%d unresolved conflict(s) need adjudication",
				stats.Conflicts,
			),
			Details: map[string]any{
				"conflicts": stats.Conflicts,
				"threshold": n.opts.ConflictThreshold,
			},
			Timestamp: now,
		})
	}

	if stats.RuleErrors > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRuleErrors,
			Severity: "medium",
			RunID:    res.RunID,
			Message: fmt.Sprintf(
				"%d rule evaluation(s) failed during the run",
				stats.RuleErrors,
			),
			Details: map[string]any{
				"rule_errors": stats.RuleErrors,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Notify evaluates the run and delivers any alerts. Returns the number of
// alerts successfully sent. Delivery failures are logged, never fatal.
func (n *Notifier) Notify(ctx context.Context, res *engine.Result) int {
	if !n.Enabled() {
		return 0
	}
	return n.Send(ctx, n.Evaluate(res))
}

// Send delivers alerts to the configured webhook URL. Returns the number
// successfully sent.
func (n *Notifier) Send(ctx context.Context, alerts []Alert) int {
	if !n.Enabled() || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, n.opts.Retry, func(ctx context.Context) error {
			return n.post(ctx, alert)
		})
		if err != nil {
			zap.L().Error("notify: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("run_id", alert.RunID),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("notify: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("run_id", alert.RunID),
		)
		sent++
	}
	return sent
}

// post delivers a single alert. Server-side failures come back as
// transient errors so the retry layer knows they are safe to repeat.
func (n *Notifier) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "notify: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.opts.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "notify: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		err := eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
