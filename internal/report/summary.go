package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/model"
)

// Markdown renders a human-readable run summary.
func Markdown(res *engine.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Reconciliation Run: %s\n", res.RunID)
	fmt.Fprintf(&b, "Started: %s\n", res.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished: %s (%s)\n\n", res.FinishedAt.Format(time.RFC3339), res.Duration().Round(time.Millisecond))

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Observations: %d\n", res.Stats.Observations)
	fmt.Fprintf(&b, "- Processed: %d\n", res.Stats.Processed)
	fmt.Fprintf(&b, "- Skipped: %d\n", res.Stats.Skipped)
	fmt.Fprintf(&b, "- Discrepancies: %d\n", res.Stats.Discrepancies)
	fmt.Fprintf(&b, "- Auto-corrected: %d\n", res.Stats.AutoCorrected)
	fmt.Fprintf(&b, "- Flagged for review: %d\n", res.Stats.Flagged)
	fmt.Fprintf(&b, "- Unresolved conflicts: %d\n", res.Stats.Conflicts)
	fmt.Fprintf(&b, "- Rule errors: %d\n", res.Stats.RuleErrors)
	fmt.Fprintf(&b, "- Extended cells: %d\n\n", res.Stats.ExtendedCells)

	summary := res.Trail.Summarize()

	b.WriteString("## Rules\n")
	if len(summary.ByRule) == 0 {
		b.WriteString("No discrepancies found.\n\n")
	} else {
		rules := make([]string, 0, len(summary.ByRule))
		for r := range summary.ByRule {
			rules = append(rules, r)
		}
		sort.Strings(rules)
		for _, r := range rules {
			fmt.Fprintf(&b, "- %s: %d\n", r, summary.ByRule[r])
		}
		b.WriteString("\n")
	}

	if len(summary.BySeverity) > 0 {
		b.WriteString("## Severities\n")
		for _, sev := range []model.Severity{model.SeverityHigh, model.SeverityMedium, model.SeverityLow} {
			if n, ok := summary.BySeverity[sev]; ok {
				fmt.Fprintf(&b, "- %s: %d\n", sev, n)
			}
		}
		b.WriteString("\n")
	}

	if len(res.Skipped) > 0 {
		b.WriteString("## Skipped Records\n")
		for _, s := range res.Skipped {
			fmt.Fprintf(&b, "- row %d (%s): %s\n", s.Index+1, s.Err.Key, s.Err.Reason)
		}
		b.WriteString("\n")
	}

	if len(res.RuleErrors) > 0 {
		b.WriteString("## Rule Errors\n")
		for _, re := range res.RuleErrors {
			fmt.Fprintf(&b, "- %s on %s: %v\n", re.Rule, re.Key, re.Err)
		}
		b.WriteString("\n")
	}

	return b.String()
}
