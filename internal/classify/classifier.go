package classify

import (
	"fmt"

	"github.com/towerline/rfrecon-cli/internal/model"
	"github.com/towerline/rfrecon-cli/internal/rules"
)

// Policy is the classifier's decision for one discrepancy.
type Policy string

const (
	PolicyAutoCorrect        Policy = "auto_correct"
	PolicyManualReview       Policy = "manual_review"
	PolicyUnresolvedConflict Policy = "unresolved_conflict"
)

// Classified pairs one discrepancy with its policy. Corroborated
// discrepancies carry the combined confidence of their field group.
type Classified struct {
	Discrepancy model.Discrepancy
	Policy      Policy
	Note        string
}

// Classifier applies the run's confidence policy to rule findings.
type Classifier struct {
	registry *rules.Registry
	// autoThreshold is the global auto-correct confidence threshold.
	autoThreshold float64
	// recordThreshold gates whole records: when the share of monitored
	// fields with findings exceeds it, the record is too inconsistent for
	// machine correction and every auto-correct is downgraded to review.
	// Zero or negative disables the gate.
	recordThreshold float64
}

// New creates a Classifier over the run's rule registry.
func New(registry *rules.Registry, autoThreshold, recordThreshold float64) *Classifier {
	return &Classifier{
		registry:        registry,
		autoThreshold:   autoThreshold,
		recordThreshold: recordThreshold,
	}
}

// Classify decides the policy for every discrepancy of one record.
//
// Discrepancies on the same field with different proposed values conflict
// and all escalate, regardless of confidence. Equal proposals corroborate:
// the group acts at its maximum confidence. A proposal only auto-corrects
// when the combined confidence clears the threshold and the value would
// pass the rule that produced it.
func (c *Classifier) Classify(sites *model.SiteIndex, obs *model.Observation, discs []model.Discrepancy) []Classified {
	if len(discs) == 0 {
		return nil
	}

	out := make([]Classified, len(discs))
	byField := make(map[string][]int, len(discs))
	for i, d := range discs {
		byField[d.Field] = append(byField[d.Field], i)
	}

	for field, idxs := range byField {
		var targets []float64
		groupMax := 0.0
		for _, i := range idxs {
			d := discs[i]
			if d.Proposed == nil {
				continue
			}
			if d.Confidence > groupMax {
				groupMax = d.Confidence
			}
			seen := false
			for _, t := range targets {
				if model.SameValue(t, *d.Proposed) {
					seen = true
					break
				}
			}
			if !seen {
				targets = append(targets, *d.Proposed)
			}
		}

		if len(targets) > 1 {
			for _, i := range idxs {
				out[i] = Classified{
					Discrepancy: discs[i],
					Policy:      PolicyUnresolvedConflict,
					Note:        fmt.Sprintf("rules disagree on the corrected value for %s", field),
				}
			}
			continue
		}

		for _, i := range idxs {
			d := discs[i]
			cl := Classified{Discrepancy: d}

			switch {
			case d.Proposed == nil || d.Strategy == model.StrategyReject:
				cl.Policy = PolicyManualReview
			default:
				// Corroboration: the whole group acts at its best confidence.
				cl.Discrepancy.Confidence = groupMax
				switch {
				case groupMax < c.autoThreshold:
					cl.Policy = PolicyManualReview
					cl.Note = fmt.Sprintf("confidence %.2f below auto-correct threshold %.2f",
						groupMax, c.autoThreshold)
				case !c.proposalPasses(sites, obs, d):
					cl.Policy = PolicyManualReview
					cl.Note = fmt.Sprintf("proposed value %v would not pass %s", *d.Proposed, d.Rule)
				default:
					cl.Policy = PolicyAutoCorrect
				}
			}
			out[i] = cl
		}
	}

	c.applyRecordGate(obs, discs, out)
	return out
}

// proposalPasses re-evaluates the originating rule with the proposed value
// in place and reports whether the finding disappears.
func (c *Classifier) proposalPasses(sites *model.SiteIndex, obs *model.Observation, d model.Discrepancy) bool {
	rule, ok := c.registry.ByName(d.Rule)
	if !ok {
		return false
	}
	trial := obs.Clone()
	trial.Set(d.Field, *d.Proposed)

	found, err := rule.Evaluate(sites, trial)
	if err != nil {
		return false
	}
	for _, f := range found {
		if f.Field == d.Field {
			return false
		}
	}
	return true
}

// applyRecordGate downgrades every auto-correct on a record whose share of
// discrepant monitored fields exceeds the configured threshold.
func (c *Classifier) applyRecordGate(obs *model.Observation, discs []model.Discrepancy, out []Classified) {
	if c.recordThreshold <= 0 || len(obs.Fields) == 0 {
		return
	}

	flagged := make(map[string]bool)
	for _, d := range discs {
		if _, monitored := obs.Fields[d.Field]; monitored {
			flagged[d.Field] = true
		}
	}
	score := float64(len(flagged)) / float64(len(obs.Fields))
	if score <= c.recordThreshold {
		return
	}

	for i := range out {
		if out[i].Policy == PolicyAutoCorrect {
			out[i].Policy = PolicyManualReview
			out[i].Note = fmt.Sprintf("record review score %.2f exceeds threshold %.2f",
				score, c.recordThreshold)
		}
	}
}
