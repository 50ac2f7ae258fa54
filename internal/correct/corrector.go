package correct

import (
	"fmt"
	"sort"
	"time"

	"github.com/towerline/rfrecon-cli/internal/classify"
	"github.com/towerline/rfrecon-cli/internal/model"
	"github.com/towerline/rfrecon-cli/internal/rules"
)

// Corrector commits auto-correct policies onto a record's working copy.
// Before a value is written it is re-validated against the originating
// rule and every other rule governing the field; a value that would still
// fail, or newly fail another rule, is refused and the discrepancy is
// downgraded to an unresolved conflict.
type Corrector struct {
	registry *rules.Registry
	user     string
}

// New creates a Corrector. The user is recorded on every action.
func New(registry *rules.Registry, user string) *Corrector {
	return &Corrector{registry: registry, user: user}
}

// Process resolves every classified discrepancy for one record, mutating
// obs only for committed corrections. obs is the run's working copy; the
// caller's original input is never touched. Returns one action per
// discrepancy, in input order.
func (c *Corrector) Process(sites *model.SiteIndex, obs *model.Observation, classified []classify.Classified) []model.CorrectionAction {
	actions := make([]model.CorrectionAction, len(classified))
	now := time.Now().UTC()

	autoByField := make(map[string][]int)
	for i, cl := range classified {
		d := cl.Discrepancy
		old, _ := obs.Value(d.Field)

		switch cl.Policy {
		case classify.PolicyAutoCorrect:
			autoByField[d.Field] = append(autoByField[d.Field], i)
		case classify.PolicyUnresolvedConflict:
			actions[i] = model.CorrectionAction{
				Discrepancy: d,
				Decision:    model.DecisionUnresolvedConflict,
				OldValue:    old,
				User:        c.user,
				Timestamp:   now,
				Note:        cl.Note,
			}
		default:
			actions[i] = model.CorrectionAction{
				Discrepancy: d,
				Decision:    model.DecisionFlaggedForReview,
				OldValue:    old,
				User:        c.user,
				Timestamp:   now,
				Note:        cl.Note,
			}
		}
	}

	fields := make([]string, 0, len(autoByField))
	for f := range autoByField {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		idxs := autoByField[field]
		group := make([]classify.Classified, len(idxs))
		for n, i := range idxs {
			group[n] = classified[i]
		}

		old, _ := obs.Value(field)
		target := *group[0].Discrepancy.Proposed

		if reason := c.commit(sites, obs, field, target, group); reason != "" {
			for _, i := range idxs {
				actions[i] = model.CorrectionAction{
					Discrepancy: classified[i].Discrepancy,
					Decision:    model.DecisionUnresolvedConflict,
					OldValue:    old,
					User:        c.user,
					Timestamp:   now,
					Note:        reason,
				}
			}
			continue
		}

		for _, i := range idxs {
			d := classified[i].Discrepancy
			actions[i] = model.CorrectionAction{
				Discrepancy: d,
				Decision:    model.DecisionAutoCorrected,
				OldValue:    old,
				NewValue:    model.Float(target),
				Applied:     d.Strategy,
				User:        c.user,
				Timestamp:   now,
			}
		}
	}

	return actions
}

// commit re-validates target for field and writes it on success. Returns
// an empty string on success, otherwise the downgrade reason.
func (c *Corrector) commit(sites *model.SiteIndex, obs *model.Observation, field string, target float64, group []classify.Classified) string {
	before, err := c.flaggedRules(sites, obs, field)
	if err != nil {
		return fmt.Sprintf("re-validation failed: %v", err)
	}

	trial := obs.Clone()
	trial.Set(field, target)
	after, err := c.flaggedRules(sites, trial, field)
	if err != nil {
		return fmt.Sprintf("re-validation failed: %v", err)
	}

	for _, cl := range group {
		if after[cl.Discrepancy.Rule] {
			return fmt.Sprintf("corrected value %v still fails %s", target, cl.Discrepancy.Rule)
		}
	}
	for name := range after {
		if !before[name] {
			return fmt.Sprintf("corrected value %v would newly fail %s", target, name)
		}
	}

	obs.Set(field, target)
	return ""
}

// flaggedRules evaluates every rule governing field and returns the names
// of those currently flagging it.
func (c *Corrector) flaggedRules(sites *model.SiteIndex, obs *model.Observation, field string) (map[string]bool, error) {
	set := make(map[string]bool)
	for _, rule := range c.registry.ForField(field) {
		found, err := rule.Evaluate(sites, obs)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			if f.Field == field {
				set[rule.Name()] = true
			}
		}
	}
	return set, nil
}
