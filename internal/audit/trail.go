package audit

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/towerline/rfrecon-cli/internal/model"
)

// Trail is the append-only log of every decision made in one run. Appends
// are atomic; once finalized the trail is immutable and safe for
// concurrent reads. The finalized order is stable by site, sector, field,
// and rule, independent of execution order.
type Trail struct {
	mu        sync.Mutex
	runID     string
	startedAt time.Time
	actions   []model.CorrectionAction
	finalized bool
}

// New creates an empty trail for a run.
func New(runID string) *Trail {
	return &Trail{runID: runID, startedAt: time.Now().UTC()}
}

// RunID returns the run this trail belongs to.
func (t *Trail) RunID() string {
	return t.runID
}

// StartedAt returns when the trail was opened.
func (t *Trail) StartedAt() time.Time {
	return t.startedAt
}

// Append adds actions to the trail. Appending to a finalized trail is a
// programming error and is refused.
func (t *Trail) Append(actions ...model.CorrectionAction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return eris.New("audit: trail already finalized")
	}
	t.actions = append(t.actions, actions...)
	return nil
}

// Finalize sorts the trail into its stable order and seals it. Calling it
// again has no effect.
func (t *Trail) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}
	sort.SliceStable(t.actions, func(i, j int) bool {
		return lessAction(&t.actions[i], &t.actions[j])
	})
	t.finalized = true
}

func lessAction(a, b *model.CorrectionAction) bool {
	da, db := &a.Discrepancy, &b.Discrepancy
	if da.Key.SiteID != db.Key.SiteID {
		return da.Key.SiteID < db.Key.SiteID
	}
	if da.Key.SectorID != db.Key.SectorID {
		return da.Key.SectorID < db.Key.SectorID
	}
	if da.Field != db.Field {
		return da.Field < db.Field
	}
	if da.Rule != db.Rule {
		return da.Rule < db.Rule
	}
	// Duplicate monitoring rows for one sector (different sheets or
	// capture dates) need further keys to keep the order deterministic.
	if !da.Date.Equal(db.Date) {
		return da.Date.Before(db.Date)
	}
	return da.Observed < db.Observed
}

// Finalized reports whether the trail has been sealed.
func (t *Trail) Finalized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalized
}

// Len returns the number of recorded actions.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.actions)
}

// Actions returns a copy of the recorded actions, in trail order.
func (t *Trail) Actions() []model.CorrectionAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.CorrectionAction, len(t.actions))
	copy(out, t.actions)
	return out
}

// ByDecision returns the actions with the given decision.
func (t *Trail) ByDecision(d model.Decision) []model.CorrectionAction {
	return t.filter(func(a *model.CorrectionAction) bool { return a.Decision == d })
}

// BySite returns the actions for every sector of the given site.
func (t *Trail) BySite(siteID string) []model.CorrectionAction {
	return t.filter(func(a *model.CorrectionAction) bool { return a.Discrepancy.Key.SiteID == siteID })
}

// ByRule returns the actions produced by the given rule.
func (t *Trail) ByRule(rule string) []model.CorrectionAction {
	return t.filter(func(a *model.CorrectionAction) bool { return a.Discrepancy.Rule == rule })
}

// ManualReview returns every action requiring human adjudication: the
// flagged items plus the unresolved conflicts.
func (t *Trail) ManualReview() []model.CorrectionAction {
	return t.filter(func(a *model.CorrectionAction) bool { return a.NeedsReview() })
}

func (t *Trail) filter(keep func(*model.CorrectionAction) bool) []model.CorrectionAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.CorrectionAction
	for i := range t.actions {
		if keep(&t.actions[i]) {
			out = append(out, t.actions[i])
		}
	}
	return out
}

// Summary holds the per-decision, per-rule, and per-severity counts
// derived from the trail.
type Summary struct {
	RunID      string                 `json:"run_id"`
	Total      int                    `json:"total"`
	ByDecision map[model.Decision]int `json:"by_decision"`
	ByRule     map[string]int         `json:"by_rule"`
	BySeverity map[model.Severity]int `json:"by_severity"`
}

// Summarize derives the trail's summary counts.
func (t *Trail) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		RunID:      t.runID,
		Total:      len(t.actions),
		ByDecision: make(map[model.Decision]int),
		ByRule:     make(map[string]int),
		BySeverity: make(map[model.Severity]int),
	}
	for i := range t.actions {
		a := &t.actions[i]
		s.ByDecision[a.Decision]++
		s.ByRule[a.Discrepancy.Rule]++
		s.BySeverity[a.Discrepancy.Severity]++
	}
	return s
}
