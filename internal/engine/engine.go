package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/towerline/rfrecon-cli/internal/audit"
	"github.com/towerline/rfrecon-cli/internal/classify"
	"github.com/towerline/rfrecon-cli/internal/consensus"
	"github.com/towerline/rfrecon-cli/internal/correct"
	"github.com/towerline/rfrecon-cli/internal/model"
	"github.com/towerline/rfrecon-cli/internal/rules"
)

// Config holds the tunables for a run.
type Config struct {
	// RunID identifies the run in the trail and the store. Empty means a
	// fresh UUID per run.
	RunID string
	// Workers caps concurrent record evaluation. Zero means NumCPU.
	Workers int
	// AutoCorrectThreshold is the minimum confidence for unattended
	// correction.
	AutoCorrectThreshold float64
	// RecordReviewThreshold downgrades auto-corrections on records whose
	// share of discrepant monitored fields exceeds it. Zero disables the
	// gate.
	RecordReviewThreshold float64
	// DetectExtendedCells enables the repeater pre-pass that labels
	// far-away cells and exempts them from coordinate rules.
	DetectExtendedCells bool
	// CoordinateThreshold is the degree distance beyond which a matching
	// cell name counts as an extended cell.
	CoordinateThreshold float64
	// SystemUser is recorded on every action the run emits.
	SystemUser string
}

// Engine drives one reconciliation run end to end: structural screening,
// extended-cell detection, rule evaluation, classification, correction,
// and audit trail assembly.
type Engine struct {
	registry *rules.Registry
	cfg      Config
}

// New creates an Engine around a validated rule registry.
func New(registry *rules.Registry, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.SystemUser == "" {
		cfg.SystemUser = "system"
	}
	return &Engine{registry: registry, cfg: cfg}
}

// Run reconciles one observation snapshot against the master site table.
//
// The input slices are never mutated: corrections land on working copies
// returned in Result.Corrected, position for position with the input.
// Individual records never abort the run; a record that cannot be
// processed is skipped and reported. Run fails only when no record at all
// could be processed.
func (e *Engine) Run(ctx context.Context, sites []model.Site, observations []model.Observation) (*Result, error) {
	runID := e.cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	started := time.Now().UTC()

	index, siteErrs := model.NewSiteIndex(sites)
	for _, se := range siteErrs {
		zap.L().Warn("duplicate site row excluded", zap.String("key", se.Key.String()), zap.String("reason", se.Reason))
	}

	working := make([]model.Observation, len(observations))
	var skipped []SkippedRecord
	valid := make([]int, 0, len(observations))
	for i := range observations {
		working[i] = *observations[i].Clone()
		if reason := structuralReason(&observations[i]); reason != "" {
			skipped = append(skipped, SkippedRecord{
				Index: i,
				Err:   model.StructuralError{Key: observations[i].Key, Row: i, Reason: reason},
			})
			continue
		}
		valid = append(valid, i)
	}

	var extended []consensus.ExtendedCell
	if e.cfg.DetectExtendedCells {
		detector := consensus.NewDetector(index, e.cfg.CoordinateThreshold)
		for _, i := range valid {
			if ec, ok := detector.Examine(&working[i]); ok {
				working[i].SetLabel(model.LabelCellType, model.CellTypeExtended)
				extended = append(extended, ec)
			}
		}
	}

	trail := audit.New(runID)
	classifier := classify.New(e.registry, e.cfg.AutoCorrectThreshold, e.cfg.RecordReviewThreshold)
	corrector := correct.New(e.registry, e.cfg.SystemUser)

	zap.L().Info("starting run",
		zap.String("run_id", runID),
		zap.Int("sites", index.Len()),
		zap.Int("observations", len(observations)),
		zap.Int("workers", e.cfg.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	var processed, discrepant atomic.Int64
	var mu sync.Mutex
	var ruleErrs []rules.EvaluationError

	for _, i := range valid {
		obs := &working[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			discs, errs := e.registry.Evaluate(index, obs)
			if len(errs) > 0 {
				mu.Lock()
				ruleErrs = append(ruleErrs, errs...)
				mu.Unlock()
				log := zap.L().With(zap.String("key", obs.Key.String()))
				for _, re := range errs {
					log.Error("rule evaluation failed", zap.String("rule", re.Rule), zap.Error(re.Err))
				}
			}
			if len(discs) == 0 {
				processed.Add(1)
				return nil // clean record, nothing to append
			}

			classified := classifier.Classify(index, obs, discs)
			actions := corrector.Process(index, obs, classified)
			if err := trail.Append(actions...); err != nil {
				// Append only fails on a finalized trail.
				zap.L().Error("audit append rejected", zap.Error(err))
				return nil
			}
			discrepant.Add(1)
			processed.Add(1)
			return nil // don't abort the run on individual records
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "engine: run aborted")
	}

	if processed.Load() == 0 {
		return nil, eris.Errorf("engine: no records could be processed (%d observations, %d skipped)",
			len(observations), len(skipped))
	}

	trail.Finalize()
	summary := trail.Summarize()

	result := &Result{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Corrected:  working,
		Trail:      trail,
		Skipped:    skipped,
		SiteErrors: siteErrs,
		RuleErrors: ruleErrs,
		Extended:   extended,
		Stats: Stats{
			Observations:  len(observations),
			Processed:     int(processed.Load()),
			Skipped:       len(skipped),
			Discrepancies: summary.Total,
			AutoCorrected: summary.ByDecision[model.DecisionAutoCorrected],
			Flagged:       summary.ByDecision[model.DecisionFlaggedForReview],
			Conflicts:     summary.ByDecision[model.DecisionUnresolvedConflict],
			RuleErrors:    len(ruleErrs),
			ExtendedCells: len(extended),
		},
	}

	zap.L().Info("run complete",
		zap.String("run_id", runID),
		zap.Int("processed", result.Stats.Processed),
		zap.Int64("discrepant_records", discrepant.Load()),
		zap.Int("skipped", result.Stats.Skipped),
		zap.Int("auto_corrected", result.Stats.AutoCorrected),
		zap.Int("flagged", result.Stats.Flagged),
		zap.Int("conflicts", result.Stats.Conflicts),
		zap.Duration("took", result.Duration()),
	)
	return result, nil
}

// structuralReason reports why an observation cannot participate in a
// run, or "" when it can.
func structuralReason(obs *model.Observation) string {
	switch {
	case obs.Key.SiteID == "":
		return "missing site identifier"
	case obs.Key.SectorID == "":
		return "missing sector identifier"
	default:
		return ""
	}
}
