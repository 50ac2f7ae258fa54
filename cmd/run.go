package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/towerline/rfrecon-cli/internal/backup"
	"github.com/towerline/rfrecon-cli/internal/engine"
	"github.com/towerline/rfrecon-cli/internal/geo"
	"github.com/towerline/rfrecon-cli/internal/loader"
	"github.com/towerline/rfrecon-cli/internal/notify"
	"github.com/towerline/rfrecon-cli/internal/report"
	"github.com/towerline/rfrecon-cli/internal/resilience"
	"github.com/towerline/rfrecon-cli/internal/rules"
	"github.com/towerline/rfrecon-cli/internal/store"
)

var (
	runParams     string
	runMonitoring string
	runDate       string
	runOut        string
	runDryRun     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile a monitoring snapshot against the master parameter table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		date, err := resolveSnapshotDate()
		if err != nil {
			return err
		}

		sites, siteErrs, err := loader.LoadSites(runParams)
		if err != nil {
			return eris.Wrap(err, "run: load parameters")
		}
		for _, se := range siteErrs {
			zap.L().Warn("parameter row skipped",
				zap.String("key", se.Key.String()),
				zap.Int("row", se.Row),
				zap.String("reason", se.Reason),
			)
		}

		observations, obsErrs, err := loader.LoadObservations(runMonitoring, date)
		if err != nil {
			return eris.Wrap(err, "run: load monitoring")
		}
		for _, se := range obsErrs {
			zap.L().Warn("monitoring row skipped",
				zap.String("key", se.Key.String()),
				zap.Int("row", se.Row),
				zap.String("reason", se.Reason),
			)
		}

		registry, err := loadRuleRegistry()
		if err != nil {
			return err
		}

		if !runDryRun {
			keeper := backup.New(cfg.Backup.Enabled, cfg.Backup.Dir)
			for _, in := range []string{runParams, runMonitoring} {
				if _, err := keeper.Keep(in); err != nil {
					return eris.Wrap(err, "run: backup input")
				}
			}
		}

		// The run row goes in before the engine starts so an aborted run
		// stays visible as an unfinished row.
		runID := uuid.New().String()
		var st store.Store
		if !runDryRun {
			st, err = openStore(ctx)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
				if err := st.Migrate(ctx); err != nil {
					return eris.Wrap(err, "run: migrate store")
				}
				row := &store.Run{
					ID:             runID,
					StartedAt:      time.Now().UTC(),
					ParamsFile:     runParams,
					MonitoringFile: runMonitoring,
					SnapshotDate:   &date,
				}
				if err := st.SaveRun(ctx, row); err != nil {
					return eris.Wrap(err, "run: save run")
				}
			}
		}

		eng := engine.New(registry, engine.Config{
			RunID:                 runID,
			Workers:               cfg.Engine.Workers,
			AutoCorrectThreshold:  cfg.Engine.AutoCorrectThreshold,
			RecordReviewThreshold: cfg.Engine.RecordReviewThreshold,
			DetectExtendedCells:   cfg.Engine.DetectExtendedCells,
			CoordinateThreshold:   cfg.Engine.CoordinateThreshold,
			SystemUser:            cfg.Engine.SystemUser,
		})

		res, err := eng.Run(ctx, sites, observations)
		if err != nil {
			return eris.Wrap(err, "run: reconcile")
		}

		if !runDryRun {
			out := filepath.Join(runOut, fmt.Sprintf("reconciliation_%s.xlsx", date.Format("2006-01-02")))
			if err := report.WriteRunWorkbook(out, res); err != nil {
				return eris.Wrap(err, "run: write report")
			}
			zap.L().Info("report written", zap.String("path", out))
		}

		if st != nil {
			row := store.FromResult(res, runParams, runMonitoring, date)
			if err := st.FinishRun(ctx, runID, *row.FinishedAt, row.Stats, row.Summary); err != nil {
				return eris.Wrap(err, "run: finish run")
			}
			if err := st.SaveActions(ctx, runID, res.Trail.Actions()); err != nil {
				return eris.Wrap(err, "run: save actions")
			}
		}

		if !runDryRun {
			notifier := notify.New(notify.Options{
				WebhookURL:          cfg.Notify.WebhookURL,
				ReviewRateThreshold: cfg.Notify.ReviewRateThreshold,
				ConflictThreshold:   cfg.Notify.ConflictThreshold,
				Retry:               resilience.DefaultRetryConfig(),
			})
			notifier.Notify(ctx, res)
		}

		fmt.Println(report.Markdown(res))
		return nil
	},
}

// resolveSnapshotDate takes the capture date from --date, falling back to
// a YYYY-MM-DD segment in the monitoring filename.
func resolveSnapshotDate() (time.Time, error) {
	if runDate != "" {
		d, err := time.Parse("2006-01-02", runDate)
		if err != nil {
			return time.Time{}, eris.Wrapf(err, "run: parse --date %q", runDate)
		}
		return d, nil
	}
	if d, ok := loader.DateFromFilename(runMonitoring); ok {
		return d, nil
	}
	return time.Time{}, eris.New("run: no snapshot date; pass --date or use a YYYY-MM-DD monitoring filename")
}

// loadRuleRegistry builds the rule set from the configured rules file,
// falling back to the built-in defaults when the file does not exist.
func loadRuleRegistry() (*rules.Registry, error) {
	var rulesCfg *rules.Config
	if _, err := os.Stat(cfg.Rules.File); err == nil {
		rulesCfg, err = rules.LoadConfig(cfg.Rules.File)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("rules loaded", zap.String("file", cfg.Rules.File), zap.Int("definitions", len(rulesCfg.Definitions)))
	} else {
		rulesCfg = rules.DefaultRules()
		zap.L().Debug("using built-in rules", zap.String("missing", cfg.Rules.File))
	}

	var boundary *geo.Boundary
	if cfg.Geo.BoundaryShapefile != "" {
		b, err := geo.LoadBoundary(cfg.Geo.BoundaryShapefile)
		if err != nil {
			return nil, eris.Wrap(err, "run: load boundary")
		}
		boundary = b
	}

	return rules.NewRegistry(rulesCfg, boundary)
}

func init() {
	runCmd.Flags().StringVar(&runParams, "params", "", "master physical-parameters workbook (required)")
	runCmd.Flags().StringVar(&runMonitoring, "monitoring", "", "cell monitoring snapshot workbook (required)")
	runCmd.Flags().StringVar(&runDate, "date", "", "snapshot date YYYY-MM-DD (default: from filename)")
	runCmd.Flags().StringVar(&runOut, "out", ".", "directory for the report workbook")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "evaluate and print the summary without writing anything")
	_ = runCmd.MarkFlagRequired("params")
	_ = runCmd.MarkFlagRequired("monitoring")
	rootCmd.AddCommand(runCmd)
}
