package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/towerline/rfrecon-cli/internal/geo"
	"github.com/towerline/rfrecon-cli/internal/loader"
	"github.com/towerline/rfrecon-cli/internal/report"
)

var (
	validateBefore string
	validateAfter  string
	validateOut    string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare data quality of two parameter workbooks check by check",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("validate"); err != nil {
			return err
		}

		before, beforeErrs, err := loader.LoadSites(validateBefore)
		if err != nil {
			return eris.Wrap(err, "validate: load before")
		}
		after, afterErrs, err := loader.LoadSites(validateAfter)
		if err != nil {
			return eris.Wrap(err, "validate: load after")
		}
		if len(beforeErrs)+len(afterErrs) > 0 {
			zap.L().Warn("structural errors excluded from comparison",
				zap.Int("before", len(beforeErrs)),
				zap.Int("after", len(afterErrs)),
			)
		}

		ccfg := report.DefaultCompareConfig()
		if cfg.Geo.BoundaryShapefile != "" {
			boundary, err := geo.LoadBoundary(cfg.Geo.BoundaryShapefile)
			if err != nil {
				return eris.Wrap(err, "validate: load boundary")
			}
			ccfg.Boundary = boundary
		}

		v := report.Compare(before, after, ccfg)
		fmt.Println(report.ValidationMarkdown(v))

		if validateOut != "" {
			if err := report.WriteValidationWorkbook(validateOut, v); err != nil {
				return eris.Wrap(err, "validate: write workbook")
			}
			zap.L().Info("validation written", zap.String("path", validateOut))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateBefore, "before", "", "parameter workbook before correction (required)")
	validateCmd.Flags().StringVar(&validateAfter, "after", "", "parameter workbook after correction (required)")
	validateCmd.Flags().StringVar(&validateOut, "out", "", "optional xlsx output for the comparison")
	_ = validateCmd.MarkFlagRequired("before")
	_ = validateCmd.MarkFlagRequired("after")
	rootCmd.AddCommand(validateCmd)
}
