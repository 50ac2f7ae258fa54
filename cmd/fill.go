package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/towerline/rfrecon-cli/internal/backup"
	"github.com/towerline/rfrecon-cli/internal/fill"
	"github.com/towerline/rfrecon-cli/internal/loader"
	"github.com/towerline/rfrecon-cli/internal/report"
	"github.com/towerline/rfrecon-cli/internal/template"
)

var (
	fillParams   string
	fillTemplate string
	fillOut      string
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Fill blank structure attributes from station consensus and the template",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("fill"); err != nil {
			return err
		}

		sites, siteErrs, err := loader.LoadSites(fillParams)
		if err != nil {
			return eris.Wrap(err, "fill: load parameters")
		}
		for _, se := range siteErrs {
			zap.L().Warn("parameter row skipped",
				zap.String("key", se.Key.String()),
				zap.Int("row", se.Row),
				zap.String("reason", se.Reason),
			)
		}

		tplPath := fillTemplate
		if tplPath == "" {
			tplPath = cfg.Template.File
		}
		var tpl *template.Index
		if tplPath != "" {
			tpl, err = template.Load(tplPath, cfg.Template.SimilarityThreshold)
			if err != nil {
				return eris.Wrap(err, "fill: load template")
			}
			zap.L().Debug("template loaded", zap.String("file", tplPath), zap.Int("entries", tpl.Len()))
		}

		keeper := backup.New(cfg.Backup.Enabled, cfg.Backup.Dir)
		if _, err := keeper.Keep(fillParams); err != nil {
			return eris.Wrap(err, "fill: backup input")
		}

		res := fill.Fill(sites, tpl)

		out := fillOut
		if out == "" {
			ext := filepath.Ext(fillParams)
			out = strings.TrimSuffix(fillParams, ext) + "_filled" + ext
		}
		if err := report.WriteFilledWorkbook(out, res); err != nil {
			return eris.Wrap(err, "fill: write workbook")
		}

		bySource := res.BySource()
		zap.L().Info("fill complete",
			zap.String("out", out),
			zap.Int("filled", len(res.Changes)),
			zap.Int("from_consensus", bySource[fill.SourceConsensus]),
			zap.Int("from_template", bySource[fill.SourceTemplate]),
			zap.Int("still_blank", len(res.Blanks)),
		)
		fmt.Printf("Filled %d field(s), %d left blank. Output: %s\n", len(res.Changes), len(res.Blanks), out)
		return nil
	},
}

func init() {
	fillCmd.Flags().StringVar(&fillParams, "params", "", "master physical-parameters workbook (required)")
	fillCmd.Flags().StringVar(&fillTemplate, "template", "", "canonical station template workbook (default from config)")
	fillCmd.Flags().StringVar(&fillOut, "out", "", "output path (default: alongside input with _filled suffix)")
	_ = fillCmd.MarkFlagRequired("params")
	rootCmd.AddCommand(fillCmd)
}
