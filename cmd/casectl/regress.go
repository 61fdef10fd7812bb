package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/etl"
	"github.com/raaihank/case-sentinel/internal/privacy"
)

func newRegressCmd(a *app) *cobra.Command {
	var (
		dataset     string
		reportPath  string
		minAccuracy float64
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "regress",
		Short: "Run the detection regression suite",
		Long: `Anonymizes every case of a dataset (CSV, JSON lines or Parquet with text
and expected columns; the built-in table when --dataset is omitted) and
checks that each expected category was detected. Exits non-zero when
accuracy falls below --min-accuracy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cases := privacy.DefaultRegressionCases
			if dataset != "" {
				loaded, result, err := etl.NewPipeline(etl.DefaultConfig(), a.log.WithComponent("etl").Logger).
					LoadCases(cmd.Context(), dataset)
				if err != nil {
					return err
				}
				if result.Skipped > 0 {
					a.log.Warn("Skipped invalid dataset rows",
						zap.Int64("skipped", result.Skipped),
						zap.Strings("errors", result.Errors),
					)
				}
				if len(loaded) == 0 {
					return fmt.Errorf("dataset %s has no usable cases", dataset)
				}
				cases = loaded
			}

			auditor := privacy.NewAuditor(a.anonymizer, a.log.Logger)
			report := auditor.RunCases(cases)

			if reportPath != "" {
				if err := etl.WriteFailuresParquet(reportPath, report); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Cases: %d  Checks: %d  Passed: %d  Failed: %d  Accuracy: %.2f%%\n",
					report.Total, report.Checks, report.Passed, report.Failed, report.Accuracy*100)
				for _, f := range report.Failures {
					fmt.Fprintf(out, "  missed %s (detected: %v)\n", f.Expected, f.Detected)
				}
			}

			if report.Accuracy < minAccuracy {
				return fmt.Errorf("accuracy %.2f%% is below the minimum %.2f%%", report.Accuracy*100, minAccuracy*100)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataset, "dataset", "d", "", "regression dataset file")
	cmd.Flags().StringVar(&reportPath, "report", "", "write failing checks to this Parquet file")
	cmd.Flags().Float64Var(&minAccuracy, "min-accuracy", 0.9, "fail below this accuracy (0-1)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}
