package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raaihank/case-sentinel/internal/privacy"
)

func newVerifyCmd(a *app) *cobra.Command {
	var (
		originalPath   string
		anonymizedPath string
		resultPath     string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an anonymized text for leaks and restorability",
		Long: `Compares an original text with its anonymized form and the result file
written by anonymize. Exits non-zero when any original value leaked, a
placeholder is missing, or restoration does not reproduce the original.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			original, err := readInput(cmd, originalPath)
			if err != nil {
				return err
			}
			res, err := readResult(resultPath)
			if err != nil {
				return err
			}
			anonymized := res.AnonymizedText
			if anonymizedPath != "" {
				b, err := readInput(cmd, anonymizedPath)
				if err != nil {
					return err
				}
				anonymized = strings.TrimSuffix(string(b), "\n")
			}

			auditor := privacy.NewAuditor(a.anonymizer, a.log.Logger)
			report := auditor.Verify(strings.TrimSuffix(string(original), "\n"), anonymized, res.Mappings)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.IsValid {
				return errors.New("verification failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&originalPath, "original", "", "original text file")
	cmd.Flags().StringVar(&anonymizedPath, "anonymized", "", "anonymized text file (default: the text stored in --result)")
	cmd.Flags().StringVarP(&resultPath, "result", "r", "", "result file written by anonymize")
	_ = cmd.MarkFlagRequired("original")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}
