package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/privacy"
	"github.com/raaihank/case-sentinel/internal/validator"
)

func newAnonymizeCmd(a *app) *cobra.Command {
	var (
		input      string
		resultPath string
		structured bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "anonymize",
		Short: "Replace PII in text or JSON with placeholders",
		Long: `Reads text (or a JSON document with --structured) from --input or stdin
and prints it with every detected PII value replaced by a placeholder such
as [氏名_1]. The mapping needed to restore the originals is written to
--result; keep that file private.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, input)
			if err != nil {
				return err
			}

			var (
				out string
				res *privacy.Result
			)
			if structured {
				b, r, err := a.anonymizer.AnonymizeJSON(data)
				if err != nil {
					return fmt.Errorf("input is not valid JSON: %w", err)
				}
				out, res = string(b), r
			} else {
				text, err := validator.New(a.cfg.Validation, a.log.Logger).Validate(strings.TrimSuffix(string(data), "\n"))
				if err != nil {
					return err
				}
				res = a.anonymizer.AnonymizeText(text)
				out = res.AnonymizedText
			}

			a.log.Info("Anonymization completed",
				zap.String("session_id", res.SessionID),
				zap.Int("pii_count", res.Stats.TotalCount),
			)

			if resultPath != "" {
				if err := writeResult(resultPath, res); err != nil {
					return err
				}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input file (default stdin)")
	cmd.Flags().StringVarP(&resultPath, "result", "r", "", "write the anonymization result (with mappings) to this file")
	cmd.Flags().BoolVar(&structured, "structured", false, "treat input as a JSON document")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON instead of the anonymized text")
	return cmd
}

// writeResult stores a result with owner-only permissions; it holds originals
func writeResult(path string, res *privacy.Result) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func readResult(path string) (*privacy.Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	var res privacy.Result
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result %s: %w", path, err)
	}
	return &res, nil
}
