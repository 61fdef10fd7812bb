package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raaihank/case-sentinel/internal/privacy"
)

func newRestoreCmd(a *app) *cobra.Command {
	var (
		input      string
		resultPath string
		structured bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Put original values back in place of placeholders",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := readResult(resultPath)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, input)
			if err != nil {
				return err
			}

			var out string
			if structured {
				b, err := privacy.RestoreJSON(data, res.Mappings)
				if err != nil {
					return fmt.Errorf("input is not valid JSON: %w", err)
				}
				out = string(b)
			} else {
				out = privacy.RestoreText(strings.TrimSuffix(string(data), "\n"), res.Mappings)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input file (default stdin)")
	cmd.Flags().StringVarP(&resultPath, "result", "r", "", "result file written by anonymize")
	cmd.Flags().BoolVar(&structured, "structured", false, "treat input as a JSON document")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}
