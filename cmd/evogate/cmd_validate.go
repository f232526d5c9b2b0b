package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"evogate/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a candidate against the safety policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

type validateOutput struct {
	*validator.Report
	Complexity int `json:"complexity"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	code, err := readSource(cmd, args[0])
	if err != nil {
		return err
	}

	v, err := validator.New(validator.Options{
		DeniedPackages: cfg.Validator.DeniedPackages,
		DeniedCalls:    cfg.Validator.DeniedCalls,
	})
	if err != nil {
		return err
	}

	report := v.Check(code)
	if err := printJSON(cmd, validateOutput{Report: report, Complexity: validator.EstimateComplexity(code)}); err != nil {
		return err
	}
	if !report.Safe {
		return fmt.Errorf("rejected: %s", report.Reason())
	}
	return nil
}
