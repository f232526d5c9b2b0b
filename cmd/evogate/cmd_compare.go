package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"evogate/internal/gate"
	"evogate/internal/logging"
)

var (
	compareCases      string
	compareIterations int
	compareModule     string
	compareRecord     bool
)

var compareCmd = &cobra.Command{
	Use:   "compare <old> <new>",
	Short: "Compare a candidate against its baseline",
	Long: `Compare a candidate against its baseline on test score and speed.

With --record the candidate goes through the full gate: it is screened,
previously rejected rewrites are skipped, and the decision is written to the
evolution log and to memory.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().StringVar(&compareCases, "cases", "", "YAML or JSON test cases")
	compareCmd.Flags().IntVarP(&compareIterations, "iterations", "n", 0, "Benchmark iterations (default from config)")
	compareCmd.Flags().StringVarP(&compareModule, "module", "m", "", "Module name (default: new file name)")
	compareCmd.Flags().BoolVar(&compareRecord, "record", false, "Record the decision in the evolution log and memory")
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	oldCode, err := readSource(cmd, args[0])
	if err != nil {
		return err
	}
	newCode, err := readSource(cmd, args[1])
	if err != nil {
		return err
	}
	cases, err := loadCases(compareCases)
	if err != nil {
		return err
	}

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if !compareRecord {
		ev := p.Compare(ctx, oldCode, newCode, cases, compareIterations)
		logging.Compare("%s", ev.Summary())
		return printJSON(cmd, ev)
	}

	module := compareModule
	if module == "" {
		module = moduleName(args[1])
	}
	out, err := p.Evaluate(ctx, gate.Candidate{
		Module:     module,
		OldCode:    oldCode,
		NewCode:    newCode,
		Cases:      cases,
		Iterations: compareIterations,
	})
	if perr := printJSON(cmd, out); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if out.Unsafe {
		return fmt.Errorf("rejected as unsafe: %s", out.Reason)
	}
	return nil
}

func moduleName(path string) string {
	if path == "-" {
		return "stdin"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
