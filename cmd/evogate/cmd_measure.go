package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"evogate/internal/sandbox"
)

var (
	casesPath       string
	benchIterations int
	benchWarmup     int
)

var testCmd = &cobra.Command{
	Use:   "test <file>",
	Short: "Run a candidate against test cases",
	Args:  cobra.ExactArgs(1),
	RunE:  runTest,
}

var benchCmd = &cobra.Command{
	Use:   "bench <file>",
	Short: "Benchmark a candidate on the inputs of its test cases",
	Args:  cobra.ExactArgs(1),
	RunE:  runBench,
}

func init() {
	testCmd.Flags().StringVar(&casesPath, "cases", "", "YAML or JSON test cases (required)")
	_ = testCmd.MarkFlagRequired("cases")

	benchCmd.Flags().StringVar(&casesPath, "cases", "", "YAML or JSON test cases providing the workload")
	benchCmd.Flags().IntVarP(&benchIterations, "iterations", "n", 0, "Measured iterations (default from config)")
	benchCmd.Flags().IntVar(&benchWarmup, "warmup", -1, "Warmup runs (default from config)")
}

func runTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	code, err := readSource(cmd, args[0])
	if err != nil {
		return err
	}
	cases, err := loadCases(casesPath)
	if err != nil {
		return err
	}

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	report := p.TestModule(ctx, code, cases)
	if err := printJSON(cmd, report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d cases failed", report.Failed, report.Total)
	}
	return nil
}

func runBench(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	code, err := readSource(cmd, args[0])
	if err != nil {
		return err
	}
	cases, err := loadCases(casesPath)
	if err != nil {
		return err
	}

	opts := sandbox.BenchmarkOptions{Iterations: benchIterations, Warmup: benchWarmup}
	if opts.Iterations <= 0 {
		opts.Iterations = cfg.Compare.BenchmarkIterations
	}
	if opts.Warmup < 0 {
		opts.Warmup = cfg.Compare.Warmup
	}
	for _, tc := range cases {
		opts.Inputs = append(opts.Inputs, tc.Input)
	}

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	res := p.Benchmark(ctx, code, opts)
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if res.AllFailed {
		return fmt.Errorf("benchmark failed: %s", res.Error)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
