package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"evogate/internal/sandbox"
)

var (
	runInputs     []string
	runEntryPoint string
	runTimeout    string
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a candidate in the sandbox",
	Long: `Execute a candidate in the sandbox.

Each --input is a YAML or JSON value bound to the entry point: a mapping binds
by parameter name, a list by position, anything else to a single parameter.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "Input record (repeatable)")
	runCmd.Flags().StringVarP(&runEntryPoint, "entry", "e", "", "Entry point name (default from config)")
	runCmd.Flags().StringVar(&runTimeout, "run-timeout", "", "Execution budget, e.g. 2s (default from config)")
}

func parseInputs(raw []string) ([]any, error) {
	inputs := make([]any, 0, len(raw))
	for _, s := range raw {
		var v any
		if err := yaml.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("invalid input %q: %w", s, err)
		}
		inputs = append(inputs, v)
	}
	return inputs, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	code, err := readSource(cmd, args[0])
	if err != nil {
		return err
	}
	inputs, err := parseInputs(runInputs)
	if err != nil {
		return err
	}
	req := sandbox.RunRequest{Code: code, EntryPoint: runEntryPoint, Inputs: inputs}
	if runTimeout != "" {
		if req.Timeout, err = parseDuration(runTimeout); err != nil {
			return err
		}
	}

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	res := p.RunSandboxed(ctx, req)
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("run failed (%s): %s", res.Fault, res.Error)
	}
	return nil
}
