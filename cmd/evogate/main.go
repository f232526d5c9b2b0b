// Command evogate screens, measures and records self-modification candidates.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evogate/internal/config"
	"evogate/internal/gate"
	"evogate/internal/logging"
	"evogate/internal/sandbox"
)

var (
	// Global flags
	configPath string
	workspace  string
	verbose    bool
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "evogate",
	Short: "evogate - safety and evaluation gate for self-modifying code",
	Long: `evogate decides whether a rewritten module is safe and better than the one it replaces.

Candidates are screened by a static policy, executed in an isolated interpreter,
compared against their baseline on correctness and speed, and every decision is
recorded in the evolution log and in tiered memory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if workspace != "" {
			cfg.Workspace = workspace
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}

		logger, err = logging.Initialize(cfg.Logging.ToLogging())
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.BootDebug("config=%s workspace=%s isolation=%s", configPath, cfg.Workspace, cfg.Sandbox.Isolation)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "evogate.yaml", "Config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory for memory and the evolution log")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	// The sandbox re-executes this binary for isolated runs.
	sandbox.ServeWorkerIfRequested()

	if err := rootCmd.Execute(); err != nil {
		logging.BootError("%s failed: %v", os.Args[0], err)
		_ = logging.Sync()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commandContext returns a context bounded by --timeout and cancelled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

// openPipeline builds the gate from the loaded configuration.
func openPipeline(ctx context.Context) (*gate.Pipeline, error) {
	return gate.Build(ctx, cfg)
}

// readSource reads a candidate from path, or stdin for "-".
func readSource(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func loadCases(path string) ([]sandbox.TestCase, error) {
	if path == "" {
		return nil, nil
	}
	return sandbox.LoadTestCases(path)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
