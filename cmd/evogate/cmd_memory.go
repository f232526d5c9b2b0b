package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"evogate/internal/gate"
	"evogate/internal/memory"
)

var (
	memImportance float64
	memCategory   string
	memTiers      []string
	memContext    string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain tiered memory",
}

var memRememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory; importance decides which tiers it reaches",
	Args:  cobra.ExactArgs(1),
	RunE: withPipeline(func(_ context.Context, cmd *cobra.Command, p *gate.Pipeline, args []string) error {
		var meta map[string]any
		if memCategory != "" {
			meta = map[string]any{"category": memCategory}
		}
		res := p.Remember(args[0], memImportance, meta)
		if err := p.SaveAll(); err != nil {
			return err
		}
		return printJSON(cmd, res)
	}),
}

var memRecallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memory tiers for a substring",
	Args:  cobra.ExactArgs(1),
	RunE: withPipeline(func(_ context.Context, cmd *cobra.Command, p *gate.Pipeline, args []string) error {
		tiers, err := parseTiers(memTiers)
		if err != nil {
			return err
		}
		res := p.Recall(args[0], tiers...)
		// Recall records accesses.
		if err := p.SaveAll(); err != nil {
			return err
		}
		return printJSON(cmd, res)
	}),
}

var memConsolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Promote important short-term memories to long-term memory",
	Args:  cobra.NoArgs,
	RunE: withPipeline(func(_ context.Context, cmd *cobra.Command, p *gate.Pipeline, _ []string) error {
		n := p.Consolidate()
		if err := p.SaveAll(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "promoted %d\n", n)
		return nil
	}),
}

var memDecayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply age decay to short-term memory",
	Args:  cobra.NoArgs,
	RunE: withPipeline(func(_ context.Context, cmd *cobra.Command, p *gate.Pipeline, _ []string) error {
		n := p.Memory().DecayShortTerm()
		if err := p.SaveAll(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "decayed %d\n", n)
		return nil
	}),
}

var memStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tier sizes",
	Args:  cobra.NoArgs,
	RunE: withPipeline(func(_ context.Context, cmd *cobra.Command, p *gate.Pipeline, _ []string) error {
		return printJSON(cmd, p.Memory().Stats())
	}),
}

var memFeedbackCmd = &cobra.Command{
	Use:   "feedback <text>",
	Short: "Record reviewer feedback as a durable experience",
	Args:  cobra.ExactArgs(1),
	RunE: withPipeline(func(_ context.Context, cmd *cobra.Command, p *gate.Pipeline, args []string) error {
		res := p.LearnFromFeedback(args[0], memContext)
		if err := p.SaveAll(); err != nil {
			return err
		}
		return printJSON(cmd, res)
	}),
}

func init() {
	memRememberCmd.Flags().Float64Var(&memImportance, "importance", 0.5, "Importance in [0,1]")
	memRememberCmd.Flags().StringVar(&memCategory, "category", "", "Long-term category ("+strings.Join(memory.Categories, ", ")+")")
	memRecallCmd.Flags().StringSliceVar(&memTiers, "tier", nil, "Tiers to search: instant, short_term, long_term (default all)")
	memFeedbackCmd.Flags().StringVar(&memContext, "context", "", "Situation the feedback refers to")

	memoryCmd.AddCommand(memRememberCmd, memRecallCmd, memConsolidateCmd, memDecayCmd, memStatsCmd, memFeedbackCmd)
}

// withPipeline opens the gate around a subcommand body and closes it after.
// The body receives the command context; it is not stored on cmd because
// cobra reuses command values across executions.
func withPipeline(fn func(ctx context.Context, cmd *cobra.Command, p *gate.Pipeline, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		return fn(ctx, cmd, p, args)
	}
}

func parseTiers(names []string) ([]memory.Tier, error) {
	var tiers []memory.Tier
	for _, n := range names {
		switch strings.ToLower(strings.ReplaceAll(n, "-", "_")) {
		case "instant":
			tiers = append(tiers, memory.TierInstant)
		case "short", "short_term":
			tiers = append(tiers, memory.TierShortTerm)
		case "long", "long_term":
			tiers = append(tiers, memory.TierLongTerm)
		default:
			return nil, fmt.Errorf("unknown memory tier %q", n)
		}
	}
	return tiers, nil
}
