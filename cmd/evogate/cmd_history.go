package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evogate/internal/gate"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [module]",
	Short: "Show evolution decisions",
	Long: `Show evolution decisions.

Without a module, prints one summary row per module. With a module, prints its
most recent evaluations, newest first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withPipeline(runHistory),
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum evaluations to show for a module")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON")
}

func runHistory(ctx context.Context, cmd *cobra.Command, p *gate.Pipeline, args []string) error {
	l := p.Ledger()
	if l == nil {
		return fmt.Errorf("evolution log is not configured")
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		sums, err := l.Summaries(ctx, "")
		if err != nil {
			return err
		}
		if historyJSON {
			return printJSON(cmd, sums)
		}
		if len(sums) == 0 {
			fmt.Fprintln(out, "no evaluations recorded")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODULE\tEVALS\tACCEPTED\tREJECTED\tUNSAFE\tBEST\tLAST")
		for _, s := range sums {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%+.3f\t%s\n",
				s.Module, s.Evaluations, s.Accepted, s.Rejected, s.Unsafe, s.BestTotal, s.LastDecision)
		}
		return w.Flush()
	}

	recs, err := l.History(ctx, args[0], historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(cmd, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintf(out, "no evaluations recorded for %s\n", args[0])
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDECISION\tTOTAL\tSCORE\tPERF\tID")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%+.3f\t%+.3f\t%+.3f\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.Decision,
			r.TotalImprovement, r.ScoreImprovement, r.PerformanceImprovement, r.EvaluationID)
	}
	return w.Flush()
}
