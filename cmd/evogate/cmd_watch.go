package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"evogate/internal/gate"
	"evogate/internal/logging"
	"evogate/internal/memory"
	"evogate/internal/watch"
)

var watchFor time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Screen module files as they change",
	Long: `Screen module files as they change.

Every settled change is checked against the safety policy, remembered, and
printed as one JSON line. Runs until interrupted, until --for elapses, or
until the global --timeout.`,
	Args: cobra.ExactArgs(1),
	RunE: withPipeline(runWatch),
}

func init() {
	watchCmd.Flags().DurationVar(&watchFor, "for", 0, "Stop after this long (default: until interrupted)")
}

// watchEvent is the printed form of a change.
type watchEvent struct {
	Module      string   `json:"module"`
	Path        string   `json:"path"`
	Op          watch.Op `json:"op"`
	Safe        bool     `json:"safe"`
	Reason      string   `json:"reason,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Memory      string   `json:"memory_id,omitempty"`
}

// changeImportance ranks unsafe edits above routine ones so they reach short-term memory.
func changeImportance(c watch.Change) float64 {
	switch {
	case c.Op == watch.OpDelete:
		return 0.3
	case !c.Report.Safe:
		return 0.6
	default:
		return 0.4
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, p *gate.Pipeline, args []string) error {
	if watchFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, watchFor)
		defer cancel()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	handler := func(_ context.Context, c watch.Change) {
		ev := watchEvent{Module: c.Module, Path: c.Path, Op: c.Op, Safe: true, Fingerprint: c.Fingerprint}
		meta := map[string]any{"module": c.Module, "op": string(c.Op), "category": memory.CategoryExperiences}
		content := c.Module + " " + string(c.Op)
		if c.Report != nil && !c.Report.Safe {
			ev.Safe = false
			ev.Reason = c.Report.Reason()
			meta["category"] = memory.CategoryFailures
			content += " unsafe: " + ev.Reason
		}
		ev.Memory = p.Remember(content, changeImportance(c), meta).ID
		if err := enc.Encode(ev); err != nil {
			logging.Get(logging.CategoryWatch).Error("failed to print change: %v", err)
		}
	}

	w, err := watch.New(args[0], p.Validator(), handler, watch.Options{
		Debounce:   cfg.GetWatchDebounce(),
		Extensions: cfg.Watch.Extensions,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}

	<-ctx.Done()
	w.Stop()

	s := w.Stats()
	logging.Watch("watch finished: %d changes, %d rejected, %d deleted", s.Changes, s.Rejected, s.Deleted)
	return p.SaveAll()
}
