// Package gate is the surface an orchestrator uses to vet self-modifications.
//
// A Pipeline owns one of each component: the validator screens code, the
// executor runs it, the comparison engine decides, the ledger records every
// decision and the memory manager keeps what was learned.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"evogate/internal/compare"
	"evogate/internal/ledger"
	"evogate/internal/logging"
	"evogate/internal/memory"
	"evogate/internal/sandbox"
	"evogate/internal/validator"
)

var tracer = otel.Tracer("evogate/internal/gate")

// Importance of the memories written for outcomes and feedback.
const (
	acceptedImportance = 0.9
	rejectedImportance = 0.6
	feedbackImportance = 0.85
)

// DecisionKnownRejection labels candidates skipped because the same code was rejected before.
const DecisionKnownRejection = "reject_known"

// Candidate is a proposed replacement for a module.
type Candidate struct {
	Module     string
	OldCode    string
	NewCode    string
	Cases      []sandbox.TestCase
	Iterations int
}

// Outcome is the recorded decision for one candidate.
type Outcome struct {
	Module       string `json:"module"`
	EvaluationID string `json:"evaluation_id"`
	Decision     string `json:"decision"`
	Accepted     bool   `json:"accepted"`
	Unsafe       bool   `json:"unsafe,omitempty"`
	Known        bool   `json:"known,omitempty"`
	// Reason is set for candidates rejected before comparison.
	Reason string `json:"reason,omitempty"`

	Evaluation *compare.Evaluation   `json:"evaluation,omitempty"`
	Record     ledger.Record         `json:"record"`
	Memory     memory.RememberResult `json:"memory"`
}

// Options configures a Pipeline.
type Options struct {
	Iterations int // benchmark iterations when a candidate does not set them
	Workers    int // parallel evaluations in EvaluateAll
	Now        func() time.Time
}

// Pipeline wires the gate components together.
type Pipeline struct {
	validator *validator.Validator
	executor  *sandbox.Executor
	engine    *compare.Engine
	memory    *memory.Manager
	ledger    *ledger.Ledger // nil disables the evolution log

	opts Options
	now  func() time.Time

	mu    sync.Mutex
	stats Stats
}

// New assembles a pipeline from its components.
func New(v *validator.Validator, x *sandbox.Executor, e *compare.Engine, m *memory.Manager, l *ledger.Ledger, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{validator: v, executor: x, engine: e, memory: m, ledger: l, opts: opts, now: now}
}

// Validate runs the static safety check.
func (p *Pipeline) Validate(code string) *validator.Report {
	return p.validator.Check(code)
}

// RunSandboxed executes code in the sandbox.
func (p *Pipeline) RunSandboxed(ctx context.Context, req sandbox.RunRequest) sandbox.RunResult {
	return p.executor.Run(ctx, req)
}

// TestModule runs code against cases.
func (p *Pipeline) TestModule(ctx context.Context, code string, cases []sandbox.TestCase) sandbox.TestReport {
	return p.executor.TestModule(ctx, code, cases)
}

// Benchmark measures code.
func (p *Pipeline) Benchmark(ctx context.Context, code string, opts sandbox.BenchmarkOptions) sandbox.BenchmarkResult {
	return p.executor.Benchmark(ctx, code, opts)
}

// Compare measures newCode against oldCode without recording anything.
func (p *Pipeline) Compare(ctx context.Context, oldCode, newCode string, cases []sandbox.TestCase, iterations int) compare.Evaluation {
	return p.engine.Compare(ctx, oldCode, newCode, cases, iterations)
}

// Remember stores content in memory.
func (p *Pipeline) Remember(content any, importance float64, metadata map[string]any) memory.RememberResult {
	return p.memory.Remember(content, importance, metadata)
}

// Recall searches memory.
func (p *Pipeline) Recall(query string, tiers ...memory.Tier) memory.RecallResult {
	return p.memory.Recall(query, tiers...)
}

// Consolidate promotes important short-term memories.
func (p *Pipeline) Consolidate() int {
	return p.memory.Consolidate()
}

// SaveAll persists the memory tiers.
func (p *Pipeline) SaveAll() error {
	return p.memory.SaveAll()
}

// Memory exposes the memory manager.
func (p *Pipeline) Memory() *memory.Manager { return p.memory }

// Validator exposes the safety checker.
func (p *Pipeline) Validator() *validator.Validator { return p.validator }

// Ledger exposes the evolution log, nil when disabled.
func (p *Pipeline) Ledger() *ledger.Ledger { return p.ledger }

// LearnFromFeedback stores user feedback as an experience.
func (p *Pipeline) LearnFromFeedback(feedback, situation string) memory.RememberResult {
	res := p.memory.Remember("user feedback: "+feedback, feedbackImportance, map[string]any{
		"category": memory.CategoryExperiences,
		"type":     "user_feedback",
		"context":  situation,
	})
	logging.Gate("recorded feedback %s", res.ID)
	return res
}

// Evaluate validates, compares and records one candidate. Every call yields a
// decision, a ledger record and a memory. The error is non-nil only when the
// ledger could not be written.
func (p *Pipeline) Evaluate(ctx context.Context, c Candidate) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "gate.Evaluate",
		trace.WithAttributes(attribute.String("evogate.module", c.Module)))
	defer span.End()

	timer := logging.StartTimer(logging.CategoryGate, "Evaluate "+c.Module)
	defer timer.Stop()

	out := p.evaluate(ctx, c)

	var err error
	if p.ledger != nil {
		if err = p.ledger.Append(ctx, out.Record); err != nil {
			err = fmt.Errorf("failed to record evaluation %s: %w", out.EvaluationID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "ledger write failed")
		}
	}

	p.mu.Lock()
	p.stats = p.stats.Record(out)
	p.mu.Unlock()

	span.SetAttributes(
		attribute.String("evogate.decision", out.Decision),
		attribute.Bool("evogate.accepted", out.Accepted),
	)
	logging.Get(logging.CategoryGate).
		With("module", c.Module, "evaluation", out.EvaluationID).
		Info("decision %s (total %+.3f)", out.Decision, totalImprovement(out))
	return out, err
}

func (p *Pipeline) evaluate(ctx context.Context, c Candidate) Outcome {
	now := p.now()
	fp := ledger.Fingerprint(c.NewCode)

	if report := p.validator.Check(c.NewCode); !report.Safe {
		id := uuid.NewString()
		reason := report.Reason()
		out := Outcome{
			Module:       c.Module,
			EvaluationID: id,
			Decision:     ledger.DecisionRejectedUnsafe,
			Unsafe:       true,
			Reason:       reason,
			Record:       ledger.NewRejection(id, c.Module, c.OldCode, c.NewCode, reason, now),
		}
		out.Memory = p.rememberRejection(c.Module, fp, reason, 0)
		return out
	}

	if p.previouslyRejected(ctx, c.Module, c.NewCode, fp) {
		id := uuid.NewString()
		reason := "candidate was rejected before"
		rec := ledger.NewRejection(id, c.Module, c.OldCode, c.NewCode, reason, now)
		rec.Decision = DecisionKnownRejection
		return Outcome{
			Module:       c.Module,
			EvaluationID: id,
			Decision:     DecisionKnownRejection,
			Known:        true,
			Reason:       reason,
			Record:       rec,
		}
	}

	iterations := c.Iterations
	if iterations <= 0 {
		iterations = p.opts.Iterations
	}
	ev := p.engine.Compare(ctx, c.OldCode, c.NewCode, c.Cases, iterations)

	out := Outcome{
		Module:       c.Module,
		EvaluationID: ev.ID,
		Decision:     string(ev.Decision),
		Accepted:     ev.Accepted(),
		Evaluation:   &ev,
		Record:       ledger.NewRecord(c.Module, c.OldCode, c.NewCode, ev, now),
	}
	if out.Accepted {
		out.Memory = p.memory.Remember(
			fmt.Sprintf("optimized %s, improvement %.2f%%", c.Module, ev.TotalImprovement*100),
			acceptedImportance,
			map[string]any{
				"category":      memory.CategoryOptimizations,
				"module":        c.Module,
				"improvement":   ev.TotalImprovement,
				"fingerprint":   fp,
				"evaluation_id": ev.ID,
			})
	} else {
		out.Memory = p.rememberRejection(c.Module, fp, ev.Decision.Recommendation(), ev.TotalImprovement)
	}
	return out
}

func (p *Pipeline) rememberRejection(module, fp, reason string, improvement float64) memory.RememberResult {
	return p.memory.Remember(
		fmt.Sprintf("attempt to optimize %s failed: %s", module, reason),
		rejectedImportance,
		map[string]any{
			"category":    memory.CategoryFailures,
			"module":      module,
			"improvement": improvement,
			"fingerprint": fp,
		})
}

// previouslyRejected checks the ledger, or the short-term failure memories
// when the ledger is disabled.
func (p *Pipeline) previouslyRejected(ctx context.Context, module, code, fp string) bool {
	if p.ledger != nil {
		known, err := p.ledger.PreviouslyRejected(ctx, module, code)
		if err != nil {
			logging.GateWarn("rejection lookup failed for %s: %v", module, err)
			return false
		}
		logging.GateDebug("ledger lookup %s %.12s: known=%v", module, fp, known)
		return known
	}
	for _, e := range p.memory.ShortTerm().Snapshot() {
		if e.Category("") != memory.CategoryFailures {
			continue
		}
		if e.Metadata["module"] == module && e.Metadata["fingerprint"] == fp {
			return true
		}
	}
	return false
}

func totalImprovement(o Outcome) float64 {
	if o.Evaluation == nil {
		return 0
	}
	return o.Evaluation.TotalImprovement
}

// EvaluateAll evaluates independent candidates in parallel. Outcomes are in
// input order. The first ledger error is returned after all candidates ran.
func (p *Pipeline) EvaluateAll(ctx context.Context, candidates []Candidate) ([]Outcome, error) {
	ctx, span := tracer.Start(ctx, "gate.EvaluateAll",
		trace.WithAttributes(attribute.Int("evogate.candidates", len(candidates))))
	defer span.End()

	outcomes := make([]Outcome, len(candidates))
	errs := make([]error, len(candidates))

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, c := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			outcomes[i], errs[i] = p.Evaluate(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return outcomes, err
		}
	}
	return outcomes, nil
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close persists memory and closes the ledger.
func (p *Pipeline) Close() error {
	saveErr := p.memory.SaveAll()
	if p.ledger != nil {
		if err := p.ledger.Close(); err != nil && saveErr == nil {
			return err
		}
	}
	return saveErr
}
