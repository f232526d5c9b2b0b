package gate

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"evogate/internal/logging"
)

// GenerateRequest asks a generation backend for a candidate.
type GenerateRequest struct {
	Prompt         string
	TaskComplexity string // "simple", "moderate", "complex"
	MaxTokens      int
	Temperature    float64
}

// Generation is a backend response.
type Generation struct {
	Text       string
	ModelUsed  string
	TokenCount int
	Elapsed    time.Duration
}

// Generator produces candidate code. Implementations live outside this module.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// ErrPermanent marks a generation failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent generation failure")

// RetryConfig configures RetryingGenerator.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns three tries starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: time.Second,
		MaxInterval:     8 * time.Second,
	}
}

// RetryingGenerator retries a Generator with exponential backoff.
// Errors wrapping ErrPermanent stop immediately.
type RetryingGenerator struct {
	next Generator
	cfg  RetryConfig
}

// NewRetryingGenerator wraps next.
func NewRetryingGenerator(next Generator, cfg RetryConfig) *RetryingGenerator {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = DefaultRetryConfig().MaxTries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	return &RetryingGenerator{next: next, cfg: cfg}
}

// Generate implements Generator.
func (g *RetryingGenerator) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialInterval
	b.MaxInterval = g.cfg.MaxInterval

	attempt := 0
	op := func() (Generation, error) {
		attempt++
		gen, err := g.next.Generate(ctx, req)
		if err == nil {
			return gen, nil
		}
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			return Generation{}, backoff.Permanent(err)
		}
		return Generation{}, err
	}
	notify := func(err error, wait time.Duration) {
		logging.GateWarn("generation attempt %d failed: %v (retrying in %v)", attempt, err, wait)
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.cfg.MaxTries),
		backoff.WithNotify(notify),
	)
}

var fencedBlock = regexp.MustCompile("(?s)```([a-zA-Z]*)[ \t]*\r?\n(.*?)```")

// ExtractCode returns the first fenced Go block of text, or the first
// unlabeled block, or the trimmed text when it has no fences.
func ExtractCode(text string) string {
	var fallback string
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		if lang == "go" || lang == "golang" {
			return strings.TrimSpace(m[2])
		}
		if lang == "" && fallback == "" {
			fallback = strings.TrimSpace(m[2])
		}
	}
	if fallback != "" {
		return fallback
	}
	return strings.TrimSpace(text)
}
