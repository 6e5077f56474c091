package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fable-server/internal/models"
	"fable-server/internal/prompt"
)

// RawModelOutput is the result of one successful generation, including which
// provider ultimately served it (for telemetry and cost tracking).
type RawModelOutput struct {
	Text         string
	ProviderUsed string
	Usage        UsageInfo
}

// Generator is the orchestration contract the story service depends on.
type Generator interface {
	Generate(ctx context.Context, p prompt.PromptSet, params GenerationParams) (RawModelOutput, error)
}

// Orchestrator walks a ranked provider list. A provider attempt fails on
// error, empty body, or exceeding the per-attempt timeout; the orchestrator
// then immediately tries the next provider. There is no retry against the
// same provider: the goal is latency-bounded user-facing generation.
type Orchestrator struct {
	providers []Provider
	timeout   time.Duration
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator over providers in rank order.
func NewOrchestrator(providers []Provider, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		timeout:   timeout,
		logger:    logger.Named("Orchestrator"),
	}
}

// Generate calls providers in rank order and returns the first success.
// Only when all providers fail does it return ErrProviderUnavailable; no
// state has been touched at that point, so the caller may retry the
// identical operation.
func (o *Orchestrator) Generate(ctx context.Context, p prompt.PromptSet, params GenerationParams) (RawModelOutput, error) {
	if len(o.providers) == 0 {
		return RawModelOutput{}, fmt.Errorf("%w: no providers configured", models.ErrProviderUnavailable)
	}

	var lastErr error
	for _, provider := range o.providers {
		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		text, usage, err := provider.Generate(attemptCtx, p, params)
		cancel()

		if err == nil {
			o.logger.Info("Generation served",
				zap.String("provider", provider.Name()),
				zap.Int("total_tokens", usage.TotalTokens))
			return RawModelOutput{Text: text, ProviderUsed: provider.Name(), Usage: usage}, nil
		}

		lastErr = err
		o.logger.Warn("Provider attempt failed, trying next",
			zap.String("provider", provider.Name()),
			zap.Error(err))

		// A dead parent context means the caller is gone; stop early
		// instead of burning attempts against the remaining providers.
		if ctx.Err() != nil {
			break
		}
	}

	return RawModelOutput{}, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, lastErr)
}
