// Package llm composes the model providers into the failover topology the
// pipeline depends on: a primary generator that hands over to a secondary
// after repeated quota exhaustion, and a mirrored embedder pair.
package llm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
)

const defaultQuotaTripCount = 2

// FailoverGenerator tries the primary provider and falls back to the
// secondary on failure. After quotaTripCount consecutive quota errors the
// primary is skipped entirely until one of its calls succeeds again, which
// keeps a fully exhausted provider from adding latency to every request.
type FailoverGenerator struct {
	primary        ports.TextGenerator
	secondary      ports.TextGenerator
	quotaTripCount int
	logger         *slog.Logger

	mu               sync.Mutex
	consecutiveQuota int
}

func NewFailoverGenerator(primary, secondary ports.TextGenerator, logger *slog.Logger) *FailoverGenerator {
	return &FailoverGenerator{
		primary:        primary,
		secondary:      secondary,
		quotaTripCount: defaultQuotaTripCount,
		logger:         logger,
	}
}

func (f *FailoverGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	tripped := f.primaryTripped()
	if f.primary != nil && !tripped {
		out, err := f.primary.Generate(ctx, prompt)
		if err == nil {
			f.recordPrimarySuccess()
			return out, nil
		}
		if domain.IsKind(err, domain.ErrQuota) {
			f.recordPrimaryQuota()
		}
		if f.secondary == nil {
			return "", err
		}
		f.logger.Warn("primary_generator_failed_switching", "error", err)
	}

	if f.secondary == nil {
		return f.primary.Generate(ctx, prompt)
	}

	out, err := f.secondary.Generate(ctx, prompt)
	if err == nil || f.primary == nil || !tripped {
		return out, err
	}

	// Secondary down while the primary is tripped: retry the primary so a
	// replenished quota can clear the trip.
	retried, retryErr := f.primary.Generate(ctx, prompt)
	if retryErr != nil {
		return "", err
	}
	f.recordPrimarySuccess()
	return retried, nil
}

func (f *FailoverGenerator) primaryTripped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consecutiveQuota >= f.quotaTripCount
}

func (f *FailoverGenerator) recordPrimarySuccess() {
	f.mu.Lock()
	f.consecutiveQuota = 0
	f.mu.Unlock()
}

func (f *FailoverGenerator) recordPrimaryQuota() {
	f.mu.Lock()
	f.consecutiveQuota++
	f.mu.Unlock()
}

// FailoverEmbedder tries the primary embedder and falls back to the
// secondary on any error.
type FailoverEmbedder struct {
	primary   ports.Embedder
	secondary ports.Embedder
	logger    *slog.Logger
}

func NewFailoverEmbedder(primary, secondary ports.Embedder, logger *slog.Logger) *FailoverEmbedder {
	return &FailoverEmbedder{primary: primary, secondary: secondary, logger: logger}
}

func (f *FailoverEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	out, err := f.primary.Embed(ctx, text, taskType)
	if err == nil {
		return out, nil
	}
	if f.secondary == nil {
		return nil, err
	}
	f.logger.Warn("primary_embedder_failed_switching", "error", err)
	return f.secondary.Embed(ctx, text, taskType)
}
