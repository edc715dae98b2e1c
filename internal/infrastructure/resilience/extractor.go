package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// CallObserver receives the outcome of each guarded external call
type CallObserver interface {
	ObserveExternalCall(provider, outcome string, elapsed time.Duration)
}

// GuardedExtractor rate-limits an ExternalExtractor and runs it through the executor
type GuardedExtractor struct {
	inner    port.ExternalExtractor
	exec     *Executor
	limiter  *rate.Limiter
	observer CallObserver
	logger   *zap.Logger
}

// NewGuardedExtractor wraps inner. observer may be nil.
func NewGuardedExtractor(inner port.ExternalExtractor, cfg Config, observer CallObserver, logger *zap.Logger) *GuardedExtractor {
	cfg = cfg.normalize()
	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.Burst)
	}
	return &GuardedExtractor{
		inner:    inner,
		exec:     NewExecutor(cfg, logger),
		limiter:  limiter,
		observer: observer,
		logger:   logger,
	}
}

// Name returns the wrapped provider name
func (g *GuardedExtractor) Name() string { return g.inner.Name() }

// ExtractAmounts waits for a rate token, then calls the provider with retries
func (g *GuardedExtractor) ExtractAmounts(ctx context.Context, content []byte, mimeType string) ([]port.ExternalAmount, error) {
	start := time.Now()
	var amounts []port.ExternalAmount

	err := g.exec.Execute(ctx, "external:"+g.inner.Name(), func(ctx context.Context) error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%w: rate limiter: %v", entity.ErrExtractionTimeout, err)
			}
		}
		var err error
		amounts, err = g.inner.ExtractAmounts(ctx, content, mimeType)
		return err
	}, classifyExternal)

	if IsCircuitOpen(err) {
		err = fmt.Errorf("%w: circuit open for %s", entity.ErrStrategyUnavailable, g.inner.Name())
	}
	g.observe(err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return amounts, nil
}

func (g *GuardedExtractor) observe(err error, elapsed time.Duration) {
	if g.observer == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, entity.ErrExtractionTimeout), errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case errors.Is(err, entity.ErrQuotaExceeded):
		outcome = "quota"
	case errors.Is(err, entity.ErrInvalidInput):
		outcome = "invalid_input"
	default:
		outcome = "unavailable"
	}
	g.observer.ObserveExternalCall(g.inner.Name(), outcome, elapsed)
}

// classifyExternal retries transient failures. Rejected input and exhausted
// quota are the caller's problem and do not trip the breaker.
func classifyExternal(err error) ErrorClassification {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorClassification{}
	case errors.Is(err, entity.ErrInvalidInput), errors.Is(err, entity.ErrQuotaExceeded):
		return ErrorClassification{Retryable: false, RecordFailure: false}
	case errors.Is(err, entity.ErrExtractionTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{Retryable: false, RecordFailure: true}
	default:
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
}

var _ port.ExternalExtractor = (*GuardedExtractor)(nil)
