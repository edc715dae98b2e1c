package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(), zap.NewNop())

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errTemp), RecordFailure: true}
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(), zap.NewNop())

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, nil)

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute
	exec := NewExecutor(cfg, zap.NewNop())

	failing := func(context.Context) error { return errors.New("down") }
	for i := 0; i < 2; i++ {
		_ = exec.Execute(context.Background(), "op", failing, nil)
	}

	calls := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	}, nil)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 0, calls)
}

func TestExecuteNilCallback(t *testing.T) {
	exec := NewExecutor(fastConfig(), zap.NewNop())
	assert.Error(t, exec.Execute(context.Background(), "op", nil, nil))
}

type scriptedExtractor struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedExtractor) Name() string { return "scripted" }

func (s *scriptedExtractor) ExtractAmounts(ctx context.Context, content []byte, mimeType string) ([]port.ExternalAmount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []port.ExternalAmount{{Value: 23, Confidence: 0.9}}, nil
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObserveExternalCall(provider, outcome string, elapsed time.Duration) {
	r.outcomes = append(r.outcomes, provider+":"+outcome)
}

func TestGuardedExtractor(t *testing.T) {
	transient := fmt.Errorf("%w: 503", entity.ErrStrategyUnavailable)
	quota := fmt.Errorf("%w: 429", entity.ErrQuotaExceeded)

	tests := []struct {
		name        string
		errs        []error
		expectCalls int
		expectErr   error
		outcome     string
	}{
		{"success", nil, 1, nil, "scripted:success"},
		{"transient then success", []error{transient}, 2, nil, "scripted:success"},
		{"quota not retried", []error{quota}, 1, entity.ErrQuotaExceeded, "scripted:quota"},
		{"retries exhausted", []error{transient, transient, transient}, 3, entity.ErrStrategyUnavailable, "scripted:unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scriptedExtractor{errs: tt.errs}
			observer := &recordingObserver{}
			g := NewGuardedExtractor(inner, fastConfig(), observer, zap.NewNop())

			amounts, err := g.ExtractAmounts(context.Background(), []byte("x"), "image/png")

			assert.Equal(t, tt.expectCalls, inner.calls)
			assert.Equal(t, []string{tt.outcome}, observer.outcomes)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, amounts, 1)
		})
	}
}

func TestGuardedExtractor_OpenCircuitIsUnavailable(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 1
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute

	down := fmt.Errorf("%w: 500", entity.ErrStrategyUnavailable)
	inner := &scriptedExtractor{errs: []error{down}}
	g := NewGuardedExtractor(inner, cfg, nil, zap.NewNop())

	_, err := g.ExtractAmounts(context.Background(), nil, "")
	require.Error(t, err)

	_, err = g.ExtractAmounts(context.Background(), nil, "")
	assert.ErrorIs(t, err, entity.ErrStrategyUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "scripted", g.Name())
}

func TestGuardedExtractor_RateLimitHonoursDeadline(t *testing.T) {
	cfg := fastConfig()
	cfg.RatePerMinute = 1
	cfg.Burst = 1
	inner := &scriptedExtractor{}
	g := NewGuardedExtractor(inner, cfg, nil, zap.NewNop())

	_, err := g.ExtractAmounts(context.Background(), nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.ExtractAmounts(ctx, nil, "")
	assert.ErrorIs(t, err, entity.ErrExtractionTimeout)
	assert.Equal(t, 1, inner.calls)
}
