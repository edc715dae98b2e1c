package extraction

import (
	"context"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// Strategy is one way of finding VAT amounts in a prepared document.
// Implementations report problems through the outcome status, never by panicking
// or returning errors.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, in *Input) entity.StrategyOutcome
}

func emptyOutcome(strategy, reason string) entity.StrategyOutcome {
	return entity.StrategyOutcome{
		Strategy: strategy,
		Status:   entity.OutcomeEmpty,
		Reasons:  []string{reason},
	}
}

func unavailableOutcome(strategy, reason string) entity.StrategyOutcome {
	return entity.StrategyOutcome{
		Strategy: strategy,
		Status:   entity.OutcomeUnavailable,
		Reasons:  []string{reason},
	}
}

func failedOutcome(strategy, reason string) entity.StrategyOutcome {
	return entity.StrategyOutcome{
		Strategy: strategy,
		Status:   entity.OutcomeFailed,
		Reasons:  []string{reason},
	}
}
