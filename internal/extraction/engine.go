// Package extraction finds the VAT amounts of a document by running a chain
// of strategies, from structured table reading down to an emergency scan of
// whatever text survives a failed decode.
package extraction

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/confidence"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// VariantChooser picks one of n strategy-order variants for an identity
type VariantChooser interface {
	Choose(identity string, n int) int
}

// Engine runs the strategy chain for a document
type Engine struct {
	preparer   *Preparer
	aggregator *confidence.Aggregator
	chooser    VariantChooser
	strategies map[string]Strategy
	logger     *zap.Logger

	mu         sync.RWMutex
	variants   []Variant
	acceptable float64
}

// NewEngine creates an engine. Strategies are registered by name; tabular,
// pattern and emergency strategies are created when not supplied. The
// external strategy is optional.
func NewEngine(preparer *Preparer, chooser VariantChooser, logger *zap.Logger, strategies ...Strategy) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if preparer == nil {
		preparer = NewPreparer(nil, logger)
	}

	e := &Engine{
		preparer:   preparer,
		aggregator: confidence.NewAggregator(),
		chooser:    chooser,
		strategies: map[string]Strategy{
			entity.StrategyTabular:   NewTabularStrategy(),
			entity.StrategyPattern:   NewPatternStrategy(nil),
			entity.StrategyEmergency: NewEmergencyStrategy(),
		},
		logger:     logger,
		variants:   []Variant{DefaultVariant()},
		acceptable: DefaultAcceptableConfidence,
	}
	for _, s := range strategies {
		if s != nil {
			e.strategies[s.Name()] = s
		}
	}
	return e
}

// ApplyTuning installs a tuning: pattern table, variants and acceptable bar
func (e *Engine) ApplyTuning(t *Tuning) error {
	if t == nil {
		return nil
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid tuning: %w", err)
	}
	rules, err := t.Rules()
	if err != nil {
		return err
	}
	if ps, ok := e.strategies[entity.StrategyPattern].(*PatternStrategy); ok {
		ps.SetRules(rules)
	}

	e.mu.Lock()
	e.variants = append([]Variant(nil), t.Variants...)
	e.acceptable = t.AcceptableConfidence
	e.mu.Unlock()

	e.logger.Info("Extraction tuning applied",
		zap.Int("patterns", len(rules)),
		zap.Int("variants", len(t.Variants)),
		zap.Float64("acceptable_confidence", t.AcceptableConfidence))
	return nil
}

// Extract runs the chain and always returns a result. It never panics.
func (e *Engine) Extract(ctx context.Context, doc entity.RawDocument) (result entity.ExtractionResult) {
	variant, acceptable := e.selectVariant(doc.OwnerScope)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Extraction panicked, degrading to emergency scan",
				zap.String("document_id", doc.ID),
				zap.Any("panic", r))
			result = e.emergencyOnly(ctx, doc, variant.Name, fmt.Sprintf("extraction panicked: %v", r))
		}
	}()

	in := e.preparer.Prepare(ctx, doc)
	reasons := append([]string{"variant " + variant.Name}, in.Reasons...)

	if in.Unsupported {
		return entity.ExtractionResult{
			Candidates:   []entity.CandidateAmount{},
			StrategyUsed: entity.StrategyNone,
			Reasons:      reasons,
			NeedsReview:  true,
			Variant:      variant.Name,
		}
	}

	var (
		outcomes []entity.StrategyOutcome
		best     *entity.StrategyOutcome
		bestConf float64
	)
	for _, name := range variant.Order {
		if ctx.Err() != nil {
			reasons = append(reasons, "extraction cancelled: "+ctx.Err().Error())
			break
		}
		s, ok := e.strategies[name]
		if !ok {
			continue
		}

		out := e.run(ctx, s, in)
		reasons = append(reasons, prefixReasons(out)...)
		if !out.Claimed() {
			outcomes = append(outcomes, out)
			continue
		}

		conf := e.aggregator.Aggregate(out, outcomes)
		outcomes = append(outcomes, out)
		if best == nil || conf > bestConf {
			chosen := out
			best, bestConf = &chosen, conf
		}
		if conf >= acceptable {
			return e.build(in, *best, bestConf, outcomes, reasons, variant.Name, acceptable)
		}
	}

	// A failed decode always gets the emergency scan, even behind a weak claim
	if best != nil && in.DecodeFailed && ctx.Err() == nil {
		out := e.run(ctx, e.strategies[entity.StrategyEmergency], in)
		reasons = append(reasons, prefixReasons(out)...)
		if out.Claimed() {
			conf := e.aggregator.Aggregate(out, outcomes)
			outcomes = append(outcomes, out)
			if conf > bestConf {
				best, bestConf = &out, conf
			}
		}
	}

	if best != nil {
		reasons = append(reasons, fmt.Sprintf("no strategy reached %.2f, using best %s at %.2f", acceptable, best.Strategy, bestConf))
		return e.build(in, *best, bestConf, outcomes, reasons, variant.Name, acceptable)
	}

	// Nothing claimed: last resort
	if in.DecodeFailed || in.Text != "" {
		out := e.run(ctx, e.strategies[entity.StrategyEmergency], in)
		reasons = append(reasons, prefixReasons(out)...)
		if out.Claimed() {
			conf := e.aggregator.Aggregate(out, outcomes)
			return e.build(in, out, conf, append(outcomes, out), reasons, variant.Name, acceptable)
		}
	}

	strategy := entity.StrategyNone
	if in.DecodeFailed {
		strategy = entity.StrategyEmergency
	}
	reasons = append(reasons, "no vat amount found")
	return entity.ExtractionResult{
		Candidates:   []entity.CandidateAmount{},
		StrategyUsed: strategy,
		Reasons:      reasons,
		NeedsReview:  true,
		Variant:      variant.Name,
		Metadata:     ExtractMetadata(in.Text, nil),
	}
}

// run executes one strategy, turning a panic into a failed outcome
func (e *Engine) run(ctx context.Context, s Strategy, in *Input) (out entity.StrategyOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Extraction strategy panicked",
				zap.String("strategy", s.Name()),
				zap.String("document_id", in.Document.ID),
				zap.Any("panic", r))
			out = failedOutcome(s.Name(), fmt.Sprintf("strategy panicked: %v", r))
		}
	}()
	out = s.Extract(ctx, in)
	if out.Strategy == "" {
		out.Strategy = s.Name()
	}
	return out
}

func (e *Engine) build(in *Input, chosen entity.StrategyOutcome, conf float64, outcomes []entity.StrategyOutcome, reasons []string, variant string, acceptable float64) entity.ExtractionResult {
	candidates := append([]entity.CandidateAmount(nil), chosen.Candidates...)
	for _, o := range outcomes {
		if o.Strategy == chosen.Strategy || !o.Claimed() {
			continue
		}
		candidates = append(candidates, o.Candidates...)
	}

	primary := chosen.Primary().Value
	emergency := chosen.Strategy == entity.StrategyEmergency
	return entity.ExtractionResult{
		Candidates:    candidates,
		PrimaryAmount: primary,
		Confidence:    entity.Clamp01(conf),
		StrategyUsed:  chosen.Strategy,
		Reasons:       reasons,
		NeedsReview:   emergency || conf < acceptable,
		Variant:       variant,
		Metadata:      ExtractMetadata(in.Text, []float64{primary}),
	}
}

// emergencyOnly scans the raw bytes after a failure outside any strategy
func (e *Engine) emergencyOnly(ctx context.Context, doc entity.RawDocument, variant, reason string) entity.ExtractionResult {
	in := &Input{Document: doc, DecodeFailed: true}
	reasons := []string{"variant " + variant, reason}
	out := e.run(ctx, e.strategies[entity.StrategyEmergency], in)
	reasons = append(reasons, prefixReasons(out)...)
	if !out.Claimed() {
		return entity.ExtractionResult{
			Candidates:   []entity.CandidateAmount{},
			StrategyUsed: entity.StrategyEmergency,
			Reasons:      reasons,
			NeedsReview:  true,
			Variant:      variant,
		}
	}
	primary := out.Primary().Value
	return entity.ExtractionResult{
		Candidates:    out.Candidates,
		PrimaryAmount: primary,
		Confidence:    e.aggregator.Aggregate(out, nil),
		StrategyUsed:  entity.StrategyEmergency,
		Reasons:       reasons,
		NeedsReview:   true,
		Variant:       variant,
		Metadata:      entity.ExtractedMetadata{VATAmounts: []float64{primary}},
	}
}

func (e *Engine) selectVariant(identity string) (Variant, float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	idx := 0
	if len(e.variants) > 1 && e.chooser != nil {
		idx = e.chooser.Choose(identity, len(e.variants))
		if idx < 0 || idx >= len(e.variants) {
			idx = 0
		}
	}
	return e.variants[idx], e.acceptable
}

func prefixReasons(o entity.StrategyOutcome) []string {
	out := make([]string, 0, len(o.Reasons))
	for _, r := range o.Reasons {
		out = append(out, o.Strategy+": "+r)
	}
	return out
}
