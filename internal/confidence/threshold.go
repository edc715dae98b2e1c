package confidence

import (
	"fmt"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// Threshold defines the decision boundaries for review routing
type Threshold struct {
	Accept  float64 `mapstructure:"accept"`  // Default: 0.75 - accept without review
	Review  float64 `mapstructure:"review"`  // Default: 0.40 - below this the result is unreliable
	Version string  `mapstructure:"version"` // Version identifier for audit trail
}

// DefaultThreshold returns the default threshold configuration
func DefaultThreshold() Threshold {
	return Threshold{
		Accept:  0.75,
		Review:  0.40,
		Version: "v1",
	}
}

// Validate ensures threshold values are within valid ranges and logically consistent
func (t Threshold) Validate() error {
	if t.Accept < 0.0 || t.Accept > 1.0 {
		return fmt.Errorf("Accept must be between 0.0 and 1.0, got %.2f", t.Accept)
	}

	if t.Review < 0.0 || t.Review > 1.0 {
		return fmt.Errorf("Review must be between 0.0 and 1.0, got %.2f", t.Review)
	}

	if t.Accept <= t.Review {
		return fmt.Errorf("Accept must be greater than Review (accept: %.2f, review: %.2f)", t.Accept, t.Review)
	}

	return nil
}

// Router routes extraction results based on confidence thresholds
type Router struct {
	thresholds Threshold
}

// NewRouter creates a new decision router with given thresholds
func NewRouter(thresholds Threshold) *Router {
	return &Router{thresholds: thresholds}
}

// Route assigns a review decision. Results flagged for review never route to ACCEPTED.
func (r *Router) Route(score float64, needsReview bool) entity.ReviewDecision {
	decision := entity.ReviewDecision{Score: score}

	switch {
	case score <= 0:
		decision.Decision = entity.ReviewUnreliable
		decision.Rationale = "Unreliable: no VAT amount could be extracted"

	case needsReview:
		decision.Decision = entity.ReviewNeeded
		decision.Rationale = fmt.Sprintf("Manual review required: result flagged by extraction (confidence %.2f)", score)

	case score >= r.thresholds.Accept:
		decision.Decision = entity.ReviewAccepted
		decision.Rationale = fmt.Sprintf("Accepted: confidence score %.2f >= threshold %.2f",
			score, r.thresholds.Accept)

	case score >= r.thresholds.Review:
		decision.Decision = entity.ReviewNeeded
		decision.Rationale = fmt.Sprintf("Manual review required: confidence score %.2f between thresholds (%.2f-%.2f)",
			score, r.thresholds.Review, r.thresholds.Accept)

	default:
		decision.Decision = entity.ReviewUnreliable
		decision.Rationale = fmt.Sprintf("Unreliable: confidence score %.2f below review threshold %.2f",
			score, r.thresholds.Review)
	}

	return decision
}
