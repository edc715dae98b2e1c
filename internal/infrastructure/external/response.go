// Package external holds what the document-understanding providers share:
// the extraction prompt, the reply schema and error classification.
package external

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
	"github.com/garyjia/vat-intake/internal/extraction"
)

// SystemPrompt frames every provider call
const SystemPrompt = "You read Irish business documents (invoices, receipts, credit notes, VAT returns) and report the VAT amounts printed on them. Always respond with valid JSON."

// DefaultUserPrompt asks for the amounts in the reply schema
const DefaultUserPrompt = `Find every VAT (tax) amount printed on this {{.Kind}}.

Report only VAT amounts, never the gross total or the net amount.
If the document lists VAT per rate, report each line and the VAT total.
Use numbers without currency symbols. A credit note may carry negative amounts.

Respond with ONLY a JSON object of this exact shape:
{
  "vat_amounts": [
    {"value": number, "confidence": number between 0.0 and 1.0, "label": "text printed next to the amount"}
  ]
}
If no VAT amount is visible return {"vat_amounts": []}.`

// Reply is the JSON object the providers are asked to return
type Reply struct {
	VATAmounts []struct {
		Value      json.RawMessage `json:"value"`
		Confidence float64         `json:"confidence"`
		Label      string          `json:"label"`
	} `json:"vat_amounts"`
}

// ParseReply decodes a model reply, repairing truncated or fenced JSON
func ParseReply(content string) ([]port.ExternalAmount, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty reply: %w", entity.ErrStrategyUnavailable)
	}

	var reply Reply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		repaired, repairErr := jsonrepair.RepairJSON(objectSpan(content))
		if repairErr != nil {
			return nil, fmt.Errorf("failed to repair reply: %w", repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
			return nil, fmt.Errorf("failed to parse reply: %w", err)
		}
	}

	amounts := make([]port.ExternalAmount, 0, len(reply.VATAmounts))
	for _, a := range reply.VATAmounts {
		// Models sometimes quote the number or keep the currency sign
		value, ok := extraction.ParseAmountFloat(strings.Trim(string(a.Value), `"`))
		if !ok {
			continue
		}
		amounts = append(amounts, port.ExternalAmount{
			Value:      value,
			Confidence: entity.Clamp01(a.Confidence),
			Label:      a.Label,
		})
	}
	return amounts, nil
}

// objectSpan trims prose and markdown fences around the outermost JSON object.
// An unterminated object is returned from its opening brace for repair.
func objectSpan(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return content
	}
	end := strings.LastIndexByte(content, '}')
	if end < start {
		return content[start:]
	}
	return content[start : end+1]
}

// DocumentKind names the input in the prompt
func DocumentKind(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "scanned document"
	case mimeType == extraction.MimePDF:
		return "PDF document"
	default:
		return "document"
	}
}

// ClassifyStatus maps an HTTP status from a provider to the extraction error kinds
func ClassifyStatus(status int, err error) error {
	switch {
	case status == 429:
		return fmt.Errorf("%w: %v", entity.ErrQuotaExceeded, err)
	case status == 408 || status == 504:
		return fmt.Errorf("%w: %v", entity.ErrExtractionTimeout, err)
	case status == 400 || status == 413 || status == 415 || status == 422:
		return fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", entity.ErrStrategyUnavailable, err)
	}
}
