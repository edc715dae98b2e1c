// Package decoder turns PDF bytes into plain text for the text strategies.
package decoder

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// Backend names accepted by New
const (
	BackendFitz   = "fitz"
	BackendPureGo = "pure"
	BackendChain  = "chain"
)

// DefaultMaxPages bounds how much of a long statement is decoded
const DefaultMaxPages = 20

// New returns the decoder for backend. The chain backend tries mupdf first
// and falls back to the pure-Go reader.
func New(backend string, maxPages int, logger *zap.Logger) (port.DocumentDecoder, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	switch backend {
	case BackendFitz, "":
		return NewFitzDecoder(maxPages, logger), nil
	case BackendPureGo:
		return NewPureGoDecoder(maxPages, logger), nil
	case BackendChain:
		return NewChain(logger, NewFitzDecoder(maxPages, logger), NewPureGoDecoder(maxPages, logger)), nil
	default:
		return nil, fmt.Errorf("unknown pdf backend %q", backend)
	}
}

// FitzDecoder extracts text with mupdf
type FitzDecoder struct {
	maxPages int
	logger   *zap.Logger
}

// NewFitzDecoder creates a mupdf-backed decoder
func NewFitzDecoder(maxPages int, logger *zap.Logger) *FitzDecoder {
	return &FitzDecoder{maxPages: maxPages, logger: logger}
}

// DecodeText reads the text layer page by page
func (d *FitzDecoder) DecodeText(ctx context.Context, content []byte) (string, error) {
	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open PDF: %v", entity.ErrDecodeFailed, err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	d.logger.Debug("Decoding PDF", zap.String("backend", BackendFitz), zap.Int("total_pages", pageCount))

	var sb strings.Builder
	for pageNum := 0; pageNum < pageCount && pageNum < d.maxPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.Text(pageNum)
		if err != nil {
			d.logger.Warn("Failed to extract page text",
				zap.Int("page", pageNum),
				zap.Error(err))
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// PureGoDecoder extracts text without cgo
type PureGoDecoder struct {
	maxPages int
	logger   *zap.Logger
}

// NewPureGoDecoder creates a decoder on ledongthuc/pdf
func NewPureGoDecoder(maxPages int, logger *zap.Logger) *PureGoDecoder {
	return &PureGoDecoder{maxPages: maxPages, logger: logger}
}

// DecodeText reads the plain text of each page
func (d *PureGoDecoder) DecodeText(ctx context.Context, content []byte) (text string, err error) {
	// The reader panics on some malformed cross-reference tables
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: pdf reader panicked: %v", entity.ErrDecodeFailed, p)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: failed to open PDF: %v", entity.ErrDecodeFailed, err)
	}

	pageCount := r.NumPage()
	d.logger.Debug("Decoding PDF", zap.String("backend", BackendPureGo), zap.Int("total_pages", pageCount))

	var sb strings.Builder
	for i := 1; i <= pageCount && i <= d.maxPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			d.logger.Warn("Failed to extract page text", zap.Int("page", i), zap.Error(err))
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Chain tries decoders in order until one yields text
type Chain struct {
	decoders []port.DocumentDecoder
	logger   *zap.Logger
}

// NewChain creates a fallback chain of decoders
func NewChain(logger *zap.Logger, decoders ...port.DocumentDecoder) *Chain {
	return &Chain{decoders: decoders, logger: logger}
}

// DecodeText returns the first non-blank text. An image-only PDF yields ""
// without error when any decoder opened it.
func (c *Chain) DecodeText(ctx context.Context, content []byte) (string, error) {
	var lastErr error
	opened := false
	for _, d := range c.decoders {
		text, err := d.DecodeText(ctx, content)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			c.logger.Debug("Decoder failed, trying next", zap.Error(err))
			lastErr = err
			continue
		}
		opened = true
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	if opened {
		return "", nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no decoder configured", entity.ErrDecodeFailed)
	}
	return "", lastErr
}

var (
	_ port.DocumentDecoder = (*FitzDecoder)(nil)
	_ port.DocumentDecoder = (*PureGoDecoder)(nil)
	_ port.DocumentDecoder = (*Chain)(nil)
)
