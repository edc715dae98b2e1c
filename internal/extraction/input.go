package extraction

import (
	"context"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// MIME types the preparer recognizes
const (
	MimePDF  = "application/pdf"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeCSV  = "text/csv"
	MimeTSV  = "text/tab-separated-values"
	MimeHTML = "text/html"
	MimeText = "text/plain"
	MimeJSON = "application/json"
)

// Input is a document prepared once for every strategy
type Input struct {
	Document entity.RawDocument
	MimeType string
	Text     string
	Tables   []Table

	// Binary is set for images and other content only an external service can read
	Binary bool
	// Unsupported is set when no strategy can read the content
	Unsupported  bool
	DecodeFailed bool
	Reasons      []string
}

// Preparer sniffs, decodes and parses a raw document
type Preparer struct {
	pdf    port.DocumentDecoder
	logger *zap.Logger
}

// NewPreparer creates a preparer. pdf may be nil, in which case PDFs fail to decode.
func NewPreparer(pdf port.DocumentDecoder, logger *zap.Logger) *Preparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preparer{pdf: pdf, logger: logger}
}

// Prepare builds the strategy input. Decoding problems are recorded on the
// input and never returned as errors.
func (p *Preparer) Prepare(ctx context.Context, doc entity.RawDocument) *Input {
	in := &Input{Document: doc}
	if len(doc.Content) == 0 {
		in.Unsupported = true
		in.Reasons = append(in.Reasons, "empty document content")
		return in
	}

	in.MimeType = p.resolveMime(doc)

	switch {
	case in.MimeType == MimePDF:
		p.decodePDF(ctx, in)

	case in.MimeType == MimeXLSX:
		tables, err := ParseSpreadsheet(doc.Content)
		if err != nil {
			p.markDecodeFailed(in, err)
			return in
		}
		in.Tables = tables
		in.Text = TablesText(tables)

	case in.MimeType == MimeHTML:
		tables, text, err := ParseHTML(doc.Content)
		if err != nil {
			p.markDecodeFailed(in, err)
			return in
		}
		in.Tables = tables
		in.Text = text

	case in.MimeType == MimeCSV || in.MimeType == MimeTSV:
		delim := ','
		if in.MimeType == MimeTSV {
			delim = '\t'
		}
		p.readDelimited(in, delim)

	case strings.HasPrefix(in.MimeType, "image/"):
		in.Binary = true

	case strings.HasPrefix(in.MimeType, "text/") || in.MimeType == MimeJSON || utf8.Valid(doc.Content):
		in.Text = string(stripBOM(doc.Content))
		if delim, ok := looksDelimited(in.Text); ok {
			p.readDelimited(in, delim)
		}

	default:
		in.Unsupported = true
		in.Reasons = append(in.Reasons, "unsupported content type "+in.MimeType)
	}

	return in
}

func (p *Preparer) decodePDF(ctx context.Context, in *Input) {
	if p.pdf == nil {
		p.markDecodeFailed(in, entity.ErrStrategyUnavailable)
		return
	}

	text, err := p.pdf.DecodeText(ctx, in.Document.Content)
	if err != nil {
		p.markDecodeFailed(in, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		// Scanned PDF without a text layer
		in.Binary = true
		in.Reasons = append(in.Reasons, "pdf has no text layer")
		return
	}
	in.Text = text
}

func (p *Preparer) readDelimited(in *Input, delim rune) {
	tables, err := ParseDelimited(in.Document.Content, delim)
	if err != nil {
		p.logger.Debug("Delimited parse failed, keeping plain text",
			zap.String("document_id", in.Document.ID),
			zap.Error(err))
		in.Text = string(stripBOM(in.Document.Content))
		return
	}
	in.Tables = tables
	in.Text = string(stripBOM(in.Document.Content))
}

func (p *Preparer) markDecodeFailed(in *Input, err error) {
	p.logger.Warn("Failed to decode document",
		zap.String("document_id", in.Document.ID),
		zap.String("mime_type", in.MimeType),
		zap.Error(err))
	in.DecodeFailed = true
	in.Reasons = append(in.Reasons, "decode failed: "+err.Error())
}

// resolveMime trusts a specific declared type, otherwise sniffs the content
// and finally falls back to the file extension.
func (p *Preparer) resolveMime(doc entity.RawDocument) string {
	declared := baseMime(doc.MimeType)
	if declared != "" && declared != "application/octet-stream" && declared != MimeText {
		return declared
	}

	if byExt := mimeFromExtension(doc.FileName); byExt != "" {
		return byExt
	}

	sniffed := baseMime(mimetype.Detect(doc.Content).String())
	if sniffed == "application/zip" {
		// XLSX files without a telling name sniff as zip archives
		return MimeXLSX
	}
	if sniffed == "" || sniffed == "application/octet-stream" {
		if declared != "" {
			return declared
		}
	}
	return sniffed
}

func mimeFromExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return MimeCSV
	case ".tsv":
		return MimeTSV
	case ".xlsx":
		return MimeXLSX
	case ".html", ".htm":
		return MimeHTML
	case ".pdf":
		return MimePDF
	}
	return ""
}

func baseMime(m string) string {
	if i := strings.Index(m, ";"); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}
