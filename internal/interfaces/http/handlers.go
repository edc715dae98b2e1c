package http

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/service"
	"github.com/garyjia/vat-intake/internal/domain/entity"
	"github.com/garyjia/vat-intake/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	pipeline service.PipelineService
	config   ServerConfig
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(pipeline service.PipelineService, config ServerConfig, logger *zap.Logger) *Handlers {
	return &Handlers{pipeline: pipeline, config: config, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// UploadForm holds the non-file fields of an upload
type UploadForm struct {
	OwnerScope   string `form:"owner_scope" binding:"required"`
	Category     string `form:"category"`
	DocumentType string `form:"document_type"`
}

// BatchItemResponse is one entry of a batch response
type BatchItemResponse struct {
	FileName string                   `json:"file_name"`
	Result   *entity.ProcessingResult `json:"result,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   h.config.Version,
		},
	})
}

// AnalyzeDocument handles POST /api/v1/documents/analyze (multipart field "file")
func (h *Handlers) AnalyzeDocument(c *gin.Context) {
	h.limitBody(c, 1)

	form, ok := h.bindForm(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		h.badRequest(c, "file is required", err)
		return
	}

	doc, err := h.readDocument(header, form)
	if err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}

	result, err := h.pipeline.Process(c.Request.Context(), doc)
	if err != nil {
		h.logger.Error("Failed to process document", zap.String("file_name", doc.FileName), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "processing cancelled"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// AnalyzeBatch handles POST /api/v1/documents/batch (multipart field "files")
func (h *Handlers) AnalyzeBatch(c *gin.Context) {
	h.limitBody(c, h.config.MaxBatchFiles)

	form, ok := h.bindForm(c)
	if !ok {
		return
	}

	multipartForm, err := c.MultipartForm()
	if err != nil {
		h.rejectForm(c, "invalid multipart form", err)
		return
	}
	headers := multipartForm.File["files"]
	if len(headers) == 0 {
		h.badRequest(c, "files are required", nil)
		return
	}
	if h.config.MaxBatchFiles > 0 && len(headers) > h.config.MaxBatchFiles {
		h.badRequest(c, fmt.Sprintf("batch holds %d files, at most %d allowed", len(headers), h.config.MaxBatchFiles), nil)
		return
	}

	docs := make([]entity.RawDocument, 0, len(headers))
	for _, header := range headers {
		doc, err := h.readDocument(header, form)
		if err != nil {
			h.badRequest(c, err.Error(), err)
			return
		}
		docs = append(docs, doc)
	}

	items := h.pipeline.ProcessBatch(c.Request.Context(), docs, h.config.BatchParallel)

	out := make([]BatchItemResponse, len(items))
	for i, item := range items {
		out[i] = BatchItemResponse{FileName: docs[i].FileName, Result: item.Result}
		if item.Err != nil {
			out[i].Error = item.Err.Error()
		}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// GetDocument handles GET /api/v1/documents/:id
func (h *Handlers) GetDocument(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	result, err := h.pipeline.GetResult(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: "document not found"})
			return
		}
		h.logger.Error("Failed to get result", zap.String("document_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to get result"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

func (h *Handlers) bindForm(c *gin.Context) (UploadForm, bool) {
	var form UploadForm
	if err := c.ShouldBind(&form); err != nil {
		h.rejectForm(c, "owner_scope is required", err)
		return form, false
	}
	if err := utils.ValidateOwnerScope(form.OwnerScope); err != nil {
		h.badRequest(c, err.Error(), err)
		return form, false
	}
	if err := utils.ValidateDocumentType(form.DocumentType); err != nil {
		h.badRequest(c, err.Error(), err)
		return form, false
	}
	return form, true
}

func (h *Handlers) readDocument(header *multipart.FileHeader, form UploadForm) (entity.RawDocument, error) {
	if err := utils.ValidateUploadSize(header.Size, h.config.MaxUploadBytes); err != nil {
		return entity.RawDocument{}, fmt.Errorf("%s: %w", header.Filename, err)
	}

	f, err := header.Open()
	if err != nil {
		return entity.RawDocument{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return entity.RawDocument{}, fmt.Errorf("failed to read upload: %w", err)
	}

	return entity.RawDocument{
		Content:      content,
		MimeType:     header.Header.Get("Content-Type"),
		FileName:     utils.SanitizeFileName(header.Filename),
		Category:     utils.NormalizeCategory(form.Category),
		OwnerScope:   form.OwnerScope,
		DocumentType: strings.ToLower(strings.TrimSpace(form.DocumentType)),
		UploadedAt:   time.Now().UTC(),
	}, nil
}

// limitBody caps the request body at files uploads of the maximum size plus
// a megabyte for form fields and part headers
func (h *Handlers) limitBody(c *gin.Context, files int) {
	if h.config.MaxUploadBytes <= 0 || files <= 0 {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(files)*h.config.MaxUploadBytes+1<<20)
}

// rejectForm answers 413 when the body hit its cap and 400 otherwise
func (h *Handlers) rejectForm(c *gin.Context, msg string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || (err != nil && strings.Contains(err.Error(), "request body too large")) {
		h.logger.Warn("Rejected oversized request", zap.Error(err))
		c.JSON(http.StatusRequestEntityTooLarge, Response{Success: false, Error: "request body too large"})
		return
	}
	h.badRequest(c, msg, err)
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Warn("Rejected request", zap.String("reason", msg), zap.Error(err))
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}
