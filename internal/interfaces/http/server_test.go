package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/service"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

type MockPipelineService struct {
	mock.Mock
}

func (m *MockPipelineService) Process(ctx context.Context, doc entity.RawDocument) (*entity.ProcessingResult, error) {
	args := m.Called(ctx, doc)
	result, _ := args.Get(0).(*entity.ProcessingResult)
	return result, args.Error(1)
}

func (m *MockPipelineService) ProcessBatch(ctx context.Context, docs []entity.RawDocument, parallelism int) []service.BatchItem {
	args := m.Called(ctx, docs, parallelism)
	items, _ := args.Get(0).([]service.BatchItem)
	return items
}

func (m *MockPipelineService) GetResult(ctx context.Context, documentID string) (*entity.ProcessingResult, error) {
	args := m.Called(ctx, documentID)
	result, _ := args.Get(0).(*entity.ProcessingResult)
	return result, args.Error(1)
}

type recordingObserver struct {
	routes []string
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	r.routes = append(r.routes, fmt.Sprintf("%s %s %d", method, path, status))
}

type uploadFile struct {
	field, name, contentType string
	content                  []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...uploadFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.field, f.name)}
		h["Content-Type"] = []string{f.contentType}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func newTestServer(pipeline service.PipelineService, observer RequestObserver) *Server {
	cfg := DefaultServerConfig()
	cfg.MaxUploadBytes = 1024
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("vat_intake_up 1\n"))
	})
	return NewServer(cfg, pipeline, metrics, observer, zap.NewNop())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	observer := &recordingObserver{}
	srv := newTestServer(new(MockPipelineService), observer)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Success)
	assert.Equal(t, []string{"GET /health 200"}, observer.routes)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(new(MockPipelineService), nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vat_intake_up")
}

func TestAnalyzeDocument(t *testing.T) {
	pipeline := new(MockPipelineService)
	srv := newTestServer(pipeline, nil)

	content := []byte("VAT (23%): €92.00")
	pipeline.On("Process", mock.Anything, mock.MatchedBy(func(doc entity.RawDocument) bool {
		return doc.OwnerScope == "org-1" &&
			doc.FileName == "invoice.txt" &&
			doc.MimeType == "text/plain" &&
			doc.Category == "purchase" &&
			doc.DocumentType == "invoice" &&
			bytes.Equal(doc.Content, content)
	})).Return(&entity.ProcessingResult{
		DocumentID: "doc-1",
		Extraction: entity.ExtractionResult{PrimaryAmount: 92, StrategyUsed: entity.StrategyPattern},
	}, nil)

	body, contentType := multipartBody(t,
		map[string]string{"owner_scope": "org-1", "category": "Purchase", "document_type": "invoice"},
		uploadFile{field: "file", name: "../invoice.txt", contentType: "text/plain", content: content})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "doc-1", data["document_id"])
	pipeline.AssertExpectations(t)
}

func TestAnalyzeDocument_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		files  []uploadFile
		want   string
	}{
		{
			name:  "missing owner scope",
			files: []uploadFile{{field: "file", name: "a.txt", contentType: "text/plain", content: []byte("x")}},
			want:  "owner_scope is required",
		},
		{
			name:   "missing file",
			fields: map[string]string{"owner_scope": "org-1"},
			want:   "file is required",
		},
		{
			name:   "bad document type",
			fields: map[string]string{"owner_scope": "org-1", "document_type": "quote"},
			files:  []uploadFile{{field: "file", name: "a.txt", contentType: "text/plain", content: []byte("x")}},
			want:   "invalid document type",
		},
		{
			name:   "oversized file",
			fields: map[string]string{"owner_scope": "org-1"},
			files:  []uploadFile{{field: "file", name: "big.txt", contentType: "text/plain", content: bytes.Repeat([]byte("a"), 2048)}},
			want:   "exceeds maximum size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline := new(MockPipelineService)
			srv := newTestServer(pipeline, nil)

			body, contentType := multipartBody(t, tt.fields, tt.files...)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/analyze", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.want)
			pipeline.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		})
	}
}

func TestAnalyzeDocument_Cancelled(t *testing.T) {
	pipeline := new(MockPipelineService)
	srv := newTestServer(pipeline, nil)
	pipeline.On("Process", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	body, contentType := multipartBody(t,
		map[string]string{"owner_scope": "org-1"},
		uploadFile{field: "file", name: "a.txt", contentType: "text/plain", content: []byte("VAT: €1.00")})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnalyzeBatch(t *testing.T) {
	pipeline := new(MockPipelineService)
	srv := newTestServer(pipeline, nil)

	pipeline.On("ProcessBatch", mock.Anything, mock.MatchedBy(func(docs []entity.RawDocument) bool {
		return len(docs) == 2 && docs[0].FileName == "a.csv" && docs[1].FileName == "b.csv"
	}), 4).Return([]service.BatchItem{
		{Result: &entity.ProcessingResult{DocumentID: "a"}},
		{Err: context.Canceled},
	})

	body, contentType := multipartBody(t,
		map[string]string{"owner_scope": "org-1"},
		uploadFile{field: "files", name: "a.csv", contentType: "text/csv", content: []byte("Item,VAT Amount\nx,1.00\n")},
		uploadFile{field: "files", name: "b.csv", contentType: "text/csv", content: []byte("Item,VAT Amount\ny,2.00\n")})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/batch", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	items, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, items, 2)
	second := items[1].(map[string]interface{})
	assert.Equal(t, "b.csv", second["file_name"])
	assert.Equal(t, context.Canceled.Error(), second["error"])
	pipeline.AssertExpectations(t)
}

func TestAnalyzeBatch_Limits(t *testing.T) {
	newLimitedServer := func(pipeline service.PipelineService) *Server {
		cfg := DefaultServerConfig()
		cfg.MaxUploadBytes = 1024
		cfg.MaxBatchFiles = 2
		return NewServer(cfg, pipeline, http.NotFoundHandler(), nil, zap.NewNop())
	}
	small := func(name string) uploadFile {
		return uploadFile{field: "files", name: name, contentType: "text/plain", content: []byte("VAT: €1.00")}
	}

	t.Run("too many files", func(t *testing.T) {
		pipeline := new(MockPipelineService)
		srv := newLimitedServer(pipeline)

		body, contentType := multipartBody(t, map[string]string{"owner_scope": "org-1"},
			small("a.txt"), small("b.txt"), small("c.txt"))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/batch", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec).Error, "at most 2 allowed")
		pipeline.AssertNotCalled(t, "ProcessBatch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("body over the batch bound", func(t *testing.T) {
		pipeline := new(MockPipelineService)
		srv := newLimitedServer(pipeline)

		huge := uploadFile{field: "files", name: "huge.txt", contentType: "text/plain", content: bytes.Repeat([]byte("a"), 2<<20)}
		body, contentType := multipartBody(t, map[string]string{"owner_scope": "org-1"}, huge)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/batch", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.False(t, decode(t, rec).Success)
		pipeline.AssertNotCalled(t, "ProcessBatch", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestGetDocument(t *testing.T) {
	pipeline := new(MockPipelineService)
	srv := newTestServer(pipeline, nil)

	pipeline.On("GetResult", mock.Anything, "doc-1").Return(&entity.ProcessingResult{DocumentID: "doc-1"}, nil)
	pipeline.On("GetResult", mock.Anything, "missing").Return(nil, fmt.Errorf("get result missing: %w", entity.ErrDocumentNotFound))
	pipeline.On("GetResult", mock.Anything, "broken").Return(nil, fmt.Errorf("database is locked"))

	tests := []struct {
		id   string
		code int
	}{
		{"doc-1", http.StatusOK},
		{"missing", http.StatusNotFound},
		{"broken", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+tt.id, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}
