// Package storage keeps original uploads on the local filesystem.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/pkg/utils"
)

var unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// LocalArchive implements port.DocumentArchive under a base directory.
// Documents land at <owner>/<document id>/<file name>.
type LocalArchive struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalArchive creates a new LocalArchive
func NewLocalArchive(baseDir string, logger *zap.Logger) *LocalArchive {
	return &LocalArchive{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Store writes the original bytes of a document
func (a *LocalArchive) Store(ctx context.Context, ownerScope, documentID, fileName string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	owner := sanitizeSegment(ownerScope)
	doc := sanitizeSegment(documentID)
	if owner == "" || doc == "" {
		return "", fmt.Errorf("cannot archive document: empty owner or document id")
	}
	name := sanitizeSegment(utils.SanitizeFileName(fileName))
	if name == "" {
		name = "original"
	}

	rel := filepath.Join(owner, doc, name)
	fullPath, err := a.resolve(rel)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		a.logger.Error("Failed to create archive folder",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to create archive folder: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		a.logger.Error("Failed to archive document",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to archive document: %w", err)
	}

	a.logger.Debug("Document archived",
		zap.String("document_id", documentID),
		zap.String("path", rel),
		zap.Int("size", len(content)))
	return filepath.ToSlash(rel), nil
}

// Read loads an archived document by the path Store returned
func (a *LocalArchive) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := a.resolve(filepath.FromSlash(path))
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived document: %w", err)
	}
	return content, nil
}

// resolve joins rel onto the base directory and rejects paths escaping it
func (a *LocalArchive) resolve(rel string) (string, error) {
	absBase, err := filepath.Abs(a.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve archive dir: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(absBase, rel))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes archive dir: %s", rel)
	}
	return absPath, nil
}

func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "..", "")
	return unsafeSegment.ReplaceAllString(s, "_")
}

var _ port.DocumentArchive = (*LocalArchive)(nil)
