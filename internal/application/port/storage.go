package port

import "context"

// DocumentArchive keeps the original bytes of processed documents so a
// reviewer can open them later
type DocumentArchive interface {
	// Store writes content and returns the archive-relative path
	Store(ctx context.Context, ownerScope, documentID, fileName string, content []byte) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
}
