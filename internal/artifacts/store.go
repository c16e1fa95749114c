// Package artifacts is the durable, session-scoped layout for intermediate
// and final outputs.
package artifacts

import (
	"context"
	"errors"
	"fmt"
)

// Well-known artifact names within a session's keyspace.
const (
	SourcePDF       = "source.pdf"
	ExtractedPages  = "extracted_pages.json"
	TranslatedPages = "translated_pages.json"
	EditedPages     = "edited_pages.json"
	SessionState    = "session.json"
	ReportMarkdown  = "report.md"
	ReportDocx      = "report.docx"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store persists whole artifacts. A Put replaces the previous content in one
// step: a concurrent reader sees either the old or the new bytes.
type Store interface {
	Put(ctx context.Context, sessionID, name string, data []byte) error
	Get(ctx context.Context, sessionID, name string) ([]byte, error)
	Exists(ctx context.Context, sessionID, name string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]string, error)
	// Locate returns a backend-specific location for an artifact, used for
	// the paths recorded on a session.
	Locate(sessionID, name string) string
}

// PageImage is the artifact name of a rendered page.
func PageImage(page int) string {
	return fmt.Sprintf("images/page_%d.png", page)
}
