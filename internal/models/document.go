package models

import "time"

// SessionRecord is the status mirror of a session stored in Firestore.
// It carries only caller-visible status, never page text or images.
type SessionRecord struct {
	SourceName     string    `firestore:"sourceName,omitempty"`
	SourceHash     string    `firestore:"sourceHash,omitempty"`
	Status         string    `firestore:"status,omitempty"`
	CurrentStage   string    `firestore:"currentStage,omitempty"`
	Message        string    `firestore:"message,omitempty"`
	Progress       float64   `firestore:"progress"`
	TotalPages     int       `firestore:"totalPages"`
	ProcessedPages int       `firestore:"processedPages"`
	HasMarkdown    bool      `firestore:"hasMarkdown"`
	HasDocx        bool      `firestore:"hasDocx"`
	CreatedAt      time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt,omitempty"`
}

// RecordFromSession builds the mirror document for a session snapshot.
func RecordFromSession(s *Session) SessionRecord {
	return SessionRecord{
		SourceName:     s.SourceName,
		SourceHash:     s.SourceHash,
		Status:         string(s.Status),
		CurrentStage:   string(s.CurrentStage),
		Message:        s.Message,
		Progress:       s.Progress,
		TotalPages:     s.TotalPages,
		ProcessedPages: s.ProcessedPages,
		HasMarkdown:    s.MarkdownPath != "",
		HasDocx:        s.DocxPath != "",
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}
