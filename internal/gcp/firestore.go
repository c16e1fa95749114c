package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/titlereportflow/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreMirror writes every session status snapshot to a document in a
// collection, keyed by session id, for external dashboards.
type FirestoreMirror struct {
	client     *firestore.Client
	collection string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewFirestoreMirror(client *firestore.Client, collection string, logger *slog.Logger) *FirestoreMirror {
	if logger == nil {
		logger = slog.Default()
	}
	if collection == "" {
		collection = "sessions"
	}
	return &FirestoreMirror{client: client, collection: collection, timeout: 10 * time.Second, logger: logger}
}

// Observe mirrors a snapshot. Mirror failures are logged and never reach
// the session pipeline.
func (m *FirestoreMirror) Observe(ctx context.Context, s *models.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	docRef := m.client.Collection(m.collection).Doc(s.ID)
	if _, err := docRef.Set(ctx, models.RecordFromSession(s)); err != nil {
		m.logger.Error("Failed to mirror session status to Firestore.", "sessionId", s.ID, "status", s.Status, "error", err)
	}
}
