package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/titlereportflow/internal/artifacts"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GCSStore keeps session artifacts as objects named <prefix><sessionID>/<name>.
// An object only becomes visible once its writer is closed, so a Put is
// never observed half written.
type GCSStore struct {
	client     *storage.Client
	bucket     string
	prefix     string
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

var _ artifacts.Store = (*GCSStore)(nil)

// NewGCSStore wraps an existing storage client.
func NewGCSStore(client *storage.Client, bucket, prefix string, logger *slog.Logger) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_BUCKET must be set for the gcs artifact backend")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &GCSStore{
		client:     client,
		bucket:     bucket,
		prefix:     prefix,
		maxRetries: 4,
		backoff:    time.Second,
		logger:     logger,
	}, nil
}

func (s *GCSStore) object(sessionID, name string) string {
	return s.prefix + sessionID + "/" + name
}

// Put uploads data, retrying transient failures with exponential backoff.
func (s *GCSStore) Put(ctx context.Context, sessionID, name string, data []byte) error {
	objectName := s.object(sessionID, name)
	backoff := s.backoff
	var lastErr error

	for i := 0; i < s.maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()

			w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(writeCtx)
			if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
				_ = w.Close()
				return fmt.Errorf("io.Copy to GCS failed: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
			}
			return nil
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		if !isTransient(err) {
			break
		}
		s.logger.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", s.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			s.logger.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", objectName, "error", ctx.Err())
			return ctx.Err()
		}
	}
	s.logger.Error("Upload failed.", "gcsObject", objectName, "error", lastErr)
	return fmt.Errorf("upload for %s failed: %w", objectName, lastErr)
}

func (s *GCSStore) Get(ctx context.Context, sessionID, name string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object(sessionID, name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", artifacts.ErrNotFound, sessionID, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", s.bucket, s.object(sessionID, name), err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucket, s.object(sessionID, name), err)
	}
	return b, nil
}

func (s *GCSStore) Exists(ctx context.Context, sessionID, name string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.object(sessionID, name)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes every object under the session's prefix.
func (s *GCSStore) Delete(ctx context.Context, sessionID string) error {
	bucket := s.client.Bucket(s.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: s.object(sessionID, "")})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list objects for session %s: %w", sessionID, err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete %s: %w", attrs.Name, err)
		}
	}
	return nil
}

// Sessions lists the session directories directly under the prefix.
func (s *GCSStore) Sessions(ctx context.Context) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix, Delimiter: "/"})
	var ids []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions in gs://%s/%s: %w", s.bucket, s.prefix, err)
		}
		if attrs.Prefix == "" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, s.prefix), "/")
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *GCSStore) Locate(sessionID, name string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object(sessionID, name))
}

// OpenObject streams an arbitrary object, used to pull uploaded documents.
func OpenObject(ctx context.Context, client *storage.Client, bucket, object string) (io.ReadCloser, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	return r, nil
}

func isTransient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}
