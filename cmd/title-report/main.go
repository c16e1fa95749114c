package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/joho/godotenv"

	"github.com/Lllllllleong/titlereportflow/internal/gcp"
)

var (
	app     *application
	once    sync.Once
	initErr error
)

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleSessions", handleSessions)
	functions.CloudEvent("IngestUpload", ingestUpload)
}

func setup() (*application, error) {
	once.Do(func() {
		app, initErr = newApplication(context.Background(), slog.Default())
	})
	return app, initErr
}

// handleSessions serves the whole session HTTP surface.
func handleSessions(w http.ResponseWriter, r *http.Request) {
	a, err := setup()
	if err != nil {
		slog.Error("Critical error during service initialization.", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	a.router.ServeHTTP(w, r)
}

// ingestUpload starts a session for every PDF finalized in a watched bucket.
func ingestUpload(ctx context.Context, e cloudevents.Event) error {
	a, err := setup()
	if err != nil {
		slog.Error("Critical error during service initialization.", "error", err)
		return err
	}

	var gcsEvent GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data.", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	logCtx := slog.With("gcsBucket", gcsEvent.Bucket, "gcsObject", gcsEvent.Name)

	if !strings.EqualFold(path.Ext(gcsEvent.Name), ".pdf") {
		logCtx.Info("Ignoring non-PDF object.")
		return nil
	}
	// Our own artifacts land under the prefix when both share a bucket.
	if gcsEvent.Bucket == a.cfg.ArtifactBucket && strings.HasPrefix(gcsEvent.Name, a.cfg.ArtifactPrefix) {
		logCtx.Info("Ignoring session artifact.")
		return nil
	}

	client, err := a.storage(ctx)
	if err != nil {
		return err
	}
	reader, err := gcp.OpenObject(ctx, client, gcsEvent.Bucket, gcsEvent.Name)
	if err != nil {
		logCtx.Error("Failed to open uploaded object.", "error", err)
		return err
	}
	defer reader.Close()

	id, err := a.orch.CreateSession(ctx, path.Base(gcsEvent.Name), reader)
	if err != nil {
		logCtx.Error("Failed to create session from upload.", "error", err)
		return err
	}
	logCtx.Info("Session created from upload.", "sessionId", id)
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file.", "error", err)
	}
	if os.Getenv("FUNCTION_TARGET") == "" {
		os.Setenv("FUNCTION_TARGET", "HandleSessions")
	}
	port := gcp.GetEnv("PORT", "8080")

	a, err := setup()
	if err != nil {
		slog.Error("Critical error during service initialization.", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ttl := a.cfg.RetentionTTL; ttl > 0 {
		go sweepLoop(ctx, a, ttl)
	}

	go func() {
		slog.Info("Title report service listening.", "port", port, "target", os.Getenv("FUNCTION_TARGET"))
		if err := funcframework.Start(port); err != nil {
			slog.Error("Function framework failed to start.", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.close(shutdownCtx)
	slog.Info("Shutdown complete.")
}

// sweepLoop applies the retention policy periodically.
func sweepLoop(ctx context.Context, a *application, ttl time.Duration) {
	interval := min(ttl/4, time.Hour)
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.orch.Sweep(ctx, now)
		}
	}
}
