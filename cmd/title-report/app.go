package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/titlereportflow/internal/api"
	"github.com/Lllllllleong/titlereportflow/internal/artifacts"
	"github.com/Lllllllleong/titlereportflow/internal/gcp"
	"github.com/Lllllllleong/titlereportflow/internal/llm"
	"github.com/Lllllllleong/titlereportflow/internal/services"
	"github.com/Lllllllleong/titlereportflow/internal/session"
	"github.com/Lllllllleong/titlereportflow/internal/tools"
)

// application holds the wired service and the clients it owns.
type application struct {
	cfg    *services.Config
	orch   *services.Orchestrator
	router http.Handler

	storageMu     sync.Mutex
	storageClient *storage.Client
	firestore     *firestore.Client
	vertex        *gcp.VertexClient
}

func newApplication(ctx context.Context, logger *slog.Logger) (*application, error) {
	cfg, err := services.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	a := &application{cfg: cfg}

	store, err := a.artifactStore(ctx, logger)
	if err != nil {
		return nil, err
	}

	var storeOpts []session.Option
	if cfg.FirestoreCollection != "" {
		a.firestore, err = gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		storeOpts = append(storeOpts, session.WithObserver(gcp.NewFirestoreMirror(a.firestore, cfg.FirestoreCollection, logger)))
	}
	sessions := session.NewStore(logger, storeOpts...)

	if cfg.TranslationBackend == "vertex" || cfg.GenerationBackend == "vertex" {
		a.vertex, err = gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.VertexModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
	}

	var translator services.Translator = services.PassthroughTranslator{}
	if cfg.TranslationBackend == "vertex" {
		translator = gcp.NewVertexTranslator(a.vertex)
	}

	var generator services.Generator
	switch cfg.GenerationBackend {
	case "watsonx":
		generator = llm.NewWatsonX(llm.WatsonXConfig{
			APIKey:    cfg.WatsonXAPIKey,
			ProjectID: cfg.WatsonXProjectID,
			ModelID:   cfg.WatsonXModel,
			IAMURL:    cfg.IAMURL,
			BaseURL:   cfg.WatsonXURL,
		}, nil, logger)
	case "openai":
		generator = llm.NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, gcp.ReportSystemPrompt)
	case "vertex":
		generator = gcp.NewVertexGenerator(a.vertex)
	}

	runner := tools.ExecRunner{Logger: logger}
	pandoc := tools.NewPandoc(runner, cfg.PandocBin)
	if err := pandoc.Check(ctx); err != nil {
		logger.Warn("Pandoc is not available; reports will complete without docx.", "error", err)
	}

	a.orch = services.NewOrchestrator(*cfg, services.Deps{
		Sessions:   sessions,
		Artifacts:  store,
		Renderer:   tools.NewPDFRenderer(runner, cfg.PDFToPPMBin, cfg.RenderDPI, logger),
		Recognizer: tools.NewTesseract(runner, cfg.TesseractBin, cfg.TesseractLang, cfg.TessdataDir),
		Translator: translator,
		Generator:  generator,
		Converter:  pandoc,
	}, logger)

	if _, err := a.orch.Restore(ctx); err != nil {
		logger.Warn("Failed to restore sessions.", "error", err)
	}

	a.router = api.NewRouter(a.orch, logger, api.WithAllowedOrigins(cfg.AllowedOrigins...))
	logger.Info("Title report service initialized.",
		"artifactBackend", cfg.ArtifactBackend,
		"translationBackend", cfg.TranslationBackend,
		"generationBackend", cfg.GenerationBackend,
		"chunkSize", cfg.ChunkSize,
	)
	return a, nil
}

func (a *application) artifactStore(ctx context.Context, logger *slog.Logger) (artifacts.Store, error) {
	if a.cfg.ArtifactBackend == "gcs" {
		client, err := a.storage(ctx)
		if err != nil {
			return nil, err
		}
		return gcp.NewGCSStore(client, a.cfg.ArtifactBucket, a.cfg.ArtifactPrefix, logger)
	}
	return artifacts.NewLocalStore(a.cfg.ArtifactDir, logger)
}

// storage returns the shared Cloud Storage client, creating it on first use.
func (a *application) storage(ctx context.Context) (*storage.Client, error) {
	a.storageMu.Lock()
	defer a.storageMu.Unlock()
	if a.storageClient != nil {
		return a.storageClient, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	a.storageClient = client
	return client, nil
}

func (a *application) close(ctx context.Context) {
	a.orch.Shutdown(ctx)
	if a.vertex != nil {
		_ = a.vertex.Close()
	}
	if a.firestore != nil {
		_ = a.firestore.Close()
	}
	if a.storageClient != nil {
		_ = a.storageClient.Close()
	}
}
