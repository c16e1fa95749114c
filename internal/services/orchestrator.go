package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/titlereportflow/internal/artifacts"
	"github.com/Lllllllleong/titlereportflow/internal/models"
	"github.com/Lllllllleong/titlereportflow/internal/session"
	"github.com/google/uuid"
)

const (
	taskPages  = "page_pipeline"
	taskReport = "report_generation"

	restartReason = "interrupted by restart"
)

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Sessions   *session.Store
	Artifacts  artifacts.Store
	Renderer   Renderer
	Recognizer Recognizer
	Translator Translator
	Generator  Generator
	Converter  Converter
}

// Artifact is a downloadable report file.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Orchestrator owns every session's lifecycle. It is the only writer of
// status, stage and progress; the stages it schedules report through it.
type Orchestrator struct {
	cfg        Config
	sessions   *session.Store
	artifacts  artifacts.Store
	pipeline   *PagePipeline
	aggregator *Aggregator
	assembler  *ReportAssembler
	generator  Generator
	queue      *Queue
	logger     *slog.Logger

	base context.Context
	stop context.CancelFunc

	ckMu  sync.Mutex
	ckMus map[string]*sync.Mutex
}

func NewOrchestrator(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore(logger)
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		sessions:   deps.Sessions,
		artifacts:  deps.Artifacts,
		pipeline:   NewPagePipeline(deps.Sessions, deps.Artifacts, deps.Renderer, deps.Recognizer, deps.Translator, cfg.SourceLang, cfg.TargetLang, logger),
		aggregator: NewAggregator(deps.Generator, ReportPrompt, cfg.GenerationConcurrency, logger),
		assembler:  NewReportAssembler(deps.Artifacts, deps.Converter, logger),
		generator:  deps.Generator,
		queue:      NewQueue(logger, WithWorkers(cfg.Workers), WithQueueSize(cfg.QueueSize)),
		logger:     logger,
		base:       base,
		stop:       stop,
		ckMus:      make(map[string]*sync.Mutex),
	}
}

// CreateSession stores the document, registers a new session and schedules
// its page pipeline.
func (o *Orchestrator) CreateSession(ctx context.Context, filename string, document io.Reader) (string, error) {
	data, err := io.ReadAll(document)
	if err != nil {
		return "", fmt.Errorf("failed to read uploaded document: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: uploaded document is empty", ErrBadRequest)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	id := uuid.NewString()
	logCtx := o.logger.With("sessionId", id, "sourceName", filename, "fileHash", hash)

	if err := o.artifacts.Put(ctx, id, artifacts.SourcePDF, data); err != nil {
		logCtx.Error("Failed to store source document.", "error", err)
		return "", fmt.Errorf("failed to store source document: %w", err)
	}
	if _, err := o.sessions.Create(ctx, id, filename, hash); err != nil {
		return "", err
	}
	runCtx, err := o.sessions.Begin(o.base, id, nil)
	if err != nil {
		return "", err
	}
	o.checkpoint(ctx, id)

	err = o.queue.Enqueue(Task{
		SessionID: id,
		Kind:      taskPages,
		Run:       func() { o.runPages(runCtx, id) },
	})
	if err != nil {
		o.sessions.End(id)
		return "", o.handleError(ctx, id, "Error processing PDF", err)
	}
	logCtx.Info("Session created.", "bytes", len(data))
	return id, nil
}

func (o *Orchestrator) runPages(ctx context.Context, id string) {
	defer o.sessions.End(id)
	logCtx := o.logger.With("sessionId", id)
	logCtx.Info("Starting page pipeline.")

	if err := o.pipeline.Run(ctx, id); err != nil {
		// Keep whatever pages were recorded before the failure.
		if ckErr := o.pipeline.checkpoint(context.WithoutCancel(ctx), id); ckErr != nil {
			logCtx.Warn("Failed to checkpoint pages after failure.", "error", ckErr)
		}
		if ctx.Err() != nil {
			o.markCancelled(ctx, id, "Processing cancelled")
			return
		}
		_ = o.handleError(ctx, id, "Error processing PDF", err)
		return
	}

	if _, err := o.sessions.Update(ctx, id, func(s *models.Session) error {
		s.Status = models.StatusReadyForReview
		s.Message = "PDF processing complete! Ready for quality review."
		s.Progress = 1.0
		s.CurrentStage = models.StageWaitingForReview
		return nil
	}); err != nil {
		logCtx.Error("Failed to mark session ready for review.", "error", err)
		return
	}
	o.checkpoint(ctx, id)
	logCtx.Info("Session ready for review.")
}

// StartReport validates the session's state and schedules report generation.
func (o *Orchestrator) StartReport(ctx context.Context, id string, req models.ReportRequest) error {
	chunkSize := req.ChunkSize
	if chunkSize < 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrBadRequest, chunkSize)
	}
	if chunkSize == 0 {
		chunkSize = o.cfg.ChunkSize
	}
	meta := ReportMetadata{ClientName: req.ClientName, Placeholders: req.Placeholders}

	runCtx, err := o.sessions.Begin(o.base, id, session.ReportGuard)
	if err != nil {
		if errors.Is(err, session.ErrBusy) || errors.Is(err, session.ErrNoPages) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return err
	}

	if _, err := o.sessions.Update(ctx, id, func(s *models.Session) error {
		s.Status = models.StatusGeneratingReport
		s.Message = "Starting report generation"
		s.Progress = 0
		s.CurrentStage = models.StageStartingReport
		s.FinalOutput = ""
		s.MarkdownPath = ""
		s.DocxPath = ""
		return nil
	}); err != nil {
		o.sessions.End(id)
		return err
	}
	o.checkpoint(ctx, id)

	err = o.queue.Enqueue(Task{
		SessionID: id,
		Kind:      taskReport,
		Run:       func() { o.runReport(runCtx, id, chunkSize, meta) },
	})
	if err != nil {
		o.sessions.End(id)
		return o.handleError(ctx, id, "Error generating report", err)
	}
	return nil
}

func (o *Orchestrator) runReport(ctx context.Context, id string, chunkSize int, meta ReportMetadata) {
	defer o.sessions.End(id)
	logCtx := o.logger.With("sessionId", id, "chunkSize", chunkSize)
	logCtx.Info("Starting report generation.")

	snap, err := o.sessions.Snapshot(id)
	if err != nil {
		logCtx.Error("Session vanished before report generation.", "error", err)
		return
	}
	pages := snap.OrderedPages()

	if _, err := o.sessions.Update(ctx, id, func(s *models.Session) error {
		s.Message = "Getting generation service token"
		s.Progress = 0.1
		s.CurrentStage = models.StageGettingToken
		return nil
	}); err != nil {
		logCtx.Error("Failed to update session.", "error", err)
		return
	}

	token, err := o.generator.Token(ctx)
	if err != nil {
		if ctx.Err() != nil {
			o.markCancelled(ctx, id, "Report generation cancelled")
			return
		}
		_ = o.handleError(ctx, id, "Error generating report", fmt.Errorf("token exchange failed: %w", err))
		return
	}

	chunks := ChunkPages(pages, chunkSize)
	if _, err := o.sessions.Update(ctx, id, func(s *models.Session) error {
		s.Message = fmt.Sprintf("Processing chunk 1 of %d", len(chunks))
		s.Progress = 0.2
		s.CurrentStage = models.StageProcessingChunks
		return nil
	}); err != nil {
		logCtx.Error("Failed to update session.", "error", err)
		return
	}

	aggregated, err := o.aggregator.Run(ctx, token, chunks, func(done, total int) {
		_, _ = o.sessions.Update(ctx, id, func(s *models.Session) error {
			s.Message = fmt.Sprintf("Processed chunk %d of %d", done, total)
			s.Progress = 0.2 + 0.6*float64(done)/float64(total)
			return nil
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			o.markCancelled(ctx, id, "Report generation cancelled")
			return
		}
		_ = o.handleError(ctx, id, "Error generating report", err)
		return
	}

	md, err := o.assembler.Markdown(ctx, id, aggregated, meta)
	if err != nil {
		_ = o.handleError(ctx, id, "Error generating report", err)
		return
	}
	if _, err := o.sessions.Update(ctx, id, func(s *models.Session) error {
		s.FinalOutput = md
		s.MarkdownPath = o.artifacts.Locate(id, artifacts.ReportMarkdown)
		s.Message = "Generating Word document"
		s.Progress = 0.9
		s.CurrentStage = models.StageGeneratingDocx
		return nil
	}); err != nil {
		logCtx.Error("Failed to update session.", "error", err)
		return
	}
	o.checkpoint(ctx, id)

	if ctx.Err() != nil {
		o.markCancelled(ctx, id, "Report generation cancelled")
		return
	}

	convErr := o.assembler.Docx(ctx, id, md)
	if convErr != nil && ctx.Err() != nil {
		o.markCancelled(ctx, id, "Report generation cancelled")
		return
	}

	_, err = o.sessions.Update(ctx, id, func(s *models.Session) error {
		s.Progress = 1.0
		if convErr != nil {
			s.Status = models.StatusCompletedWithWarning
			s.CurrentStage = models.StageCompletedWithWarning
			s.Message = fmt.Sprintf("Report generated but Word conversion failed: %v", convErr)
			s.DocxPath = ""
			return nil
		}
		s.Status = models.StatusCompleted
		s.CurrentStage = models.StageCompleted
		s.Message = "Report generation complete!"
		s.DocxPath = o.artifacts.Locate(id, artifacts.ReportDocx)
		return nil
	})
	if err != nil {
		logCtx.Error("Failed to finalize session.", "error", err)
		return
	}
	o.checkpoint(ctx, id)

	if convErr != nil {
		logCtx.Warn("Report completed without docx.", "error", convErr)
		return
	}
	logCtx.Info("Report generation complete.", "chunks", len(chunks))
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status(_ context.Context, id string) (*models.Session, error) {
	return o.sessions.Snapshot(id)
}

// Page returns one page's texts.
func (o *Orchestrator) Page(_ context.Context, id string, number int) (models.Page, error) {
	return o.sessions.Page(id, number)
}

// PageImage returns one page's rendered PNG.
func (o *Orchestrator) PageImage(ctx context.Context, id string, number int) ([]byte, error) {
	p, err := o.sessions.Page(id, number)
	if err != nil {
		return nil, err
	}
	key := p.ImageKey
	if key == "" {
		key = artifacts.PageImage(number)
	}
	return o.artifacts.Get(ctx, id, key)
}

// UpdatePage overwrites a page's edited text and checkpoints the edits.
func (o *Orchestrator) UpdatePage(ctx context.Context, id string, number int, text string) error {
	if number <= 0 {
		return fmt.Errorf("%w: page %d", session.ErrPageNotFound, number)
	}
	if _, err := o.sessions.SetEditedText(ctx, id, number, text); err != nil {
		if errors.Is(err, session.ErrEditRejected) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return err
	}
	return o.checkpointEdits(ctx, id)
}

// Artifact returns a generated report file. kind is "markdown" or "docx".
func (o *Orchestrator) Artifact(ctx context.Context, id, kind string) (*Artifact, error) {
	var name, path, contentType string
	snap, err := o.sessions.Snapshot(id)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "markdown":
		name, path, contentType = artifacts.ReportMarkdown, snap.MarkdownPath, "text/markdown"
	case "docx":
		name, path, contentType = artifacts.ReportDocx, snap.DocxPath, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return nil, fmt.Errorf("%w: invalid file type requested: %q", ErrBadRequest, kind)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: %s file not found", artifacts.ErrNotFound, kind)
	}
	data, err := o.artifacts.Get(ctx, id, name)
	if err != nil {
		return nil, err
	}
	return &Artifact{Filename: name, ContentType: contentType, Data: data}, nil
}

// Cancel stops the stage currently running against the session.
func (o *Orchestrator) Cancel(_ context.Context, id string) error {
	if err := o.sessions.Cancel(id); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return err
	}
	o.logger.Info("Cancellation requested.", "sessionId", id)
	return nil
}

// Restore reloads every persisted session. A session saved while a stage
// was running cannot resume and is moved to error.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	ids, err := o.artifacts.Sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list stored sessions: %w", err)
	}
	restored := 0
	for _, id := range ids {
		logCtx := o.logger.With("sessionId", id)
		s, err := o.load(ctx, id)
		if err != nil {
			logCtx.Warn("Skipping unrestorable session.", "error", err)
			continue
		}
		interrupted := s.Status.Busy()
		if interrupted {
			prefix := "Error processing PDF"
			if s.Status == models.StatusGeneratingReport {
				prefix = "Error generating report"
			}
			s.Status = models.StatusError
			s.CurrentStage = models.StageError
			s.Progress = 0
			s.Message = fmt.Sprintf("%s: %s", prefix, restartReason)
		}
		o.sessions.Put(s)
		if interrupted {
			o.checkpoint(ctx, id)
		}
		restored++
	}
	o.logger.Info("Sessions restored.", "count", restored)
	return restored, nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*models.Session, error) {
	raw, err := o.artifacts.Get(ctx, id, artifacts.SessionState)
	if err != nil {
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	if s.ID == "" {
		s.ID = id
	}
	s.Pages = make(map[int]*models.Page)

	texts := make(map[string]map[int]string, 3)
	for _, name := range []string{artifacts.ExtractedPages, artifacts.TranslatedPages, artifacts.EditedPages} {
		data, err := o.artifacts.Get(ctx, id, name)
		if errors.Is(err, artifacts.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if texts[name], err = artifacts.DecodePages(data); err != nil {
			return nil, err
		}
	}
	for n, raw := range texts[artifacts.ExtractedPages] {
		p := &models.Page{Number: n, RawText: raw, ImageKey: artifacts.PageImage(n)}
		p.TranslatedText = texts[artifacts.TranslatedPages][n]
		p.EditedText = p.TranslatedText
		if edited, ok := texts[artifacts.EditedPages][n]; ok {
			p.EditedText = edited
		}
		s.Pages[n] = p
	}
	return &s, nil
}

// Sweep deletes idle sessions not updated within the retention period.
func (o *Orchestrator) Sweep(ctx context.Context, now time.Time) int {
	if o.cfg.RetentionTTL <= 0 {
		return 0
	}
	removed := 0
	for _, id := range o.sessions.IDs() {
		snap, err := o.sessions.Snapshot(id)
		if err != nil || o.sessions.Running(id) {
			continue
		}
		if now.Sub(snap.UpdatedAt) <= o.cfg.RetentionTTL {
			continue
		}
		if err := o.sessions.Delete(id); err != nil {
			continue
		}
		if err := o.artifacts.Delete(ctx, id); err != nil {
			o.logger.Warn("Failed to delete expired session artifacts.", "sessionId", id, "error", err)
		}
		o.dropCheckpointLock(id)
		removed++
	}
	if removed > 0 {
		o.logger.Info("Expired sessions removed.", "count", removed)
	}
	return removed
}

// Shutdown stops intake and waits for queued stages. Stages still running
// when ctx ends are cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) bool {
	drained := o.queue.Shutdown(ctx)
	o.stop()
	return drained
}

// handleError centralizes stage failure handling: log it, move the session
// to error, and return err unchanged.
func (o *Orchestrator) handleError(ctx context.Context, id, prefix string, err error) error {
	o.logger.Error(prefix+".", "sessionId", id, "error", err)
	if _, updateErr := o.sessions.Update(ctx, id, func(s *models.Session) error {
		s.Status = models.StatusError
		s.Message = fmt.Sprintf("%s: %v", prefix, err)
		s.Progress = 0
		s.CurrentStage = models.StageError
		return nil
	}); updateErr != nil {
		o.logger.Error("Failed to update session status to error.", "sessionId", id, "error", updateErr)
	}
	o.checkpoint(ctx, id)
	return err
}

func (o *Orchestrator) markCancelled(ctx context.Context, id, message string) {
	o.logger.Info("Stage cancelled.", "sessionId", id)
	if _, err := o.sessions.Update(ctx, id, func(s *models.Session) error {
		s.Status = models.StatusCancelled
		s.Message = message
		s.CurrentStage = models.StageCancelled
		return nil
	}); err != nil {
		o.logger.Error("Failed to mark session cancelled.", "sessionId", id, "error", err)
	}
	o.checkpoint(ctx, id)
}

func (o *Orchestrator) checkpointLock(id string) *sync.Mutex {
	o.ckMu.Lock()
	defer o.ckMu.Unlock()
	mu, ok := o.ckMus[id]
	if !ok {
		mu = &sync.Mutex{}
		o.ckMus[id] = mu
	}
	return mu
}

func (o *Orchestrator) dropCheckpointLock(id string) {
	o.ckMu.Lock()
	delete(o.ckMus, id)
	o.ckMu.Unlock()
}

// checkpoint writes the session's status snapshot. The snapshot is taken
// under the session's checkpoint lock so a later write is never older than
// an earlier one. Failures are logged only.
func (o *Orchestrator) checkpoint(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	mu := o.checkpointLock(id)
	mu.Lock()
	defer mu.Unlock()

	snap, err := o.sessions.Snapshot(id)
	if err != nil {
		return
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err == nil {
		err = o.artifacts.Put(ctx, id, artifacts.SessionState, data)
	}
	if err != nil {
		o.logger.Warn("Failed to checkpoint session state.", "sessionId", id, "error", err)
	}
}

func (o *Orchestrator) checkpointEdits(ctx context.Context, id string) error {
	mu := o.checkpointLock(id)
	mu.Lock()
	defer mu.Unlock()

	snap, err := o.sessions.Snapshot(id)
	if err != nil {
		return err
	}
	data, err := artifacts.EncodePages(snap.OrderedPages(), artifacts.EditedText)
	if err != nil {
		return err
	}
	if err := o.artifacts.Put(context.WithoutCancel(ctx), id, artifacts.EditedPages, data); err != nil {
		return fmt.Errorf("failed to save edited pages: %w", err)
	}
	return nil
}
