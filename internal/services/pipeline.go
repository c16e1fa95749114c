package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/titlereportflow/internal/artifacts"
	"github.com/Lllllllleong/titlereportflow/internal/models"
	"github.com/Lllllllleong/titlereportflow/internal/session"
)

const (
	pagesStageBase = 0.1
	pagesStageSpan = 0.7
)

// PagePipeline renders, recognises and translates every page of a session's
// source document, recording each page as one unit.
type PagePipeline struct {
	sessions   *session.Store
	artifacts  artifacts.Store
	renderer   Renderer
	recognizer Recognizer
	translator Translator
	sourceLang string
	targetLang string
	logger     *slog.Logger
}

func NewPagePipeline(sessions *session.Store, store artifacts.Store, renderer Renderer, recognizer Recognizer, translator Translator, sourceLang, targetLang string, logger *slog.Logger) *PagePipeline {
	if translator == nil {
		translator = PassthroughTranslator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PagePipeline{
		sessions:   sessions,
		artifacts:  store,
		renderer:   renderer,
		recognizer: recognizer,
		translator: translator,
		sourceLang: sourceLang,
		targetLang: targetLang,
		logger:     logger,
	}
}

// Run processes the session's stored source document. Per-page recognition
// and translation failures are recorded inline on the page; any other
// failure aborts the run.
func (p *PagePipeline) Run(ctx context.Context, sessionID string) error {
	logCtx := p.logger.With("sessionId", sessionID)

	if _, err := p.sessions.Update(ctx, sessionID, func(s *models.Session) error {
		s.Message = "Opening PDF document"
		s.Progress = 0.05
		s.CurrentStage = models.StagePDFLoading
		return nil
	}); err != nil {
		return err
	}

	tempDir, err := os.MkdirTemp("", "title-report-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	src, err := p.artifacts.Get(ctx, sessionID, artifacts.SourcePDF)
	if err != nil {
		return fmt.Errorf("failed to read source document: %w", err)
	}
	docPath := filepath.Join(tempDir, artifacts.SourcePDF)
	if err := os.WriteFile(docPath, src, 0o600); err != nil {
		return fmt.Errorf("failed to stage source document: %w", err)
	}

	total, err := p.renderer.PageCount(ctx, docPath)
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	logCtx.Info("Document opened.", "pageCount", total)

	if _, err := p.sessions.Update(ctx, sessionID, func(s *models.Session) error {
		s.TotalPages = total
		s.ProcessedPages = 0
		s.Message = fmt.Sprintf("Processing page 1 of %d", total)
		s.Progress = pagesStageBase
		s.CurrentStage = models.StageOCRTranslation
		return nil
	}); err != nil {
		return err
	}

	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := p.processPage(ctx, logCtx, sessionID, docPath, n)
		if err != nil {
			return err
		}
		if _, err := p.sessions.Update(ctx, sessionID, func(s *models.Session) error {
			s.Pages[n] = &page
			s.ProcessedPages = n
			s.Progress = pagesStageBase + pagesStageSpan*float64(n)/float64(total)
			s.Message = fmt.Sprintf("Processed page %d of %d", n, total)
			return nil
		}); err != nil {
			return err
		}
	}

	if err := p.checkpoint(ctx, sessionID); err != nil {
		return err
	}

	if _, err := p.sessions.Update(ctx, sessionID, func(s *models.Session) error {
		s.Message = "OCR and translation completed"
		s.Progress = pagesStageBase + pagesStageSpan
		return nil
	}); err != nil {
		return err
	}
	logCtx.Info("Page pipeline complete.", "pageCount", total)
	return nil
}

func (p *PagePipeline) processPage(ctx context.Context, logCtx *slog.Logger, sessionID, docPath string, n int) (models.Page, error) {
	img, err := p.renderer.RenderPage(ctx, docPath, n)
	if err != nil {
		return models.Page{}, fmt.Errorf("failed to render page %d: %w", n, err)
	}
	imageKey := artifacts.PageImage(n)
	if err := p.artifacts.Put(ctx, sessionID, imageKey, img); err != nil {
		return models.Page{}, fmt.Errorf("failed to store image for page %d: %w", n, err)
	}

	page := models.Page{Number: n, ImageKey: imageKey}

	raw, err := p.recognizer.Recognize(ctx, img)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Page{}, ctxErr
		}
		logCtx.Warn("Recognition failed for page.", "page", n, "error", err)
		page.RawText = fmt.Sprintf("[OCR failed: %v]", err)
		page.TranslatedText = page.RawText
		page.EditedText = page.RawText
		return page, nil
	}
	page.RawText = raw

	translated, err := p.translator.Translate(ctx, raw, p.sourceLang, p.targetLang)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Page{}, ctxErr
		}
		logCtx.Warn("Translation failed for page.", "page", n, "error", err)
		translated = fmt.Sprintf("[Translation failed: %v]", err)
	}
	page.TranslatedText = translated
	page.EditedText = translated
	return page, nil
}

// checkpoint writes the extracted, translated and edited page snapshots.
func (p *PagePipeline) checkpoint(ctx context.Context, sessionID string) error {
	snap, err := p.sessions.Snapshot(sessionID)
	if err != nil {
		return err
	}
	pages := snap.OrderedPages()
	files := []struct {
		name  string
		field artifacts.Field
	}{
		{artifacts.ExtractedPages, artifacts.RawText},
		{artifacts.TranslatedPages, artifacts.TranslatedText},
		{artifacts.EditedPages, artifacts.EditedText},
	}
	for _, f := range files {
		data, err := artifacts.EncodePages(pages, f.field)
		if err != nil {
			return err
		}
		if err := p.artifacts.Put(ctx, sessionID, f.name, data); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}
