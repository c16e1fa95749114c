package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Lllllllleong/titlereportflow/internal/artifacts"
)

// ReportMetadata carries the caller-supplied values substituted into the
// generated report.
type ReportMetadata struct {
	ClientName   string
	Placeholders map[string]string
}

// ApplyPlaceholders replaces placeholder tokens literally. The client name
// is applied first, then extra placeholders in key order.
func ApplyPlaceholders(text string, meta ReportMetadata) string {
	if meta.ClientName != "" {
		text = strings.ReplaceAll(text, ClientNamePlaceholder, meta.ClientName)
	}
	keys := make([]string, 0, len(meta.Placeholders))
	for k := range meta.Placeholders {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		text = strings.ReplaceAll(text, k, meta.Placeholders[k])
	}
	return text
}

// ReportAssembler persists the final markdown and its docx rendering.
type ReportAssembler struct {
	artifacts artifacts.Store
	converter Converter
	logger    *slog.Logger
}

func NewReportAssembler(store artifacts.Store, converter Converter, logger *slog.Logger) *ReportAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportAssembler{artifacts: store, converter: converter, logger: logger}
}

// Markdown applies placeholders and stores report.md. It must succeed before
// conversion is attempted.
func (r *ReportAssembler) Markdown(ctx context.Context, sessionID, aggregated string, meta ReportMetadata) (string, error) {
	md := ApplyPlaceholders(aggregated, meta)
	if err := r.artifacts.Put(ctx, sessionID, artifacts.ReportMarkdown, []byte(md)); err != nil {
		return "", fmt.Errorf("failed to save markdown report: %w", err)
	}
	return md, nil
}

// Docx converts the markdown and stores report.docx. A returned error means
// the binary artifact is unavailable; the markdown is unaffected.
func (r *ReportAssembler) Docx(ctx context.Context, sessionID, markdown string) error {
	if r.converter == nil {
		return fmt.Errorf("no document converter configured")
	}
	docx, err := r.converter.Convert(ctx, markdown)
	if err != nil {
		return err
	}
	if err := r.artifacts.Put(ctx, sessionID, artifacts.ReportDocx, docx); err != nil {
		return fmt.Errorf("failed to save docx report: %w", err)
	}
	r.logger.Info("Docx report saved.", "sessionId", sessionID, "bytes", len(docx))
	return nil
}
