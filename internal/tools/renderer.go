package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFRenderer validates documents with pdfcpu and rasterises single pages
// with pdftoppm.
type PDFRenderer struct {
	runner   Runner
	pdftoppm string
	dpi      int
	logger   *slog.Logger
}

func NewPDFRenderer(runner Runner, pdftoppm string, dpi int, logger *slog.Logger) *PDFRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if pdftoppm == "" {
		pdftoppm = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 144
	}
	return &PDFRenderer{runner: runner, pdftoppm: pdftoppm, dpi: dpi, logger: logger}
}

// PageCount validates the document in relaxed mode and returns its page count.
func (r *PDFRenderer) PageCount(_ context.Context, path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("failed to validate PDF: %w", err)
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("document has no pages")
	}
	return n, nil
}

// RenderPage rasterises one 1-based page to PNG.
func (r *PDFRenderer) RenderPage(ctx context.Context, path string, page int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "render-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	p := strconv.Itoa(page)
	// pdftoppm -r <dpi> -png -f <n> -l <n> -singlefile <in.pdf> <tmp/page>
	_, errb, err := r.runner.Run(ctx, nil, r.pdftoppm,
		"-r", strconv.Itoa(r.dpi), "-png", "-f", p, "-l", p, "-singlefile", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, truncate(string(errb), 512))
	}
	img, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no image for page %d: %w", page, err)
	}
	return img, nil
}
