package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var reBlankRuns = regexp.MustCompile(`\n{3,}`)

// Tesseract recognises text in PNG images.
type Tesseract struct {
	runner      Runner
	bin         string
	lang        string
	tessdataDir string
}

func NewTesseract(runner Runner, bin, lang, tessdataDir string) *Tesseract {
	if runner == nil {
		runner = ExecRunner{}
	}
	if bin == "" {
		bin = "tesseract"
	}
	if lang == "" {
		lang = "kan+eng"
	}
	return &Tesseract{runner: runner, bin: bin, lang: lang, tessdataDir: tessdataDir}
}

// Recognize feeds the image on stdin: tesseract stdin stdout -l <lang>
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}
	args := []string{"stdin", "stdout", "-l", t.lang}
	if t.tessdataDir != "" {
		args = append(args, "--tessdata-dir", t.tessdataDir)
	}
	out, errb, err := t.runner.Run(ctx, image, t.bin, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return normalize(string(out)), nil
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	s = reBlankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
