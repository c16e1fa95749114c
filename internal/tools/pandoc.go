package tools

import (
	"context"
	"fmt"
)

// Pandoc converts markdown to docx.
type Pandoc struct {
	runner Runner
	bin    string
}

func NewPandoc(runner Runner, bin string) *Pandoc {
	if runner == nil {
		runner = ExecRunner{}
	}
	if bin == "" {
		bin = "pandoc"
	}
	return &Pandoc{runner: runner, bin: bin}
}

// Check verifies the executable is installed.
func (p *Pandoc) Check(ctx context.Context) error {
	if _, errb, err := p.runner.Run(ctx, nil, p.bin, "--version"); err != nil {
		return fmt.Errorf("pandoc unavailable: %w: %s", err, truncate(string(errb), 512))
	}
	return nil
}

// Convert pipes markdown through pandoc: pandoc -f markdown -t docx -o -
func (p *Pandoc) Convert(ctx context.Context, markdown string) ([]byte, error) {
	out, errb, err := p.runner.Run(ctx, []byte(markdown), p.bin, "-f", "markdown", "-t", "docx", "-o", "-")
	if err != nil {
		return nil, fmt.Errorf("pandoc: %w: %s", err, truncate(string(errb), 512))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pandoc produced an empty document")
	}
	return out, nil
}
