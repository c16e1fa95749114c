package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Lllllllleong/titlereportflow/internal/models"
	"golang.org/x/sync/errgroup"
)

// ChunkPages groups pages, already in page order, into chunks of at most
// size pages each. A page is never split across chunks.
func ChunkPages(pages []models.Page, size int) []models.Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([]models.Chunk, 0, (len(pages)+size-1)/size)
	for start := 0; start < len(pages); start += size {
		end := min(start+size, len(pages))
		c := models.Chunk{Index: len(chunks)}
		for _, p := range pages[start:end] {
			c.Pages = append(c.Pages, p.Number)
			c.Texts = append(c.Texts, p.EditedText)
		}
		chunks = append(chunks, c)
	}
	return chunks
}

// Aggregator submits chunks to the generator and stitches the results back
// together in chunk order.
type Aggregator struct {
	generator   Generator
	prompt      string
	concurrency int
	logger      *slog.Logger
}

func NewAggregator(generator Generator, prompt string, concurrency int, logger *slog.Logger) *Aggregator {
	if concurrency <= 0 {
		concurrency = DefaultGenerationConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{generator: generator, prompt: prompt, concurrency: concurrency, logger: logger}
}

// Run generates text for every chunk and joins the results with a blank
// line. A failed chunk contributes an inline marker in its own slot. The
// only error returned is the context's.
func (a *Aggregator) Run(ctx context.Context, token string, chunks []models.Chunk, progress func(done, total int)) (string, error) {
	results := make([]string, len(chunks))

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, chunk := range chunks {
		if gctx.Err() != nil {
			break
		}
		chunk := chunk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			prompt := a.prompt + strings.Join(chunk.Texts, "\n")
			out, err := a.generator.Generate(gctx, token, prompt)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				a.logger.Warn("Generation failed for chunk.", "chunk", chunk.Index+1, "error", err)
				out = fmt.Sprintf("[Generation failed for chunk %d: %v]", chunk.Index+1, err)
			}
			results[chunk.Index] = out

			mu.Lock()
			defer mu.Unlock()
			done++
			if progress != nil {
				progress(done, len(chunks))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Join(results, "\n\n"), nil
}
