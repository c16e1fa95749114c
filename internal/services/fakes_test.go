package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/titlereportflow/internal/artifacts"
	"github.com/Lllllllleong/titlereportflow/internal/models"
	"github.com/Lllllllleong/titlereportflow/internal/session"
)

// fakeRenderer produces "img-N" for page N. When gate is set, every render
// waits for it to close or for ctx to end.
type fakeRenderer struct {
	pages    int
	countErr error
	gate     chan struct{}
}

func (r *fakeRenderer) PageCount(context.Context, string) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.pages, nil
}

func (r *fakeRenderer) RenderPage(ctx context.Context, _ string, page int) ([]byte, error) {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(fmt.Sprintf("img-%d", page)), nil
}

// fakeRecognizer maps "img-N" to "raw-N".
type fakeRecognizer struct {
	fail map[int]bool
}

func (r *fakeRecognizer) Recognize(_ context.Context, image []byte) (string, error) {
	var n int
	if _, err := fmt.Sscanf(string(image), "img-%d", &n); err != nil {
		return "", err
	}
	if r.fail[n] {
		return "", errors.New("tesseract crashed")
	}
	return fmt.Sprintf("raw-%d", n), nil
}

// fakeTranslator maps "raw-N" to "en-N".
type fakeTranslator struct {
	fail map[string]bool
}

func (t *fakeTranslator) Translate(_ context.Context, text, src, dst string) (string, error) {
	if src != "kn" || dst != "en" {
		return "", fmt.Errorf("unexpected languages %s->%s", src, dst)
	}
	if t.fail[text] {
		return "", errors.New("service unavailable")
	}
	return strings.Replace(text, "raw-", "en-", 1), nil
}

// fakeGenerator echoes the chunk text behind a client-name header. failOn
// makes every prompt containing the given text fail.
type fakeGenerator struct {
	prefix   string
	tokenErr error
	failOn   string
	delay    func(prompt string) time.Duration
	calls    atomic.Int32
	tokens   atomic.Int32
}

func (g *fakeGenerator) Token(context.Context) (string, error) {
	g.tokens.Add(1)
	if g.tokenErr != nil {
		return "", g.tokenErr
	}
	return "tok", nil
}

func (g *fakeGenerator) Generate(ctx context.Context, token, prompt string) (string, error) {
	g.calls.Add(1)
	if token != "tok" {
		return "", fmt.Errorf("unexpected token %q", token)
	}
	if g.delay != nil {
		select {
		case <-time.After(g.delay(prompt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	body := strings.TrimPrefix(prompt, g.prefix)
	if g.failOn != "" && strings.Contains(body, g.failOn) {
		return "", errors.New("upstream 500")
	}
	return "For [Client Name]: " + strings.ReplaceAll(body, "\n", "|"), nil
}

// blockingGenerator waits until ctx ends.
type blockingGenerator struct {
	started chan struct{}
	once    sync.Once
}

func (g *blockingGenerator) Token(context.Context) (string, error) { return "tok", nil }

func (g *blockingGenerator) Generate(ctx context.Context, _, _ string) (string, error) {
	g.once.Do(func() { close(g.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

type fakeConverter struct {
	err error
}

func (c *fakeConverter) Convert(_ context.Context, markdown string) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []byte("docx:" + markdown), nil
}

func pagesOf(texts ...string) []models.Page {
	out := make([]models.Page, 0, len(texts))
	for i, t := range texts {
		out = append(out, models.Page{Number: i + 1, EditedText: t})
	}
	return out
}

func newLocalStore(t *testing.T) *artifacts.LocalStore {
	t.Helper()
	st, err := artifacts.NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)
	return st
}

// waitIdle waits until the session reaches want and its stage has released
// the timeline.
func waitIdle(t *testing.T, sessions *session.Store, id string, want models.Status) *models.Session {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := sessions.Snapshot(id)
		return err == nil && s.Status == want && !sessions.Running(id)
	}, 5*time.Second, 5*time.Millisecond, "session %s never reached %s", id, want)
	s, err := sessions.Snapshot(id)
	require.NoError(t, err)
	return s
}
