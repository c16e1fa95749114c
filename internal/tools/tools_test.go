package tools

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	stdin []byte
	name  string
	args  []string
}

type fakeRunner struct {
	calls  []call
	stdout []byte
	stderr []byte
	err    error
	// onRun lets a test act on the arguments, e.g. create output files.
	onRun func(args []string)
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{stdin: stdin, name: name, args: args})
	if f.onRun != nil {
		f.onRun(args)
	}
	return f.stdout, f.stderr, f.err
}

func TestTesseractRecognize(t *testing.T) {
	r := &fakeRunner{stdout: []byte("  line one\r\n\n\n\nline two\f\n")}
	tess := NewTesseract(r, "", "", "/opt/tessdata")

	text, err := tess.Recognize(context.Background(), []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "line one\n\nline two", text)

	require.Len(t, r.calls, 1)
	assert.Equal(t, "tesseract", r.calls[0].name)
	assert.Equal(t, []string{"stdin", "stdout", "-l", "kan+eng", "--tessdata-dir", "/opt/tessdata"}, r.calls[0].args)
	assert.Equal(t, []byte("png"), r.calls[0].stdin)
}

func TestTesseractFailure(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("Error opening data file")}
	_, err := NewTesseract(r, "", "", "").Recognize(context.Background(), []byte("png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error opening data file")

	_, err = NewTesseract(r, "", "", "").Recognize(context.Background(), nil)
	assert.Error(t, err)
}

func TestPandocConvert(t *testing.T) {
	r := &fakeRunner{stdout: []byte("PK\x03\x04docx")}
	p := NewPandoc(r, "")

	out, err := p.Convert(context.Background(), "# Report")
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x03\x04docx"), out)
	assert.Equal(t, []string{"-f", "markdown", "-t", "docx", "-o", "-"}, r.calls[0].args)
	assert.Equal(t, []byte("# Report"), r.calls[0].stdin)
}

func TestPandocFailures(t *testing.T) {
	_, err := NewPandoc(&fakeRunner{}, "").Convert(context.Background(), "x")
	assert.Error(t, err, "empty output is a failure")

	missing := &fakeRunner{err: errors.New("executable file not found in $PATH")}
	assert.Error(t, NewPandoc(missing, "").Check(context.Background()))
	_, err = NewPandoc(missing, "").Convert(context.Background(), "x")
	assert.Error(t, err)
}

func TestRenderPage(t *testing.T) {
	r := &fakeRunner{}
	r.onRun = func(args []string) {
		prefix := args[len(args)-1]
		_ = os.WriteFile(prefix+".png", []byte("image-bytes"), 0o600)
	}
	rd := NewPDFRenderer(r, "", 0, nil)

	img, err := rd.RenderPage(context.Background(), "/tmp/in.pdf", 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), img)

	args := r.calls[0].args
	assert.Equal(t, []string{"-r", "144", "-png", "-f", "4", "-l", "4", "-singlefile", "/tmp/in.pdf"}, args[:len(args)-1])
}

func TestRenderPageNoOutput(t *testing.T) {
	_, err := NewPDFRenderer(&fakeRunner{}, "", 0, nil).RenderPage(context.Background(), "/tmp/in.pdf", 1)
	assert.Error(t, err)
}

func TestPageCountRejectsGarbage(t *testing.T) {
	path := t.TempDir() + "/bad.pdf"
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o600))
	_, err := NewPDFRenderer(&fakeRunner{}, "", 0, nil).PageCount(context.Background(), path)
	assert.Error(t, err)
}
