package services

import "context"

// Renderer opens a PDF on disk and rasterises its pages.
type Renderer interface {
	PageCount(ctx context.Context, path string) (int, error)
	RenderPage(ctx context.Context, path string, page int) ([]byte, error)
}

// Recognizer turns a page image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Translator converts text between languages.
type Translator interface {
	Translate(ctx context.Context, text, src, dst string) (string, error)
}

// Generator produces report text. Token is called once per report run and
// its result passed to every Generate call of that run.
type Generator interface {
	Token(ctx context.Context) (string, error)
	Generate(ctx context.Context, token, prompt string) (string, error)
}

// Converter renders markdown into the binary report format.
type Converter interface {
	Convert(ctx context.Context, markdown string) ([]byte, error)
}

// PassthroughTranslator returns its input, for documents already in the
// target language.
type PassthroughTranslator struct{}

func (PassthroughTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
