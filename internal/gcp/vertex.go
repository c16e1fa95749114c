package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Translator Model Prompts ---
const TranslatorSystemPrompt = "You are a professional translator of government land records. Translate faithfully, preserving numbers, survey numbers, names, dates and table layout. Never summarise and never add commentary."
const translatorUserPrompt = `Translate the following OCR-extracted text from language %q to language %q.
Keep line breaks where they separate fields or table rows. If a fragment is illegible, copy it unchanged.
Return ONLY the translated text.

Text:
%s`

// --- Report Model Prompts ---
const ReportSystemPrompt = "You are a Senior Legal Associate drafting a formal Report on Title in Markdown. Use only the facts present in the input."

// refusalPhrases mark a model answer that is not a translation or report.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexClient holds the pre-configured generative models for our app.
type VertexClient struct {
	TranslatorModel *genai.GenerativeModel
	ReportModel     *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	translatorModel := baseClient.GenerativeModel(modelName)
	translatorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TranslatorSystemPrompt)},
	}
	translatorModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	reportModel := baseClient.GenerativeModel(modelName)
	reportModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ReportSystemPrompt)},
	}
	reportModel.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.0),
		MaxOutputTokens: genai.Ptr[int32](8100),
	}

	return &VertexClient{
		TranslatorModel: translatorModel,
		ReportModel:     reportModel,
		baseClient:      baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// VertexTranslator translates page text with Gemini.
type VertexTranslator struct {
	client *VertexClient
}

func NewVertexTranslator(client *VertexClient) *VertexTranslator {
	return &VertexTranslator{client: client}
}

func (t *VertexTranslator) Translate(ctx context.Context, text, src, dst string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	prompt := genai.Text(fmt.Sprintf(translatorUserPrompt, src, dst, text))
	resp, err := t.client.TranslatorModel.GenerateContent(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate translation from gemini: %w", err)
	}
	out := extractText(resp)
	if err := checkRefusal(out); err != nil {
		return "", err
	}
	return out, nil
}

// VertexGenerator produces report text with Gemini. Credentials come from
// the ambient service account, so there is no token exchange.
type VertexGenerator struct {
	client *VertexClient
}

func NewVertexGenerator(client *VertexClient) *VertexGenerator {
	return &VertexGenerator{client: client}
}

func (g *VertexGenerator) Token(context.Context) (string, error) { return "", nil }

func (g *VertexGenerator) Generate(ctx context.Context, _ string, prompt string) (string, error) {
	resp, err := g.client.ReportModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate report content from gemini: %w", err)
	}
	out := extractText(resp)
	if out == "" {
		return "", fmt.Errorf("gemini returned no text content")
	}
	if err := checkRefusal(out); err != nil {
		return "", err
	}
	return out, nil
}

// extractText concatenates the text parts of the first candidate and strips
// a surrounding markdown fence.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}

	contentStr := strings.TrimSpace(b.String())
	contentStr = strings.TrimPrefix(contentStr, "```markdown")
	contentStr = strings.TrimPrefix(contentStr, "```")
	contentStr = strings.TrimSuffix(contentStr, "```")
	return strings.TrimSpace(contentStr)
}

func checkRefusal(content string) error {
	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("gemini response indicates refusal: %q", phrase)
		}
	}
	return nil
}
