// Package llm holds report generators that live outside Google Cloud.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultIAMURL       = "https://iam.cloud.ibm.com/identity/token"
	DefaultWatsonXURL   = "https://us-south.ml.cloud.ibm.com"
	DefaultWatsonXModel = "meta-llama/llama-3-3-70b-instruct"
	watsonXVersion      = "2024-01-15"
	maxNewTokens        = 8100
)

// ResponseError reports a generation reply that could not be decoded. Raw
// holds the body as received.
type ResponseError struct {
	StatusCode int
	Reason     string
	Raw        string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("WatsonX response error: %s - Raw: %s", e.Reason, e.Raw)
}

type WatsonXConfig struct {
	APIKey    string
	ProjectID string
	ModelID   string
	IAMURL    string
	BaseURL   string
	Timeout   time.Duration
}

// WatsonX exchanges an API key for a bearer token and calls the text
// generation endpoint with greedy decoding.
type WatsonX struct {
	cfg    WatsonXConfig
	http   *http.Client
	logger *slog.Logger
}

func NewWatsonX(cfg WatsonXConfig, httpClient *http.Client, logger *slog.Logger) *WatsonX {
	if cfg.IAMURL == "" {
		cfg.IAMURL = DefaultIAMURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWatsonXURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultWatsonXModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WatsonX{cfg: cfg, http: httpClient, logger: logger}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token fetches an IAM access token. One token is requested per report.
func (w *WatsonX) Token(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "urn:ibm:params:oauth:grant-type:apikey")
	form.Set("apikey", w.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.IAMURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, snippet(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token")
	}
	return tr.AccessToken, nil
}

type generationParameters struct {
	DecodingMethod    string   `json:"decoding_method"`
	MaxNewTokens      int      `json:"max_new_tokens"`
	MinNewTokens      int      `json:"min_new_tokens"`
	StopSequences     []string `json:"stop_sequences"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
}

type generationRequest struct {
	Input      string               `json:"input"`
	Parameters generationParameters `json:"parameters"`
	ModelID    string               `json:"model_id"`
	ProjectID  string               `json:"project_id"`
}

type generationResponse struct {
	Results []struct {
		GeneratedText string `json:"generated_text"`
	} `json:"results"`
}

func (w *WatsonX) Generate(ctx context.Context, token, prompt string) (string, error) {
	payload, err := json.Marshal(generationRequest{
		Input: prompt,
		Parameters: generationParameters{
			DecodingMethod:    "greedy",
			MaxNewTokens:      maxNewTokens,
			MinNewTokens:      0,
			StopSequences:     []string{},
			RepetitionPenalty: 1,
		},
		ModelID:   w.cfg.ModelID,
		ProjectID: w.cfg.ProjectID,
	})
	if err != nil {
		return "", fmt.Errorf("encode generation request: %w", err)
	}

	endpoint := strings.TrimRight(w.cfg.BaseURL, "/") + "/ml/v1/text/generation?version=" + watsonXVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generation response: %w", err)
	}
	w.logger.Debug("WatsonX generation returned.", "status", resp.StatusCode, "durationMs", time.Since(start).Milliseconds(), "bytes", len(body))

	var gr generationResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", &ResponseError{StatusCode: resp.StatusCode, Reason: err.Error(), Raw: string(body)}
	}
	if len(gr.Results) == 0 {
		return "", &ResponseError{StatusCode: resp.StatusCode, Reason: "no results", Raw: string(body)}
	}
	return gr.Results[0].GeneratedText, nil
}

func snippet(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
