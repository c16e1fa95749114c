package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatsonXToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ibm:params:oauth:grant-type:apikey", r.PostForm.Get("grant_type"))
		assert.Equal(t, "secret", r.PostForm.Get("apikey"))
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	}))
	defer srv.Close()

	w := NewWatsonX(WatsonXConfig{APIKey: "secret", IAMURL: srv.URL}, srv.Client(), nil)
	tok, err := w.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestWatsonXTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"errorMessage":"bad key"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWatsonX(WatsonXConfig{APIKey: "bad", IAMURL: srv.URL}, srv.Client(), nil)
	_, err := w.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestWatsonXGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ml/v1/text/generation", r.URL.Path)
		assert.Equal(t, "2024-01-15", r.URL.Query().Get("version"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req generationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "prompt text", req.Input)
		assert.Equal(t, "greedy", req.Parameters.DecodingMethod)
		assert.Equal(t, 8100, req.Parameters.MaxNewTokens)
		assert.Equal(t, DefaultWatsonXModel, req.ModelID)
		assert.Equal(t, "proj", req.ProjectID)

		_, _ = w.Write([]byte(`{"results":[{"generated_text":"# Report On Title"}]}`))
	}))
	defer srv.Close()

	w := NewWatsonX(WatsonXConfig{ProjectID: "proj", BaseURL: srv.URL}, srv.Client(), nil)
	out, err := w.Generate(context.Background(), "tok", "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "# Report On Title", out)
}

func TestWatsonXGenerateMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limited`))
	}))
	defer srv.Close()

	w := NewWatsonX(WatsonXConfig{BaseURL: srv.URL}, srv.Client(), nil)
	_, err := w.Generate(context.Background(), "tok", "p")
	require.Error(t, err)

	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, "rate limited", respErr.Raw)
	assert.Equal(t, http.StatusTooManyRequests, respErr.StatusCode)
	assert.Contains(t, err.Error(), "Raw: rate limited")
}

func TestWatsonXGenerateNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	w := NewWatsonX(WatsonXConfig{BaseURL: srv.URL}, srv.Client(), nil)
	_, err := w.Generate(context.Background(), "tok", "p")
	var respErr *ResponseError
	assert.True(t, errors.As(err, &respErr))
}

func TestWatsonXGenerateLogsDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"generated_text":"ok"}]}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := NewWatsonX(WatsonXConfig{BaseURL: srv.URL}, srv.Client(), logger)
	_, err := w.Generate(context.Background(), "tok", "p")
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line), buf.String())
	assert.Equal(t, "WatsonX generation returned.", line["msg"])
	assert.Contains(t, line, "durationMs")
	assert.NotContains(t, line, "duration_ms")
}
