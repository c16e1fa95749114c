package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/titlereportflow/internal/gcp"
)

const (
	DefaultChunkSize             = 90
	DefaultGenerationConcurrency = 4
	DefaultWorkers               = 4
	DefaultQueueSize             = 64
)

// Config holds all configuration for the service, read from the environment.
type Config struct {
	Port string

	ProjectID      string
	VertexAIRegion string
	VertexModel    string

	ArtifactBackend string
	ArtifactDir     string
	ArtifactBucket  string
	ArtifactPrefix  string

	FirestoreCollection string

	AllowedOrigins []string

	TranslationBackend string
	SourceLang         string
	TargetLang         string

	GenerationBackend string
	WatsonXAPIKey     string
	WatsonXProjectID  string
	WatsonXURL        string
	WatsonXModel      string
	IAMURL            string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string

	ChunkSize             int
	GenerationConcurrency int
	Workers               int
	QueueSize             int
	RetentionTTL          time.Duration

	RenderDPI     int
	TesseractLang string
	TesseractBin  string
	TessdataDir   string
	PDFToPPMBin   string
	PandocBin     string
}

// LoadConfig loads and validates all necessary environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:                gcp.GetEnv("PORT", "8080"),
		ProjectID:           gcp.GetEnv("PROJECT_ID", ""),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:         gcp.GetEnv("VERTEX_MODEL", "gemini-1.5-pro"),
		ArtifactBackend:     gcp.GetEnv("ARTIFACT_BACKEND", "local"),
		ArtifactDir:         gcp.GetEnv("ARTIFACT_DIR", "data"),
		ArtifactBucket:      gcp.GetEnv("ARTIFACT_BUCKET", ""),
		ArtifactPrefix:      gcp.GetEnv("ARTIFACT_PREFIX", "sessions/"),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", ""),
		TranslationBackend:  gcp.GetEnv("TRANSLATION_BACKEND", "vertex"),
		SourceLang:          gcp.GetEnv("SOURCE_LANG", "kn"),
		TargetLang:          gcp.GetEnv("TARGET_LANG", "en"),
		GenerationBackend:   gcp.GetEnv("GENERATION_BACKEND", "watsonx"),
		WatsonXAPIKey:       gcp.GetEnv("API_KEY", ""),
		WatsonXProjectID:    gcp.GetEnv("WATSONX_PROJECT_ID", ""),
		WatsonXURL:          gcp.GetEnv("WATSONX_URL", ""),
		WatsonXModel:        gcp.GetEnv("WATSONX_MODEL", ""),
		IAMURL:              gcp.GetEnv("IAM_URL", ""),
		OpenAIAPIKey:        gcp.GetEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       gcp.GetEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:         gcp.GetEnv("OPENAI_MODEL", ""),
		TesseractLang:       gcp.GetEnv("TESSERACT_LANG", "kan+eng"),
		TesseractBin:        gcp.GetEnv("TESSERACT_BIN", "tesseract"),
		TessdataDir:         gcp.GetEnv("TESSDATA_PREFIX", ""),
		PDFToPPMBin:         gcp.GetEnv("PDFTOPPM_BIN", "pdftoppm"),
		PandocBin:           gcp.GetEnv("PANDOC_BIN", "pandoc"),
	}

	cfg.AllowedOrigins = envList("CORS_ALLOWED_ORIGINS", []string{"*"})

	var err error
	if cfg.ChunkSize, err = envInt("CHUNK_SIZE", DefaultChunkSize); err != nil {
		return nil, err
	}
	if cfg.GenerationConcurrency, err = envInt("GENERATION_CONCURRENCY", DefaultGenerationConcurrency); err != nil {
		return nil, err
	}
	if cfg.Workers, err = envInt("WORKERS", DefaultWorkers); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = envInt("QUEUE_SIZE", DefaultQueueSize); err != nil {
		return nil, err
	}
	if cfg.RenderDPI, err = envInt("RENDER_DPI", 144); err != nil {
		return nil, err
	}
	if cfg.RetentionTTL, err = envDuration("RETENTION_TTL", 0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every backend has what it needs.
func (c *Config) Validate() error {
	switch c.ArtifactBackend {
	case "local":
		if c.ArtifactDir == "" {
			return fmt.Errorf("ARTIFACT_DIR environment variable must be set")
		}
	case "gcs":
		if c.ArtifactBucket == "" {
			return fmt.Errorf("ARTIFACT_BUCKET environment variable must be set")
		}
	default:
		return fmt.Errorf("unknown ARTIFACT_BACKEND %q", c.ArtifactBackend)
	}

	switch c.TranslationBackend {
	case "vertex":
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID environment variable must be set for vertex translation")
		}
	case "none":
	default:
		return fmt.Errorf("unknown TRANSLATION_BACKEND %q", c.TranslationBackend)
	}

	switch c.GenerationBackend {
	case "watsonx":
		if c.WatsonXAPIKey == "" || c.WatsonXProjectID == "" {
			return fmt.Errorf("API_KEY and WATSONX_PROJECT_ID must be set")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable must be set")
		}
	case "vertex":
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID environment variable must be set for vertex generation")
		}
	default:
		return fmt.Errorf("unknown GENERATION_BACKEND %q", c.GenerationBackend)
	}

	if c.FirestoreCollection != "" && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set to mirror status to Firestore")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.GenerationConcurrency <= 0 {
		return fmt.Errorf("GENERATION_CONCURRENCY must be positive, got %d", c.GenerationConcurrency)
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return fmt.Errorf("WORKERS and QUEUE_SIZE must be positive")
	}
	if c.RetentionTTL < 0 {
		return fmt.Errorf("RETENTION_TTL must not be negative")
	}
	return nil
}

func envInt(key string, fallback int) (int, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 72h: %w", key, err)
	}
	return v, nil
}

// envList splits a comma-separated variable. "none" disables the list.
func envList(key string, fallback []string) []string {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	if strings.EqualFold(raw, "none") {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
