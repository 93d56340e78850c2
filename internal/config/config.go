package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderKind selects the completion backend once at process start.
type ProviderKind string

const (
	ProviderCloud ProviderKind = "cloud"
	ProviderLocal ProviderKind = "local"
)

type Config struct {
	Port     string
	Env      string
	Provider ProviderConfig
	Store    StoreConfig
	Run      RunConfig
}

// ProviderConfig carries everything the completion provider needs.
// It is resolved once here and never re-negotiated per call.
type ProviderConfig struct {
	Kind          ProviderKind
	APIKey        string
	Model         string
	Endpoint      string
	Temperature   float32
	MaxTokens     int
	CallTimeout   time.Duration
	RetryAttempts int
	RetryBase     time.Duration
}

type StoreConfig struct {
	PostgresDSN string
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	UseSSL      bool
	CacheSize   int
}

// RunConfig holds the per-run execution policy.
type RunConfig struct {
	MaxStepAttempts  int
	PromptBudget     int
	ReformatAttempts int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = ":8082"
	} else if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	provider, err := loadProviderConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:     port,
		Env:      env,
		Provider: provider,
		Store:    loadStoreConfig(env),
		Run:      loadRunConfig(),
	}, nil
}

func loadProviderConfig() (ProviderConfig, error) {
	kind := ProviderKind(strings.ToLower(firstNonEmpty(os.Getenv("QA_LLM_PROVIDER"), "cloud")))
	cfg := ProviderConfig{
		Kind:          kind,
		APIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Temperature:   envFloat32("LLM_TEMPERATURE", 0.7),
		MaxTokens:     envInt("LLM_MAX_TOKENS", 0),
		CallTimeout:   envDuration("LLM_CALL_TIMEOUT", 90*time.Second),
		RetryAttempts: envInt("LLM_RETRY_ATTEMPTS", 3),
		RetryBase:     envDuration("LLM_RETRY_BASE", 500*time.Millisecond),
	}
	switch kind {
	case ProviderCloud:
		cfg.Model = firstNonEmpty(os.Getenv("CLOUD_MODEL_NAME"), "gemini-2.5-flash")
	case ProviderLocal:
		cfg.Model = firstNonEmpty(os.Getenv("LOCAL_MODEL_NAME"), "llama2")
		cfg.Endpoint = firstNonEmpty(os.Getenv("LOCAL_LLM_ENDPOINT"), "http://localhost:8000/v1")
	default:
		return ProviderConfig{}, fmt.Errorf("config: unsupported QA_LLM_PROVIDER %q (must be cloud or local)", kind)
	}
	return cfg, nil
}

func loadStoreConfig(env string) StoreConfig {
	return StoreConfig{
		PostgresDSN: strings.TrimSpace(os.Getenv("ARTIFACT_PG_DSN")),
		Endpoint:    strings.TrimSpace(os.Getenv("MINIO_ENDPOINT")),
		AccessKey:   firstNonEmpty(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER")),
		SecretKey:   firstNonEmpty(os.Getenv("MINIO_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD")),
		Bucket:      firstNonEmpty(os.Getenv("MINIO_BUCKET"), "qa-pipeline"),
		UseSSL:      envBool("MINIO_SECURE", !strings.EqualFold(env, "local")),
		CacheSize:   envInt("ARTIFACT_CACHE_SIZE", 1024),
	}
}

func loadRunConfig() RunConfig {
	return RunConfig{
		MaxStepAttempts:  envInt("QA_STEP_MAX_ATTEMPTS", 3),
		PromptBudget:     envInt("QA_PROMPT_BUDGET", 24000),
		ReformatAttempts: envInt("QA_REFORMAT_ATTEMPTS", 2),
	}
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat32(key string, fallback float32) float32 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return fallback
	}
	return float32(v)
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
