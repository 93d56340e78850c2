package config

import (
	"testing"
	"time"

	"qaflow/internal/tester"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("QA_LLM_PROVIDER", "")
	t.Setenv("CLOUD_MODEL_NAME", "")
	t.Setenv("QA_STEP_MAX_ATTEMPTS", "")

	cfg, err := Load()
	tester.NoErr(t, err)
	tester.Eq(t, cfg.Port, ":8082")
	tester.Eq(t, cfg.Env, "local")
	tester.Eq(t, cfg.Provider.Kind, ProviderCloud)
	tester.Eq(t, cfg.Provider.Model, "gemini-2.5-flash")
	tester.Eq(t, cfg.Run.MaxStepAttempts, 3)
	tester.Eq(t, cfg.Run.PromptBudget, 24000)
}

func TestLoadLocalProvider(t *testing.T) {
	t.Setenv("QA_LLM_PROVIDER", "local")
	t.Setenv("LOCAL_MODEL_NAME", "")
	t.Setenv("LOCAL_LLM_ENDPOINT", "http://llm.internal:9000")

	cfg, err := Load()
	tester.NoErr(t, err)
	tester.Eq(t, cfg.Provider.Kind, ProviderLocal)
	tester.Eq(t, cfg.Provider.Model, "llama2")
	tester.Eq(t, cfg.Provider.Endpoint, "http://llm.internal:9000")
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("QA_LLM_PROVIDER", "azure")
	_, err := Load()
	tester.Err(t, err)
}

func TestPortNormalization(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg, err := Load()
	tester.NoErr(t, err)
	tester.Eq(t, cfg.Port, ":9090")
}

func TestStoreCredentialFallbacks(t *testing.T) {
	t.Setenv("MINIO_ACCESS_KEY", "")
	t.Setenv("MINIO_SECRET_KEY", "")
	t.Setenv("MINIO_ROOT_USER", "minio")
	t.Setenv("MINIO_ROOT_PASSWORD", "minio123")
	t.Setenv("MINIO_BUCKET", "")

	cfg, err := Load()
	tester.NoErr(t, err)
	tester.Eq(t, cfg.Store.AccessKey, "minio")
	tester.Eq(t, cfg.Store.SecretKey, "minio123")
	tester.Eq(t, cfg.Store.Bucket, "qa-pipeline")
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "oops")
	tester.Eq(t, envInt("X_INT", 7), 7)
	t.Setenv("X_DUR", "2s")
	tester.Eq(t, envDuration("X_DUR", time.Second), 2*time.Second)
	tester.Eq(t, firstNonEmpty("  ", "", "b"), "b")
}
