package main

import (
	"context"
	"flag"
	"log"

	"qaflow/internal/api"
	"qaflow/internal/config"
	"qaflow/internal/engine"
	"qaflow/internal/llmclient"
	"qaflow/internal/pipeline"
	"qaflow/internal/store"
)

func main() {
	port := flag.String("port", "", "listen address, overrides PORT")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	addr := cfg.Port
	if *port != "" {
		addr = *port
	}

	ctx := context.Background()

	provider, err := buildProvider(ctx, cfg.Provider)
	if err != nil {
		log.Fatalf("init provider: %v", err)
	}
	defer provider.Close()

	st, err := buildStore(cfg.Store)
	if err != nil {
		log.Fatalf("init artifact store: %v", err)
	}

	eng := engine.New(st, provider, pipeline.Default(), engine.Options{
		Params: llmclient.Params{
			Model:       cfg.Provider.Model,
			Temperature: cfg.Provider.Temperature,
			MaxTokens:   cfg.Provider.MaxTokens,
		},
		MaxStepRetries:   cfg.Run.MaxStepAttempts,
		PromptBudget:     cfg.Run.PromptBudget,
		ReformatAttempts: cfg.Run.ReformatAttempts,
	})

	srv := api.NewServer(eng)
	log.Fatal(srv.ListenAndServe(addr))
}

func buildProvider(ctx context.Context, cfg config.ProviderConfig) (llmclient.Provider, error) {
	var (
		base llmclient.Provider
		err  error
	)
	switch cfg.Kind {
	case config.ProviderLocal:
		base, err = llmclient.NewLocalClient(cfg.Endpoint)
	default:
		base, err = llmclient.NewGeminiClient(ctx, cfg.APIKey)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("completion provider: %s (model %s)", base.Name(), cfg.Model)
	return llmclient.NewRetrying(base, cfg.RetryAttempts, cfg.RetryBase, cfg.CallTimeout), nil
}

// buildStore prefers Postgres, then MinIO, and falls back to the in-memory
// store for local development. Reads always go through the LRU cache.
func buildStore(cfg config.StoreConfig) (store.Store, error) {
	var (
		backend store.Store
		err     error
	)
	switch {
	case cfg.PostgresDSN != "":
		backend, err = store.NewPostgresStore(cfg.PostgresDSN)
		log.Printf("artifact store: postgres")
	case cfg.Endpoint != "":
		backend, err = store.NewS3Store(store.S3Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		log.Printf("artifact store: s3 bucket %s at %s", cfg.Bucket, cfg.Endpoint)
	default:
		backend = store.NewMemoryStore()
		log.Printf("artifact store: in-memory (artifacts are lost on restart)")
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize <= 0 {
		return backend, nil
	}
	return store.NewCachedStore(backend, cfg.CacheSize)
}
