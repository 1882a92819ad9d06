package main

import (
	"context"
	"log"
	"os"

	"github.com/quietriver/genstack/internal/config"
	"github.com/quietriver/genstack/internal/contexts"
	"github.com/quietriver/genstack/internal/db"
	"github.com/quietriver/genstack/internal/httpapi"
	"github.com/quietriver/genstack/internal/ledger"
	"github.com/quietriver/genstack/internal/prompt"
	"github.com/quietriver/genstack/internal/provider"
	"github.com/quietriver/genstack/internal/storage"
	"github.com/quietriver/genstack/internal/store/rabbitmq"
	"github.com/quietriver/genstack/internal/store/redisstore"
	"github.com/quietriver/genstack/internal/task"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	store, err := buildStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.RabbitWebhookQueue)
	if err != nil {
		log.Fatalf("rabbit: %v", err)
	}
	defer pub.Close()

	reg := provider.NewRegistry()
	reg.Register("openai", func(ctx context.Context) (provider.Client, error) {
		return provider.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAITextModel, cfg.OpenAIImageModel), nil
	})

	ctxRepo := contexts.NewRepo(gdb)
	engine := contexts.NewEngine(ctxRepo, contexts.Budget{
		MaxTextChars: cfg.ContextMaxTextChars,
		MaxImages:    cfg.ContextMaxImages,
	})

	svc := task.NewService(task.Deps{
		Repo:         task.NewRepo(gdb),
		Contexts:     ctxRepo,
		Engine:       engine,
		Mapper:       contexts.NewMapper(store),
		Prompts:      prompt.NewRepo(gdb),
		Users:        ledger.NewRepo(gdb),
		Stats:        rds,
		Registry:     reg,
		Store:        store,
		Queue:        pub,
		ProviderName: "openai",
		ExternalURL:  cfg.ExternalURL,
		TokenCost:    int64(cfg.TaskTokenCost),
	})

	r := httpapi.NewRouter(gdb, cfg, rds, svc)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("server listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func buildStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinIOStore(ctx, storage.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
	}
	return storage.NewFSStore(cfg.StoragePath)
}
