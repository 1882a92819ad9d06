package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/quietriver/genstack/internal/config"
	"github.com/quietriver/genstack/internal/contexts"
	"github.com/quietriver/genstack/internal/db"
	"github.com/quietriver/genstack/internal/ledger"
	"github.com/quietriver/genstack/internal/prompt"
	"github.com/quietriver/genstack/internal/provider"
	"github.com/quietriver/genstack/internal/storage"
	"github.com/quietriver/genstack/internal/store/rabbitmq"
	"github.com/quietriver/genstack/internal/store/redisstore"
	"github.com/quietriver/genstack/internal/task"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

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
		log.Fatalf("rabbit publisher: %v", err)
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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue, cfg.RabbitWebhookQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	taskMsgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume tasks: %v", err)
	}
	webhookMsgs, err := ch.Consume(cfg.RabbitWebhookQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume webhooks: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, svc, pub, cfg.RabbitWebhookQueue, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-taskMsgs:
			if !ok {
				log.Printf("task delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d

		case d, ok := <-webhookMsgs:
			if !ok {
				log.Printf("webhook delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// maxTaskRetries caps how many retry cycles a task job gets before it is
// parked in the DLQ.
const maxTaskRetries = 3

// handleDelivery routes a delivery by its source queue. Generation failures
// come back as nil (the task row records them); infrastructure errors cycle
// through the retry queue until the retry cap sends them to the DLQ.
func handleDelivery(ctx context.Context, svc *task.Service, pub *rabbitmq.Publisher, webhookQueue string, workerID int, d amqp.Delivery) {
	start := time.Now()

	if d.RoutingKey == webhookQueue {
		var m rabbitmq.WebhookMessage
		if jerr := json.Unmarshal(d.Body, &m); jerr != nil || m.TaskID == "" {
			log.Printf("worker=%d bad webhook message: %v", workerID, jerr)
			_ = d.Nack(false, false)
			return
		}
		if err := svc.DeliverWebhook(ctx, m.TaskID, m.WebhookURL); err != nil {
			log.Printf("worker=%d webhook job failed cost=%s err=%v", workerID, time.Since(start), err)
			_ = d.Nack(false, false)
			return
		}
		if err := d.Ack(false); err != nil {
			log.Printf("worker=%d ack failed err=%v", workerID, err)
		}
		return
	}

	var m rabbitmq.TaskMessage
	if jerr := json.Unmarshal(d.Body, &m); jerr != nil || m.TaskID == "" {
		log.Printf("worker=%d bad task message: %v", workerID, jerr)
		_ = d.Nack(false, false)
		return
	}

	if err := svc.HandleJob(ctx, m); err != nil {
		retries := rabbitmq.DeathCount(d.Headers)
		log.Printf("worker=%d task=%s failed cost=%s retries=%d err=%v",
			workerID, m.TaskID, time.Since(start), retries, err)

		if retries >= maxTaskRetries {
			// nack without requeue dead-letters to the DLQ
			_ = d.Nack(false, false)
			return
		}
		if perr := pub.PublishTaskRetry(ctx, m); perr != nil {
			log.Printf("worker=%d task=%s retry publish failed: %v", workerID, m.TaskID, perr)
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("worker=%d ack failed err=%v", workerID, err)
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
