package task

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/google/uuid"
	"github.com/quietriver/genstack/internal/common"
	"github.com/quietriver/genstack/internal/contexts"
	"github.com/quietriver/genstack/internal/ledger"
	"github.com/quietriver/genstack/internal/prompt"
	"github.com/quietriver/genstack/internal/provider"
	"github.com/quietriver/genstack/internal/storage"
	"github.com/quietriver/genstack/internal/store/rabbitmq"
	"github.com/quietriver/genstack/internal/store/redisstore"
)

var (
	ErrMissingPrompt     = errors.New("task: model id and prompt cannot both be empty")
	ErrInvalidWebhookURL = errors.New("task: invalid webhook url")
	ErrNoResult          = errors.New("task: no result stored")
)

// QueuePublisher is the slice of the rabbit publisher the service needs.
type QueuePublisher interface {
	PublishTask(ctx context.Context, msg rabbitmq.TaskMessage) error
	PublishWebhook(ctx context.Context, msg rabbitmq.WebhookMessage) error
}

// StatsStore receives rate-limit snapshots; failures are non-critical.
type StatsStore interface {
	StoreRemaining(ctx context.Context, r redisstore.Remaining) error
}

type Service struct {
	repo     *Repo
	ctxRepo  *contexts.Repo
	engine   *contexts.Engine
	mapper   *contexts.Mapper
	prompts  *prompt.Repo
	users    *ledger.Repo
	stats    StatsStore
	registry *provider.Registry
	store    storage.Store
	queue    QueuePublisher

	providerName string
	externalURL  string
	tokenCost    int64

	webhookClient *http.Client
}

type Deps struct {
	Repo     *Repo
	Contexts *contexts.Repo
	Engine   *contexts.Engine
	Mapper   *contexts.Mapper
	Prompts  *prompt.Repo
	Users    *ledger.Repo
	Stats    StatsStore
	Registry *provider.Registry
	Store    storage.Store
	Queue    QueuePublisher

	ProviderName string
	ExternalURL  string
	TokenCost    int64
}

func NewService(d Deps) *Service {
	name := d.ProviderName
	if name == "" {
		name = "openai"
	}
	cost := d.TokenCost
	if cost <= 0 {
		cost = 1
	}
	return &Service{
		repo:          d.Repo,
		ctxRepo:       d.Contexts,
		engine:        d.Engine,
		mapper:        d.Mapper,
		prompts:       d.Prompts,
		users:         d.Users,
		stats:         d.Stats,
		registry:      d.Registry,
		store:         d.Store,
		queue:         d.Queue,
		providerName:  name,
		externalURL:   strings.TrimRight(d.ExternalURL, "/"),
		tokenCost:     cost,
		webhookClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateInput is a fully parsed client request. ContextID is "", "last", or
// a concrete context id.
type CreateInput struct {
	Kind       Kind
	UserID     string
	AppBundle  string
	Prompt     string
	ModelID    *string
	UserInputs []prompt.UserInput
	ContextID  string
	WebhookURL string
	Size       string
	Quality    string
	Image      []byte
}

// RunRequest is the resolved request handed to the worker: context messages
// pre-built, template applied, image bytes already in the object store.
type RunRequest struct {
	Kind       Kind               `json:"kind"`
	UserID     string             `json:"user_id"`
	AppBundle  string             `json:"app_bundle"`
	ContextID  *string            `json:"context_id,omitempty"`
	Prompt     string             `json:"prompt"`
	Size       string             `json:"size,omitempty"`
	Quality    string             `json:"quality,omitempty"`
	WebhookURL string             `json:"webhook_url,omitempty"`
	Messages   []provider.Message `json:"messages,omitempty"`
	HasImage   bool               `json:"has_image,omitempty"`
}

// Create validates the input, resolves the context reference and persists
// the task row. Everything that can be rejected is rejected here, before any
// background work exists.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Task, error) {
	switch in.Kind {
	case KindText2Text:
		if strings.TrimSpace(in.Prompt) == "" {
			return nil, ErrMissingPrompt
		}
	case KindText2Image, KindImage2Image:
		if strings.TrimSpace(in.Prompt) == "" && in.ModelID == nil {
			return nil, ErrMissingPrompt
		}
	default:
		return nil, fmt.Errorf("task: unknown kind %q", in.Kind)
	}

	if in.WebhookURL != "" && !validWebhookURL(in.WebhookURL) {
		return nil, ErrInvalidWebhookURL
	}

	var contextID *string
	switch in.ContextID {
	case "":
	case "last":
		c, err := s.ctxRepo.GetUserLast(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		contextID = &c.ID
	default:
		c, err := s.ctxRepo.Get(ctx, in.ContextID)
		if err != nil {
			return nil, err
		}
		contextID = &c.ID
	}

	t := &Task{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		AppBundle: in.AppBundle,
		ContextID: contextID,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Enqueue resolves everything the worker will need, persists the request row
// and publishes it. The task row must already exist.
func (s *Service) Enqueue(ctx context.Context, t *Task, in CreateInput) error {
	run := RunRequest{
		Kind:       in.Kind,
		UserID:     t.UserID,
		AppBundle:  t.AppBundle,
		ContextID:  t.ContextID,
		Size:       in.Size,
		Quality:    in.Quality,
		WebhookURL: in.WebhookURL,
	}

	promptText := in.Prompt
	if in.ModelID != nil {
		m, err := s.prompts.Get(ctx, *in.ModelID)
		if err != nil {
			return err
		}
		promptText = prompt.Build(m.Text, in.UserInputs)
	}

	if t.ContextID != nil {
		entities, err := s.ctxRepo.ListEntities(ctx, *t.ContextID)
		if err != nil {
			return err
		}
		msgs, err := s.mapper.BuildMessages(ctx, entities)
		if err != nil {
			return err
		}
		run.Messages = msgs
		if in.Kind != KindText2Text {
			// Image endpoints take a single prompt string; fold the textual
			// history in front of it.
			promptText = contextPrefix(entities) + promptText
		}
	}
	run.Prompt = promptText

	if len(in.Image) > 0 {
		if err := s.store.Write(ctx, storage.RequestFilename(t.ID), in.Image); err != nil {
			return err
		}
		run.HasImage = true
	}

	reqID, err := common.NewULID()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if err := s.repo.CreateRequest(ctx, &Request{ID: reqID, TaskID: t.ID, Payload: string(payload)}); err != nil {
		return err
	}
	return s.queue.PublishTask(ctx, rabbitmq.TaskMessage{TaskID: t.ID, RequestID: reqID})
}

// Submit is Create followed by Enqueue.
func (s *Service) Submit(ctx context.Context, in CreateInput) (*Task, error) {
	t, err := s.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.Enqueue(ctx, t, in); err != nil {
		return nil, err
	}
	return t, nil
}

func contextPrefix(entities []contexts.Entity) string {
	var b strings.Builder
	for _, ent := range entities {
		if ent.ContentType != contexts.ContentText {
			continue
		}
		b.WriteString(string(ent.Role))
		b.WriteString(": ")
		b.WriteString(ent.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Run executes a task on the worker. It is invoked at-least-once: item
// creation is idempotent and a provider failure terminates the task rather
// than the delivery. A non-nil return means an infrastructure error worth a
// redelivery; generation failures are recorded on the task and return nil.
func (s *Service) Run(ctx context.Context, taskID string, run RunRequest) error {
	// A task terminates exactly once. A redelivered job for a task that
	// already holds an item or an error must not touch the provider, the
	// ledger or the context again.
	existing, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if existing.Error != nil || len(existing.Items) > 0 {
		log.Printf("task=%s already terminal, skipping duplicate delivery", taskID)
		return nil
	}

	client, err := s.registry.Get(ctx, s.providerName)
	if err != nil {
		return err
	}

	resp, genErr := s.generate(ctx, client, taskID, run)
	if genErr != nil {
		log.Printf("task=%s generation failed: %v", taskID, genErr)
		return s.repo.SetError(ctx, taskID, genErr.Error())
	}

	content := resp.Content
	storedResult := false
	if raw, ok := decodeBinaryResult(content); ok {
		if err := s.store.Write(ctx, storage.ResultFilename(taskID), raw); err != nil {
			return err
		}
		content = fmt.Sprintf("%s/api/tasks/%s/result", s.externalURL, taskID)
		storedResult = true
	}

	if _, err := s.repo.CreateItem(ctx, &Item{
		TaskID:     taskID,
		ResultURL:  content,
		UsedTokens: resp.UsedTokens,
	}); err != nil {
		return err
	}

	// Everything below is best-effort: the generation succeeded and the task
	// already shows its result.
	if resp.HasRateLimit {
		if err := s.stats.StoreRemaining(ctx, redisstore.Remaining{
			RemainingRequests: resp.RemainingRequests,
			RemainingTokens:   resp.RemainingTokens,
			ResetIn:           resp.ResetIn,
		}); err != nil {
			log.Printf("task=%s store statistics failed: %v", taskID, err)
		}
	}

	if err := s.users.WriteOff(ctx, run.UserID, run.AppBundle, s.tokenCost); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ledger.ErrInsufficientTokens) {
			log.Printf("task=%s write off skipped user=%s bundle=%s: %v", taskID, run.UserID, run.AppBundle, err)
		} else {
			log.Printf("task=%s write off failed: %v", taskID, err)
		}
	}

	// Context append comes strictly after the task row shows its item, so a
	// reader never sees a context entry for a result-less task.
	if run.ContextID != nil {
		exchange := []contexts.Entity{
			{ContentType: contexts.ContentText, Content: run.Prompt, Role: contexts.RoleUser},
			s.assistantEntity(run.Kind, taskID, content, storedResult),
		}
		if err := s.engine.Append(ctx, *run.ContextID, exchange); err != nil {
			return fmt.Errorf("append context %s: %w", *run.ContextID, err)
		}
	}

	return nil
}

func (s *Service) assistantEntity(kind Kind, taskID, content string, storedResult bool) contexts.Entity {
	if kind == KindText2Text {
		return contexts.Entity{
			ContentType: contexts.ContentText,
			Content:     content,
			Role:        contexts.RoleAssistant,
		}
	}
	ent := contexts.Entity{
		ContentType: contexts.ContentImage,
		Role:        contexts.RoleAssistant,
	}
	switch {
	case storedResult:
		ent.Content = storage.ResultFilename(taskID)
		ent.ImageRef = contexts.ImageRefKey
	case strings.HasPrefix(content, "http"):
		ent.Content = content
		ent.ImageRef = contexts.ImageRefURL
	default:
		ent.Content = content
		ent.ImageRef = contexts.ImageRefBlob
	}
	return ent
}

func (s *Service) generate(ctx context.Context, client provider.Client, taskID string, run RunRequest) (*provider.Response, error) {
	switch run.Kind {
	case KindText2Text:
		msgs := append(append([]provider.Message(nil), run.Messages...), provider.Message{
			Role:    "user",
			Content: run.Prompt,
		})
		return client.GenerateText2Text(ctx, provider.TextRequest{Messages: msgs})

	case KindText2Image:
		return client.GenerateText2Image(ctx, provider.ImageRequest{
			Prompt:   run.Prompt,
			Size:     run.Size,
			Quality:  run.Quality,
			Messages: run.Messages,
		})

	case KindImage2Image:
		var images [][]byte
		if run.HasImage {
			data, err := storage.ReadAll(ctx, s.store, storage.RequestFilename(taskID))
			if err != nil {
				return nil, err
			}
			images = append(images, data)
		}
		// Context images ride along as additional source images.
		for _, m := range run.Messages {
			for _, p := range m.Parts {
				if p.ImageB64 == "" {
					continue
				}
				raw, err := base64.StdEncoding.DecodeString(p.ImageB64)
				if err != nil {
					continue
				}
				images = append(images, raw)
			}
		}
		return client.GenerateImage2Image(ctx, provider.ImageRequest{
			Prompt:   run.Prompt,
			Size:     run.Size,
			Quality:  run.Quality,
			Messages: run.Messages,
			Images:   images,
		})
	}
	return nil, fmt.Errorf("task: unknown kind %q", run.Kind)
}

// decodeBinaryResult reports whether content is a base64 payload that should
// be persisted to the object store. URLs and short text replies pass
// through untouched.
func decodeBinaryResult(content string) ([]byte, bool) {
	if strings.HasPrefix(content, "http") {
		return nil, false
	}
	if len(content) < 32 || len(content)%4 != 0 {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (s *Service) Get(ctx context.Context, taskID string) (*Task, error) {
	return s.repo.Get(ctx, taskID)
}

// Result opens the stored binary result for a completed task.
func (s *Service) Result(ctx context.Context, taskID string) (io.ReadCloser, error) {
	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(t.Items) == 0 {
		return nil, ErrNoResult
	}
	return s.store.Open(ctx, storage.ResultFilename(taskID))
}

// DeleteContext removes a context together with its tasks and entities.
func (s *Service) DeleteContext(ctx context.Context, contextID string) error {
	if err := s.repo.DeleteByContext(ctx, contextID); err != nil {
		return err
	}
	return s.ctxRepo.Delete(ctx, contextID)
}

// HandleJob is the worker entrypoint for a task-queue delivery: it loads the
// persisted request, runs it, publishes the follow-up webhook job whatever
// the outcome, and finally drops the request row.
func (s *Service) HandleJob(ctx context.Context, msg rabbitmq.TaskMessage) error {
	req, err := s.repo.GetRequest(ctx, msg.RequestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Already processed by an earlier delivery.
			log.Printf("task=%s request=%s already processed", msg.TaskID, msg.RequestID)
			return nil
		}
		return err
	}

	var run RunRequest
	if err := json.Unmarshal([]byte(req.Payload), &run); err != nil {
		return fmt.Errorf("decode request %s: %w", msg.RequestID, err)
	}

	runErr := s.Run(ctx, msg.TaskID, run)

	// The webhook job depends on the primary job finishing, not succeeding.
	if run.WebhookURL != "" && runErr == nil {
		if err := s.queue.PublishWebhook(ctx, rabbitmq.WebhookMessage{
			TaskID:     msg.TaskID,
			WebhookURL: run.WebhookURL,
		}); err != nil {
			log.Printf("task=%s publish webhook failed: %v", msg.TaskID, err)
		}
	}

	if runErr != nil {
		return runErr
	}
	return s.repo.DeleteRequest(ctx, msg.RequestID)
}
