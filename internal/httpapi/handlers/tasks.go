package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quietriver/genstack/internal/common"
	"github.com/quietriver/genstack/internal/prompt"
	"github.com/quietriver/genstack/internal/storage"
	"github.com/quietriver/genstack/internal/store/redisstore"
	"github.com/quietriver/genstack/internal/task"
	"gorm.io/gorm"
)

type createTaskReq struct {
	UserID     string             `json:"user_id"`
	AppBundle  string             `json:"app_bundle"`
	Prompt     string             `json:"prompt"`
	ModelID    *string            `json:"model_id"`
	UserInputs []prompt.UserInput `json:"user_inputs"`
	ContextID  string             `json:"context_id"`
	WebhookURL string             `json:"webhook_url"`
	Size       string             `json:"size"`
	Quality    string             `json:"quality"`
}

func (h *Handler) CreateText2TextTask(c *gin.Context) {
	h.createFromJSON(c, task.KindText2Text)
}

func (h *Handler) CreateText2ImageTask(c *gin.Context) {
	h.createFromJSON(c, task.KindText2Image)
}

func (h *Handler) createFromJSON(c *gin.Context, kind task.Kind) {
	var req createTaskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.UserID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "user_id required")
		return
	}
	h.submit(c, task.CreateInput{
		Kind:       kind,
		UserID:     req.UserID,
		AppBundle:  req.AppBundle,
		Prompt:     req.Prompt,
		ModelID:    req.ModelID,
		UserInputs: req.UserInputs,
		ContextID:  req.ContextID,
		WebhookURL: req.WebhookURL,
		Size:       req.Size,
		Quality:    req.Quality,
	})
}

// CreateImage2ImageTask takes a multipart form: the source image under
// "image" plus the same fields the JSON endpoints take.
func (h *Handler) CreateImage2ImageTask(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10010, "image file required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10011, "cannot read image")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10011, "cannot read image")
		return
	}

	userID := c.PostForm("user_id")
	if userID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "user_id required")
		return
	}

	in := task.CreateInput{
		Kind:       task.KindImage2Image,
		UserID:     userID,
		AppBundle:  c.PostForm("app_bundle"),
		Prompt:     c.PostForm("prompt"),
		ContextID:  c.PostForm("context_id"),
		WebhookURL: c.PostForm("webhook_url"),
		Size:       c.PostForm("size"),
		Quality:    c.PostForm("quality"),
		Image:      data,
	}
	if v := c.PostForm("model_id"); v != "" {
		in.ModelID = &v
	}
	h.submit(c, in)
}

func (h *Handler) submit(c *gin.Context, in task.CreateInput) {
	t, err := h.Tasks.Submit(c.Request.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, task.ErrMissingPrompt):
			common.Fail(c, http.StatusBadRequest, 10003, "model id and prompt cannot both be empty")
		case errors.Is(err, task.ErrInvalidWebhookURL):
			common.Fail(c, http.StatusBadRequest, 10004, "invalid webhook url")
		case errors.Is(err, gorm.ErrRecordNotFound):
			common.Fail(c, http.StatusNotFound, 40410, "context or prompt model not found")
		default:
			common.Fail(c, http.StatusInternalServerError, 20010, "failed to create task")
		}
		return
	}
	common.OK(c, gin.H{"id": t.ID})
}

func (h *Handler) GetTask(c *gin.Context) {
	t, err := h.Tasks.Get(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40411, "task not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20011, "db error")
		return
	}
	common.OK(c, t.Read())
}

// GetTaskResult serves the stored binary result. Unauthenticated: result
// URLs are handed to third parties in webhook payloads.
func (h *Handler) GetTaskResult(c *gin.Context) {
	rc, err := h.Tasks.Result(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound),
			errors.Is(err, task.ErrNoResult),
			errors.Is(err, storage.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40412, "result not found")
		default:
			common.Fail(c, http.StatusInternalServerError, 20012, "failed to open result")
		}
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20012, "failed to read result")
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// GetStatistics returns the latest provider rate-limit snapshot; 404 until
// the first completed call stores one.
func (h *Handler) GetStatistics(c *gin.Context) {
	r, err := h.Redis.GetRemaining(c.Request.Context())
	if err != nil {
		if errors.Is(err, redisstore.ErrNotStored) {
			common.Fail(c, http.StatusNotFound, 40413, "no statistics yet")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20013, "redis error")
		return
	}
	common.OK(c, r)
}
