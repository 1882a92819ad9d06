package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quietriver/genstack/internal/common"
	"gorm.io/gorm"
)

type createContextReq struct {
	UserID string `json:"user_id"`
}

func (h *Handler) CreateContext(c *gin.Context) {
	var req createContextReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.UserID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "user_id required")
		return
	}

	cx, err := h.Contexts.Create(c.Request.Context(), req.UserID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20020, "failed to create context")
		return
	}
	common.OK(c, gin.H{"id": cx.ID})
}

type contextTaskRead struct {
	ID string `json:"id"`
}

type contextRead struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Tasks           []contextTaskRead `json:"tasks"`
	TextAvailable   int               `json:"text_available"`
	ImagesAvailable int               `json:"images_available"`
}

// GetContext returns the context with its task list and how much of the
// budget is still open. Availability is clamped at zero for readers even
// when a concurrent append overshot.
func (h *Handler) GetContext(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("context_id")

	cx, err := h.Contexts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40420, "context not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20021, "db error")
		return
	}

	ids, err := h.TaskRepo.ListIDsByContext(ctx, id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20021, "db error")
		return
	}
	remaining, err := h.Engine.Remaining(ctx, id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20021, "db error")
		return
	}

	out := contextRead{
		ID:              cx.ID,
		UserID:          cx.UserID,
		Tasks:           []contextTaskRead{},
		TextAvailable:   max(remaining.TextLeft, 0),
		ImagesAvailable: max(remaining.ImagesLeft, 0),
	}
	for _, tid := range ids {
		out.Tasks = append(out.Tasks, contextTaskRead{ID: tid})
	}
	common.OK(c, out)
}

// DeleteContext cascades over the context's tasks, items and entities.
func (h *Handler) DeleteContext(c *gin.Context) {
	err := h.Tasks.DeleteContext(c.Request.Context(), c.Param("context_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40420, "context not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20022, "failed to delete context")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}
