package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/quietriver/genstack/internal/common"
	"github.com/quietriver/genstack/internal/config"
	"github.com/quietriver/genstack/internal/contexts"
	"github.com/quietriver/genstack/internal/ledger"
	"github.com/quietriver/genstack/internal/store/redisstore"
	"github.com/quietriver/genstack/internal/task"
	"gorm.io/gorm"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Redis    *redisstore.Store
	Tasks    *task.Service
	TaskRepo *task.Repo
	Contexts *contexts.Repo
	Engine   *contexts.Engine
	Users    *ledger.Repo
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, svc *task.Service) *Handler {
	return &Handler{
		DB:       db,
		Cfg:      cfg,
		Redis:    rds,
		Tasks:    svc,
		TaskRepo: task.NewRepo(db),
		Contexts: contexts.NewRepo(db),
		Engine: contexts.NewEngine(contexts.NewRepo(db), contexts.Budget{
			MaxTextChars: cfg.ContextMaxTextChars,
			MaxImages:    cfg.ContextMaxImages,
		}),
		Users: ledger.NewRepo(db),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}
