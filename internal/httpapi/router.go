package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quietriver/genstack/internal/common"
	"github.com/quietriver/genstack/internal/config"
	"github.com/quietriver/genstack/internal/httpapi/handlers"
	"github.com/quietriver/genstack/internal/httpapi/middleware"
	"github.com/quietriver/genstack/internal/store/redisstore"
	"github.com/quietriver/genstack/internal/task"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, svc *task.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, svc)

	r.GET("/ping", h.Ping)

	// Result downloads are public: their URLs travel in webhook payloads.
	r.GET("/api/tasks/:task_id/result", h.GetTaskResult)

	api := r.Group("/api")
	api.Use(middleware.APIToken(cfg.APIToken))
	api.POST("/tasks/text/text", h.CreateText2TextTask)
	api.POST("/tasks/text", h.CreateText2ImageTask)
	api.POST("/tasks/image", h.CreateImage2ImageTask)
	api.GET("/tasks/statistics", h.GetStatistics)
	api.GET("/tasks/:task_id", h.GetTask)

	api.POST("/contexts", h.CreateContext)
	api.GET("/contexts/:context_id", h.GetContext)
	api.DELETE("/contexts/:context_id", h.DeleteContext)

	r.POST("/admin/login", h.AdminLogin)
	admin := r.Group("/admin")
	admin.Use(middleware.AuthRequired(cfg.JWTSecret))
	admin.POST("/users", h.CreateLedgerUser)

	return r
}
