package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadyCheck 就绪检查项，例如数据库 ping、MQ 连接
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers 路由依赖
type Handlers struct {
	Tasks    *TaskHandler
	Feedback *FeedbackHandler
	Emails   *EmailHandler
}

type Router struct {
	Engine *gin.Engine
}

// NewRouter wires the HTTP API. When jwtSecret is empty the API is not
// authenticated.
func NewRouter(h Handlers, jwtSecret string, checks []ReadyCheck, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), RequestLogger(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for _, chk := range checks {
			if err := chk.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": chk.Name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	if jwtSecret != "" {
		api.Use(AuthMiddleware(jwtSecret))
	}
	{
		api.POST("/emails", h.Emails.IngestEmail)
		api.GET("/emails/:id/decision", h.Emails.GetDecision)
		api.POST("/emails/:id/followup", h.Tasks.MarkFollowup)

		api.GET("/tasks", h.Tasks.ListTasks)
		api.GET("/tasks/:id", h.Tasks.GetTask)
		api.POST("/tasks/:id/complete", h.Tasks.CompleteTask)
		api.POST("/tasks/:id/dismiss", h.Tasks.DismissTask)
		api.POST("/tasks/:id/snooze", h.Tasks.SnoozeTask)
		api.POST("/tasks/:id/reschedule", h.Tasks.RescheduleTask)

		api.POST("/corrections", h.Feedback.SubmitCorrection)
		api.GET("/stats", h.Feedback.GetStats)
		api.GET("/weights", h.Feedback.ListWeights)
	}

	return &Router{Engine: r}
}

// Server 返回带超时设置的 http.Server，便于优雅关闭
func (r *Router) Server(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
