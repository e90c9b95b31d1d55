package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/engine"
	"mailtriage/internal/model"
	"mailtriage/internal/priority"
)

// TaskEngine 任务相关的引擎操作
type TaskEngine interface {
	Snapshot() *engine.Snapshot
	MarkFollowup(ctx context.Context, emailID string) (model.FollowupTask, error)
	Complete(ctx context.Context, taskID string) (model.FollowupTask, error)
	Dismiss(ctx context.Context, taskID string) (model.FollowupTask, error)
	Snooze(ctx context.Context, taskID string) (model.ReminderInstance, error)
	Reschedule(ctx context.Context, taskID string, due time.Time) (model.FollowupTask, error)
}

type TaskHandler struct {
	engine TaskEngine
	logger *zap.Logger
}

func NewTaskHandler(e TaskEngine, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{engine: e, logger: logger}
}

// ListTasks handles GET /tasks: live tasks in priority order. ?state=
// restricts the list to one state; ?all=true includes terminal tasks
// (unranked, by id).
func (h *TaskHandler) ListTasks(c *gin.Context) {
	snap := h.engine.Snapshot()

	if c.Query("all") == "true" {
		c.JSON(http.StatusOK, gin.H{"tasks": snap.Tasks, "version": snap.Version})
		return
	}

	ranked := snap.Ranked()
	if state := c.Query("state"); state != "" {
		filtered := make([]priority.Entry, 0, len(ranked))
		for _, e := range ranked {
			if string(e.Task.State) == state {
				filtered = append(filtered, e)
			}
		}
		ranked = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":   ranked,
		"version": snap.Version,
	})
}

// GetTask handles GET /tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	snap := h.engine.Snapshot()
	task, ok := snap.Task(c.Param("id"))
	if !ok {
		writeError(c, h.logger, "GetTask", fmt.Errorf("%w: task %s", model.ErrNotFound, c.Param("id")))
		return
	}
	resp := gin.H{"task": task}
	for _, r := range snap.Reminders {
		if r.TaskID == task.ID {
			resp["reminder"] = r
			break
		}
	}
	c.JSON(http.StatusOK, resp)
}

// MarkFollowup handles POST /emails/:id/followup
func (h *TaskHandler) MarkFollowup(c *gin.Context) {
	task, err := h.engine.MarkFollowup(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "MarkFollowup", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// CompleteTask handles POST /tasks/:id/complete
func (h *TaskHandler) CompleteTask(c *gin.Context) {
	task, err := h.engine.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "CompleteTask", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// DismissTask handles POST /tasks/:id/dismiss
func (h *TaskHandler) DismissTask(c *gin.Context) {
	task, err := h.engine.Dismiss(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "DismissTask", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// SnoozeTask handles POST /tasks/:id/snooze
func (h *TaskHandler) SnoozeTask(c *gin.Context) {
	reminder, err := h.engine.Snooze(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "SnoozeTask", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminder": reminder})
}

// RescheduleTask handles POST /tasks/:id/reschedule
func (h *TaskHandler) RescheduleTask(c *gin.Context) {
	var req struct {
		DueAt time.Time `json:"due_at" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, "RescheduleTask", fmt.Errorf("%w: %v", model.ErrValidation, err))
		return
	}

	task, err := h.engine.Reschedule(c.Request.Context(), c.Param("id"), req.DueAt)
	if err != nil {
		writeError(c, h.logger, "RescheduleTask", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}
