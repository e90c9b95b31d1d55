package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mqcontracts "mailtriage/contracts/mq"
	"mailtriage/internal/engine"
	"mailtriage/internal/model"
)

// EmailEngine 邮件相关的引擎操作
type EmailEngine interface {
	Snapshot() *engine.Snapshot
	Ingest(ctx context.Context, email model.EmailRecord) (uint64, error)
}

// Kicker 通知分类流水线
type Kicker interface {
	Kick()
}

type EmailHandler struct {
	engine EmailEngine
	kicker Kicker
	logger *zap.Logger
}

func NewEmailHandler(e EmailEngine, kicker Kicker, logger *zap.Logger) *EmailHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailHandler{engine: e, kicker: kicker, logger: logger}
}

// IngestEmail handles POST /emails. The body has the email.received payload
// shape; the email is queued for classification.
func (h *EmailHandler) IngestEmail(c *gin.Context) {
	var p mqcontracts.EmailReceivedPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		writeError(c, h.logger, "IngestEmail", fmt.Errorf("%w: %v", model.ErrValidation, err))
		return
	}

	gen, err := h.engine.Ingest(c.Request.Context(), p.Record())
	if err != nil {
		writeError(c, h.logger, "IngestEmail", err)
		return
	}
	if h.kicker != nil {
		h.kicker.Kick()
	}

	c.JSON(http.StatusAccepted, gin.H{
		"email_id":   p.EmailID,
		"generation": gen,
	})
}

// GetDecision handles GET /emails/:id/decision
func (h *EmailHandler) GetDecision(c *gin.Context) {
	id := c.Param("id")
	snap := h.engine.Snapshot()

	d, ok := snap.Decisions[id]
	if !ok {
		for _, p := range snap.Pending {
			if p.Email.ID == id {
				c.JSON(http.StatusAccepted, gin.H{"email_id": id, "status": "pending"})
				return
			}
		}
		writeError(c, h.logger, "GetDecision", fmt.Errorf("%w: no decision for email %s", model.ErrNotFound, id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": d})
}
