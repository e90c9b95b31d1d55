package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/engine"
	"mailtriage/internal/model"
)

// FeedbackEngine 纠正与统计用到的引擎操作
type FeedbackEngine interface {
	Snapshot() *engine.Snapshot
	Correct(ctx context.Context, req engine.CorrectionRequest) (model.CorrectionEvent, error)
}

type FeedbackHandler struct {
	engine FeedbackEngine
	logger *zap.Logger
}

func NewFeedbackHandler(e FeedbackEngine, logger *zap.Logger) *FeedbackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackHandler{engine: e, logger: logger}
}

type correctionRequest struct {
	ID         string  `json:"id"`
	DecisionID string  `json:"decision_id" binding:"required"`
	Urgency    *string `json:"urgency"`
	Category   *string `json:"category"`
	Note       string  `json:"note"`
	Source     string  `json:"source"`
}

// SubmitCorrection handles POST /corrections
func (h *FeedbackHandler) SubmitCorrection(c *gin.Context) {
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, "SubmitCorrection", fmt.Errorf("%w: %v", model.ErrValidation, err))
		return
	}

	cr := engine.CorrectionRequest{
		ID:         req.ID,
		DecisionID: req.DecisionID,
		Note:       req.Note,
		Source:     model.CorrectionSource(req.Source),
	}
	if cr.Source != "" && cr.Source != model.SourceExplicit && cr.Source != model.SourceImplicit {
		writeError(c, h.logger, "SubmitCorrection", fmt.Errorf("%w: unknown source %q", model.ErrValidation, req.Source))
		return
	}
	if req.Urgency != nil {
		u := model.Urgency(strings.TrimSpace(*req.Urgency))
		cr.Urgency = &u
	}
	if req.Category != nil {
		cat := model.Category(strings.TrimSpace(*req.Category))
		cr.Category = &cat
	}

	ev, err := h.engine.Correct(c.Request.Context(), cr)
	if err != nil {
		writeError(c, h.logger, "SubmitCorrection", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"correction": ev,
		"confirming": ev.Confirming(),
	})
}

// GetStats handles GET /stats
func (h *FeedbackHandler) GetStats(c *gin.Context) {
	snap := h.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"stats":   snap.Stats(),
		"version": snap.Version,
	})
}

// ListWeights handles GET /weights?prefix=sender:acme.io:
func (h *FeedbackHandler) ListWeights(c *gin.Context) {
	prefix := c.Query("prefix")
	weights := []model.LearningWeight{}
	for _, w := range h.engine.Snapshot().Weights {
		if strings.HasPrefix(string(w.Key), prefix) {
			weights = append(weights, w)
		}
	}
	c.JSON(http.StatusOK, gin.H{"weights": weights})
}
