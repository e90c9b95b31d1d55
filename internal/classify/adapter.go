package classify

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
)

// DegradedConfidenceCap 回退决策的置信度上限（在 bias 之后应用）
const DegradedConfidenceCap = 0.4

// WeightSource 学习权重的只读视图
type WeightSource interface {
	Weight(key model.WeightKey) float64
}

// noWeights 未接入学习模型时使用
type noWeights struct{}

func (noWeights) Weight(model.WeightKey) float64 { return 0 }

// Adapter 将分类器原始输出转换为封闭集合内的决策
type Adapter struct {
	weights WeightSource
	now     func() time.Time
	newID   func() string
	logger  *zap.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithIDGenerator 注入决策 id 生成器
func WithIDGenerator(newID func() string) Option {
	return func(a *Adapter) { a.newID = newID }
}

// NewAdapter 创建 Adapter，weights 为 nil 时不做 bias
func NewAdapter(weights WeightSource, logger *zap.Logger, opts ...Option) *Adapter {
	if weights == nil {
		weights = noWeights{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		weights: weights,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Adapt validates one raw classification and applies the learned bias.
// A nil raw, an unknown urgency or a missing confidence yields a degraded
// heuristic decision. It never fails.
func (a *Adapter) Adapt(email model.EmailRecord, raw *RawClassification) model.ClassificationDecision {
	if raw == nil {
		return a.Fallback(email, "no classifier output")
	}

	urgency, hint, ok := resolveUrgency(raw.Urgency)
	if !ok {
		return a.Fallback(email, fmt.Sprintf("unrecognized urgency %q", raw.Urgency))
	}
	if raw.Confidence == nil {
		return a.Fallback(email, "missing confidence")
	}

	category, ok := resolveCategory(raw.Category)
	if !ok {
		category = hint
		if category == "" {
			category = model.DefaultCategoryFor(urgency)
		}
	}

	domain := email.SenderDomain()
	rawConf := normalizeConfidence(*raw.Confidence)
	conf := a.applyBias(domain, urgency, category, rawConf)

	rationale := strings.TrimSpace(raw.Rationale)
	if rationale == "" {
		rationale = "classifier gave no rationale"
	}

	metrics.IncrementDecision("classified")
	return model.ClassificationDecision{
		ID:            a.newID(),
		EmailID:       email.ID,
		SenderDomain:  domain,
		Urgency:       urgency,
		Category:      category,
		Confidence:    conf,
		RawConfidence: rawConf,
		Rationale:     rationale,
		CreatedAt:     a.now(),
	}
}

// AdaptText parses raw classifier text (fenced or bare JSON) for one email.
func (a *Adapter) AdaptText(email model.EmailRecord, text string) model.ClassificationDecision {
	items, err := ParseRaw(text)
	if err != nil || len(items) == 0 {
		a.logger.Warn("unparsable classifier output, using fallback",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		return a.Fallback(email, "unparsable classifier output")
	}
	return a.Adapt(email, &items[0])
}

// Fallback 关键词启发式分类，degraded=true，置信度不超过 DegradedConfidenceCap
func (a *Adapter) Fallback(email model.EmailRecord, reason string) model.ClassificationDecision {
	h := heuristic(email)
	domain := email.SenderDomain()

	conf := a.applyBias(domain, h.urgency, h.category, h.confidence)
	if conf > DegradedConfidenceCap {
		conf = DegradedConfidenceCap
	}

	a.logger.Info("degraded classification",
		zap.String("email_id", email.ID),
		zap.String("reason", reason),
		zap.String("rule", h.rule),
	)
	metrics.IncrementDecision("degraded")

	return model.ClassificationDecision{
		ID:            a.newID(),
		EmailID:       email.ID,
		SenderDomain:  domain,
		Urgency:       h.urgency,
		Category:      h.category,
		Confidence:    conf,
		RawConfidence: h.confidence,
		Rationale:     fmt.Sprintf("fallback heuristic (%s): matched %s rule", reason, h.rule),
		Degraded:      true,
		CreatedAt:     a.now(),
	}
}

func (a *Adapter) applyBias(domain string, u model.Urgency, c model.Category, raw float64) float64 {
	adjusted := raw +
		a.weights.Weight(model.SenderKey(domain, c)) +
		a.weights.Weight(model.UrgencyKey(u))
	return clamp01(adjusted)
}

// normalizeConfidence 将 (1,100] 视为百分比，其余越界值截断到 [0,1]
func normalizeConfidence(v float64) float64 {
	if v > 1 && v <= 100 {
		v /= 100
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
