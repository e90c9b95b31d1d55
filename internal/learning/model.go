package learning

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
)

// Config 学习模型参数
type Config struct {
	// 权重取值范围 [-Bound, +Bound]
	Bound float64 `yaml:"bound"`
	// 超过该时长没有新观测的键开始衰减
	InactivityWindow time.Duration `yaml:"inactivity_window"`
	// 每个窗口衰减 DecayFraction × Bound
	DecayFraction float64 `yaml:"decay_fraction"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Bound:            0.3,
		InactivityWindow: 14 * 24 * time.Hour,
		DecayFraction:    0.25,
	}
}

// Model keeps the per-key adjustment weights. Owned by the coordinator;
// not safe for concurrent use.
type Model struct {
	cfg       Config
	weights   map[model.WeightKey]*model.LearningWeight
	processed map[string]struct{}
	now       func() time.Time
	logger    *zap.Logger
}

// New creates an empty model. Zero config fields take defaults.
func New(cfg Config, logger *zap.Logger) *Model {
	def := DefaultConfig()
	if cfg.Bound <= 0 {
		cfg.Bound = def.Bound
	}
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = def.InactivityWindow
	}
	if cfg.DecayFraction <= 0 {
		cfg.DecayFraction = def.DecayFraction
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		cfg:       cfg,
		weights:   make(map[model.WeightKey]*model.LearningWeight),
		processed: make(map[string]struct{}),
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock 注入时钟（测试用）
func (m *Model) SetClock(now func() time.Time) { m.now = now }

// Bound returns the configured weight bound.
func (m *Model) Bound() float64 { return m.cfg.Bound }

// Load 恢复持久化的权重与已处理事件集合
func (m *Model) Load(weights []model.LearningWeight, processedEventIDs []string) {
	for _, w := range weights {
		w := w
		m.weights[w.Key] = &w
	}
	for _, id := range processedEventIDs {
		m.processed[id] = struct{}{}
	}
}

// ApplyCorrection runs the update rule for every key the correction touches
// and returns the updated weights. Re-applying a processed event is a no-op
// and returns applied=false.
func (m *Model) ApplyCorrection(ev model.CorrectionEvent) (updated []model.LearningWeight, applied bool) {
	if _, done := m.processed[ev.ID]; done {
		return nil, false
	}
	m.processed[ev.ID] = struct{}{}

	at := ev.CreatedAt
	if at.IsZero() {
		at = m.now()
	}

	predictedCat := model.SenderKey(ev.SenderDomain, ev.OriginalCategory)
	correctedCat := model.SenderKey(ev.SenderDomain, ev.FinalCategory())
	predictedUrg := model.UrgencyKey(ev.OriginalUrgency)
	correctedUrg := model.UrgencyKey(ev.FinalUrgency())

	for _, pair := range [][2]model.WeightKey{{predictedCat, correctedCat}, {predictedUrg, correctedUrg}} {
		predicted, corrected := pair[0], pair[1]
		if predicted == corrected {
			updated = append(updated, m.observe(predicted, 0, at))
			continue
		}
		updated = append(updated, m.observe(predicted, -1, at))
		updated = append(updated, m.observe(corrected, +1, at))
	}

	metrics.IncrementCorrection(string(ev.Source))
	m.logger.Debug("correction applied",
		zap.String("correction_id", ev.ID),
		zap.String("sender_domain", ev.SenderDomain),
		zap.Bool("confirming", ev.Confirming()),
	)
	return updated, true
}

// observe: lr(n) = 1/(1+n), weight ← clamp(weight + lr·e), n ← n+1
func (m *Model) observe(key model.WeightKey, e float64, at time.Time) model.LearningWeight {
	w, ok := m.weights[key]
	if !ok {
		w = &model.LearningWeight{Key: key}
		m.weights[key] = w
	}

	lr := 1 / (1 + float64(w.Observations))
	w.Value = m.clamp(w.Value + lr*e)
	w.Observations++
	if at.After(w.UpdatedAt) {
		w.UpdatedAt = at
	}
	w.DecayedAt = nil
	return *w
}

// Processed reports whether a correction has already been applied.
func (m *Model) Processed(eventID string) bool {
	_, ok := m.processed[eventID]
	return ok
}

// Weight returns the current value for key, 0 when unknown.
func (m *Model) Weight(key model.WeightKey) float64 {
	if w, ok := m.weights[key]; ok {
		return w.Value
	}
	return 0
}

// Get returns a copy of the weight record.
func (m *Model) Get(key model.WeightKey) (model.LearningWeight, bool) {
	w, ok := m.weights[key]
	if !ok {
		return model.LearningWeight{}, false
	}
	return *w, true
}

// DecayPass moves every inactive weight toward zero by DecayFraction×Bound
// per whole inactivity window elapsed, never crossing zero. Observation
// counts are untouched. Returns the weights that changed.
func (m *Model) DecayPass(now time.Time) []model.LearningWeight {
	window := m.cfg.InactivityWindow
	step := m.cfg.DecayFraction * m.cfg.Bound

	var changed []model.LearningWeight
	for _, w := range m.weights {
		if now.Sub(w.UpdatedAt) < window {
			continue
		}
		ref := w.UpdatedAt
		if w.DecayedAt != nil && w.DecayedAt.After(ref) {
			ref = *w.DecayedAt
		}
		windows := int64(now.Sub(ref) / window)
		if windows <= 0 {
			continue
		}

		decayedAt := ref.Add(time.Duration(windows) * window)
		w.DecayedAt = &decayedAt
		if w.Value == 0 {
			continue
		}

		delta := step * float64(windows)
		if math.Abs(w.Value) <= delta {
			w.Value = 0
		} else {
			w.Value -= math.Copysign(delta, w.Value)
		}
		changed = append(changed, *w)
	}

	sortWeights(changed)
	if len(changed) > 0 {
		m.logger.Info("weights decayed", zap.Int("count", len(changed)))
	}
	return changed
}

// SenderAffinity 发件域所有分类键的平均权重，取值 [-Bound, Bound]
func (m *Model) SenderAffinity(domain string) float64 {
	prefix := model.SenderPrefix(domain)
	var sum float64
	var n int
	for k, w := range m.weights {
		if strings.HasPrefix(string(k), prefix) {
			sum += w.Value
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ByPrefix returns weights whose key starts with prefix, sorted by key.
func (m *Model) ByPrefix(prefix string) []model.LearningWeight {
	var out []model.LearningWeight
	for k, w := range m.weights {
		if strings.HasPrefix(string(k), prefix) {
			out = append(out, *w)
		}
	}
	sortWeights(out)
	return out
}

// Summaries 全部权重，按键排序，供 GUI 展示
func (m *Model) Summaries() []model.LearningWeight {
	return m.ByPrefix("")
}

func (m *Model) clamp(v float64) float64 {
	return math.Max(-m.cfg.Bound, math.Min(m.cfg.Bound, v))
}

func sortWeights(ws []model.LearningWeight) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].Key < ws[j].Key })
}

// 适应阶段
const (
	LevelLearning = "learning"
	LevelAdapting = "adapting"
	LevelAdapted  = "adapted"
)

// AdaptationLevel 按纠正次数划分：<10 learning，<50 adapting，其余 adapted
func AdaptationLevel(corrections int) string {
	switch {
	case corrections < 10:
		return LevelLearning
	case corrections < 50:
		return LevelAdapting
	default:
		return LevelAdapted
	}
}
