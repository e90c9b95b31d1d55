package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailtriage/internal/model"
)

// DecisionLookup 按 id 查询已存在的分类决策
type DecisionLookup func(id string) (model.ClassificationDecision, bool)

// Ledger is the append-only correction history. It is owned by the
// coordinator and is not safe for concurrent use.
type Ledger struct {
	events []model.CorrectionEvent
	byID   map[string]int
	lookup DecisionLookup
	now    func() time.Time
	newID  func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator 注入纠正事件 id 生成器
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// New creates an empty ledger.
func New(lookup DecisionLookup, opts ...Option) *Ledger {
	l := &Ledger{
		byID:   make(map[string]int),
		lookup: lookup,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends a correction. The referenced decision must exist; its
// email, domain and labels overwrite whatever the caller supplied.
// Recording an event id that is already present returns the stored event.
func (l *Ledger) Record(ev model.CorrectionEvent) (model.CorrectionEvent, error) {
	if ev.ID != "" {
		if i, ok := l.byID[ev.ID]; ok {
			return l.events[i], nil
		}
	}

	d, ok := l.lookup(ev.DecisionID)
	if !ok {
		return model.CorrectionEvent{}, fmt.Errorf("%w: decision %q", model.ErrInvalidReference, ev.DecisionID)
	}
	if ev.CorrectedUrgency != nil && !ev.CorrectedUrgency.Valid() {
		return model.CorrectionEvent{}, fmt.Errorf("%w: urgency %q", model.ErrValidation, *ev.CorrectedUrgency)
	}
	if ev.CorrectedCategory != nil && !ev.CorrectedCategory.Valid() {
		return model.CorrectionEvent{}, fmt.Errorf("%w: category %q", model.ErrValidation, *ev.CorrectedCategory)
	}

	if ev.ID == "" {
		ev.ID = l.newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	if ev.Source == "" {
		ev.Source = model.SourceExplicit
	}
	ev.EmailID = d.EmailID
	ev.SenderDomain = d.SenderDomain
	ev.OriginalUrgency = d.Urgency
	ev.OriginalCategory = d.Category

	l.append(ev)
	return ev, nil
}

// Restore 从持久化加载历史事件，不做引用校验
func (l *Ledger) Restore(events []model.CorrectionEvent) {
	for _, ev := range events {
		if _, ok := l.byID[ev.ID]; ok {
			continue
		}
		l.append(ev)
	}
}

func (l *Ledger) append(ev model.CorrectionEvent) {
	l.byID[ev.ID] = len(l.events)
	l.events = append(l.events, ev)
}

// Get returns a correction by id.
func (l *Ledger) Get(id string) (model.CorrectionEvent, bool) {
	i, ok := l.byID[id]
	if !ok {
		return model.CorrectionEvent{}, false
	}
	return l.events[i], true
}

// CorrectionsFor 按发件域 + 分类查询（原分类或纠正后分类任一匹配）
func (l *Ledger) CorrectionsFor(domain string, c model.Category) []model.CorrectionEvent {
	var out []model.CorrectionEvent
	for _, ev := range l.events {
		if ev.SenderDomain != domain {
			continue
		}
		if ev.OriginalCategory == c || ev.FinalCategory() == c {
			out = append(out, ev)
		}
	}
	return out
}

// CorrectionsSince returns corrections created at or after t, in append order.
func (l *Ledger) CorrectionsSince(t time.Time) []model.CorrectionEvent {
	var out []model.CorrectionEvent
	for _, ev := range l.events {
		if !ev.CreatedAt.Before(t) {
			out = append(out, ev)
		}
	}
	return out
}

// All 返回全部事件的拷贝
func (l *Ledger) All() []model.CorrectionEvent {
	out := make([]model.CorrectionEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Count returns the number of recorded corrections.
func (l *Ledger) Count() int {
	return len(l.events)
}

// Stats 纠正统计
type Stats struct {
	Total      int                            `json:"total"`
	Meaningful int                            `json:"meaningful"`
	Confirming int                            `json:"confirming"`
	BySource   map[model.CorrectionSource]int `json:"by_source"`
	Domains    int                            `json:"unique_sender_domains"`
}

// Stats summarizes the ledger.
func (l *Ledger) Stats() Stats {
	s := Stats{
		Total:    len(l.events),
		BySource: make(map[model.CorrectionSource]int),
	}
	domains := make(map[string]struct{})
	for _, ev := range l.events {
		if ev.Confirming() {
			s.Confirming++
		} else {
			s.Meaningful++
		}
		s.BySource[ev.Source]++
		domains[ev.SenderDomain] = struct{}{}
	}
	s.Domains = len(domains)
	return s
}
