package priority

import (
	"fmt"
	"sort"
	"strings"

	"mailtriage/internal/model"
)

// Weights 评分参数
type Weights struct {
	Urgency map[model.Urgency]float64 `yaml:"urgency"`
	// Overdue 状态加分
	Overdue float64 `yaml:"overdue"`
	// Escalated 状态加分 = EscalatedBase + PerLevel × level
	EscalatedBase     float64 `yaml:"escalated_base"`
	PerLevel          float64 `yaml:"per_level"`
	ConfidencePenalty float64 `yaml:"confidence_penalty"`
}

// DefaultWeights 返回默认权重
func DefaultWeights() Weights {
	return Weights{
		Urgency: map[model.Urgency]float64{
			model.UrgencyUrgent:    4,
			model.UrgencyMeeting:   3,
			model.UrgencyToRespond: 2,
			model.UrgencyFYI:       1,
			model.UrgencySpam:      0,
		},
		Overdue:           2,
		EscalatedBase:     2,
		PerLevel:          1,
		ConfidencePenalty: 1,
	}
}

// Entry 排序结果中的一项
type Entry struct {
	Rank        int                `json:"rank"`
	Task        model.FollowupTask `json:"task"`
	Score       float64            `json:"score"`
	Explanation string             `json:"explanation"`
}

// Rank orders the non-terminal tasks by score, then earlier due_at (nil
// last), then lower email id, then lower task id. Pure; the input is not
// modified.
func Rank(tasks []model.FollowupTask, w Weights) []Entry {
	if w.Urgency == nil {
		w = DefaultWeights()
	}

	entries := make([]Entry, 0, len(tasks))
	for _, t := range tasks {
		if t.State.Terminal() {
			continue
		}
		score, why := w.score(t)
		entries = append(entries, Entry{Task: t.Clone(), Score: score, Explanation: why})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func less(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	ad, bd := a.Task.DueAt, b.Task.DueAt
	switch {
	case ad != nil && bd == nil:
		return true
	case ad == nil && bd != nil:
		return false
	case ad != nil && bd != nil && !ad.Equal(*bd):
		return ad.Before(*bd)
	}
	if a.Task.EmailID != b.Task.EmailID {
		return a.Task.EmailID < b.Task.EmailID
	}
	return a.Task.ID < b.Task.ID
}

// score = urgencyWeight + overdueMultiplier − penalty·(1 − confidence)
func (w Weights) score(t model.FollowupTask) (float64, string) {
	uw := w.Urgency[t.Urgency]
	parts := []string{fmt.Sprintf("%s %+.1f", t.Urgency, uw)}

	var overdue float64
	switch t.State {
	case model.StateOverdue:
		overdue = w.Overdue
		parts = append(parts, fmt.Sprintf("overdue %+.1f", overdue))
	case model.StateEscalated:
		overdue = w.EscalatedBase + w.PerLevel*float64(t.EscalationLevel)
		parts = append(parts, fmt.Sprintf("escalated level %d %+.1f", t.EscalationLevel, overdue))
	}

	penalty := w.ConfidencePenalty * (1 - t.Confidence)
	if penalty > 0 {
		parts = append(parts, fmt.Sprintf("confidence %.2f %+.2f", t.Confidence, -penalty))
	}

	return uw + overdue - penalty, strings.Join(parts, ", ")
}
