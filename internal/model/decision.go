package model

import "time"

// ClassificationDecision 分类决策，创建后不可变；重新分类产生新的决策
type ClassificationDecision struct {
	ID            string    `json:"id"`
	EmailID       string    `json:"email_id"`
	SenderDomain  string    `json:"sender_domain"`
	Urgency       Urgency   `json:"urgency"`
	Category      Category  `json:"category"`
	Confidence    float64   `json:"confidence"`
	RawConfidence float64   `json:"raw_confidence"`
	Rationale     string    `json:"rationale"`
	Degraded      bool      `json:"degraded"`
	Supersedes    string    `json:"supersedes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CorrectionSource 纠正来源
type CorrectionSource string

const (
	SourceExplicit CorrectionSource = "explicit"
	SourceImplicit CorrectionSource = "implicit"
)

// CorrectionEvent 用户纠正，只追加不修改
type CorrectionEvent struct {
	ID                string           `json:"id"`
	DecisionID        string           `json:"decision_id"`
	EmailID           string           `json:"email_id"`
	SenderDomain      string           `json:"sender_domain"`
	OriginalUrgency   Urgency          `json:"original_urgency"`
	OriginalCategory  Category         `json:"original_category"`
	CorrectedUrgency  *Urgency         `json:"corrected_urgency,omitempty"`
	CorrectedCategory *Category        `json:"corrected_category,omitempty"`
	Note              string           `json:"note,omitempty"`
	Source            CorrectionSource `json:"source"`
	CreatedAt         time.Time        `json:"created_at"`
}

// FinalUrgency is the urgency after applying the correction.
func (c CorrectionEvent) FinalUrgency() Urgency {
	if c.CorrectedUrgency != nil {
		return *c.CorrectedUrgency
	}
	return c.OriginalUrgency
}

// FinalCategory is the category after applying the correction.
func (c CorrectionEvent) FinalCategory() Category {
	if c.CorrectedCategory != nil {
		return *c.CorrectedCategory
	}
	return c.OriginalCategory
}

// Confirming 纠正结果与原决策一致
func (c CorrectionEvent) Confirming() bool {
	return c.FinalUrgency() == c.OriginalUrgency && c.FinalCategory() == c.OriginalCategory
}
