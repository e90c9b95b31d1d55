package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"mailtriage/internal/model"
)

// RawClassification 分类器的原始输出，字段均未经校验
type RawClassification struct {
	EmailID    string
	Urgency    string
	Category   string
	Confidence *float64
	Rationale  string
}

// UnmarshalJSON tolerates confidence given as a number, a numeric string or
// a percentage, and accepts "reasoning" as an alias of "rationale".
func (r *RawClassification) UnmarshalJSON(data []byte) error {
	var aux struct {
		EmailID    string          `json:"email_id"`
		Urgency    string          `json:"urgency"`
		Category   string          `json:"category"`
		Confidence json.RawMessage `json:"confidence"`
		Rationale  string          `json:"rationale"`
		Reasoning  string          `json:"reasoning"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.EmailID = aux.EmailID
	r.Urgency = aux.Urgency
	r.Category = aux.Category
	r.Rationale = aux.Rationale
	if r.Rationale == "" {
		r.Rationale = aux.Reasoning
	}
	r.Confidence = parseConfidence(aux.Confidence)
	return nil
}

// MarshalJSON keeps the wire shape symmetric with UnmarshalJSON.
func (r RawClassification) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EmailID    string   `json:"email_id,omitempty"`
		Urgency    string   `json:"urgency"`
		Category   string   `json:"category"`
		Confidence *float64 `json:"confidence,omitempty"`
		Rationale  string   `json:"rationale,omitempty"`
	}{r.EmailID, r.Urgency, r.Category, r.Confidence, r.Rationale})
}

func parseConfidence(raw json.RawMessage) *float64 {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}

	percent := false
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
		if strings.HasSuffix(s, "%") {
			percent = true
			s = strings.TrimSuffix(s, "%")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	if percent {
		v /= 100
	}
	return &v
}

// ParseRaw parses classifier text: a JSON object or array, optionally wrapped
// in a ``` / ```json fence. Errors wrap model.ErrValidation.
func ParseRaw(text string) ([]RawClassification, error) {
	body := stripFence(text)
	if body == "" {
		return nil, fmt.Errorf("%w: empty classifier output", model.ErrValidation)
	}

	if strings.HasPrefix(body, "[") {
		var items []RawClassification
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
		}
		return items, nil
	}

	var item RawClassification
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return []RawClassification{item}, nil
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
