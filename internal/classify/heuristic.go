package classify

import (
	"strings"

	"mailtriage/internal/model"
)

// heuristicRule 关键词回退规则，按顺序匹配，命中即返回
type heuristicRule struct {
	name       string
	senders    []string
	keywords   []string
	urgency    model.Urgency
	category   model.Category
	confidence float64
}

const defaultHeuristicConfidence = 0.2

var heuristicRules = []heuristicRule{
	{
		name:       "security",
		keywords:   []string{"security alert", "password", "suspicious", "sign-in attempt", "login attempt", "verify your account", "verification code", "2fa"},
		urgency:    model.UrgencyToRespond,
		category:   model.CategorySecurity,
		confidence: 0.3,
	},
	{
		name:       "urgent",
		keywords:   []string{"urgent", "asap", "immediately", "critical", "time-sensitive", "action required"},
		urgency:    model.UrgencyUrgent,
		category:   model.CategoryUrgentDecision,
		confidence: 0.35,
	},
	{
		name:       "meeting",
		keywords:   []string{"meeting", "invitation:", "calendar", "zoom", "conference call", "schedule a call"},
		urgency:    model.UrgencyMeeting,
		category:   model.CategoryMeetingRequest,
		confidence: 0.35,
	},
	{
		name:       "marketing",
		senders:    []string{"noreply", "no-reply", "newsletter", "marketing", "promo"},
		keywords:   []string{"unsubscribe", "% off", "limited offer", "sale ends"},
		urgency:    model.UrgencySpam,
		category:   model.CategoryMarketing,
		confidence: 0.35,
	},
	{
		name:       "task",
		keywords:   []string{"assigned to you", "please complete", "action item"},
		urgency:    model.UrgencyToRespond,
		category:   model.CategoryTaskAssignment,
		confidence: 0.3,
	},
	{
		name:       "followup",
		keywords:   []string{"please respond", "get back to", "let me know", "waiting for", "deadline", "due date", "follow up", "follow-up", "approval", "feedback"},
		urgency:    model.UrgencyToRespond,
		category:   model.CategoryFollowupRequired,
		confidence: 0.3,
	},
}

// heuristicResult 回退分类结果
type heuristicResult struct {
	rule       string
	urgency    model.Urgency
	category   model.Category
	confidence float64
}

// heuristic classifies from sender/subject/body keywords. Deterministic.
func heuristic(email model.EmailRecord) heuristicResult {
	sender := strings.ToLower(email.Sender)
	text := strings.ToLower(email.Subject + " " + email.BodyExcerpt)

	for _, r := range heuristicRules {
		if containsAny(sender, r.senders) || containsAny(text, r.keywords) {
			return heuristicResult{
				rule:       r.name,
				urgency:    r.urgency,
				category:   r.category,
				confidence: r.confidence,
			}
		}
	}

	return heuristicResult{
		rule:       "default",
		urgency:    model.UrgencyFYI,
		category:   model.CategoryInformation,
		confidence: defaultHeuristicConfidence,
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
