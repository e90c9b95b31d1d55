package classify

import (
	"strings"

	"mailtriage/internal/model"
)

// 常见的模型输出错误，先映射再校验
var urgencyMistakes = map[string]model.Urgency{
	"marketing":       model.UrgencySpam,
	"promotional":     model.UrgencySpam,
	"promotion":       model.UrgencySpam,
	"newsletter":      model.UrgencySpam,
	"junk":            model.UrgencySpam,
	"high":            model.UrgencyUrgent,
	"critical":        model.UrgencyUrgent,
	"asap":            model.UrgencyUrgent,
	"immediate":       model.UrgencyUrgent,
	"respond":         model.UrgencyToRespond,
	"reply":           model.UrgencyToRespond,
	"needs_response":  model.UrgencyToRespond,
	"needs_reply":     model.UrgencyToRespond,
	"torespond":       model.UrgencyToRespond,
	"info":            model.UrgencyFYI,
	"information":     model.UrgencyFYI,
	"fyi_only":        model.UrgencyFYI,
	"low":             model.UrgencyFYI,
	"meeting_request": model.UrgencyMeeting,
	"invite":          model.UrgencyMeeting,
	"invitation":      model.UrgencyMeeting,
	"calendar":        model.UrgencyMeeting,
}

// urgency 位置上出现的分类词，分类缺失时据此推断分类
var categoryLikeUrgency = map[string]model.Category{
	"marketing":       model.CategoryMarketing,
	"promotional":     model.CategoryMarketing,
	"promotion":       model.CategoryMarketing,
	"newsletter":      model.CategoryMarketing,
	"meeting_request": model.CategoryMeetingRequest,
	"invitation":      model.CategoryMeetingRequest,
}

var categoryMistakes = map[string]model.Category{
	"urgent":      model.CategoryUrgentDecision,
	"spam":        model.CategoryMarketing,
	"promotional": model.CategoryMarketing,
	"newsletter":  model.CategoryMarketing,
	"meeting":     model.CategoryMeetingRequest,
	"invite":      model.CategoryMeetingRequest,
	"invitation":  model.CategoryMeetingRequest,
	"task":        model.CategoryTaskAssignment,
	"assignment":  model.CategoryTaskAssignment,
	"followup":    model.CategoryFollowupRequired,
	"follow_up":   model.CategoryFollowupRequired,
	"info":        model.CategoryInformation,
	"fyi":         model.CategoryInformation,
	"decision":    model.CategoryUrgentDecision,
	"past_due":    model.CategoryOverdue,
}

// normalizeLabel 小写、去空格，空格与连字符统一为下划线
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return strings.Trim(s, "_")
}

// resolveUrgency maps a raw urgency string into the closed set. hint is a
// category implied by a category-like word in the urgency slot.
func resolveUrgency(raw string) (u model.Urgency, hint model.Category, ok bool) {
	norm := normalizeLabel(raw)
	if norm == "" {
		return "", "", false
	}
	if u := model.Urgency(norm); u.Valid() {
		return u, "", true
	}
	if mapped, found := urgencyMistakes[norm]; found {
		return mapped, categoryLikeUrgency[norm], true
	}
	return "", "", false
}

func resolveCategory(raw string) (model.Category, bool) {
	norm := normalizeLabel(raw)
	if norm == "" {
		return "", false
	}
	if c := model.Category(norm); c.Valid() {
		return c, true
	}
	if mapped, found := categoryMistakes[norm]; found {
		return mapped, true
	}
	return "", false
}
