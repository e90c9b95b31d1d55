package model

// Urgency 紧急程度（封闭集合）
type Urgency string

const (
	UrgencyUrgent    Urgency = "urgent"
	UrgencyToRespond Urgency = "to_respond"
	UrgencyFYI       Urgency = "fyi"
	UrgencyMeeting   Urgency = "meeting"
	UrgencySpam      Urgency = "spam"
)

// Urgencies lists every valid urgency.
var Urgencies = []Urgency{UrgencyUrgent, UrgencyToRespond, UrgencyFYI, UrgencyMeeting, UrgencySpam}

// Valid reports whether u is in the closed set.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyUrgent, UrgencyToRespond, UrgencyFYI, UrgencyMeeting, UrgencySpam:
		return true
	}
	return false
}

// ImpliesAction 只有 urgent / to_respond / meeting 会生成跟进任务
func (u Urgency) ImpliesAction() bool {
	return u == UrgencyUrgent || u == UrgencyToRespond || u == UrgencyMeeting
}

// Category 邮件分类（封闭集合）
type Category string

const (
	CategoryWork             Category = "work"
	CategoryPersonal         Category = "personal"
	CategoryMarketing        Category = "marketing"
	CategorySecurity         Category = "security"
	CategoryMeetingRequest   Category = "meeting_request"
	CategoryTaskAssignment   Category = "task_assignment"
	CategoryInformation      Category = "information"
	CategoryUrgentDecision   Category = "urgent_decision"
	CategoryFollowupRequired Category = "followup_required"
	CategoryOverdue          Category = "overdue"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryWork, CategoryPersonal, CategoryMarketing, CategorySecurity,
	CategoryMeetingRequest, CategoryTaskAssignment, CategoryInformation,
	CategoryUrgentDecision, CategoryFollowupRequired, CategoryOverdue,
}

// Valid reports whether c is in the closed set.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// DefaultCategoryFor 分类缺失时按紧急程度推断
func DefaultCategoryFor(u Urgency) Category {
	switch u {
	case UrgencySpam:
		return CategoryMarketing
	case UrgencyMeeting:
		return CategoryMeetingRequest
	case UrgencyUrgent:
		return CategoryUrgentDecision
	case UrgencyToRespond:
		return CategoryFollowupRequired
	default:
		return CategoryInformation
	}
}
