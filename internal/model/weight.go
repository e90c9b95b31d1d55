package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	senderKeyPrefix  = "sender:"
	urgencyKeyPrefix = "urgency:"
)

// WeightKey 学习权重的键：(发件域, 分类) 或 (紧急程度)
type WeightKey string

// SenderKey builds the (sender-domain, category) key.
func SenderKey(domain string, c Category) WeightKey {
	return WeightKey(fmt.Sprintf("%s%s:%s", senderKeyPrefix, strings.ToLower(domain), c))
}

// UrgencyKey builds the urgency-level key.
func UrgencyKey(u Urgency) WeightKey {
	return WeightKey(urgencyKeyPrefix + string(u))
}

// SenderPrefix is the key prefix shared by all category keys of a domain.
func SenderPrefix(domain string) string {
	return senderKeyPrefix + strings.ToLower(domain) + ":"
}

// IsSender reports whether k is a (sender-domain, category) key.
func (k WeightKey) IsSender() bool {
	return strings.HasPrefix(string(k), senderKeyPrefix)
}

// Domain 返回 sender 键中的域名
func (k WeightKey) Domain() string {
	if !k.IsSender() {
		return ""
	}
	rest := strings.TrimPrefix(string(k), senderKeyPrefix)
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		return rest[:i]
	}
	return rest
}

// LearningWeight 只由学习模型修改
type LearningWeight struct {
	Key          WeightKey  `json:"key"`
	Value        float64    `json:"value"`
	Observations int64      `json:"observations"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DecayedAt    *time.Time `json:"decayed_at,omitempty"`
}
