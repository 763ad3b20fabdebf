package model

import "strings"

// BoundarySignal 是边界分类器输出的战术类别。
type BoundarySignal string

// 边界信号的封闭枚举。hostile 属于严重级；jailbreak_attempt 重复出现时升级为严重级；
// 其余只用于引导话术，不中断对话。
const (
	SignalNone             BoundarySignal = "none"
	SignalOffTopic         BoundarySignal = "off_topic"
	SignalProbing          BoundarySignal = "probing"
	SignalJailbreakAttempt BoundarySignal = "jailbreak_attempt"
	SignalHostile          BoundarySignal = "hostile"
)

// ParseBoundarySignal 将分类器返回的原始标签规整到封闭枚举，无法识别时回落为 none。
// 分类器是小模型，标签偶尔会带多余空白或大小写差异。
func ParseBoundarySignal(raw string) BoundarySignal {
	switch BoundarySignal(strings.ToLower(strings.TrimSpace(raw))) {
	case SignalOffTopic:
		return SignalOffTopic
	case SignalProbing:
		return SignalProbing
	case SignalJailbreakAttempt:
		return SignalJailbreakAttempt
	case SignalHostile:
		return SignalHostile
	default:
		return SignalNone
	}
}

// 状态推断的会话阶段标签。
const (
	StateActive     = "active"
	StateWrappingUp = "wrapping_up"
	StateOffTopic   = "off_topic"
)

// RetrievedChunk 是检索网关返回的单条知识片段。
type RetrievedChunk struct {
	DocID       string  `json:"docId"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	SourceType  string  `json:"sourceType"`
	Similarity  float64 `json:"similarity"`
}

// PreflightResult 是单轮预检的汇总输出，只存在于当轮处理过程中，不整体落库。
type PreflightResult struct {
	BoundarySignal     BoundarySignal
	Terminate          bool
	ConversationState  string
	Sentiment          string
	Chunks             []RetrievedChunk
	IncludeFullHistory bool
}

// InScope 表示本轮检索是否命中了任何知识内容。
func (p *PreflightResult) InScope() bool {
	return len(p.Chunks) > 0
}
