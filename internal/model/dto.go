// Package model 定义了与数据库表对应的 Go 结构体。
package model

// ConversationListItem 是管理后台会话列表的单行数据。
type ConversationListItem struct {
	UUID                string    `json:"uuid"`
	FirstMessagePreview string    `json:"firstMessagePreview"`
	TurnCount           int       `json:"turnCount"`
	State               string    `json:"state"`
	Outcome             string    `json:"outcome"`
	Sentiment           string    `json:"sentiment"`
	CreatedAt           LocalTime `json:"createdAt"`
	EndedAt             LocalTime `json:"endedAt"`
	DurationSeconds     int       `json:"durationSeconds"`
}

// TranscriptMessage 是会话详情中的单条消息。
type TranscriptMessage struct {
	UUID      string    `json:"uuid"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt LocalTime `json:"createdAt"`
}

// LeadSummary 是嵌在会话详情里的线索摘要。
type LeadSummary struct {
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"`
	CreatedAt LocalTime `json:"createdAt"`
}

// ConversationDetail 是管理后台的完整会话视图：元数据、全量转写与线索摘要。
type ConversationDetail struct {
	UUID            string              `json:"uuid"`
	TurnCount       int                 `json:"turnCount"`
	State           string              `json:"state"`
	Outcome         string              `json:"outcome"`
	Sentiment       string              `json:"sentiment"`
	CreatedAt       LocalTime           `json:"createdAt"`
	EndedAt         LocalTime           `json:"endedAt"`
	DurationSeconds int                 `json:"durationSeconds"`
	Messages        []TranscriptMessage `json:"messages"`
	Lead            *LeadSummary        `json:"lead"`
}

// KnowledgeStats 是知识库头部的统计信息。
type KnowledgeStats struct {
	TotalItems     int64            `json:"totalItems"`
	ActiveItems    int64            `json:"activeItems"`
	DocumentChunks int64            `json:"documentChunks"`
	Categories     map[string]int64 `json:"categories"`
}

// EventTypeCount 是按事件类型聚合的计数。
type EventTypeCount struct {
	EventType string `json:"eventType"`
	Count     int64  `json:"count"`
}
