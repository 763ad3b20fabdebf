package model

import "time"

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 对应于数据库中的 'spark_messages' 表，按创建时间在会话内有序。
// 助手消息只保存对外可见的正文，草稿区内容永远不会落库。
type Message struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID           string    `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	ConversationID uint      `gorm:"index;not null" json:"conversationId"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text" json:"content"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "spark_messages"
}
