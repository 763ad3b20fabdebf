// Package model 包含了应用的数据模型定义。
package model

import "time"

// 会话生命周期状态。active 是初始态；completed 与 terminated 是终态；
// abandoned 由过期清扫任务标记，核心引擎不会主动写入。
const (
	ConversationActive     = "active"
	ConversationCompleted  = "completed"
	ConversationTerminated = "terminated"
	ConversationAbandoned  = "abandoned"
)

// 会话结束原因，由引擎或线索捕获流程写入 outcome 字段。
const (
	OutcomeLeadCaptured = "lead_captured"
	OutcomeMaxTurns     = "max_turns"
	OutcomeTerminated   = "terminated"
)

// Conversation 对应于数据库中的 'spark_conversations' 表，代表一次访客会话。
// TurnCount 只增不减；State 离开 active 后该会话不再允许任何生成。
type Conversation struct {
	ID                   uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID                 string     `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	ClientID             uint       `gorm:"index;not null" json:"clientId"`
	SessionToken         string     `gorm:"type:char(64);uniqueIndex;not null" json:"-"`
	TurnCount            int        `gorm:"not null;default:0" json:"turnCount"`
	State                string     `gorm:"type:varchar(20);not null;default:'active'" json:"state"`
	BoundarySignalsFired int        `gorm:"not null;default:0" json:"boundarySignalsFired"`
	LastBoundaryTurn     int        `gorm:"not null;default:0" json:"-"`
	Outcome              string     `gorm:"type:varchar(50)" json:"outcome"`
	Sentiment            string     `gorm:"type:varchar(20)" json:"sentiment"`
	ExpiresAt            time.Time  `gorm:"not null" json:"expiresAt"`
	EndedAt              *time.Time `gorm:"default:null" json:"endedAt"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Conversation) TableName() string {
	return "spark_conversations"
}

// IsTerminal 判断会话是否已处于终态（不再接受生成）。
func (c *Conversation) IsTerminal() bool {
	return c.State != ConversationActive
}

// IsExpired 判断会话是否已超过过期时间。
func (c *Conversation) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
