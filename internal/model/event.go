package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// 引擎在处理轮次时记录的事件类型。
const (
	EventFirstMessage = "first_message"
	EventMessage      = "message"
	EventOutOfScope   = "out_of_scope"
	EventLeadCaptured = "lead_captured"
)

// 挂件自行上报的事件类型。
const (
	EventWidgetOpened  = "widget_opened"
	EventWidgetClosed  = "widget_closed"
	EventLeadFormShown = "lead_form_shown"
	EventCalendlyClick = "calendly_click"
)

// ValidEventType 判断给定值是否为已知的事件类型。
func ValidEventType(s string) bool {
	switch s {
	case EventFirstMessage, EventMessage, EventOutOfScope, EventLeadCaptured,
		EventWidgetOpened, EventWidgetClosed, EventLeadFormShown, EventCalendlyClick:
		return true
	}
	return false
}

// JSONMap 是存储为 JSON 列的通用键值映射。
type JSONMap map[string]interface{}

// Value 实现 driver.Valuer。
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner。
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("JSON 列类型不支持: %T", value)
	}
	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// AnalyticsEvent 对应于数据库中的 'spark_events' 表。
// 纯写入表：引擎和挂件只负责插入，聚合分析不在核心范围内。
type AnalyticsEvent struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ClientID         uint      `gorm:"index;not null" json:"clientId"`
	ConversationUUID string    `gorm:"type:char(36);index" json:"conversationUuid"`
	EventType        string    `gorm:"type:varchar(40);not null" json:"eventType"`
	Metadata         JSONMap   `gorm:"type:json" json:"metadata"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (AnalyticsEvent) TableName() string {
	return "spark_events"
}
