// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxSettlingExtraKeys 限制 settling_config 中透传自定义键的数量上限。
const MaxSettlingExtraKeys = 32

// Client 对应于数据库中的 'spark_clients' 表，代表一个租户。
// 核心对话流程对该表只读，所有变更都经由管理后台。
type Client struct {
	ID                  uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID                string         `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	Name                string         `gorm:"type:varchar(100);not null" json:"name"`
	Slug                string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	APIKeyHash          string         `gorm:"type:char(64);uniqueIndex;not null" json:"-"`
	Active              bool           `gorm:"not null;default:true" json:"active"`
	MaxTurns            int            `gorm:"not null;default:20" json:"maxTurns"`
	RateLimitRPM        int            `gorm:"not null;default:30" json:"rateLimitRpm"`
	Orientation         string         `gorm:"type:varchar(50);default:'professional'" json:"orientation"`
	OrientationOverride string         `gorm:"type:text" json:"orientationOverride"`
	Settling            SettlingConfig `gorm:"type:json" json:"settling"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Client) TableName() string {
	return "spark_clients"
}

// SettlingConfig 是单个客户端的提示词装配配置。
// 已知字段在入口处校验，Extra 中的自定义键只透传给模板渲染。
type SettlingConfig struct {
	CompanyName             string            `json:"company_name,omitempty"`
	Tone                    string            `json:"tone,omitempty"`
	Timezone                string            `json:"timezone,omitempty"`
	CustomInstructions      string            `json:"custom_instructions,omitempty"`
	LeadCaptureInstructions string            `json:"lead_capture_instructions,omitempty"`
	GreetingMessage         string            `json:"greeting_message,omitempty"`
	FarewellMessage         string            `json:"farewell_message,omitempty"`
	BoundaryTopics          []string          `json:"boundary_topics,omitempty"`
	CalendlyURL             string            `json:"calendly_url,omitempty"`
	WebhookURL              string            `json:"webhook_url,omitempty"`
	HubSpotToken            string            `json:"hubspot_token,omitempty"`
	WidgetTitle             string            `json:"widget_title,omitempty"`
	WidgetPosition          string            `json:"widget_position,omitempty"`
	AccentColor             string            `json:"accent_color,omitempty"`
	NotificationEmail       string            `json:"notification_email,omitempty"`
	Extra                   map[string]string `json:"extra,omitempty"`
}

// Value 实现 driver.Valuer，将配置序列化为 JSON 存入数据库。
func (c SettlingConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan 实现 sql.Scanner，从数据库 JSON 列反序列化配置。
func (c *SettlingConfig) Scan(value interface{}) error {
	if value == nil {
		*c = SettlingConfig{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("settling_config 列类型不支持: %T", value)
	}
	if len(data) == 0 {
		*c = SettlingConfig{}
		return nil
	}
	return json.Unmarshal(data, c)
}

// Lookup 按模板占位符键名取值，未知或缺失的键返回空字符串。
// 模板渲染依赖这一契约：缺值永远不会让渲染失败。
func (c SettlingConfig) Lookup(key string) string {
	switch key {
	case "company_name":
		return c.CompanyName
	case "tone":
		return c.Tone
	case "custom_instructions":
		return c.CustomInstructions
	case "lead_capture_instructions":
		return c.LeadCaptureInstructions
	case "greeting_message":
		return c.GreetingMessage
	case "farewell_message":
		return c.FarewellMessage
	case "calendly_url":
		return c.CalendlyURL
	}
	if c.Extra != nil {
		return c.Extra[key]
	}
	return ""
}

// Validate 校验已知字段的取值并限制自定义键数量。
func (c SettlingConfig) Validate() error {
	if len(c.Extra) > MaxSettlingExtraKeys {
		return fmt.Errorf("自定义配置键数量超出上限 %d", MaxSettlingExtraKeys)
	}
	if c.Timezone != "" && len(c.Timezone) > 64 {
		return errors.New("timezone 标识过长")
	}
	return nil
}
