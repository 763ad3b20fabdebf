package model

import "time"

// 线索跟进状态。
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusConverted = "converted"
	LeadStatusLost      = "lost"
)

// 线索的 CRM 同步状态。
const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusFailed  = "failed"
)

// ValidLeadStatus 判断给定值是否为合法的线索跟进状态。
func ValidLeadStatus(s string) bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusConverted, LeadStatusLost:
		return true
	}
	return false
}

// Lead 对应于数据库中的 'spark_leads' 表。
// Email 是唯一的必填联系方式；CRM 同步结果只更新 SyncStatus，不影响会话流程。
type Lead struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID             string    `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	ClientID         uint      `gorm:"index;not null" json:"clientId"`
	ConversationUUID string    `gorm:"type:char(36);index" json:"conversationUuid"`
	Name             string    `gorm:"type:varchar(100)" json:"name"`
	Email            string    `gorm:"type:varchar(255);not null" json:"email"`
	Phone            string    `gorm:"type:varchar(40)" json:"phone"`
	Company          string    `gorm:"type:varchar(100)" json:"company"`
	Notes            string    `gorm:"type:text" json:"notes"`
	AdminNotes       string    `gorm:"type:text" json:"adminNotes"`
	Status           string    `gorm:"type:varchar(20);not null;default:'new'" json:"status"`
	SyncStatus       string    `gorm:"type:varchar(20);not null;default:'pending'" json:"syncStatus"`
	CRMContactID     string    `gorm:"type:varchar(64)" json:"crmContactId"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Lead) TableName() string {
	return "spark_leads"
}
