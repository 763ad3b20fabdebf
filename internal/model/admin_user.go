package model

import "time"

// 管理后台用户角色。
const (
	AdminRoleOwner = "owner"
	AdminRoleAdmin = "admin"
)

// AdminUser 对应于数据库中的 'spark_admin_users' 表，即管理后台的登录账号。
// 一个账号隶属于一个客户端（租户）。
type AdminUser struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(60);not null" json:"-"`
	DisplayName  string    `gorm:"type:varchar(100)" json:"displayName"`
	Role         string    `gorm:"type:varchar(20);not null;default:'admin'" json:"role"`
	ClientID     uint      `gorm:"index;not null" json:"clientId"`
	Active       bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (AdminUser) TableName() string {
	return "spark_admin_users"
}
