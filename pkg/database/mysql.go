// Package database 管理 MySQL 与 Redis 连接的初始化。
package database

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"kin-spark-go/internal/model"
	"kin-spark-go/pkg/log"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接并迁移 Spark 相关表结构。
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := DB.AutoMigrate(
		&model.Client{},
		&model.Conversation{},
		&model.Message{},
		&model.Lead{},
		&model.KnowledgeItem{},
		&model.DocumentChunk{},
		&model.AnalyticsEvent{},
		&model.AdminUser{},
	); err != nil {
		log.Fatal("failed to migrate database schema", err)
	}

	log.Info("MySQL database connected successfully")
}
