package database

import (
	"time"

	"micro-agent-go/internal/model"
	"micro-agent-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接
func InitMySQL(dsn string) {
	var err error
	// TranslateError 让方言错误（如唯一键冲突）统一映射为 gorm 的哨兵错误
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
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

	// 迁移基础表结构
	if err := DB.AutoMigrate(
		&model.User{},
		&model.MicroAgent{},
		&model.ChatTranscriptMessage{},
		&model.UserVectorStore{},
		&model.OutboundEmail{},
	); err != nil {
		log.Fatal("failed to migrate database", err)
	}

	log.Info("MySQL database connected successfully")
}
