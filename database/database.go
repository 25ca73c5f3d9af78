package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"fnobot/config"
	"fnobot/logger"
	"fnobot/risk"
)

// AlertRecord 告警历史
type AlertRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	Category  string    `gorm:"size:32;index"`
	Type      string    `gorm:"size:16"`
	Message   string    `gorm:"size:512"`
	Value     float64
	Threshold float64
	Severity  int
}

// ViolationRecord 违规与处置历史
type ViolationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	Category  string    `gorm:"size:32;index"`
	Message   string    `gorm:"size:512"`
	Value     float64
	Limit     float64 `gorm:"column:limit_value"` // limit 是 SQL 保留字
	Action    string  `gorm:"size:64"`            // 对应的处置动作
}

// OrderAudit 订单终态留痕
type OrderAudit struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	OrderID   int64     `gorm:"index"`
	Kind      string    `gorm:"size:16"`
	Status    string    `gorm:"size:24"`
	Symbol    string    `gorm:"size:64"`
	Side      string    `gorm:"size:8"`
	Quantity  int64
	FilledQty int64
	AvgPrice  float64
	BrokerRef string `gorm:"size:128"`
}

// History 运行历史库，sqlite / mysql / postgres 三选一
type History struct {
	db *gorm.DB
}

// New 按配置打开历史库，未启用时返回 nil
func New(cfg *config.Config) (*History, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}

	gormCfg := &gorm.Config{Logger: glogger.Default.LogMode(glogger.Silent)}

	var db *gorm.DB
	var err error
	switch cfg.Database.Type {
	case "sqlite", "":
		path := cfg.Database.Path
		if path == "" {
			path = "data/fnobot.db"
		}
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
	case "mysql":
		db, err = gorm.Open(mysql.Open(cfg.Database.DSN), gormCfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.Database.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Database.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("打开历史库失败: %w", err)
	}

	if err := db.AutoMigrate(&AlertRecord{}, &ViolationRecord{}, &OrderAudit{}); err != nil {
		return nil, fmt.Errorf("历史库迁移失败: %w", err)
	}

	logger.Info("✅ 历史库已就绪: %s", cfg.Database.Type)
	return &History{db: db}, nil
}

// SaveAlert 写入告警，失败只记录日志
func (h *History) SaveAlert(a risk.Alert) {
	if h == nil {
		return
	}
	rec := AlertRecord{
		Timestamp: a.Timestamp,
		Category:  a.Category,
		Type:      string(a.Type),
		Message:   a.Message,
		Value:     a.Value,
		Threshold: a.Threshold,
		Severity:  a.Severity,
	}
	if err := h.db.Create(&rec).Error; err != nil {
		logger.Error("❌ 告警入库失败: %v", err)
	}
}

// SaveViolation 写入违规
func (h *History) SaveViolation(v risk.Violation, action string) {
	if h == nil {
		return
	}
	rec := ViolationRecord{
		Timestamp: time.Now(),
		Category:  v.Category,
		Message:   v.Message,
		Value:     v.Value,
		Limit:     v.Limit,
		Action:    action,
	}
	if err := h.db.Create(&rec).Error; err != nil {
		logger.Error("❌ 违规入库失败: %v", err)
	}
}

// SaveOrderAudit 写入订单终态留痕
func (h *History) SaveOrderAudit(rec OrderAudit) {
	if h == nil {
		return
	}
	rec.Timestamp = time.Now()
	if err := h.db.Create(&rec).Error; err != nil {
		logger.Error("❌ 订单留痕入库失败: %v", err)
	}
}

// RecentAlerts 最近 N 条告警
func (h *History) RecentAlerts(limit int) ([]AlertRecord, error) {
	if h == nil {
		return nil, nil
	}
	var out []AlertRecord
	err := h.db.Order("timestamp desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close 关闭底层连接
func (h *History) Close() error {
	if h == nil {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
