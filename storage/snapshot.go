package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fnobot/logger"
	"fnobot/order"
	"fnobot/position"
	"fnobot/risk"
)

// PersistenceError 快照读写失败
// 只记录不致命，内存状态在下次成功保存前保持权威
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("快照%s失败 [%s]: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence 判断是否为持久化错误
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// Snapshot 完整账本的持久化形态
// 字段缺失的旧快照按默认值加载，模式向前兼容
type Snapshot struct {
	SavedAt time.Time `json:"saved_at"`

	Positions         map[string]position.Position `json:"positions"`
	ClosedRealizedPnL float64                      `json:"closed_realized_pnl"`

	Ledger order.State `json:"ledger"`

	Cash       float64 `json:"cash"`
	MarginUsed float64 `json:"margin_used"`
	DailyPnL   float64 `json:"daily_pnl"`
	TotalPnL   float64 `json:"total_pnl"`

	Risk risk.AggregatorState `json:"risk"`

	// 指针区分字段缺失与显式 false，缺失按默认值处理
	TradingEnabled *bool `json:"trading_enabled,omitempty"`
	KillSwitch     bool  `json:"kill_switch"`
	EmergencyStop  bool  `json:"emergency_stop"`
}

// Enabled 交易开关，快照未记录时默认开启
func (s *Snapshot) Enabled() bool {
	if s.TradingEnabled == nil {
		return true
	}
	return *s.TradingEnabled
}

// Store 基于单个 JSON 文件的快照存储
type Store struct {
	path string
}

// NewStore 创建快照存储
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save 原子写入：先写临时文件再重命名，崩溃不会留下半截快照
func (s *Store) Save(snap *Snapshot) error {
	snap.SavedAt = time.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "序列化", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PersistenceError{Op: "保存", Path: s.path, Err: err}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &PersistenceError{Op: "保存", Path: s.path, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &PersistenceError{Op: "保存", Path: s.path, Err: err}
	}
	return nil
}

// Load 读取快照
// 文件不存在返回 (nil, nil)，表示全新启动；损坏的文件返回持久化错误
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("ℹ️ 快照文件不存在, 全新启动: %s", s.path)
			return nil, nil
		}
		return nil, &PersistenceError{Op: "加载", Path: s.path, Err: err}
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, &PersistenceError{Op: "解析", Path: s.path, Err: err}
	}

	logger.Info("✅ 快照已加载: %s (保存于 %s)", s.path, snap.SavedAt.Format("2006-01-02 15:04:05"))
	return snap, nil
}
