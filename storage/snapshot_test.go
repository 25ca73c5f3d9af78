package storage

import (
	"os"
	"path/filepath"
	"testing"

	"fnobot/position"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "snapshot.json")
	store := NewStore(path)

	enabled := false
	snap := &Snapshot{
		Positions: map[string]position.Position{
			"NIFTY": {Symbol: "NIFTY", Quantity: 50, AvgPrice: 100},
		},
		Cash:           95000,
		DailyPnL:       -1200,
		KillSwitch:     true,
		TradingEnabled: &enabled,
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if loaded.Cash != 95000 || loaded.DailyPnL != -1200 {
		t.Error("数值字段往返不一致")
	}
	if !loaded.KillSwitch {
		t.Error("熔断标志应持久化")
	}
	if loaded.Enabled() {
		t.Error("显式关闭的交易开关应保持关闭")
	}
	if loaded.Positions["NIFTY"].Quantity != 50 {
		t.Error("持仓往返不一致")
	}
}

func TestLoadMissingFileIsFreshStart(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("文件缺失不应报错: %v", err)
	}
	if snap != nil {
		t.Error("文件缺失应返回 nil 快照")
	}
}

func TestLoadMissingKeysAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	// 旧版本快照：缺少 trading_enabled / kill_switch 等字段
	if err := os.WriteFile(path, []byte(`{"cash": 50000}`), 0644); err != nil {
		t.Fatal(err)
	}

	snap, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("旧快照应可加载: %v", err)
	}
	if snap.Cash != 50000 {
		t.Error("已有字段应保留")
	}
	if !snap.Enabled() {
		t.Error("缺失的交易开关默认开启")
	}
	if snap.KillSwitch || snap.EmergencyStop {
		t.Error("缺失的熔断标志默认关闭")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	os.WriteFile(path, []byte("{not json"), 0644)

	_, err := NewStore(path).Load()
	if !IsPersistence(err) {
		t.Errorf("损坏文件应返回持久化错误: %v", err)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	store := NewStore(path)

	store.Save(&Snapshot{Cash: 1})
	store.Save(&Snapshot{Cash: 2})

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("临时文件不应残留")
	}
	snap, _ := store.Load()
	if snap.Cash != 2 {
		t.Error("应读到最后一次保存")
	}
}
