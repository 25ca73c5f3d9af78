package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RiskLimitsConfig 风险预算配置（静态基准值）
type RiskLimitsConfig struct {
	MaxPositionSize        float64 `yaml:"max_position_size"`        // 单笔持仓市值上限
	MaxPortfolioValue      float64 `yaml:"max_portfolio_value"`      // 组合市值上限
	MaxDailyLoss           float64 `yaml:"max_daily_loss"`           // 单日最大亏损
	MaxDrawdown            float64 `yaml:"max_drawdown"`             // 最大回撤（0-1）
	MaxDeltaExposure       float64 `yaml:"max_delta_exposure"`       // Delta 敞口上限
	MaxGammaExposure       float64 `yaml:"max_gamma_exposure"`       // Gamma 敞口上限
	MaxThetaExposure       float64 `yaml:"max_theta_exposure"`       // Theta 敞口上限
	MaxVegaExposure        float64 `yaml:"max_vega_exposure"`        // Vega 敞口上限
	MaxMarginUsage         float64 `yaml:"max_margin_usage"`         // 保证金使用率上限（0-1）
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"` // 最大同时持仓数
	MaxSectorExposure      float64 `yaml:"max_sector_exposure"`      // 单行业敞口占比上限（0-1）
	MaxUnderlyingExposure  float64 `yaml:"max_underlying_exposure"`  // 单标的敞口占比上限（0-1）
}

// BrokerConfig 券商配置
type BrokerConfig struct {
	Type string `yaml:"type"` // paper / rest / binance

	// REST 券商（Dhan 风格）
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
	ClientID    string `yaml:"client_id"`
	TimeoutSec  int    `yaml:"timeout_seconds"` // HTTP 超时（秒，默认10）

	// SDK 券商（Binance 合约）
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
}

// NotificationsConfig 通知配置
type NotificationsConfig struct {
	Enabled bool `yaml:"enabled"`

	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`

	Webhook struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"webhook"`

	Slack struct {
		Enabled bool   `yaml:"enabled"`
		Webhook string `yaml:"webhook"`
	} `yaml:"slack"`

	// 通知规则（按事件类型开关）
	Rules struct {
		OrderPlaced   bool `yaml:"order_placed"`
		OrderFilled   bool `yaml:"order_filled"`
		RiskAlert     bool `yaml:"risk_alert"`
		RiskViolation bool `yaml:"risk_violation"`
		KillSwitch    bool `yaml:"kill_switch"`
		Error         bool `yaml:"error"`
	} `yaml:"rules"`
}

// Config F&O 交易机器人配置
type Config struct {
	Broker BrokerConfig `yaml:"broker"`

	Trading struct {
		InitialCapital    float64  `yaml:"initial_capital"`    // 初始资金
		TickIntervalSec   int      `yaml:"tick_interval_sec"`  // 主循环周期（秒，默认1）
		ErrorBackoffSec   int      `yaml:"error_backoff_sec"`  // 异常退避（秒，默认5）
		Universe          []string `yaml:"universe"`           // 交易标的列表
		OptionsCommission float64  `yaml:"options_commission"` // 期权每手佣金
		EquityCommission  float64  `yaml:"equity_commission"`  // 期货/股票佣金（百分比）
	} `yaml:"trading"`

	Orders struct {
		MaxOpenOrders  int     `yaml:"max_open_orders"`  // 最大未完结订单数（默认100）
		MaxDailyOrders int     `yaml:"max_daily_orders"` // 单日最大订单数（默认1000）
		MaxOrderSize   int64   `yaml:"max_order_size"`   // 单腿数量上限（0 不限制）
		SubmitRate     float64 `yaml:"submit_rate"`      // 提交限速（单/秒，默认25）
		SubmitBurst    int     `yaml:"submit_burst"`     // 提交突发量（默认30）
	} `yaml:"orders"`

	RiskLimits RiskLimitsConfig `yaml:"risk_limits"`

	Risk struct {
		AlertHistorySize int     `yaml:"alert_history_size"` // 告警历史容量（默认1000）
		WarningRatio     float64 `yaml:"warning_ratio"`      // WARNING 阈值比例（默认0.8）
		CriticalRatio    float64 `yaml:"critical_ratio"`     // CRITICAL 阈值比例（默认0.9）
		CloseTopK        int     `yaml:"close_top_k"`        // 回撤处置时平仓的持仓数（默认3）
		RiskFreeRate     float64 `yaml:"risk_free_rate"`     // 希腊值计算用无风险利率（默认0.065）
	} `yaml:"risk"`

	Storage struct {
		SnapshotPath string `yaml:"snapshot_path"` // 状态快照文件路径
	} `yaml:"storage"`

	Database struct {
		Enabled bool   `yaml:"enabled"`
		Type    string `yaml:"type"` // sqlite / mysql / postgres
		DSN     string `yaml:"dsn"`  // mysql/postgres 连接串
		Path    string `yaml:"path"` // sqlite 文件路径
	} `yaml:"database"`

	Lock struct {
		Enabled bool   `yaml:"enabled"`
		Type    string `yaml:"type"`   // redis
		Prefix  string `yaml:"prefix"` // 锁 key 前缀
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"lock"`

	Web struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"` // 监听地址（默认 :8787）
	} `yaml:"web"`

	Reconcile struct {
		Enabled     bool    `yaml:"enabled"`
		IntervalSec int     `yaml:"interval_sec"` // 对账间隔（秒，默认30）
		Tolerance   float64 `yaml:"tolerance"`    // 持仓差异容忍度
	} `yaml:"reconcile"`

	Notifications NotificationsConfig `yaml:"notifications"`

	System struct {
		LogLevel string `yaml:"log_level"`
		Timezone string `yaml:"timezone"` // 如 "Asia/Kolkata"
	} `yaml:"system"`
}

// LoadConfig 从 YAML 文件加载配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 填充缺省值
func (c *Config) applyDefaults() {
	if c.Broker.Type == "" {
		c.Broker.Type = "paper"
	}
	if c.Broker.TimeoutSec <= 0 {
		c.Broker.TimeoutSec = 10
	}
	if c.Trading.TickIntervalSec <= 0 {
		c.Trading.TickIntervalSec = 1
	}
	if c.Trading.ErrorBackoffSec <= 0 {
		c.Trading.ErrorBackoffSec = 5
	}
	if c.Orders.MaxOpenOrders <= 0 {
		c.Orders.MaxOpenOrders = 100
	}
	if c.Orders.MaxDailyOrders <= 0 {
		c.Orders.MaxDailyOrders = 1000
	}
	if c.Orders.SubmitRate <= 0 {
		c.Orders.SubmitRate = 25
	}
	if c.Orders.SubmitBurst <= 0 {
		c.Orders.SubmitBurst = 30
	}
	if c.Risk.AlertHistorySize <= 0 {
		c.Risk.AlertHistorySize = 1000
	}
	if c.Risk.WarningRatio <= 0 {
		c.Risk.WarningRatio = 0.8
	}
	if c.Risk.CriticalRatio <= 0 {
		c.Risk.CriticalRatio = 0.9
	}
	if c.Risk.CloseTopK <= 0 {
		c.Risk.CloseTopK = 3
	}
	if c.Risk.RiskFreeRate <= 0 {
		c.Risk.RiskFreeRate = 0.065
	}
	if c.Storage.SnapshotPath == "" {
		c.Storage.SnapshotPath = "./data/state.json"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "./data/fnobot.db"
	}
	if c.Lock.Prefix == "" {
		c.Lock.Prefix = "fnobot"
	}
	if c.Web.Listen == "" {
		c.Web.Listen = ":8787"
	}
	if c.Reconcile.IntervalSec <= 0 {
		c.Reconcile.IntervalSec = 30
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
}

// Validate 校验配置，配置错误属于致命错误，启动时拒绝运行
func (c *Config) Validate() error {
	var errs []string

	switch c.Broker.Type {
	case "paper":
	case "rest":
		if c.Broker.BaseURL == "" {
			errs = append(errs, "broker.base_url 不能为空")
		}
		if c.Broker.AccessToken == "" {
			errs = append(errs, "broker.access_token 不能为空")
		}
	case "binance":
		if c.Broker.APIKey == "" || c.Broker.SecretKey == "" {
			errs = append(errs, "broker.api_key/secret_key 不能为空")
		}
	default:
		errs = append(errs, fmt.Sprintf("不支持的券商类型: %s", c.Broker.Type))
	}

	if c.Trading.InitialCapital <= 0 {
		errs = append(errs, "trading.initial_capital 必须大于 0")
	}

	errs = append(errs, c.RiskLimits.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("配置校验失败: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validate 校验风险预算：全部必填、大于 0 且不超过自然上界
func (r *RiskLimitsConfig) validate() []string {
	var errs []string

	required := map[string]float64{
		"risk_limits.max_position_size":       r.MaxPositionSize,
		"risk_limits.max_portfolio_value":     r.MaxPortfolioValue,
		"risk_limits.max_daily_loss":          r.MaxDailyLoss,
		"risk_limits.max_drawdown":            r.MaxDrawdown,
		"risk_limits.max_delta_exposure":      r.MaxDeltaExposure,
		"risk_limits.max_gamma_exposure":      r.MaxGammaExposure,
		"risk_limits.max_theta_exposure":      r.MaxThetaExposure,
		"risk_limits.max_vega_exposure":       r.MaxVegaExposure,
		"risk_limits.max_margin_usage":        r.MaxMarginUsage,
		"risk_limits.max_sector_exposure":     r.MaxSectorExposure,
		"risk_limits.max_underlying_exposure": r.MaxUnderlyingExposure,
	}
	for name, v := range required {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("%s 必须大于 0", name))
		}
	}
	if r.MaxConcurrentPositions <= 0 {
		errs = append(errs, "risk_limits.max_concurrent_positions 必须大于 0")
	}

	// 逻辑一致性检查
	if r.MaxDrawdown > 1.0 {
		errs = append(errs, "risk_limits.max_drawdown 不能超过 1.0")
	}
	if r.MaxMarginUsage > 1.0 {
		errs = append(errs, "risk_limits.max_margin_usage 不能超过 1.0")
	}
	if r.MaxSectorExposure > 1.0 {
		errs = append(errs, "risk_limits.max_sector_exposure 不能超过 1.0")
	}
	if r.MaxUnderlyingExposure > 1.0 {
		errs = append(errs, "risk_limits.max_underlying_exposure 不能超过 1.0")
	}
	if r.MaxPositionSize > 0 && r.MaxPortfolioValue > 0 && r.MaxPositionSize > r.MaxPortfolioValue {
		errs = append(errs, "risk_limits.max_position_size 不能超过 max_portfolio_value")
	}
	if r.MaxDailyLoss > 0 && r.MaxPortfolioValue > 0 && r.MaxDailyLoss > r.MaxPortfolioValue {
		errs = append(errs, "risk_limits.max_daily_loss 不能超过 max_portfolio_value")
	}

	return errs
}
