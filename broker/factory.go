package broker

import (
	"fmt"
	"time"

	"fnobot/config"
	"fnobot/logger"
)

// New 根据配置创建券商实例
// 实现方式在构造时一次性选定，运行期不做类型探测
func New(cfg *config.Config) (Broker, error) {
	switch cfg.Broker.Type {
	case "paper":
		logger.Info("📋 使用纸面交易模式")
		return NewPaperBroker(
			cfg.Trading.InitialCapital,
			cfg.Trading.OptionsCommission,
			cfg.Trading.EquityCommission,
		), nil

	case "rest":
		logger.Info("🌐 使用 REST 券商: %s", cfg.Broker.BaseURL)
		return NewRESTBroker(
			cfg.Broker.BaseURL,
			cfg.Broker.AccessToken,
			cfg.Broker.ClientID,
			time.Duration(cfg.Broker.TimeoutSec)*time.Second,
		), nil

	case "binance":
		logger.Info("🌐 使用 Binance 合约券商")
		return NewBinanceBroker(
			cfg.Broker.APIKey,
			cfg.Broker.SecretKey,
			cfg.Broker.Testnet,
			cfg.Trading.Universe,
		)

	default:
		return nil, fmt.Errorf("不支持的券商类型: %s", cfg.Broker.Type)
	}
}
