package notify

import (
	"sync"

	"fnobot/config"
	"fnobot/event"
	"fnobot/logger"
)

// Notifier 通知渠道接口
type Notifier interface {
	Send(evt *event.Event) error
	Name() string
}

// Service 通知服务
// 发送是 fire-and-forget：失败只记录日志，不回卷进交易主循环
type Service struct {
	notifiers []Notifier
	cfg       *config.Config
}

// NewService 创建通知服务，按配置装配启用的渠道
func NewService(cfg *config.Config) *Service {
	s := &Service{cfg: cfg}

	if !cfg.Notifications.Enabled {
		return s
	}

	if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
		n, err := NewTelegramNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
		} else {
			s.notifiers = append(s.notifiers, n)
			logger.Info("✅ Telegram 通知已启用")
		}
	}

	if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
		n, err := NewWebhookNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
		} else {
			s.notifiers = append(s.notifiers, n)
			logger.Info("✅ Webhook 通知已启用")
		}
	}

	if cfg.Notifications.Slack.Enabled && cfg.Notifications.Slack.Webhook != "" {
		n, err := NewSlackNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Slack 通知失败: %v", err)
		} else {
			s.notifiers = append(s.notifiers, n)
			logger.Info("✅ Slack 通知已启用")
		}
	}

	return s
}

// shouldNotify 按规则过滤事件
func (s *Service) shouldNotify(t event.Type) bool {
	if !s.cfg.Notifications.Enabled {
		return false
	}

	rules := s.cfg.Notifications.Rules
	switch t {
	case event.TypeOrderPlaced:
		return rules.OrderPlaced
	case event.TypeOrderFilled:
		return rules.OrderFilled
	case event.TypeRiskAlert:
		return rules.RiskAlert
	case event.TypeRiskViolation, event.TypeRemediation:
		return rules.RiskViolation
	case event.TypeKillSwitch, event.TypeEmergencyStop:
		return rules.KillSwitch
	case event.TypeError:
		return rules.Error
	default:
		return true
	}
}

// Send 发送通知（异步，不阻塞）
func (s *Service) Send(evt *event.Event) {
	if evt == nil || !s.shouldNotify(evt.Type) {
		return
	}

	go func() {
		var wg sync.WaitGroup
		for _, notifier := range s.notifiers {
			wg.Add(1)
			go func(n Notifier) {
				defer wg.Done()
				if err := n.Send(evt); err != nil {
					logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
				}
			}(notifier)
		}
		wg.Wait()
	}()
}
