package notify

import (
	"fmt"
	"sort"
	"strings"

	"fnobot/event"
)

// formatMessage 事件转人类可读文本，各渠道共用
func formatMessage(evt *event.Event) string {
	var emoji, title string
	switch evt.Type {
	case event.TypeOrderPlaced:
		emoji, title = "📝", "订单已提交"
	case event.TypeOrderFilled:
		emoji, title = "📊", "订单已成交"
	case event.TypeOrderCancelled:
		emoji, title = "📋", "订单已撤销"
	case event.TypeRiskAlert:
		emoji, title = "⚠️", "风险告警"
	case event.TypeRiskViolation:
		emoji, title = "🛑", "风险违规"
	case event.TypeRemediation:
		emoji, title = "🛑", "风险处置"
	case event.TypeKillSwitch:
		emoji, title = "🛑", "熔断触发"
	case event.TypeEmergencyStop:
		emoji, title = "🛑", "紧急停止"
	case event.TypeDayRoll:
		emoji, title = "🔄", "交易日切换"
	case event.TypeError:
		emoji, title = "❌", "系统异常"
	case event.TypeSystemStart:
		emoji, title = "🚀", "系统启动"
	case event.TypeSystemStop:
		emoji, title = "🛑", "系统停止"
	default:
		emoji, title = "ℹ️", string(evt.Type)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s *%s*\n", emoji, title))
	sb.WriteString(fmt.Sprintf("时间: %s\n", evt.Timestamp.Format("2006-01-02 15:04:05")))

	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("%s: %v\n", k, evt.Data[k]))
	}
	return sb.String()
}
