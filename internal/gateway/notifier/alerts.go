package notifier

import (
	"fmt"
	"strings"
	"time"

	"betexec/internal/pkg/text"
)

// Telegram 单条消息上限 4096，留出 Markdown 包装的余量。
const maxAlertLen = 3800

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

func (s Severity) icon() string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityWarn:
		return "⏸"
	default:
		return "▶️"
	}
}

// Field 是告警正文里的一行 key/value。
type Field struct {
	Name  string
	Value string
}

// Alert 是执行器发往 Telegram 的运维告警。
type Alert struct {
	Severity Severity
	Title    string
	Fields   []Field
	At       time.Time
}

// Markdown 渲染为 Telegram Markdown：标题加粗，字段放进代码块按名称对齐，UTC 时间放在标题行。
func (a Alert) Markdown() string {
	var b strings.Builder
	b.WriteString(a.Severity.icon())
	b.WriteString(" *")
	b.WriteString(escape(a.Title))
	b.WriteString("*")
	if !a.At.IsZero() {
		b.WriteString(" `" + a.At.UTC().Format(time.RFC3339) + "`")
	}
	fields := make([]Field, 0, len(a.Fields))
	width := 0
	for _, f := range a.Fields {
		f.Name, f.Value = strings.TrimSpace(f.Name), strings.TrimSpace(f.Value)
		if f.Value == "" {
			continue
		}
		if n := len([]rune(f.Name)); n > width {
			width = n
		}
		fields = append(fields, f)
	}
	if len(fields) > 0 {
		b.WriteString("\n```\n")
		for _, f := range fields {
			pad := width - len([]rune(f.Name))
			b.WriteString(f.Name + strings.Repeat(" ", pad) + " : " + strings.ReplaceAll(f.Value, "```", "'''") + "\n")
		}
		b.WriteString("```")
	}
	return text.Truncate(b.String(), maxAlertLen)
}

// 标题里的 Markdown 控制字符会破坏加粗。
func escape(s string) string {
	return strings.NewReplacer("*", "", "_", " ", "`", "'").Replace(strings.TrimSpace(s))
}

// CircuitBreakerAlert 熔断锁定时的告警内容。
func CircuitBreakerAlert(recentFailures int64, window time.Duration, at time.Time) Alert {
	return Alert{
		Severity: SeverityCritical,
		Title:    "熔断已触发，停止下单",
		Fields: []Field{
			{Name: "失败次数", Value: fmt.Sprintf("%d (窗口 %s)", recentFailures, window)},
			{Name: "恢复", Value: "POST /api/circuitbreaker/reset"},
		},
		At: at,
	}
}

// TradingStateAlert 交易开关变更。
func TradingStateAlert(enabled bool, at time.Time) Alert {
	if enabled {
		return Alert{Severity: SeverityInfo, Title: "交易已恢复", At: at}
	}
	return Alert{Severity: SeverityWarn, Title: "交易已暂停", At: at}
}

// ShutdownAlert 进程退出前撤单结果；有撤不掉的挂单时升级为 critical。
func ShutdownAlert(cancelled, remaining int, at time.Time) Alert {
	sev := SeverityWarn
	if remaining > 0 {
		sev = SeverityCritical
	}
	return Alert{
		Severity: sev,
		Title:    "执行器关闭",
		Fields: []Field{
			{Name: "已撤单", Value: fmt.Sprint(cancelled)},
			{Name: "未能撤销", Value: fmt.Sprint(remaining)},
		},
		At: at,
	}
}
