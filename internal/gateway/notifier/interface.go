package notifier

import (
	"context"

	"betexec/internal/logger"
)

// TextNotifier 最小的文本推送接口，告警方只依赖它。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// LogNotifier 未配置 Telegram 时的兜底，只写日志。
type LogNotifier struct{}

func (LogNotifier) SendText(_ context.Context, text string) error {
	logger.Warnf("notify: %s", text)
	return nil
}
