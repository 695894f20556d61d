package app

import (
	"fmt"
	"strings"

	"betexec/internal/config"
	"betexec/internal/logger"
)

type StartupSummary struct {
	Config     config.Summary
	Gateway    string
	Channels   []string
	LimitsFile string
}

func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	title := "启动配置摘要 (STARTUP SUMMARY)"
	b.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	b.WriteString("[网关 (GATEWAY)]\n")
	fmt.Fprintf(&b, "  交易所: %s\n", s.Gateway)
	fmt.Fprintf(&b, "  订阅频道: %s\n", formatList(s.Channels))
	if s.LimitsFile != "" {
		fmt.Fprintf(&b, "  限额文件: %s (热更新)\n", s.LimitsFile)
	}
	b.WriteString("\n[配置 (CONFIG)]\n")
	for _, line := range s.Config.Lines() {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	b.WriteString(strings.Repeat("=", 80) + "\n")
	return b.String()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(无)"
	}
	return strings.Join(items, ", ")
}
