// Package scheduler 提供固定间隔的周期任务调度。
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"betexec/internal/logger"
)

// IntervalScheduler 按固定间隔触发 task。上一轮还没结束时，本次 tick 直接跳过，
// 不排队也不并发执行。
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	running atomic.Bool
	skipped atomic.Int64
	wg      sync.WaitGroup
}

func NewIntervalScheduler(name string, interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{Name: name, Interval: interval}
}

// Skipped 返回因上一轮未结束而跳过的 tick 数。
func (s *IntervalScheduler) Skipped() int64 {
	return s.skipped.Load()
}

// Start 阻塞直到 ctx 结束，返回前等待正在执行的一轮完成。
func (s *IntervalScheduler) Start(ctx context.Context, task func(ctx context.Context)) {
	if s == nil {
		return
	}
	prefix := "IntervalScheduler"
	if s.Name != "" {
		prefix = prefix + "[" + s.Name + "]"
	}
	if task == nil {
		logger.Warnf("%s: task is nil, exit", prefix)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("%s: invalid interval=%s, exit", prefix, s.Interval)
		return
	}
	logger.Infof("%s: started interval=%s run_immediately=%v", prefix, s.Interval, s.RunImmediately)
	defer s.wg.Wait()

	if s.RunImmediately {
		s.TryRun(ctx, task)
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("%s: ctx done, exit", prefix)
			return
		case <-ticker.C:
			s.TryRun(ctx, task)
		}
	}
}

// TryRun 在没有进行中的一轮时异步启动 task；返回是否真正启动。
func (s *IntervalScheduler) TryRun(ctx context.Context, task func(ctx context.Context)) bool {
	if !s.running.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		logger.Debugf("IntervalScheduler[%s]: previous run still active, skip tick (total skipped=%d)", s.Name, n)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("IntervalScheduler[%s]: task panic: %v\n%s", s.Name, r, debug.Stack())
			}
		}()
		task(ctx)
	}()
	return true
}
