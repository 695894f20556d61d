package app

import (
	"context"
	"fmt"
	"time"

	"betexec/internal/config"
	cfgloader "betexec/internal/config/loader"
	"betexec/internal/executor"
	"betexec/internal/logger"
	"betexec/internal/signal"
	controlhttp "betexec/internal/transport/http/control"

	"golang.org/x/sync/errgroup"
)

const redisOpTimeout = 5 * time.Second

// App 负责应用级编排：加载配置→初始化依赖→启动信号订阅、执行器与控制面。
type App struct {
	cfg     *config.Config
	exec    *executor.Executor
	intake  *signal.Intake
	http    *controlhttp.Server
	limits  *cfgloader.LimitsLoader
	closers []func() error
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 认证网关后并行运行各组件，任一组件出错或 ctx 结束时整体退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	if err := a.exec.Start(ctx); err != nil {
		return err
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("control http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.intake.Run(ctx)
	})
	group.Go(func() error {
		return a.exec.Run(ctx)
	})

	return group.Wait()
}

// Executor exposes the executor for tests.
func (a *App) Executor() *executor.Executor {
	if a == nil {
		return nil
	}
	return a.exec
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("app: close: %v", err)
		}
	}
	a.closers = nil
}
