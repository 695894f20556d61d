package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"betexec/internal/logger"
	"betexec/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LimitsFile 是 risk_limits.yaml 的结构。
type LimitsFile struct {
	Limits types.RiskLimits `yaml:"limits"`
}

// LimitsSnapshot 对外暴露的只读快照。
type LimitsSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Limits   types.RiskLimits
}

// LimitsListener 在限额文件变更且校验通过后被调用。
type LimitsListener func(LimitsSnapshot)

// LimitsLoader 读取限额种子文件，并监听热更新。
type LimitsLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  LimitsSnapshot
	listeners []LimitsListener
}

// ParseLimits 严格解码：未知字段与非法数值都会报错。
func ParseLimits(raw []byte) (types.RiskLimits, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var file LimitsFile
	if err := dec.Decode(&file); err != nil {
		return types.RiskLimits{}, fmt.Errorf("parse risk limits failed: %w", err)
	}
	if err := file.Limits.Validate(); err != nil {
		return types.RiskLimits{}, fmt.Errorf("invalid risk limits: %w", err)
	}
	return file.Limits, nil
}

// LoadLimits 读取并解析限额文件。
func LoadLimits(path string) (types.RiskLimits, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.RiskLimits{}, fmt.Errorf("read risk limits failed: %w", err)
	}
	return ParseLimits(raw)
}

// NewLimitsLoader 读取限额文件并开始监听 FS 事件。
func NewLimitsLoader(path string) (*LimitsLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("limits loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk limits failed: %w", err)
	}
	loader := &LimitsLoader{path: path, v: v}
	if err := loader.Reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.Reload(); err != nil {
			// 保留上一份有效快照
			logger.Errorf("risk limits reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Path 返回监听的文件路径。
func (l *LimitsLoader) Path() string { return l.path }

// Snapshot 返回当前限额快照。
func (l *LimitsLoader) Snapshot() LimitsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// Subscribe 注册监听器；只在后续变更时回调。
func (l *LimitsLoader) Subscribe(fn LimitsListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Reload 重新读取文件；失败时保留旧快照。
func (l *LimitsLoader) Reload() error {
	limits, err := LoadLimits(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = LimitsSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Limits:   limits,
	}
	l.mu.Unlock()
	logger.Infof("Limits loader reloaded %s bankroll=%s max_stake=%s", filepath.Base(l.path),
		limits.Bankroll.StringFixed(2), limits.MaxStakePerOrder.StringFixed(2))
	return nil
}

func (l *LimitsLoader) notify() {
	l.mu.RLock()
	snap := l.snapshot
	listeners := append([]LimitsListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		func(cb LimitsListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("limits listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}
