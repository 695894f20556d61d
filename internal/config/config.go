package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，例如 BETEXEC_EXCHANGE_PASSWORD。
const EnvPrefix = "BETEXEC"

// 凭据只从环境变量读取更安全，yaml 里可以留空。
var secretKeys = []string{
	"redis.password",
	"exchange.app_key",
	"exchange.username",
	"exchange.password",
	"exchange.cert_file",
	"exchange.key_file",
	"notify.telegram.bot_token",
	"notify.telegram.chat_id",
}

// Load 读取执行器配置：按 include 顺序合并 yaml，绑定凭据环境变量，
// 然后只对文件里没出现的字段补默认值，最后校验。
func Load(path string) (*Config, error) {
	layers, err := configLayers(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	for _, file := range layers {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", file, err)
		}
	}
	explicit := make(keySet)
	for _, key := range v.AllKeys() {
		explicit.mark(key)
	}
	if err := bindSecrets(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults(explicit)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secretEnv 返回某个凭据字段对应的环境变量名。
func secretEnv(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func bindSecrets(v *viper.Viper) error {
	for _, key := range secretKeys {
		if err := v.BindEnv(key, secretEnv(key)); err != nil {
			return fmt.Errorf("bind %s: %w", secretEnv(key), err)
		}
	}
	return nil
}

// configLayers 展开 include，被包含的文件排在包含者之前，后合并的覆盖先合并的。
func configLayers(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := layerWalker{merged: map[string]bool{}, open: map[string]bool{}}
	if err := w.walk(root); err != nil {
		return nil, err
	}
	return w.order, nil
}

type layerWalker struct {
	merged map[string]bool
	open   map[string]bool
	order  []string
}

func (w *layerWalker) walk(path string) error {
	path = filepath.Clean(path)
	switch {
	case w.open[path]:
		return fmt.Errorf("include cycle detected: %s", path)
	case w.merged[path]:
		return nil
	}
	w.open[path] = true
	includes, err := readIncludes(path)
	if err != nil {
		return err
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.walk(inc); err != nil {
			return err
		}
	}
	delete(w.open, path)
	w.merged[path] = true
	w.order = append(w.order, path)
	return nil
}

// readIncludes 只解析顶层的 include 列表。
func readIncludes(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var head struct {
		Include []string `yaml:"include"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("include in %s must be a list of paths: %w", path, err)
	}
	out := head.Include[:0]
	for _, inc := range head.Include {
		if inc = strings.TrimSpace(inc); inc != "" {
			out = append(out, inc)
		}
	}
	return out, nil
}
