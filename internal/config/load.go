package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix: 环境变量前缀，键中的 '.' 替换为 '_'（如 SPIKEPSF_LOGGING_LEVEL）。
const EnvPrefix = "SPIKEPSF"

// EnvConfigFile: 未给出 --config 时读取的配置文件路径变量。
const EnvConfigFile = "SPIKEPSF_CONFIG_FILE"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：images 与 method 不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		ImgType:     "_flc",
		CoordFormat: "deg",
		Logging:     Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Source:       "fs",
			Reader:       "fits",
			Writer:       "fs",
			NameResolver: "sesame",
		},
	}
}

// NewViper 创建已注册默认值与环境变量映射的 viper 实例。
func NewViper() *viper.Viper {
	v := viper.New()
	d := Defaults()
	for k, val := range map[string]any{
		"images":                   []string{},
		"img_type":                 d.ImgType,
		"instrument":               "",
		"camera":                   "",
		"objects":                  []string{},
		"method":                   "",
		"usermethod":               "",
		"parallel":                 false,
		"workers":                  0,
		"pretweaked":               false,
		"keeporig":                 false,
		"drizzleimgs":              false,
		"savedir":                  "",
		"coord_format":             d.CoordFormat,
		"logging.level":            d.Logging.Level,
		"logging.dir":              d.Logging.Dir,
		"metrics.textfile":         "",
		"components.source":        d.Components.Source,
		"components.reader":        d.Components.Reader,
		"components.writer":        d.Components.Writer,
		"components.resampler":     "",
		"components.aligner":       "",
		"components.name_resolver": d.Components.NameResolver,
	} {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load 按 defaults → 配置文件 → 环境变量 → 已绑定 flags 的优先级解析。
// path 为空时回落到 $SPIKEPSF_CONFIG_FILE；两者皆空则不读文件。
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Images = splitList(cfg.Images)
	cfg.Objects = trimList(cfg.Objects)
	return cfg, nil
}

// splitList: 环境变量给出的单个 "a,b" 展开为多项。
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// trimList: 目标串可能含逗号（"10.68, 41.27"），只去空白与空项。
func trimList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// WriteTemplate 以 O_EXCL 写出默认模板；文件已存在时报错。
func WriteTemplate(path string) error {
	b, err := Template()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("config: %s already exists", path)
		}
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
