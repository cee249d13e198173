package config

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；未知键在解析期失败。
type Config struct {
	Images     []string `mapstructure:"images" yaml:"images"`
	ImgType    string   `mapstructure:"img_type" yaml:"img_type"`
	Instrument string   `mapstructure:"instrument" yaml:"instrument"`
	Camera     string   `mapstructure:"camera" yaml:"camera"`
	Objects    []string `mapstructure:"objects" yaml:"objects"`
	Method     string   `mapstructure:"method" yaml:"method"`
	// UserMethod: method=user 时的预生成工件 glob（支持 **）。
	UserMethod string `mapstructure:"usermethod" yaml:"usermethod"`

	Parallel bool `mapstructure:"parallel" yaml:"parallel"`
	// Workers: 并行池大小；0 为 max(1, NumCPU-1)。
	Workers int `mapstructure:"workers" yaml:"workers"`

	Pretweaked  bool   `mapstructure:"pretweaked" yaml:"pretweaked"`
	KeepOrig    bool   `mapstructure:"keeporig" yaml:"keeporig"`
	DrizzleImgs bool   `mapstructure:"drizzleimgs" yaml:"drizzleimgs"`
	SaveDir     string `mapstructure:"savedir" yaml:"savedir"`
	CoordFormat string `mapstructure:"coord_format" yaml:"coord_format"`

	Logging Logging `mapstructure:"logging" yaml:"logging"`
	Metrics Metrics `mapstructure:"metrics" yaml:"metrics"`

	// 组件名选择（注册表中的实现名）；resampler/aligner/name_resolver 为空表示不启用。
	Components Components `mapstructure:"components" yaml:"components"`

	Generator Generator `mapstructure:"generator" yaml:"generator"`
	Resample  Resample  `mapstructure:"resample" yaml:"resample"`

	// 各组件 Options 子树，转为 JSON 后交给工厂严格解码。
	Options Options `mapstructure:"options" yaml:"options"`
}

// Logging: 日志等级与目录。
type Logging struct {
	Level string `mapstructure:"level" yaml:"level"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
}

// Metrics: 结束时导出 Prometheus 文本文件（node_exporter textfile 收集器）。
type Metrics struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// Components: 组件名选择。
type Components struct {
	Source       string `mapstructure:"source" yaml:"source"`
	Reader       string `mapstructure:"reader" yaml:"reader"`
	Writer       string `mapstructure:"writer" yaml:"writer"`
	Resampler    string `mapstructure:"resampler" yaml:"resampler"`
	Aligner      string `mapstructure:"aligner" yaml:"aligner"`
	NameResolver string `mapstructure:"name_resolver" yaml:"name_resolver"`
}

// Generator: 透传给后端的参数。
type Generator struct {
	Kwargs map[string]any `mapstructure:"kwargs" yaml:"kwargs"`
}

// Resample: 透传给重采样协作方的参数块。
type Resample struct {
	Params map[string]any `mapstructure:"params" yaml:"params"`
}

// Options: 各组件的原样选项。
type Options struct {
	Source       map[string]any `mapstructure:"source" yaml:"source,omitempty"`
	Reader       map[string]any `mapstructure:"reader" yaml:"reader,omitempty"`
	Writer       map[string]any `mapstructure:"writer" yaml:"writer,omitempty"`
	Resampler    map[string]any `mapstructure:"resampler" yaml:"resampler,omitempty"`
	Aligner      map[string]any `mapstructure:"aligner" yaml:"aligner,omitempty"`
	NameResolver map[string]any `mapstructure:"name_resolver" yaml:"name_resolver,omitempty"`
	// Generators: 方法名 → 生成器选项。
	Generators map[string]map[string]any `mapstructure:"generators" yaml:"generators,omitempty"`
}
