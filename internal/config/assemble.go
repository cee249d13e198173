package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"spikepsf/internal/diag"
	"spikepsf/internal/dispatch"
	"spikepsf/internal/pipeline"
	"spikepsf/pkg/contract"
	"spikepsf/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Images) == 0 {
		return errors.New("config: images empty")
	}
	for _, p := range cfg.Images {
		if strings.TrimSpace(p) == "" {
			return errors.New("config: image path cannot be empty")
		}
	}
	if strings.TrimSpace(cfg.ImgType) == "" {
		return errors.New("config: img_type not set")
	}
	if strings.TrimSpace(cfg.Method) == "" {
		return errors.New("config: method not set")
	}
	method, err := dispatch.New(nil, dispatch.Options{}).Canonical(cfg.Method)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if method == dispatch.MethodUser && strings.TrimSpace(cfg.UserMethod) == "" {
		return errors.New("config: method user requires usermethod")
	}
	if method != dispatch.MethodUser && cfg.UserMethod != "" {
		return fmt.Errorf("config: usermethod is only valid with method user, got %s", method)
	}
	if cfg.Workers < 0 {
		return errors.New("config: workers must be >= 0")
	}
	switch contract.CoordFormat(cfg.CoordFormat) {
	case contract.CoordDeg, contract.CoordHMS:
	default:
		return fmt.Errorf("config: coord_format must be deg or hms, got %q", cfg.CoordFormat)
	}
	if _, err := diag.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("config: logging.level: %w", err)
	}
	c := cfg.Components
	if registry.Source[c.Source] == nil {
		return fmt.Errorf("config: source %q not registered", c.Source)
	}
	if registry.ImageReader[c.Reader] == nil {
		return fmt.Errorf("config: reader %q not registered", c.Reader)
	}
	if c.Writer != "" && registry.Writer[c.Writer] == nil {
		return fmt.Errorf("config: writer %q not registered", c.Writer)
	}
	if c.Resampler != "" && registry.Resampler[c.Resampler] == nil {
		return fmt.Errorf("config: resampler %q not registered", c.Resampler)
	}
	if c.Aligner != "" && registry.Aligner[c.Aligner] == nil {
		return fmt.Errorf("config: aligner %q not registered", c.Aligner)
	}
	if c.NameResolver != "" && registry.NameResolver[c.NameResolver] == nil {
		return fmt.Errorf("config: name_resolver %q not registered", c.NameResolver)
	}
	if cfg.DrizzleImgs && c.Resampler == "" {
		return errors.New("config: drizzleimgs requires components.resampler")
	}
	if !cfg.Pretweaked && c.Aligner == "" {
		return errors.New("config: alignment requires components.aligner (or set pretweaked)")
	}
	return nil
}

// Assemble 构造 pipeline.Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只把子树转为 raw JSON。
// 生成器只构造被选中的方法，未用方法的缺失外部命令不影响运行。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	c := cfg.Components
	var comp pipeline.Components
	var err error

	if comp.Source, err = build(registry.Source[c.Source], cfg.Options.Source); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: source %s: %w", c.Source, err)
	}
	if comp.Reader, err = build(registry.ImageReader[c.Reader], cfg.Options.Reader); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader %s: %w", c.Reader, err)
	}
	if c.Writer != "" {
		opts := cfg.Options.Writer
		if c.Writer == "fs" {
			opts = withDefault(opts, "output_dir", firstNonEmpty(cfg.SaveDir, "."))
		}
		if comp.Writer, err = build(registry.Writer[c.Writer], opts); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer %s: %w", c.Writer, err)
		}
	}
	if c.Resampler != "" {
		if comp.Resampler, err = build(registry.Resampler[c.Resampler], cfg.Options.Resampler); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: resampler %s: %w", c.Resampler, err)
		}
	}
	if c.Aligner != "" {
		if comp.Aligner, err = build(registry.Aligner[c.Aligner], cfg.Options.Aligner); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: aligner %s: %w", c.Aligner, err)
		}
	}
	if c.NameResolver != "" {
		if comp.NameResolver, err = build(registry.NameResolver[c.NameResolver], cfg.Options.NameResolver); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: name_resolver %s: %w", c.NameResolver, err)
		}
	}

	method, _ := dispatch.New(nil, dispatch.Options{}).Canonical(cfg.Method)
	if method != dispatch.MethodUser {
		kind := registry.GeneratorFor(method)
		opts := generatorOptions(cfg, method, kind)
		g, err := build(registry.Generator[kind], opts)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: generator %s (%s): %w", method, kind, err)
		}
		comp.Generators = map[string]contract.Generator{method: g}
	}

	set := pipeline.Settings{
		Images:          append([]string(nil), cfg.Images...),
		ImgType:         cfg.ImgType,
		Instrument:      cfg.Instrument,
		Camera:          cfg.Camera,
		Objects:         append([]string(nil), cfg.Objects...),
		Method:          method,
		UserGlob:        cfg.UserMethod,
		Parallel:        cfg.Parallel,
		Workers:         cfg.Workers,
		Pretweaked:      cfg.Pretweaked,
		KeepOrig:        cfg.KeepOrig,
		DrizzleImgs:     cfg.DrizzleImgs,
		SaveDir:         cfg.SaveDir,
		CoordFormat:     contract.CoordFormat(cfg.CoordFormat),
		Kwargs:          cfg.Generator.Kwargs,
		ResampleParams:  cfg.Resample.Params,
		MetricsTextfile: cfg.Metrics.Textfile,
	}
	return comp, set, nil
}

// generatorOptions: 方法选项子树；coord_format 未显式给出时沿用全局值。
// stdpsf 的坐标格式位于 eval 子树。
func generatorOptions(cfg Config, method, kind string) map[string]any {
	opts := cfg.Options.Generators[method]
	if kind != "stdpsf" {
		return withDefault(opts, "coord_format", cfg.CoordFormat)
	}
	eval, _ := opts["eval"].(map[string]any)
	if eval == nil {
		return opts
	}
	out := clone(opts)
	out["eval"] = withDefault(eval, "coord_format", cfg.CoordFormat)
	return out
}

// build 将选项树转为 JSON 后调用工厂。
func build[T any](factory func(json.RawMessage) (T, error), opts map[string]any) (T, error) {
	var zero T
	raw, err := toRaw(opts)
	if err != nil {
		return zero, err
	}
	return factory(raw)
}

func toRaw(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	return b, nil
}

// withDefault 返回补齐 key 的副本；已有值时原样返回。
func withDefault(m map[string]any, key string, val any) map[string]any {
	if _, ok := m[key]; ok {
		return m
	}
	out := clone(m)
	out[key] = val
	return out
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
