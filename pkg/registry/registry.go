package registry

import (
	"bytes"
	"encoding/json"

	"spikepsf/pkg/contract"
	tweak "spikepsf/plugins/aligner/tweak"
	gext "spikepsf/plugins/generator/external"
	gauss "spikepsf/plugins/generator/gaussian"
	gstd "spikepsf/plugins/generator/stdpsf"
	fitsr "spikepsf/plugins/imagereader/fits"
	sesame "spikepsf/plugins/nameresolver/sesame"
	drizzle "spikepsf/plugins/resampler/drizzle"
	sfs "spikepsf/plugins/source/filesystem"
	wfs "spikepsf/plugins/writer/filesystem"
	wobj "spikepsf/plugins/writer/objectstore"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewSource 工厂签名：接收原样 JSON Options。
type NewSource func(raw json.RawMessage) (contract.ImageSource, error)

// NewImageReader 工厂签名。
type NewImageReader func(raw json.RawMessage) (contract.ImageReader, error)

// NewWriter 工厂签名。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewResampler 工厂签名。
type NewResampler func(raw json.RawMessage) (contract.Resampler, error)

// NewAligner 工厂签名。
type NewAligner func(raw json.RawMessage) (contract.Aligner, error)

// NewNameResolver 工厂签名。
type NewNameResolver func(raw json.RawMessage) (contract.NameResolver, error)

// NewGenerator 工厂签名。
type NewGenerator func(raw json.RawMessage) (contract.Generator, error)

// Source 工厂注册表（显式、零反射）。
var Source = map[string]NewSource{
	// fs: 按 <stem><img_type>.fits 在目录中发现曝光
	"fs": func(raw json.RawMessage) (contract.ImageSource, error) {
		var opts sfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sfs.New(&opts), nil
	},
}

// ImageReader 工厂注册表。
var ImageReader = map[string]NewImageReader{
	"fits": func(raw json.RawMessage) (contract.ImageReader, error) {
		var opts fitsr.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fitsr.New(&opts), nil
	},
}

// Writer 工厂注册表（组清单输出）。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
	// s3: S3 兼容对象存储
	"s3": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wobj.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wobj.New(opts)
	},
}

// Resampler 工厂注册表。
var Resampler = map[string]NewResampler{
	"drizzle": func(raw json.RawMessage) (contract.Resampler, error) {
		var opts drizzle.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return drizzle.New(opts)
	},
}

// Aligner 工厂注册表。
var Aligner = map[string]NewAligner{
	"tweak": func(raw json.RawMessage) (contract.Aligner, error) {
		var opts tweak.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return tweak.New(opts)
	},
}

// NameResolver 工厂注册表。
var NameResolver = map[string]NewNameResolver{
	"sesame": func(raw json.RawMessage) (contract.NameResolver, error) {
		var opts sesame.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sesame.New(opts)
	},
}

// Generator 工厂注册表，键为生成器实现。
var Generator = map[string]NewGenerator{
	// external: 模板化外部命令（tiny_tim、webbpsf 脚本、psfex 等）
	"external": func(raw json.RawMessage) (contract.Generator, error) {
		var opts gext.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return gext.New(opts)
	},
	// stdpsf: 经验网格下载 + 外部求值
	"stdpsf": func(raw json.RawMessage) (contract.Generator, error) {
		var opts gstd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return gstd.New(opts)
	},
	// gaussian: 解析模型，无外部依赖
	"gaussian": func(raw json.RawMessage) (contract.Generator, error) {
		var opts gauss.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return gauss.New(opts)
	},
}

// GeneratorFor 返回方法默认使用的生成器实现名。
func GeneratorFor(method string) string {
	switch method {
	case "stdpsf", "gaussian":
		return method
	}
	return "external"
}
