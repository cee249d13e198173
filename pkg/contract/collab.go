package contract

//go:generate mockgen -destination=mocks/mock_collab.go -package=mocks -source=collab.go Resampler,Aligner,NameResolver

import "context"

// ResampleRequest: 交给外部重采样协作方的一组输入。
type ResampleRequest struct {
	Object string
	Filter string
	// Inputs: 该 (object, filter) 组的工件路径（顺序不作保证）。
	Inputs []string
	// Output: 输出名前缀（例如 "<object>_<filter>_psf"）。
	Output string
	// Preserve: 保留原始输入（keeporig）。
	Preserve bool
	// Params: 调用方提供的原样参数块。
	Params map[string]any
}

// Resampler: 外部 drizzle/resample 协作方。
type Resampler interface {
	Resample(ctx context.Context, req ResampleRequest) error
}

// Aligner: 上游对齐步骤（按滤光片分组调用一次）。
type Aligner interface {
	Align(ctx context.Context, filter string, images []string) error
}

// NameResolver: 天体名称 → 坐标。
type NameResolver interface {
	Lookup(ctx context.Context, name string) (SkyCoord, error)
}
