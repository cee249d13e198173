// Package gaussian 生成解析二维高斯 PSF，不依赖外部工具，适合离线运行与端到端测试。
package gaussian

import (
	"context"
	"fmt"
	"math"

	"spikepsf/pkg/contract"
	"spikepsf/plugins/generator/external"
	"spikepsf/plugins/imagereader/fits"
)

// fwhm = 2√(2ln2)·σ
var fwhmToSigma = 1 / (2 * math.Sqrt(2*math.Ln2))

// Options: 缺省参数；同名 kwargs 覆盖之。
type Options struct {
	// FWHMArcsec: 半高全宽（角秒），默认 0.1。
	FWHMArcsec float64 `json:"fwhm_arcsec"`
	// FOVArcsec: 模型视场边长（角秒），默认 6。
	FOVArcsec float64 `json:"fov_arcsec"`
	// Oversample: 相对探测器像素的过采样倍数，默认 1。
	Oversample  int    `json:"oversample"`
	CoordFormat string `json:"coord_format"`
}

// Generator 实现 contract.Generator。
type Generator struct {
	opts   Options
	format contract.CoordFormat
}

// New 校验并填充默认值。
func New(opts Options) (*Generator, error) {
	if opts.FWHMArcsec == 0 {
		opts.FWHMArcsec = 0.1
	}
	if opts.FOVArcsec == 0 {
		opts.FOVArcsec = 6
	}
	if opts.Oversample == 0 {
		opts.Oversample = 1
	}
	if opts.FWHMArcsec < 0 || opts.FOVArcsec < 0 || opts.Oversample < 0 {
		return nil, fmt.Errorf("%w: gaussian options must be positive", contract.ErrInvalidInput)
	}
	f := contract.CoordFormat(opts.CoordFormat)
	switch f {
	case "":
		f = contract.CoordDeg
	case contract.CoordDeg, contract.CoordHMS:
	default:
		return nil, fmt.Errorf("%w: coord_format %q", contract.ErrInvalidInput, opts.CoordFormat)
	}
	return &Generator{opts: opts, format: f}, nil
}

// Params: 单次生成的有效参数。
type Params struct {
	FWHMArcsec float64
	FOVArcsec  float64
	Oversample int
}

// Resolve 合并 kwargs（fwhm_arcsec、fov_arcsec、oversample）。
func (g *Generator) Resolve(kw map[string]any) (Params, error) {
	p := Params{FWHMArcsec: g.opts.FWHMArcsec, FOVArcsec: g.opts.FOVArcsec, Oversample: g.opts.Oversample}
	if v, ok := external.Float(kw, "fwhm_arcsec"); ok {
		p.FWHMArcsec = v
	}
	if v, ok := external.Float(kw, "fov_arcsec"); ok {
		p.FOVArcsec = v
	}
	if v, ok := external.Float(kw, "oversample"); ok {
		p.Oversample = int(v)
	}
	if p.FWHMArcsec <= 0 || p.FOVArcsec <= 0 || p.Oversample < 1 {
		return Params{}, fmt.Errorf("%w: gaussian fwhm=%g fov=%g oversample=%d", contract.ErrInvalidInput, p.FWHMArcsec, p.FOVArcsec, p.Oversample)
	}
	return p, nil
}

// Generate 在模型网格上采样归一化高斯，中心带有目标位置的亚像素偏移。
func (g *Generator) Generate(ctx context.Context, req contract.GenerateRequest) (contract.PSFModel, error) {
	if err := ctx.Err(); err != nil {
		return contract.PSFModel{}, err
	}
	if req.PlateScale <= 0 {
		return contract.PSFModel{}, fmt.Errorf("%w: plate scale %g", contract.ErrInvalidInput, req.PlateScale)
	}
	p, err := g.Resolve(req.Kwargs)
	if err != nil {
		return contract.PSFModel{}, err
	}
	scale := req.PlateScale / float64(p.Oversample)
	n := int(math.Round(p.FOVArcsec / scale))
	if n%2 == 0 {
		n++
	}
	if n < 3 {
		n = 3
	}
	fx := (req.Position.X - math.Round(req.Position.X)) * float64(p.Oversample)
	fy := (req.Position.Y - math.Round(req.Position.Y)) * float64(p.Oversample)
	data := Render(n, float64(n/2)+fx, float64(n/2)+fy, p.FWHMArcsec*fwhmToSigma/scale)

	path := contract.ModelName(req.Image, req.Coord, req.Position.Filter, g.format)
	hdr := contract.Header{
		"CTYPE1":   "RA---TAN",
		"CTYPE2":   "DEC--TAN",
		"CRVAL1":   req.Coord.RA,
		"CRVAL2":   req.Coord.Dec,
		"CRPIX1":   float64(n/2) + fx + 1,
		"CRPIX2":   float64(n/2) + fy + 1,
		"CD1_1":    -scale / 3600,
		"CD1_2":    0.0,
		"CD2_1":    0.0,
		"CD2_2":    scale / 3600,
		"INSTCAM":  req.InstCam,
		"FILTER":   req.Position.Filter,
		"DETECTOR": req.Position.Chip,
		"PSFX":     req.Position.X,
		"PSFY":     req.Position.Y,
		"FWHM":     p.FWHMArcsec,
		"OVERSAMP": int64(p.Oversample),
		"PSFMETH":  "gaussian",
	}
	if err := fits.WriteFile(path, fits.Plane{Header: hdr, Width: n, Height: n, Data: data}); err != nil {
		return contract.PSFModel{}, fmt.Errorf("%w: write %s: %w", contract.ErrGenerationFailure, path, err)
	}
	return contract.PSFModel{Path: path, Width: n, Height: n}, nil
}

// Render 返回 n×n、总和为 1 的高斯，中心 (cx, cy) 为 0 起点像素坐标。
func Render(n int, cx, cy, sigma float64) []float64 {
	out := make([]float64, n*n)
	var sum float64
	k := -1 / (2 * sigma * sigma)
	for y := 0; y < n; y++ {
		dy := float64(y) - cy
		for x := 0; x < n; x++ {
			dx := float64(x) - cx
			v := math.Exp(k * (dx*dx + dy*dy))
			out[y*n+x] = v
			sum += v
		}
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}
