// Package external 把外部 PSF 工具（tiny_tim、webbpsf 脚本、psfex 等）包装为 Generator。
//
// 命令模板中的占位符见 Vars；工具需把模型写到 output 模板指向的文件。
package external

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"spikepsf/pkg/contract"
	"spikepsf/plugins/external"
	"spikepsf/plugins/imagereader/fits"
)

// Options: 命令定义 + 输出约定。
type Options struct {
	external.Options
	// Output: 模型文件路径模板，默认 "{model}"。
	Output string `json:"output"`
	// CoordFormat: 文件名中的坐标写法（deg|hms）。
	CoordFormat string `json:"coord_format"`
}

// Generator 实现 contract.Generator。
type Generator struct {
	run    *external.Runner
	output string
	format contract.CoordFormat
	reader *fits.Reader
}

// New 创建外部命令生成器。
func New(opts Options) (*Generator, error) {
	r, err := external.New(opts.Options)
	if err != nil {
		return nil, err
	}
	g := &Generator{run: r, output: opts.Output, format: contract.CoordFormat(opts.CoordFormat), reader: fits.New(nil)}
	if strings.TrimSpace(g.output) == "" {
		g.output = "{model}"
	}
	switch g.format {
	case "":
		g.format = contract.CoordDeg
	case contract.CoordDeg, contract.CoordHMS:
	default:
		return nil, fmt.Errorf("%w: coord_format %q", contract.ErrInvalidInput, opts.CoordFormat)
	}
	return g, nil
}

// Generate 运行命令并读取输出模型的尺寸。
func (g *Generator) Generate(ctx context.Context, req contract.GenerateRequest) (contract.PSFModel, error) {
	return g.GenerateWith(ctx, req, nil)
}

// GenerateWith 在标准占位符之外追加 extra（同名时 extra 优先）。
func (g *Generator) GenerateWith(ctx context.Context, req contract.GenerateRequest, extra map[string]string) (contract.PSFModel, error) {
	vars := Vars(req, g.format)
	for k, v := range extra {
		vars[k] = v
	}
	out := external.Expand(g.output, vars)
	vars["output"] = out
	if _, err := g.run.Run(ctx, vars); err != nil {
		return contract.PSFModel{}, fmt.Errorf("%w: %w", contract.ErrGenerationFailure, err)
	}
	return Inspect(ctx, g.reader, out)
}

// Inspect 读取模型文件头，取首个二维 HDU 的尺寸。
func Inspect(ctx context.Context, r contract.ImageReader, path string) (contract.PSFModel, error) {
	if _, err := os.Stat(path); err != nil {
		return contract.PSFModel{}, fmt.Errorf("%w: model %s not written: %w", contract.ErrGenerationFailure, path, err)
	}
	im, err := r.ReadHeaders(ctx, path)
	if err != nil {
		return contract.PSFModel{}, fmt.Errorf("%w: model %s: %w", contract.ErrGenerationFailure, path, err)
	}
	for _, h := range im.HDUs {
		if h.Width() > 0 && h.Height() > 0 {
			return contract.PSFModel{Path: path, Width: h.Width(), Height: h.Height()}, nil
		}
	}
	return contract.PSFModel{}, fmt.Errorf("%w: model %s has no image plane", contract.ErrGenerationFailure, path)
}

// Vars 返回一次生成可用的模板变量：
//
//	image stem workdir working_copy model coord ra dec x y ix iy chip filter
//	instcam instrument camera plate_scale fov_arcsec fov_pixels
//
// 以及 Kwargs 中未与上述重名的键。
func Vars(req contract.GenerateRequest, format contract.CoordFormat) map[string]string {
	inst, cam, _ := strings.Cut(req.InstCam, "/")
	filter := req.Position.Filter
	fov := 6.0
	if v, ok := Float(req.Kwargs, "fov_arcsec"); ok && v > 0 {
		fov = v
	}
	fovPix := 0
	if req.PlateScale > 0 {
		fovPix = int(math.Round(fov / req.PlateScale))
	}
	stem := strings.TrimSuffix(filepath.Base(req.Image), filepath.Ext(req.Image))
	vars := map[string]string{
		"image":        req.Image,
		"stem":         stem,
		"workdir":      filepath.Dir(req.Image),
		"working_copy": req.WorkingCopy,
		"model":        contract.ModelName(req.Image, req.Coord, filter, format),
		"coord":        contract.CoordToken(req.Coord, format),
		"ra":           ftoa(req.Coord.RA),
		"dec":          ftoa(req.Coord.Dec),
		"x":            strconv.FormatFloat(req.Position.X, 'f', 3, 64),
		"y":            strconv.FormatFloat(req.Position.Y, 'f', 3, 64),
		"ix":           strconv.Itoa(int(req.Position.X)),
		"iy":           strconv.Itoa(int(req.Position.Y)),
		"chip":         req.Position.Chip,
		"filter":       filter,
		"instcam":      req.InstCam,
		"instrument":   inst,
		"camera":       cam,
		"plate_scale":  ftoa(req.PlateScale),
		"fov_arcsec":   ftoa(fov),
		"fov_pixels":   strconv.Itoa(fovPix),
	}
	for k, v := range req.Kwargs {
		if _, taken := vars[k]; !taken {
			vars[k] = fmt.Sprint(v)
		}
	}
	return vars
}

// Float 从 kwargs 取数值（接受数字与数字字符串）。
func Float(kw map[string]any, key string) (float64, bool) {
	v, ok := kw[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
