// Package resolver 将天球坐标解析为曝光上的像素位置、芯片与滤光片，
// 并为落在探测器上的坐标生成本地化工作副本。
package resolver

import (
	"context"
	"fmt"
	"strings"

	"spikepsf/internal/diag"
	"spikepsf/internal/geometry"
	"spikepsf/internal/wcs"
	"spikepsf/pkg/contract"
)

const comp = "resolver"

// CopyFunc 生成工作副本；同一 dst 重复调用须为覆盖语义。
type CopyFunc func(ctx context.Context, src, dst string) error

// Options: 解析器依赖。
type Options struct {
	// Reader: 图像头读取协作方（必需）。
	Reader contract.ImageReader
	// Format: 工作副本名中的坐标写法；空为 deg。
	Format contract.CoordFormat
	// Copy: 工作副本生成；nil 使用 CopyAtomic。
	Copy CopyFunc
	// NoCopy: 只解析位置，不落盘（resolve 子命令）。
	NoCopy bool
	Logger *diag.Logger
}

// Placement: 单个坐标在一幅曝光上的完整解析结果。
type Placement struct {
	Position    contract.PositionRecord
	WorkingCopy string
	PlateScale  float64
	InstCam     string
}

// Resolver: CoordinateResolver。无内部可变状态，可在协调方复用。
type Resolver struct {
	reader contract.ImageReader
	format contract.CoordFormat
	copy   CopyFunc
	noCopy bool
	log    *diag.Logger
}

// New 构造解析器。
func New(opts Options) (*Resolver, error) {
	if opts.Reader == nil {
		return nil, fmt.Errorf("%w: resolver requires an image reader", contract.ErrInvalidInput)
	}
	r := &Resolver{reader: opts.Reader, format: opts.Format, copy: opts.Copy, noCopy: opts.NoCopy, log: opts.Logger}
	if r.format == "" {
		r.format = contract.CoordDeg
	}
	if r.copy == nil {
		r.copy = CopyAtomic
	}
	if r.log == nil {
		r.log = diag.Nop()
	}
	return r, nil
}

// ResolveOne 解析单个坐标。
func (r *Resolver) ResolveOne(ctx context.Context, coord contract.SkyCoord, imagePath, instrument, camera string) (contract.PositionRecord, error) {
	recs, err := r.Resolve(ctx, []contract.SkyCoord{coord}, imagePath, instrument, camera)
	if err != nil {
		return contract.OffDetector(), err
	}
	return recs[0], nil
}

// Resolve 批量解析：返回与 coords 等长、同序的记录；不在任何芯片上的坐标为哨兵记录。
func (r *Resolver) Resolve(ctx context.Context, coords []contract.SkyCoord, imagePath, instrument, camera string) ([]contract.PositionRecord, error) {
	ps, err := r.Locate(ctx, coords, imagePath, instrument, camera)
	if err != nil {
		return nil, err
	}
	out := make([]contract.PositionRecord, len(ps))
	for i, p := range ps {
		out[i] = p.Position
	}
	return out, nil
}

type chipView struct {
	chip   geometry.Chip
	id     string
	tr     *wcs.Transform
	width  int
	height int
}

// Locate 同 Resolve，并附带工作副本路径与像元尺度。
func (r *Resolver) Locate(ctx context.Context, coords []contract.SkyCoord, imagePath, instrument, camera string) ([]Placement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	im, err := r.reader.ReadHeaders(ctx, imagePath)
	if err != nil {
		return nil, err
	}
	primary := im.Primary()
	layout, err := LayoutFor(primary, instrument, camera)
	if err != nil {
		return nil, err
	}
	filter, err := Filter(primary, layout.FilterPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w (image %s)", err, imagePath)
	}
	chips, err := r.chips(layout, im, imagePath)
	if err != nil {
		return nil, err
	}

	out := make([]Placement, len(coords))
	copied := map[string]bool{}
	for i, c := range coords {
		out[i] = Placement{Position: contract.OffDetector(), InstCam: layout.InstCam()}
		hit := -1
		for j, cv := range chips {
			x, y, ok := cv.tr.WorldToPixel(c.RA, c.Dec)
			if !ok || !inBounds(x, y, cv.width, cv.height) {
				continue
			}
			if hit >= 0 {
				r.log.Warn(comp, "coordinate falls on more than one chip; first match wins", map[string]string{
					"image": imagePath, "coord": contract.CoordToken(c, contract.CoordDeg),
					"chosen": chips[hit].id, "also": cv.id,
				})
				break
			}
			hit = j
			out[i].Position = contract.PositionRecord{X: x, Y: y, Chip: cv.id, Filter: filter}
			out[i].PlateScale = layout.ScaleFor(cv.id)
		}
		if hit < 0 {
			continue
		}
		dst := contract.WorkingCopyName(imagePath, c, filter, r.format)
		out[i].WorkingCopy = dst
		if r.noCopy || copied[dst] {
			continue
		}
		if err := r.copy(ctx, imagePath, dst); err != nil {
			return nil, fmt.Errorf("working copy %s: %w", dst, err)
		}
		copied[dst] = true
	}
	return out, nil
}

// chips 按布局迭代序构造各芯片的变换；图像中缺失的扩展（子阵列）跳过。
func (r *Resolver) chips(l geometry.Layout, im *contract.Image, imagePath string) ([]chipView, error) {
	views := make([]chipView, 0, len(l.Chips))
	for _, c := range l.Chips {
		hdu, ok := im.HDU(c.Ext)
		if !ok {
			r.log.DebugStart(comp, "chip extension absent", imagePath, "", map[string]string{"ext": fmt.Sprint(c.Ext)})
			continue
		}
		tr, err := wcs.FromHeader(hdu.Header)
		if err != nil {
			return nil, fmt.Errorf("%s ext %d: %w", imagePath, c.Ext, err)
		}
		w, h := c.Width, c.Height
		if hdu.Width() > 0 && hdu.Height() > 0 {
			w, h = hdu.Width(), hdu.Height()
		}
		views = append(views, chipView{chip: c, id: l.ChipID(c, im.Primary(), imagePath), tr: tr, width: w, height: h})
	}
	if len(views) == 0 {
		return nil, fmt.Errorf("%w: %s has none of the %s science extensions", contract.ErrInvalidInput, imagePath, l.InstCam())
	}
	return views, nil
}

func inBounds(x, y float64, w, h int) bool {
	return x >= 0 && x < float64(w) && y >= 0 && y < float64(h)
}

// LayoutFor 以调用方给出的仪器/相机为准；缺省时取主头 INSTRUME/DETECTOR。
func LayoutFor(primary contract.Header, instrument, camera string) (geometry.Layout, error) {
	if strings.TrimSpace(instrument) == "" {
		instrument, _ = primary.String("INSTRUME")
	}
	l, err := geometry.LayoutFor(instrument, camera)
	if err == nil || strings.TrimSpace(camera) != "" {
		return l, err
	}
	if det, ok := primary.String("DETECTOR"); ok {
		if l2, err2 := geometry.LayoutFor(instrument, det); err2 == nil {
			return l2, nil
		}
	}
	return l, err
}

// Filter 取滤光片名：FILTER 优先；否则在 FILTER1/FILTER2 中取以 prefix 开头者
// （前缀比较不区分大小写），都不匹配时取 FILTER2。返回头中的原值，不做大小写转换。
func Filter(h contract.Header, prefix string) (string, error) {
	if f, ok := h.String("FILTER"); ok {
		return f, nil
	}
	if prefix == "" {
		prefix = "F"
	}
	prefix = strings.ToUpper(prefix)
	f1, ok1 := h.String("FILTER1")
	f2, ok2 := h.String("FILTER2")
	switch {
	case ok1 && strings.HasPrefix(strings.ToUpper(f1), prefix):
		return f1, nil
	case ok2 && strings.HasPrefix(strings.ToUpper(f2), prefix):
		return f2, nil
	case ok2:
		return f2, nil
	}
	return "", fmt.Errorf("%w: neither FILTER nor FILTER1/FILTER2 present", contract.ErrFilterNotFound)
}
