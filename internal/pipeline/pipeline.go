// Package pipeline 串联一次完整运行：
// 发现曝光 → 识别仪器并选择后端 → 解析目标 → keeporig → 对齐 → 调度生成（批次交给重采样）
// → drizzleimgs → 收集到 savedir → 写出组清单。
// 仪器、方法与目标的错误都在改动输入文件之前返回。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"spikepsf/internal/diag"
	"spikepsf/internal/dispatch"
	"spikepsf/internal/resolver"
	"spikepsf/internal/scheduler"
	"spikepsf/internal/skycoord"
	"spikepsf/pkg/contract"
)

// - 单点并发：并发只出现在调度器的 worker 池与按滤光片的重采样扇出；
// - 首错即止：任何阶段失败直接返回，已提交批次的产物保留在磁盘上；
// - 组清单只在全部成功后写出。

// Components 聚合运行所需的协作方。Resampler/Aligner/NameResolver/Writer 可为空。
type Components struct {
	Source       contract.ImageSource
	Reader       contract.ImageReader
	Writer       contract.Writer
	Resampler    contract.Resampler
	Aligner      contract.Aligner
	NameResolver contract.NameResolver
	// Generators: 方法名 → 生成器（只需包含将被选中的方法）。
	Generators map[string]contract.Generator
	// User: method=user 且未给出 UserGlob 时使用。
	User contract.UserBackend
}

// Settings 运行期配置。
type Settings struct {
	Images     []string
	ImgType    string
	Instrument string
	Camera     string
	Objects    []string
	Method     string
	// UserGlob: method=user 时的预生成工件模式。
	UserGlob string

	Parallel bool
	Workers  int

	Pretweaked  bool
	KeepOrig    bool
	DrizzleImgs bool
	// SaveDir: 非空时运行结束后把派生产物移入该目录。
	SaveDir     string
	CoordFormat contract.CoordFormat

	Kwargs         map[string]any
	ResampleParams map[string]any

	// Manifest: 组清单的 ArtifactID，默认 groups.yaml。
	Manifest string
	// MetricsTextfile: 非空时在结束时导出 Prometheus 文本。
	MetricsTextfile string

	Tracer trace.Tracer
}

// Result: 一次运行的摘要。
type Result struct {
	Method   string
	InstCam  string
	Images   []string
	Objects  []contract.Object
	Groups   map[contract.GroupKey][]string
	Warnings []string
	Moved    int
}

// Run 执行完整流程。logger 可为 nil。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (*Result, error) {
	if logger == nil {
		logger = diag.Nop()
	}
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	t0 := time.Now()
	ctx, span := diag.StartSpan(ctx, set.Tracer, "pipeline.run", trace.WithAttributes(
		diag.AttrMethod.String(set.Method),
	))
	res, err := run(ctx, comp, set, logger)
	diag.RecordError(span, err)
	span.End()
	if set.MetricsTextfile != "" {
		if merr := diag.WriteTextfile(set.MetricsTextfile); merr != nil {
			logger.Warn("pipeline", "metrics textfile not written", map[string]string{"path": set.MetricsTextfile, "err": merr.Error()})
		}
	}
	if err != nil {
		return nil, err
	}
	logger.InfoFinish("pipeline", "run", t0, int64(len(res.Groups)))
	return res, nil
}

func run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (*Result, error) {
	images, err := stage(logger, "source", "list", func() ([]string, error) {
		return comp.Source.List(ctx, set.Images, set.ImgType)
	})
	if err != nil {
		return nil, fmt.Errorf("source list: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no *%s.fits images under %s", contract.ErrInvalidInput, set.ImgType, strings.Join(set.Images, ", "))
	}
	res := &Result{Method: set.Method, Images: images}

	inst, cam, err := instrument(ctx, comp.Reader, images[0], set.Instrument, set.Camera)
	if err != nil {
		return nil, err
	}
	d := dispatch.New(comp.Generators, dispatch.Options{Parallel: set.Parallel, Logger: logger})
	var user contract.UserBackend = comp.User
	if strings.TrimSpace(set.UserGlob) != "" {
		user = contract.ArtifactGlob{Pattern: set.UserGlob}
	}
	sel, err := d.Select(set.Method, inst, cam, user)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	res.Method = sel.Handle.Method
	res.InstCam = contract.InstCam(inst, cam)
	res.Warnings = sel.Warnings

	if !sel.Handle.Collects() {
		if err := checkLayout(ctx, comp.Reader, images[0], set.Instrument, set.Camera); err != nil {
			return nil, err
		}
		if res.Objects, err = skycoord.Objects(ctx, set.Objects, comp.NameResolver); err != nil {
			return nil, fmt.Errorf("objects: %w", err)
		}
	}

	if set.KeepOrig {
		if err := keepOriginals(ctx, images, logger); err != nil {
			return nil, fmt.Errorf("keeporig: %w", err)
		}
	}

	var byFilter map[string][]string
	if (!set.Pretweaked && comp.Aligner != nil) || (set.DrizzleImgs && comp.Resampler != nil) {
		if byFilter, err = imagesByFilter(ctx, comp.Reader, images); err != nil {
			return nil, err
		}
	}
	if !set.Pretweaked && comp.Aligner != nil {
		if err := align(ctx, comp.Aligner, byFilter, set.Parallel, logger); err != nil {
			return nil, fmt.Errorf("align: %w", err)
		}
	}

	loc, err := resolver.New(resolver.Options{Reader: comp.Reader, Format: set.CoordFormat, Logger: logger})
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Options{
		Locator:  loc,
		Parallel: set.Parallel,
		Workers:  set.Workers,
		Kwargs:   set.Kwargs,
		Handoff:  resampleHandoff(comp.Resampler, set, logger),
		Logger:   logger,
		Tracer:   set.Tracer,
	})
	agg, err := sched.Run(ctx, scheduler.Request{
		Images:     images,
		Objects:    res.Objects,
		Instrument: inst,
		Camera:     cam,
		Backend:    sel.Handle,
	})
	if err != nil {
		return nil, err
	}

	if set.DrizzleImgs && comp.Resampler != nil {
		if err := drizzleImages(ctx, comp.Resampler, byFilter, set, logger); err != nil {
			return nil, fmt.Errorf("drizzleimgs: %w", err)
		}
	}

	groups := agg.Groups()
	if set.SaveDir != "" {
		moved, err := collect(ctx, images, set.SaveDir, logger)
		if err != nil {
			return nil, fmt.Errorf("collect: %w", err)
		}
		res.Moved = len(moved)
		groups = relocate(groups, moved)
	}
	res.Groups = groups

	if comp.Writer != nil {
		if err := writeManifest(ctx, comp.Writer, set.Manifest, res, logger); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
	}
	return res, nil
}

func sanity(comp Components, set Settings) error {
	var errs []error
	if comp.Source == nil {
		errs = append(errs, fmt.Errorf("%w: image source is required", contract.ErrInvalidInput))
	}
	if comp.Reader == nil {
		errs = append(errs, fmt.Errorf("%w: image reader is required", contract.ErrInvalidInput))
	}
	if len(set.Images) == 0 {
		errs = append(errs, fmt.Errorf("%w: images is empty", contract.ErrInvalidInput))
	}
	if strings.TrimSpace(set.Method) == "" {
		errs = append(errs, fmt.Errorf("%w: method is empty", contract.ErrInvalidInput))
	}
	if set.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w: workers must be >= 0", contract.ErrInvalidInput))
	}
	return errors.Join(errs...)
}

// stage 以 start/finish/error 事件包裹一个阶段。
func stage[T any](logger *diag.Logger, comp, msg string, f func() ([]T, error)) ([]T, error) {
	tm := logger.Start(comp, msg)
	t0 := time.Now()
	out, err := f()
	if err != nil {
		code := diag.Classify(err)
		logger.Error(comp, string(code), msg+" failed", &t0)
		diag.IncOp(comp, "error", "error")
		diag.IncError(comp, string(code))
		return nil, err
	}
	tm.Finish(msg, int64(len(out)))
	diag.IncOp(comp, "finish", "success")
	diag.ObserveDuration(comp, msg, time.Since(t0).Milliseconds())
	return out, nil
}

// instrument 以配置为准；缺省时读取首幅曝光主头的 INSTRUME 与 DETECTOR/CAMERA。
func instrument(ctx context.Context, r contract.ImageReader, image, inst, cam string) (string, string, error) {
	if strings.TrimSpace(inst) != "" {
		return strings.ToUpper(strings.TrimSpace(inst)), strings.ToUpper(strings.TrimSpace(cam)), nil
	}
	im, err := r.ReadHeaders(ctx, image)
	if err != nil {
		return "", "", fmt.Errorf("instrument: %w", err)
	}
	h := im.Primary()
	v, ok := h.String("INSTRUME")
	if !ok || strings.TrimSpace(v) == "" {
		return "", "", fmt.Errorf("%w: %s has no INSTRUME keyword; set instrument", contract.ErrUnsupportedInstrument, image)
	}
	if cam == "" {
		for _, k := range []string{"CAMERA", "DETECTOR"} {
			if c, ok := h.String(k); ok && c != "" {
				cam = c
				break
			}
		}
	}
	return strings.ToUpper(strings.TrimSpace(v)), strings.ToUpper(strings.TrimSpace(cam)), nil
}

// checkLayout 在改动任何输入之前确认几何表登记了该曝光的仪器/相机。
func checkLayout(ctx context.Context, r contract.ImageReader, image, inst, cam string) error {
	im, err := r.ReadHeaders(ctx, image)
	if err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if _, err := resolver.LayoutFor(im.Primary(), inst, cam); err != nil {
		return contract.Triple(err, err, "", image, nil)
	}
	return nil
}

// imagesByFilter 按主头滤光片分组。
func imagesByFilter(ctx context.Context, r contract.ImageReader, images []string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, p := range images {
		im, err := r.ReadHeaders(ctx, p)
		if err != nil {
			return nil, err
		}
		f, err := resolver.Filter(im.Primary(), "F")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out[f] = append(out[f], p)
	}
	return out, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// align 每个滤光片调用一次对齐；并行时按滤光片扇出。
func align(ctx context.Context, a contract.Aligner, byFilter map[string][]string, parallel bool, logger *diag.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	if !parallel {
		g.SetLimit(1)
	}
	for _, f := range sortedKeys(byFilter) {
		imgs := byFilter[f]
		g.Go(func() error {
			tm := logger.StartWithKV("aligner", "align", "", f, map[string]string{"count": fmt.Sprint(len(imgs))})
			if err := a.Align(gctx, f, imgs); err != nil {
				logger.ErrorWith("aligner", string(diag.Classify(err)), err.Error(), nil, "", f)
				diag.IncError("aligner", string(diag.Classify(err)))
				return err
			}
			tm.Finish("align", int64(len(imgs)))
			diag.IncOp("aligner", "finish", "success")
			return nil
		})
	}
	return g.Wait()
}

// resampleHandoff 返回批次交接：每个滤光片组交给重采样，输出 <object>_<filter>_psf。
func resampleHandoff(rs contract.Resampler, set Settings, logger *diag.Logger) scheduler.Handoff {
	if rs == nil {
		return nil
	}
	return func(ctx context.Context, object string, filters map[string][]string) error {
		g, gctx := errgroup.WithContext(ctx)
		if !set.Parallel {
			g.SetLimit(1)
		}
		for _, f := range sortedKeys(filters) {
			req := contract.ResampleRequest{
				Object:   object,
				Filter:   f,
				Inputs:   append([]string(nil), filters[f]...),
				Output:   contract.ResampleOutput(object, f),
				Preserve: set.KeepOrig,
				Params:   set.ResampleParams,
			}
			g.Go(func() error {
				ctx, span := diag.StartSpan(gctx, set.Tracer, "pipeline.resample", trace.WithAttributes(
					diag.AttrObject.String(object),
					diag.AttrFilter.String(f),
				))
				defer span.End()
				tm := logger.StartWithKV("resampler", "resample", "", req.Output, map[string]string{"object": object, "filter": f})
				if err := rs.Resample(ctx, req); err != nil {
					diag.RecordError(span, err)
					code := diag.Classify(err)
					logger.ErrorWithKV("resampler", string(code), err.Error(), nil, "", req.Output, map[string]string{"object": object, "filter": f})
					diag.IncError("resampler", string(code))
					return err
				}
				tm.Finish("resample", int64(len(req.Inputs)))
				diag.IncOp("resampler", "finish", "success")
				return nil
			})
		}
		return g.Wait()
	}
}

// drizzleImages 按滤光片组合科学曝光本身，输出 <filter>_sci。
func drizzleImages(ctx context.Context, rs contract.Resampler, byFilter map[string][]string, set Settings, logger *diag.Logger) error {
	for _, f := range sortedKeys(byFilter) {
		req := contract.ResampleRequest{
			Filter:   f,
			Inputs:   byFilter[f],
			Output:   contract.SanitizeToken(f) + "_sci",
			Preserve: set.KeepOrig,
			Params:   set.ResampleParams,
		}
		tm := logger.StartWith("resampler", "drizzle images", "", req.Output)
		if err := rs.Resample(ctx, req); err != nil {
			logger.ErrorWith("resampler", string(diag.Classify(err)), err.Error(), nil, "", req.Output)
			return err
		}
		tm.Finish("drizzle images", int64(len(req.Inputs)))
	}
	return nil
}

// relocate 把组内路径替换为收集后的新位置。
func relocate(groups map[contract.GroupKey][]string, moved map[string]string) map[contract.GroupKey][]string {
	if len(moved) == 0 {
		return groups
	}
	out := make(map[contract.GroupKey][]string, len(groups))
	for k, paths := range groups {
		np := make([]string, len(paths))
		for i, p := range paths {
			if to, ok := moved[filepath.Clean(p)]; ok {
				np[i] = to
			} else {
				np[i] = p
			}
		}
		out[k] = np
	}
	return out
}
