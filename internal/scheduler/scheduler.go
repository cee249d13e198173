// Package scheduler 遍历 (曝光 × 目标)，经 resolver 定位后执行生成作业。
//
// 协调方负责定位、分组与收尾；worker 只执行 Generator 并返回工件路径。
// 每个目标为一个批次：批内作业全部完成（或首个失败）后才提交到聚合器并交给重采样。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"spikepsf/internal/diag"
	"spikepsf/internal/group"
	"spikepsf/internal/resolver"
	"spikepsf/pkg/contract"
)

const comp = "scheduler"

// Locator: 批量定位协作方（由 *resolver.Resolver 实现）。
type Locator interface {
	Locate(ctx context.Context, coords []contract.SkyCoord, imagePath, instrument, camera string) ([]resolver.Placement, error)
}

// Handoff 在目标批次提交后被调用，filters 为 filter → 工件路径。
type Handoff func(ctx context.Context, object string, filters map[string][]string) error

// Options: 调度参数。
type Options struct {
	Locator Locator
	// Parallel: 使用 worker 池；否则按提交顺序同步执行。
	Parallel bool
	// Workers: 池大小；<=0 时取 max(1, NumCPU-1)。
	Workers int
	// Kwargs: 透传给后端的参数（每个作业拿到独立副本）。
	Kwargs map[string]any
	// Handoff: 可选的批次交接（重采样）。
	Handoff Handoff
	Logger  *diag.Logger
	Tracer  trace.Tracer
}

// Request: 一次运行的输入。
type Request struct {
	Images     []string
	Objects    []contract.Object
	Instrument string
	Camera     string
	Backend    contract.BackendHandle
}

// Scheduler: JobScheduler。
type Scheduler struct {
	loc      Locator
	parallel bool
	workers  int
	kwargs   map[string]any
	handoff  Handoff
	log      *diag.Logger
	tracer   trace.Tracer
}

// New 构造调度器；生成模式需要 Locator，收集模式可为空。
func New(opts Options) *Scheduler {
	s := &Scheduler{
		loc:      opts.Locator,
		parallel: opts.Parallel,
		workers:  opts.Workers,
		kwargs:   opts.Kwargs,
		handoff:  opts.Handoff,
		log:      opts.Logger,
		tracer:   opts.Tracer,
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers()
	}
	if s.log == nil {
		s.log = diag.Nop()
	}
	if s.tracer == nil {
		s.tracer = diag.Tracer()
	}
	return s
}

// DefaultWorkers 预留一个核给协调方与 I/O。
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

// Workers 返回实际生效的并行度（顺序模式为 1）。
func (s *Scheduler) Workers() int {
	if !s.parallel {
		return 1
	}
	return s.workers
}

// Batch: 一个目标的全部作业。
type Batch struct {
	Object  string
	Jobs    []contract.GenerationJob
	Skipped int
}

type result struct {
	job      contract.GenerationJob
	artifact string
}

// Run 执行全部批次，返回聚合结果。
// 任一作业失败即中止：失败批次不提交，错误携带 (object, image, coord)。
func (s *Scheduler) Run(ctx context.Context, req Request) (*group.Aggregator, error) {
	ctx, span := diag.StartSpan(ctx, s.tracer, "scheduler.run", trace.WithAttributes(
		diag.AttrMethod.String(req.Backend.Method),
		attribute.Int("run.images", len(req.Images)),
		attribute.Int("run.objects", len(req.Objects)),
		attribute.Bool("run.parallel", s.parallel),
	))
	defer span.End()

	t0 := time.Now()
	if term := diag.GetTerminal(); term != nil {
		term.RunStart(s.Workers(), req.Backend.Method)
	}
	var (
		agg *group.Aggregator
		err error
	)
	if req.Backend.Collects() {
		agg, err = s.collect(ctx, req.Backend.Glob)
	} else {
		agg, err = s.generate(ctx, req)
	}
	if term := diag.GetTerminal(); term != nil {
		term.RunFinish(err == nil, time.Since(t0))
	}
	if err != nil {
		diag.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(diag.AttrCount.Int(agg.Len()))
	return agg, nil
}

func (s *Scheduler) generate(ctx context.Context, req Request) (*group.Aggregator, error) {
	if s.loc == nil {
		return nil, fmt.Errorf("%w: scheduler: nil locator", contract.ErrInvalidInput)
	}
	if req.Backend.Generator == nil {
		return nil, fmt.Errorf("%w: backend %q has no generator", contract.ErrInvalidInput, req.Backend.Method)
	}
	batches, err := s.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	agg := group.New()
	for _, b := range batches {
		if err := s.runBatch(ctx, req.Backend, b, agg); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

// Plan 在执行任何作业前完成全部定位，构造按目标划分的批次。
// 定位错误在此处直接返回，不会留下部分生成结果。
func (s *Scheduler) Plan(ctx context.Context, req Request) ([]Batch, error) {
	if len(req.Objects) == 0 {
		return nil, fmt.Errorf("%w: no objects", contract.ErrInvalidInput)
	}
	coords := make([]contract.SkyCoord, len(req.Objects))
	for i, o := range req.Objects {
		coords[i] = o.Coord
	}
	batches := make([]Batch, len(req.Objects))
	for i, o := range req.Objects {
		batches[i].Object = o.ID
	}
	owner := map[string]string{}
	timer := s.log.Start(comp, "plan")
	for _, img := range req.Images {
		pls, err := s.loc.Locate(ctx, coords, img, req.Instrument, req.Camera)
		if err != nil {
			code := diag.Classify(err)
			s.log.ErrorWithKV(comp, string(code), "locate failed", nil, img, "", map[string]string{"image": img})
			diag.IncOp(comp, "locate", "error")
			return nil, contract.Triple(err, err, "", img, nil)
		}
		for i, p := range pls {
			o := req.Objects[i]
			if !p.Position.OnDetector() {
				batches[i].Skipped++
				continue
			}
			if prev, ok := owner[p.WorkingCopy]; ok && p.WorkingCopy != "" {
				return nil, fmt.Errorf("%w: objects %q and %q share working copy %s", contract.ErrInvariantViolation, prev, o.ID, p.WorkingCopy)
			}
			owner[p.WorkingCopy] = o.ID
			batches[i].Jobs = append(batches[i].Jobs, contract.GenerationJob{
				Object:      o.ID,
				Image:       img,
				Coord:       o.Coord,
				Position:    p.Position,
				InstCam:     p.InstCam,
				PlateScale:  p.PlateScale,
				Method:      req.Backend.Method,
				Kwargs:      maps.Clone(s.kwargs),
				WorkingCopy: p.WorkingCopy,
			})
		}
	}
	n := 0
	for _, b := range batches {
		n += len(b.Jobs)
	}
	timer.Finish("plan", int64(n))
	return batches, nil
}

func (s *Scheduler) runBatch(ctx context.Context, backend contract.BackendHandle, b Batch, agg *group.Aggregator) error {
	ctx, span := diag.StartSpan(ctx, s.tracer, "scheduler.batch", trace.WithAttributes(diag.AttrObject.String(b.Object)))
	defer span.End()

	term := diag.GetTerminal()
	if term != nil {
		term.ObjectStart(b.Object, len(b.Jobs))
	}
	t0 := time.Now()
	if len(b.Jobs) == 0 {
		s.log.Warn(comp, "object falls on no exposure", map[string]string{"object": b.Object, "skipped": fmt.Sprint(b.Skipped)})
		if term != nil {
			term.ObjectFinish(true, 0, time.Since(t0))
		}
		return nil
	}

	timer := s.log.StartWithKV(comp, "batch", "", b.Object, map[string]string{"jobs": fmt.Sprint(len(b.Jobs))})
	var (
		results []result
		err     error
	)
	if s.parallel {
		results, err = s.pool(ctx, backend, b)
	} else {
		results, err = s.sequential(ctx, backend, b)
	}
	if err == nil {
		err = s.commit(ctx, b.Object, results, agg)
	}
	if term != nil {
		term.ObjectFinish(err == nil, len(b.Jobs), time.Since(t0))
	}
	if err != nil {
		code := diag.Classify(err)
		s.log.ErrorWithKV(comp, string(code), "batch failed", &t0, "", b.Object, tripleKV(err))
		diag.IncOp(comp, "batch", "error")
		if code != diag.CodeUnknown {
			diag.IncError(comp, string(code))
		}
		diag.RecordError(span, err)
		return err
	}
	timer.Finish("batch", int64(len(results)))
	diag.IncOp(comp, "batch", "success")
	diag.ObserveDuration(comp, "batch", time.Since(t0).Milliseconds())
	return nil
}

// commit 先在暂存聚合器中记录，成功后并入主聚合器并交接。
func (s *Scheduler) commit(ctx context.Context, object string, results []result, agg *group.Aggregator) error {
	staged := group.New()
	for _, r := range results {
		if err := staged.Record(r.job.Object, r.job.Position.Filter, r.artifact); err != nil {
			return contract.Triple(err, contract.ErrInvariantViolation, r.job.Object, r.job.Image, &r.job.Coord)
		}
	}
	if err := agg.Merge(staged); err != nil {
		return err
	}
	if s.handoff == nil {
		return nil
	}
	return s.handoff(ctx, object, staged.ForObject(object))
}

func (s *Scheduler) sequential(ctx context.Context, backend contract.BackendHandle, b Batch) ([]result, error) {
	out := make([]result, 0, len(b.Jobs))
	term := diag.GetTerminal()
	for i, job := range b.Jobs {
		artifact, err := s.execute(ctx, backend.Generator, job)
		if err != nil {
			return nil, err
		}
		out = append(out, result{job: job, artifact: artifact})
		if term != nil {
			term.JobProgress(i+1, len(b.Jobs), b.Skipped)
		}
	}
	return out, nil
}

// pool 以 errgroup 限流执行；worker 只向 results 发送，不触碰聚合器。
func (s *Scheduler) pool(ctx context.Context, backend contract.BackendHandle, b Batch) ([]result, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	results := make(chan result, len(b.Jobs))
	var done atomic.Int64
	term := diag.GetTerminal()

	for _, job := range b.Jobs {
		g.Go(func() error {
			artifact, err := s.execute(gctx, backend.Generator, job)
			if err != nil {
				return err
			}
			results <- result{job: job, artifact: artifact}
			if term != nil {
				term.JobProgress(int(done.Add(1)), len(b.Jobs), b.Skipped)
			}
			return nil
		})
	}
	err := g.Wait()
	close(results)
	if err != nil {
		return nil, err
	}
	out := make([]result, 0, len(b.Jobs))
	for r := range results {
		out = append(out, r)
	}
	return out, nil
}

// execute 运行单个作业并返回工件路径：模型文件优先，否则为工作副本。
func (s *Scheduler) execute(ctx context.Context, gen contract.Generator, job contract.GenerationJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", contract.Triple(err, contract.ErrGenerationFailure, job.Object, job.Image, &job.Coord)
	}
	ctx, span := diag.StartSpan(ctx, s.tracer, "scheduler.job", trace.WithAttributes(
		diag.AttrObject.String(job.Object),
		diag.AttrImage.String(job.Image),
		diag.AttrFilter.String(job.Position.Filter),
		diag.AttrChip.String(job.Position.Chip),
		diag.AttrInstCam.String(job.InstCam),
	))
	defer span.End()

	t0 := time.Now()
	s.log.DebugStart(comp, "job", job.Image, job.Object, map[string]string{"chip": job.Position.Chip, "filter": job.Position.Filter})
	model, err := gen.Generate(ctx, contract.GenerateRequest{
		Coord:       job.Coord,
		Image:       job.Image,
		InstCam:     job.InstCam,
		Position:    job.Position,
		PlateScale:  job.PlateScale,
		WorkingCopy: job.WorkingCopy,
		Kwargs:      job.Kwargs,
	})
	if err == nil && model.Empty() {
		err = errors.New("backend returned no model")
	}
	diag.ObserveDuration(comp, "job", time.Since(t0).Milliseconds())
	if err != nil {
		if !errors.Is(err, contract.ErrGenerationFailure) && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %w", contract.ErrGenerationFailure, err)
		}
		diag.IncOp(comp, "job", "error")
		diag.RecordError(span, err)
		return "", contract.Triple(err, contract.ErrGenerationFailure, job.Object, job.Image, &job.Coord)
	}
	diag.IncOp(comp, "job", "success")
	if model.Path != "" {
		return model.Path, nil
	}
	return job.WorkingCopy, nil
}

// collect 为预生成模式：按 glob 列出工件，从文件名解析 (object, filter)。
// 不调用 resolver 与生成后端。
func (s *Scheduler) collect(ctx context.Context, pattern string) (*group.Aggregator, error) {
	t0 := time.Now()
	paths, err := Match(ctx, pattern)
	if err != nil {
		return nil, err
	}
	agg := group.New()
	for _, p := range paths {
		an, err := contract.ParseArtifactName(p)
		if err != nil {
			s.log.ErrorWithKV(comp, string(diag.Classify(err)), "artifact name", nil, p, "", nil)
			return nil, err
		}
		if err := agg.Record(an.Object, an.Filter, p); err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		s.log.Warn(comp, "pattern matched no artifacts", map[string]string{"pattern": pattern})
	}
	s.log.InfoFinish(comp, "collect", t0, int64(len(paths)))
	if s.handoff != nil {
		objects := map[string]bool{}
		for _, k := range agg.Keys() {
			objects[k.Object] = true
		}
		names := make([]string, 0, len(objects))
		for o := range objects {
			names = append(names, o)
		}
		sort.Strings(names)
		for _, o := range names {
			if err := s.handoff(ctx, o, agg.ForObject(o)); err != nil {
				return nil, err
			}
		}
	}
	return agg, nil
}

// Match 展开 glob（支持 `**` 跨目录），结果按字典序。
func Match(ctx context.Context, pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty artifact pattern", contract.ErrInvalidInput)
	}
	slashed := path.Clean(filepath.ToSlash(pattern))
	g, err := glob.Compile(slashed, '/')
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", contract.ErrInvalidInput, pattern, err)
	}
	root := staticPrefix(slashed)
	var out []string
	err = filepath.WalkDir(filepath.FromSlash(root), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		if g.Match(filepath.ToSlash(p)) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// staticPrefix 返回模式中首个通配符之前的目录部分。
func staticPrefix(pattern string) string {
	i := strings.IndexAny(pattern, "*?[{")
	if i < 0 {
		return filepath.ToSlash(filepath.Dir(pattern))
	}
	head := pattern[:i]
	j := strings.LastIndex(head, "/")
	switch {
	case j < 0:
		return "."
	case j == 0:
		return "/"
	}
	return head[:j]
}

func tripleKV(err error) map[string]string {
	var je *contract.JobError
	if !errors.As(err, &je) {
		return nil
	}
	kv := map[string]string{"object": je.Object, "image": je.Image}
	if je.Coord != nil {
		kv["coord"] = contract.CoordToken(*je.Coord, contract.CoordDeg)
	}
	return kv
}
