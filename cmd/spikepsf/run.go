package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"spikepsf/internal/config"
	"spikepsf/internal/diag"
	"spikepsf/internal/pipeline"
	"spikepsf/pkg/contract"
)

// runFlags: flag 名 → 配置键。未列出的同名。
var runFlags = map[string]string{
	"method":       "method",
	"img-type":     "img_type",
	"instrument":   "instrument",
	"camera":       "camera",
	"usermethod":   "usermethod",
	"parallel":     "parallel",
	"workers":      "workers",
	"pretweaked":   "pretweaked",
	"keeporig":     "keeporig",
	"drizzleimgs":  "drizzleimgs",
	"savedir":      "savedir",
	"coord-format": "coord_format",
	"log-level":    "logging.level",
}

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [image-dir...]",
		Short: "Generate PSFs for every object on every exposure",
		Example: `  spikepsf run --method tinytim -o "10.684708 41.268750" ./m31
  spikepsf run --config spikepsf.yaml --parallel --workers 8`,
		RunE: c.runPipeline,
	}
	f := cmd.Flags()
	f.String("method", "", "PSF generation method (see 'spikepsf methods')")
	f.String("img-type", "", "exposure suffix, e.g. _flc, _flt, _cal")
	f.String("instrument", "", "instrument; read from INSTRUME when empty")
	f.String("camera", "", "camera or detector; read from CAMERA/DETECTOR when empty")
	f.StringArrayP("object", "o", nil, `target: "ra dec" in degrees, sexagesimal, or a name (repeatable)`)
	f.String("usermethod", "", "glob of pre-generated PSFs (method user)")
	f.Bool("parallel", false, "run jobs on a worker pool")
	f.Int("workers", 0, "worker pool size; 0 uses NumCPU-1")
	f.Bool("pretweaked", false, "images are already aligned; skip the aligner")
	f.Bool("keeporig", false, "copy inputs to <dir>_orig before alignment")
	f.Bool("drizzleimgs", false, "also resample the science images per filter")
	f.String("savedir", "", "move derived products here after the run")
	f.String("coord-format", "", "coordinate token in file names: deg or hms")
	f.String("log-level", "", "debug, info, warn or error")
	f.Bool("status", true, "progress lines on stderr")
	for name, key := range runFlags {
		if err := c.v.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func (c *cli) runPipeline(cmd *cobra.Command, args []string) error {
	start := time.Now()
	// 位置参数与 -o 不经 viper 的 CSV 拆分（目标串中可能含逗号）。
	if len(args) > 0 {
		c.v.Set("images", args)
	}
	if cmd.Flags().Changed("object") {
		objs, _ := cmd.Flags().GetStringArray("object")
		c.v.Set("objects", objs)
	}
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return configError(err)
	}
	if err := config.Validate(cfg); err != nil {
		return configError(err)
	}
	logger := diag.NewLogger(c.corrID, cfg.Logging.Level, cfg.Logging.Dir)
	defer func() { _ = logger.Close() }()

	comp, set, err := config.Assemble(cfg)
	if err != nil {
		logger.Error("cli", string(diag.Classify(err)), "assemble: "+err.Error(), &start)
		return configError(err)
	}
	set.Tracer = diag.Tracer()

	status, _ := cmd.Flags().GetBool("status")
	term := diag.NewTerminal(c.errOut, status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	workers := 1
	if set.Parallel {
		workers = set.Workers
	}
	term.RunStart(workers, set.Method)

	logger.DebugStart("config", "effective", "", "", map[string]string{
		"images":      strconv.Itoa(len(cfg.Images)),
		"objects":     strconv.Itoa(len(cfg.Objects)),
		"method":      set.Method,
		"parallel":    strconv.FormatBool(set.Parallel),
		"workers":     strconv.Itoa(set.Workers),
		"source":      cfg.Components.Source,
		"reader":      cfg.Components.Reader,
		"writer":      cfg.Components.Writer,
		"resampler":   cfg.Components.Resampler,
		"aligner":     cfg.Components.Aligner,
		"resolver":    cfg.Components.NameResolver,
		"savedir":     set.SaveDir,
		"coordformat": string(set.CoordFormat),
	})

	t := logger.Start("cli", "run")
	res, err := pipelineRun(cmd.Context(), comp, set, logger)
	if err != nil {
		code := diag.Classify(err)
		logger.Error("cli", string(code), "first error", &start)
		diag.IncOp("cli", "run", "error")
		if code != diag.CodeUnknown {
			diag.IncError("cli", string(code))
		}
		term.RunFinish(false, time.Since(start))
		if errors.Is(err, context.Canceled) {
			return &exitError{code: exitRun, err: err, quiet: true}
		}
		return runError(fmt.Errorf("[%s] %w", code, err))
	}
	t.Finish("run", int64(len(res.Groups)))
	diag.IncOp("cli", "run", "success")
	diag.ObserveDuration("cli", "run", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start))
	return summary(c.out, res)
}

// summary 打印 object × filter 的产物计数。
func summary(w io.Writer, res *pipeline.Result) error {
	keys := make([]contract.GroupKey, 0, len(res.Groups))
	for k := range res.Groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Object != keys[j].Object {
			return keys[i].Object < keys[j].Object
		}
		return keys[i].Filter < keys[j].Filter
	})
	table := tablewriter.NewWriter(w)
	table.Header("OBJECT", "FILTER", "PSFS")
	for _, k := range keys {
		if err := table.Append([]string{k.Object, k.Filter, strconv.Itoa(len(res.Groups[k]))}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fprintf(w, "method=%s instrument=%s images=%d moved=%d\n", res.Method, res.InstCam, len(res.Images), res.Moved)
	return nil
}
