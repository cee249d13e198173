// Package drizzle 以外部 drizzle 程序实现 contract.Resampler：
// 每个 (object, filter) 组调用一次，输入路径追加在模板参数之后。
package drizzle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"spikepsf/pkg/contract"
	"spikepsf/plugins/external"
)

// Options: 命令模板与输出位置。
//
// 可用占位符：{object} {filter} {output} {outdir} {count} {preserve} {list}，
// 以及 ResampleRequest.Params 中的键。
type Options struct {
	external.Options
	// OutputDir: 输出目录；空为首个输入所在目录。
	OutputDir string `json:"output_dir"`
	// ListFile: 额外写出 <output>.lis 输入清单并以 {list} 引用；为 true 时不再追加输入参数。
	ListFile bool `json:"list_file"`
}

// Resampler 实现 contract.Resampler。
type Resampler struct {
	run  *external.Runner
	opts Options
}

// New 创建 drizzle 协作方。
func New(opts Options) (*Resampler, error) {
	r, err := external.New(opts.Options)
	if err != nil {
		return nil, err
	}
	return &Resampler{run: r, opts: opts}, nil
}

// Resample 运行一次组合；输入按路径排序以保证命令行稳定。
func (r *Resampler) Resample(ctx context.Context, req contract.ResampleRequest) error {
	if len(req.Inputs) == 0 {
		return fmt.Errorf("%w: resample %s/%s has no inputs", contract.ErrInvalidInput, req.Object, req.Filter)
	}
	inputs := append([]string(nil), req.Inputs...)
	sort.Strings(inputs)
	outdir := r.opts.OutputDir
	if outdir == "" {
		outdir = filepath.Dir(inputs[0])
	}
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return err
	}
	output := req.Output
	if output == "" {
		output = contract.ResampleOutput(req.Object, req.Filter)
	}
	vars := Vars(req.Params)
	vars["object"] = req.Object
	vars["filter"] = req.Filter
	vars["outdir"] = outdir
	vars["output"] = filepath.Join(outdir, output)
	vars["count"] = strconv.Itoa(len(inputs))
	vars["preserve"] = strconv.FormatBool(req.Preserve)

	extra := inputs
	if r.opts.ListFile {
		list := vars["output"] + ".lis"
		if err := external.WriteList(list, inputs); err != nil {
			return err
		}
		vars["list"] = list
		extra = nil
	}
	if _, err := r.run.Run(ctx, vars, extra...); err != nil {
		return fmt.Errorf("resample %s/%s: %w", req.Object, req.Filter, err)
	}
	return nil
}

// Vars 把参数块转为模板变量。
func Vars(params map[string]any) map[string]string {
	out := make(map[string]string, len(params)+8)
	for k, v := range params {
		out[k] = fmt.Sprint(v)
	}
	return out
}
