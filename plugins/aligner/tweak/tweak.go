// Package tweak 以外部对齐程序（tweakreg 一类）实现 contract.Aligner。
package tweak

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

// Options: 可用占位符 {filter} {count} {workdir} {list}；曝光路径追加在参数之后。
type Options struct {
	external.Options
	// ListFile: 写出 <workdir>/<filter>_align.lis 并以 {list} 引用，不再追加路径。
	ListFile bool `json:"list_file"`
}

// Aligner 实现 contract.Aligner。
type Aligner struct {
	run  *external.Runner
	opts Options
}

// New 创建对齐协作方。
func New(opts Options) (*Aligner, error) {
	r, err := external.New(opts.Options)
	if err != nil {
		return nil, err
	}
	return &Aligner{run: r, opts: opts}, nil
}

// Align 对同一滤光片的曝光运行一次对齐。
func (a *Aligner) Align(ctx context.Context, filter string, images []string) error {
	if len(images) == 0 {
		return nil
	}
	imgs := append([]string(nil), images...)
	sort.Strings(imgs)
	vars := map[string]string{
		"filter":  filter,
		"count":   strconv.Itoa(len(imgs)),
		"workdir": filepath.Dir(imgs[0]),
	}
	extra := imgs
	if a.opts.ListFile {
		list := filepath.Join(vars["workdir"], contract.SanitizeToken(filter)+"_align.lis")
		if err := external.WriteList(list, imgs); err != nil {
			return err
		}
		defer os.Remove(list)
		vars["list"] = list
		extra = nil
	}
	if _, err := a.run.Run(ctx, vars, extra...); err != nil {
		return fmt.Errorf("align %s: %w", filter, err)
	}
	return nil
}
