package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"spikepsf/internal/diag"
	"spikepsf/internal/resolver"
)

// 运行后移入 savedir 的派生产物（按基名匹配）。
var derived = []glob.Glob{
	glob.MustCompile("*_psf*"),
	glob.MustCompile("*.psf"),
	glob.MustCompile("*_topsf*"),
	glob.MustCompile("*.cat"),
	glob.MustCompile("*_mask.fits"),
}

func isDerived(base string) bool {
	for _, g := range derived {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func imageDirs(images []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range images {
		d := filepath.Clean(filepath.Dir(p))
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// keepOriginals 把每幅曝光复制到 <dir>_orig；已存在的副本保留不动。
func keepOriginals(ctx context.Context, images []string, logger *diag.Logger) error {
	tm := logger.Start("keeporig", "copy")
	n := 0
	for _, p := range images {
		dst := filepath.Join(filepath.Clean(filepath.Dir(p))+"_orig", filepath.Base(p))
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := resolver.CopyAtomic(ctx, p, dst); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		n++
	}
	tm.Finish("copy", int64(n))
	return nil
}

// collect 把曝光目录中的派生产物移入 saveDir，返回 旧路径 → 新路径。
func collect(ctx context.Context, images []string, saveDir string, logger *diag.Logger) (map[string]string, error) {
	tm := logger.Start("collect", "move")
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return nil, err
	}
	absSave, _ := filepath.Abs(saveDir)
	moved := map[string]string{}
	for _, dir := range imageDirs(images) {
		if abs, _ := filepath.Abs(dir); abs == absSave {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !e.Type().IsRegular() || !isDerived(e.Name()) {
				continue
			}
			from := filepath.Join(dir, e.Name())
			to := filepath.Join(saveDir, e.Name())
			if err := move(ctx, from, to); err != nil {
				return nil, err
			}
			moved[from] = to
		}
	}
	tm.Finish("move", int64(len(moved)))
	return moved, nil
}

// move: rename 失败（如跨设备）时退回复制 + 删除。
func move(ctx context.Context, from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	if err := resolver.CopyAtomic(ctx, from, to); err != nil {
		return fmt.Errorf("move %s: %w", from, err)
	}
	return os.Remove(from)
}
