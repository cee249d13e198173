// Package filesystem 实现基于目录扫描的曝光发现（ImageSource）。
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"spikepsf/pkg/contract"
)

// Options 为文件系统 ImageSource 的可选配置。
type Options struct {
	// Recursive: 递归扫描子目录；默认只看根目录（与 "<dir>/*<img_type>.fits" 一致）。
	Recursive bool `json:"recursive"`
	// ExcludeDirNames: 递归时跳过这些目录名（基名，大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions: 认可的文件扩展名，默认 [".fits"]。
	Extensions []string `json:"extensions"`
}

// FileSystem: 按 "<img_type><ext>" 后缀发现曝光；派生产物（工作副本、模型）不计入。
type FileSystem struct {
	recursive  bool
	excludeDir map[string]struct{}
	exts       []string
}

// 派生产物的名称片段。
var derived = []string{"_topsf", "_psf", "_orig"}

// New 创建文件系统 ImageSource。
func New(opts *Options) *FileSystem {
	fs := &FileSystem{excludeDir: map[string]struct{}{}, exts: []string{".fits"}}
	if opts == nil {
		return fs
	}
	fs.recursive = opts.Recursive
	for _, name := range opts.ExcludeDirNames {
		if name == "" {
			continue
		}
		fs.excludeDir[strings.ToLower(name)] = struct{}{}
	}
	if len(opts.Extensions) > 0 {
		fs.exts = fs.exts[:0]
		for _, e := range opts.Extensions {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			fs.exts = append(fs.exts, e)
		}
	}
	return fs
}

// List 返回 roots 下匹配 imgType 的曝光路径，整体按字典序、去重。
// root 可为目录或单个文件；单文件 root 不做后缀过滤。
func (s *FileSystem) List(ctx context.Context, roots []string, imgType string) ([]string, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no image roots", contract.ErrInvalidInput)
	}
	seen := map[string]struct{}{}
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		root = strings.TrimSpace(root)
		if root == "" {
			return nil, fmt.Errorf("%w: empty image root", contract.ErrInvalidInput)
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if info.Mode().IsRegular() {
				add(filepath.Clean(root))
			}
			continue
		}
		if err := s.walkDir(ctx, root, imgType, add); err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileSystem) walkDir(ctx context.Context, dir, imgType string, add func(string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if !s.recursive {
				continue
			}
			if _, skip := s.excludeDir[strings.ToLower(e.Name())]; skip {
				continue
			}
			if err := s.walkDir(ctx, p, imgType, add); err != nil {
				return err
			}
			continue
		}
		// 指向常规文件的符号链接可用；其他非常规项跳过
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil || !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		if s.match(e.Name(), imgType) {
			add(p)
		}
	}
	return nil
}

// match 报告基名是否为 "<stem><imgType><ext>" 且不是派生产物。
func (s *FileSystem) match(name, imgType string) bool {
	low := strings.ToLower(name)
	for _, ext := range s.exts {
		stem, ok := strings.CutSuffix(low, ext)
		if !ok {
			continue
		}
		for _, d := range derived {
			if strings.Contains(stem, d) && !strings.HasSuffix(imgType, d) {
				return false
			}
		}
		return strings.HasSuffix(stem, strings.ToLower(imgType))
	}
	return false
}
