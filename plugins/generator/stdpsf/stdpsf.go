// Package stdpsf 以经验 STDPSF 网格生成 PSF：按需下载网格到本地缓存，
// 再交由外部求值程序在目标像素处插值。
package stdpsf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/flock"

	"spikepsf/pkg/contract"
	genext "spikepsf/plugins/generator/external"
)

// Options: 缓存、下载与求值程序。
type Options struct {
	// Eval: 求值命令；除生成器通用变量外可用 {grid} 与 {detector}。
	Eval genext.Options `json:"eval"`
	// CacheDir: 网格缓存目录；空为用户缓存目录下的 spikepsf/stdpsf。
	CacheDir string `json:"cache_dir"`
	HSTBase  string `json:"hst_base"`
	JWSTBase string `json:"jwst_base"`
	// MaxTries: 下载总尝试次数（默认 4）。
	MaxTries int `json:"max_tries"`
	// TimeoutSeconds: 单次下载超时（默认 120）。
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Generator 实现 contract.Generator。
type Generator struct {
	eval     *genext.Generator
	cache    string
	hst      string
	jwst     string
	maxTries uint
	client   *http.Client
	initial  time.Duration
}

// New 创建 STDPSF 生成器。
func New(opts Options) (*Generator, error) {
	eval, err := genext.New(opts.Eval)
	if err != nil {
		return nil, fmt.Errorf("stdpsf eval: %w", err)
	}
	g := &Generator{eval: eval, cache: opts.CacheDir, hst: opts.HSTBase, jwst: opts.JWSTBase, initial: 500 * time.Millisecond}
	if g.cache == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("%w: stdpsf cache_dir: %w", contract.ErrInvalidInput, err)
		}
		g.cache = filepath.Join(base, "spikepsf", "stdpsf")
	}
	if g.hst == "" {
		g.hst = DefaultHSTBase
	}
	if g.jwst == "" {
		g.jwst = DefaultJWSTBase
	}
	g.maxTries = 4
	if opts.MaxTries > 0 {
		g.maxTries = uint(opts.MaxTries)
	}
	timeout := 120 * time.Second
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	g.client = &http.Client{Timeout: timeout}
	return g, nil
}

// Generate 取得网格并在 (x, y) 处求值。
func (g *Generator) Generate(ctx context.Context, req contract.GenerateRequest) (contract.PSFModel, error) {
	url, err := GridURL(g.hst, g.jwst, req.InstCam, req.Position.Filter, req.Position.Chip)
	if err != nil {
		return contract.PSFModel{}, err
	}
	grid, err := g.Fetch(ctx, url)
	if err != nil {
		return contract.PSFModel{}, fmt.Errorf("%w: %w", contract.ErrGenerationFailure, err)
	}
	return g.eval.GenerateWith(ctx, req, map[string]string{
		"grid":     grid,
		"detector": Detector(req.InstCam, req.Position.Chip),
	})
}

// Fetch 返回 url 对应的本地网格路径；缓存缺失时在文件锁保护下下载。
func (g *Generator) Fetch(ctx context.Context, url string) (string, error) {
	if err := os.MkdirAll(g.cache, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(g.cache, path.Base(url))
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		return dst, nil
	}
	lk := flock.New(dst + ".lock")
	ok, err := lk.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", dst, err)
	}
	if !ok {
		return "", fmt.Errorf("lock %s: not acquired", dst)
	}
	defer func() { _ = lk.Unlock() }()
	// 等锁期间可能已被其他进程写好
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		return dst, nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.initial
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, g.download(ctx, url, dst)
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(g.maxTries))
	if err != nil {
		return "", err
	}
	return dst, nil
}

// download 写入同目录临时文件后 rename；4xx 为永久错误。
func (g *Generator) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			return backoff.RetryAfter(s)
		}
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(upstreamError{status: resp.StatusCode, msg: url})
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".grid-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	name := tmp.Name()
	_, cpErr := io.Copy(tmp, resp.Body)
	clErr := tmp.Close()
	if err := errors.Join(cpErr, clErr); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, dst); err != nil {
		_ = os.Remove(name)
		return backoff.Permanent(err)
	}
	return nil
}

// upstreamError: 网格服务返回的 HTTP 错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string { return fmt.Sprintf("stdpsf upstream %d: %s", e.status, e.msg) }
func (e upstreamError) UpstreamStatus() int { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }
