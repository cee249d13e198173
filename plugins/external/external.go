// Package external 运行外部二进制（Tiny Tim、drizzle、对齐工具等），
// 参数以 {name} 占位符模板化，ctx 取消时终止整个进程组。
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"spikepsf/pkg/contract"
)

// Options: 外部命令定义。args/stdin/dir/env 的值均可含 {name} 占位符。
type Options struct {
	Binary string   `json:"binary"`
	Args   []string `json:"args"`
	// Stdin: 逐行写入标准输入（交互式工具的应答）。
	Stdin []string          `json:"stdin"`
	Env   map[string]string `json:"env"`
	Dir   string            `json:"dir"`
	// TimeoutSeconds: 单次运行超时；0 表示不限。
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Result: 一次运行的输出。
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExitError: 非零退出。
type ExitError struct {
	Binary string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited %d", e.Binary, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Runner 绑定一条命令模板，可并发使用。
type Runner struct {
	opts Options
}

// New 校验并创建 Runner；Binary 在运行时才解析 PATH。
func New(opts Options) (*Runner, error) {
	if strings.TrimSpace(opts.Binary) == "" {
		return nil, fmt.Errorf("%w: external: binary not set", contract.ErrInvalidInput)
	}
	if opts.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("%w: external: timeout_seconds must be >= 0", contract.ErrInvalidInput)
	}
	return &Runner{opts: opts}, nil
}

// Binary 返回命令名。
func (r *Runner) Binary() string { return r.opts.Binary }

// Available 报告命令是否可在 PATH 中找到。
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.opts.Binary)
	return err == nil
}

// Run 以 vars 展开模板后执行；extra 追加在模板参数之后。
func (r *Runner) Run(ctx context.Context, vars map[string]string, extra ...string) (Result, error) {
	if r.opts.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	args := make([]string, 0, len(r.opts.Args)+len(extra))
	for _, a := range r.opts.Args {
		args = append(args, Expand(a, vars))
	}
	args = append(args, extra...)

	cmd := exec.CommandContext(ctx, Expand(r.opts.Binary, vars), args...)
	cmd.Dir = Expand(r.opts.Dir, vars)
	cmd.Env = r.env(vars)
	if len(r.opts.Stdin) > 0 {
		lines := make([]string, len(r.opts.Stdin))
		for i, l := range r.opts.Stdin {
			lines[i] = Expand(l, vars)
		}
		cmd.Stdin = strings.NewReader(strings.Join(lines, "\n") + "\n")
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = 2 * time.Second

	t0 := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(t0)}
	if err == nil {
		return res, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return res, fmt.Errorf("%s: %w", r.opts.Binary, cerr)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.ExitCode()
		return res, &ExitError{Binary: r.opts.Binary, Code: res.ExitCode, Stderr: tail(res.Stderr, 512)}
	}
	return res, fmt.Errorf("%s: %w", r.opts.Binary, err)
}

func (r *Runner) env(vars map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(r.opts.Env))
	for k := range r.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+Expand(r.opts.Env[k], vars))
	}
	return env
}

// Expand 替换 {name} 占位符；未知占位符保持原样。
func Expand(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{") {
		return s
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

// WriteList 把 items 逐行写入 path（"@list" 风格输入文件）。
func WriteList(path string, items []string) error {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
