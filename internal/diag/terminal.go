package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	okTag   lipgloss.Style
	failTag lipgloss.Style
	dim     lipgloss.Style

	// 运行期最小状态
	workers     int
	method      string
	objectsDone int
	runStart    time.Time

	// 当前目标
	curObject string
	jobsTotal int
	jobsDone  int
	skipped   int

	// 输出控制
	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。颜色能力由 w 自身判定（非终端无颜色）。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	r := lipgloss.NewRenderer(w)
	t := &Terminal{
		w:       w,
		enabled: enabled,
		okTag:   r.NewStyle().Foreground(lipgloss.Color("#5FD75F")).Bold(true),
		failTag: r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		dim:     r.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录运行上下文（并行度、方法）。
func (t *Terminal) RunStart(workers int, method string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.workers = workers
	t.method = method
	t.objectsDone = 0
	t.runStart = time.Now()
	line := fmt.Sprintf("[run] 并行=%d | 方法=%s", workers, safe(method))
	if t.isTTY {
		line += t.dim.Render(" | 等待任务…")
	}
	t.println(line)
}

// ObjectStart: 标记当前目标与候选曝光数。
func (t *Terminal) ObjectStart(object string, exposures int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curObject = shorten(safe(object), 48)
	t.jobsTotal = exposures
	t.jobsDone = 0
	t.skipped = 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[object] %s | 曝光=%d", t.curObject, exposures))
	}
}

// JobProgress: 周期性进度（≥100ms 节流）；skipped 为不在探测器上的曝光数。
func (t *Terminal) JobProgress(done, total, skipped int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.jobsDone = done
	t.jobsTotal = total
	t.skipped = skipped
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	line := fmt.Sprintf("[object] %s | 作业 %d/%d | 跳过 %d | 并行 %d | 用时 %s",
		t.curObject, t.jobsDone, t.jobsTotal, t.skipped, t.workers, formatSince(t.runStart))
	t.printInline(line)
}

// ObjectFinish: 完成当前目标（立即刷新并换行）。
func (t *Terminal) ObjectFinish(ok bool, jobs int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.objectsDone++
	tag := t.okTag.Render("[done]")
	if !ok {
		tag = t.failTag.Render("[fail]")
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("%s %s | 作业 %d | 总用时 %s", tag, t.curObject, jobs, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := t.okTag.Render("[ok]")
	if !ok {
		tag = t.failTag.Render("[fail]")
	}
	t.println(fmt.Sprintf("%s 全部完成 | 目标 %d | 总用时 %s", tag, t.objectsDone, formatDur(dur)))
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时以空格覆盖行尾
	pad := 0
	if l := lipgloss.Width(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = lipgloss.Width(s)
}

// shorten: 按可见宽度截断（尾部省略号）。
func shorten(s string, max int) string {
	if max <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if lipgloss.Width(s) <= max {
		return s
	}
	rs := []rune(s)
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	if len(rs) <= cut {
		return string(rs)
	}
	return string(rs[:cut]) + "…"
}

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
