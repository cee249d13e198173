package diag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"spikepsf/pkg/contract"
)

// UT-DIAG-01: 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	require.NoError(t, w.WriteLine([]byte("first line that is very long")))
	require.NoError(t, w.WriteLine([]byte("second")))
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(files), 2, "应存在轮转文件")
	require.NoError(t, w.Close())
}

// 当前文件名与时间戳文件同时存在
func TestRotatingFileRotateFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")))
	}
	require.NoError(t, w.Sync())
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		if e.Name() == currentLog {
			hasCurrent = true
		}
		if strings.HasPrefix(e.Name(), "spikepsf-") && strings.HasSuffix(e.Name(), ".log") && !strings.Contains(e.Name(), "current") {
			hasRotated = true
		}
	}
	assert.True(t, hasCurrent)
	assert.True(t, hasRotated)
}

// 只保留最近 Keep 个轮转文件
func TestRotatingFilePrune(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	w.Keep = 2
	for i := 0; i < 6; i++ {
		require.NoError(t, w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")))
	}
	require.NoError(t, w.Close())
	rotated, err := filepath.Glob(filepath.Join(dir, "spikepsf-2*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2)
	assert.FileExists(t, filepath.Join(dir, currentLog))
}

// 默认 maxBytes 与 f==nil 时的 rotate
func TestRotatingFileDefaultsAndRotateNoOpen(t *testing.T) {
	w := NewRotatingFile(t.TempDir(), 0)
	assert.Equal(t, int64(10*1024*1024), w.maxBytes)
	require.NoError(t, w.WriteLine([]byte("a")))
	require.NoError(t, w.Close())
	require.NoError(t, w.rotate())
	require.NoError(t, w.Close())
	require.NoError(t, w.Sync())
}

// UT-DIAG-02: 指标计数与 textfile 导出
func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opsTotal.WithLabelValues("scheduler", "job", "success"))
	IncOp("scheduler", "job", "success")
	IncOp("scheduler", "job", "success")
	assert.Equal(t, before+2, testutil.ToFloat64(opsTotal.WithLabelValues("scheduler", "job", "success")))

	IncError("resolver", string(CodeFilterNotFound))
	assert.GreaterOrEqual(t, testutil.ToFloat64(errorsTotal.WithLabelValues("resolver", string(CodeFilterNotFound))), 1.0)
	ObserveDuration("scheduler", "job", 12)

	path := filepath.Join(t.TempDir(), "spikepsf.prom")
	require.NoError(t, WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "spikepsf_ops_total")
	assert.Contains(t, string(b), "spikepsf_op_duration_ms_bucket")
	assert.NotNil(t, Registry())
}

// UT-DIAG-03: 错误分类
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{contract.ErrUnsupportedInstrument, CodeUnsupportedInstrument},
		{contract.ErrFilterNotFound, CodeFilterNotFound},
		{contract.ErrUnknownMethod, CodeUnknownMethod},
		{contract.ErrIncompatibleBackend, CodeIncompatibleBackend},
		{contract.ErrMalformedArtifactName, CodeMalformedArtifact},
		{contract.Triple(errors.New("boom"), contract.ErrGenerationFailure, "o", "i", nil), CodeGeneration},
		{contract.ErrNameResolution, CodeNameResolution},
		{contract.ErrUnsupportedProjection, CodeProjection},
		{contract.ErrInvalidInput, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{errors.New("other"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "%v", c.err)
	}
	assert.NotEmpty(t, NowUTC())
}

// UT-DIAG-04: 事件字段与级别过滤
func TestLoggerFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewLoggerCore("corr-1", "info", core)
	tm := l.StartWith("resolver", "resolve", "a.fits", "M31")
	tm.Finish("ok", 2)
	l.DebugStart("resolver", "hidden", "", "", nil)
	l.Warn("dispatch", "recommended instruments exclude WFC3", map[string]string{"method": "tinytim"})
	start := time.Now().Add(-5 * time.Millisecond)
	l.ErrorWithKV("scheduler", string(CodeGeneration), "job failed", &start, "a.fits", "M31", map[string]string{"coord": "1+2"})

	all := logs.All()
	require.Len(t, all, 4)
	assert.Equal(t, "resolve", all[0].Message)
	ctx := all[1].ContextMap()
	assert.Equal(t, "corr-1", ctx["corr_id"])
	assert.Equal(t, "finish", ctx["stage"])
	assert.Equal(t, int64(2), ctx["count"])
	assert.Equal(t, "a.fits", ctx["file_id"])
	assert.Equal(t, "M31", ctx["batch_id"])

	warn := logs.FilterMessage("recommended instruments exclude WFC3").All()
	require.Len(t, warn, 1)
	assert.Equal(t, zap.WarnLevel, warn[0].Level)
	assert.Equal(t, map[string]string{"method": "tinytim"}, warn[0].ContextMap()["kv"])

	errEv := all[3].ContextMap()
	assert.Equal(t, "generation_failure", errEv["code"])
	assert.GreaterOrEqual(t, errEv["dur_ms"], int64(5))
	assert.Equal(t, "corr-1", l.CorrID())
}

// JSON 输出写入轮转文件；warn 同时写 errOut
func TestLoggerWithSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewRotatingFile(dir, 0)
	errOut := NewRotatingFile(filepath.Join(dir, "err"), 0)
	l := NewLoggerWith("corr", "info", sink, errOut)
	l.Start("pipeline", "run").Finish("ok", 1)
	l.Warn("resolver", "overlapping chips", nil)
	l.InfoFinish("pipeline", "done", time.Now(), 3)
	require.NoError(t, l.Close())
	require.NoError(t, sink.Close())
	require.NoError(t, errOut.Close())

	b, err := os.ReadFile(filepath.Join(dir, currentLog))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"corr_id":"corr"`)
	assert.Contains(t, lines[0], `"level":"info"`)

	e, err := os.ReadFile(filepath.Join(dir, "err", currentLog))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(e), "\n"))
	assert.Contains(t, string(e), "overlapping chips")
}

// 级别字符串、nil 接收者
func TestLoggerLevelsAndNil(t *testing.T) {
	assert.Equal(t, "warn", Warn.String())
	var unknown Level = 12345
	assert.Equal(t, "info", unknown.String())
	assert.Equal(t, Error, parseLevel("ERROR"))
	assert.Equal(t, Info, parseLevel("bogus"))
	lv, err := ParseLevel(" Debug ")
	require.NoError(t, err)
	assert.Equal(t, Debug, lv)
	_, err = ParseLevel("verbose")
	assert.Error(t, err)

	var ln *Logger
	ln.Warn("c", "m", nil)
	ln.Error("c", "x", "m", nil)
	assert.NoError(t, ln.Close())
	assert.Equal(t, "", ln.CorrID())
	Nop().Start("c", "m").Finish("x", 0)
	var tnil *Timer
	tnil.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
}

// UT-DIAG-05: span 记录与错误状态
func TestSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), tp.Tracer("test"), "scheduler.job")
	span.SetAttributes(AttrObject.String("M31"))
	RecordError(span, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "scheduler.job", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "operation failed", spans[0].Status.Description)

	ctx, noop := StartSpan(context.Background(), nil, "x")
	assert.NotNil(t, ctx)
	assert.False(t, noop.SpanContext().IsValid())
	RecordError(noop, nil)
	assert.NotNil(t, Tracer())
}

// UT-DIAG-06: 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)
	term.RunStart(4, "stdpsf")
	term.ObjectStart("M31", 12)
	term.JobProgress(6, 12, 1) // 非 TTY：不输出进度
	term.ObjectFinish(true, 6, 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[run] 并行=4 | 方法=stdpsf")
	assert.Contains(t, out, "[object] M31 | 曝光=12")
	assert.Contains(t, out, "[done] M31 | 作业 6 | 总用时 5.1s")
	assert.Contains(t, out, "[ok] 全部完成 | 目标 1 | 总用时 41.3s")
}

// UT-DIAG-07: 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(2, "gaussian")
	term.ObjectStart("10.68+41.27", 3)

	term.JobProgress(1, 3, 0)
	first := sb.String()
	require.Contains(t, first, "\r[")
	term.JobProgress(2, 3, 1)
	assert.Equal(t, first, sb.String(), "100ms 内应被节流")
	time.Sleep(120 * time.Millisecond)
	term.JobProgress(2, 3, 1)
	assert.Greater(t, len(sb.String()), len(first))

	term.ObjectFinish(false, 2, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	require.GreaterOrEqual(t, idx, 0)
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	require.GreaterOrEqual(t, cr, 0)
	assert.Contains(t, seg[cr+1:], " ")
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// UT-DIAG-08: 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.isTTY = false
	term.RunStart(1, "x")
	assert.False(t, term.enabled)
	term.ObjectStart("a", 0)
	term.JobProgress(0, 0, 0)
	term.ObjectFinish(true, 0, 0)
	term.RunFinish(true, 0)

	tty := NewTerminal(&flakyWriter{fail: true}, true)
	tty.isTTY = true
	tty.ObjectStart("a", 2)
	tty.JobProgress(1, 2, 0)
	assert.False(t, tty.enabled)
}

// 工具函数与全局终端
func TestHelpers(t *testing.T) {
	assert.NotEmpty(t, shorten("这是一个很长的目标名称用于截断测试abcdefghijk", 10))
	assert.Equal(t, "", shorten("x", 0))
	assert.Equal(t, "a b c", safe("a\nb\rc"))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))

	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
	SetTerminal(NewTerminal(os.Stderr, false))
	assert.NotNil(t, GetTerminal())
	SetTerminal(nil)

	var tn *Terminal
	tn.RunStart(1, "x")
	tn.ObjectStart("a", 1)
	tn.JobProgress(0, 0, 0)
	tn.ObjectFinish(true, 0, 0)
	tn.RunFinish(true, 0)

	t.Setenv("CI", "true")
	assert.False(t, NewTerminal(os.Stderr, true).isTTY)
}
