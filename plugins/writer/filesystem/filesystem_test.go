package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spikepsf/pkg/contract"
)

func noTemp(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "残留临时文件 %s", e.Name())
	}
}

// UT-FSW-01: 原子写入
func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "groups.yaml", bytes.NewBufferString("M31: {}\n")))
	b, err := os.ReadFile(filepath.Join(dir, "groups.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "M31: {}\n", string(b))
	noTemp(t, dir)
}

// UT-FSW-02: 目标已存在时覆盖（工作副本幂等）
func TestWriteAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	id := contract.ArtifactID("img_flt_150+2_F606W_topsf.fits")
	require.NoError(t, w.Write(context.Background(), id, bytes.NewBufferString("v1")))
	require.NoError(t, w.Write(context.Background(), id, bytes.NewBufferString("v2")))
	b, err := os.ReadFile(filepath.Join(dir, string(id)))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1)
}

// UT-FSW-03: 扁平模式只保留文件名
func TestWriteFlat(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	p, err := w.Path("a/b/groups.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "groups.yaml"), p)
	_, err = w.Path("")
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
}

// UT-FSW-04: 非原子 + 保留层级
func TestWriteNonAtomicNested(t *testing.T) {
	dir := t.TempDir()
	flat, atomic := false, false
	w, err := New(&Options{OutputDir: dir, Flat: &flat, Atomic: &atomic, PermFile: 0o600, BufSize: 16})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "run1/groups.yaml", bytes.NewBufferString("v")))
	_, err = os.Stat(filepath.Join(dir, "run1", "groups.yaml"))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Write(context.Background(), "../bad", bytes.NewBufferString("x")), contract.ErrPathInvalid)
}

// UT-FSW-05: 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	w, err := New(&Options{OutputDir: t.TempDir()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Write(ctx, "a.yaml", strings.NewReader("data")), context.Canceled)

	r := readerWithCtx(ctx, strings.NewReader("data"))
	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// UT-FSW-06: 拷贝失败不留临时文件；参数校验
func TestWriteAtomicCopyErrorAndNew(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	assert.Error(t, w.Write(context.Background(), "a.fits", errReader{}))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)

	_, err = New(nil)
	assert.Error(t, err)
	_, err = New(&Options{OutputDir: "  "})
	assert.Error(t, err)
}
