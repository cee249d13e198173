package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"spikepsf/pkg/contract"
	fswriter "spikepsf/plugins/writer/filesystem"
)

// lockName: 目录级锁文件，串行化多个进程对同一目录工作副本的写入。
const lockName = ".spikepsf.lock"

// CopyAtomic 以“同目录临时文件 + rename”复制 src 到 dst；dst 已存在时原子覆盖。
func CopyAtomic(ctx context.Context, src, dst string) error {
	dir := filepath.Dir(dst)
	lk := flock.New(filepath.Join(dir, lockName))
	ok, err := lk.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock %s: %w", dir, err)
	}
	if !ok {
		return fmt.Errorf("lock %s: not acquired", dir)
	}
	defer func() { _ = lk.Unlock() }()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := fswriter.New(&fswriter.Options{OutputDir: dir})
	if err != nil {
		return err
	}
	return w.Write(ctx, contract.ArtifactID(filepath.Base(dst)), in)
}
