//go:build !windows

package filesystem

import "os"

// osReplace: POSIX rename 原子覆盖目标。
func osReplace(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

// syncDir: 同步父目录，使 rename 在崩溃后可见。
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
