package fsx

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName 是输出根目录下的运行锁文件名。
const LockFileName = ".subtab.lock"

// ErrLocked 表示另一个进程正在写同一个输出根目录。
var ErrLocked = errors.New("输出目录正被另一个 subtab 进程占用")

// DirLock 是输出根目录上的排他建议锁（进程间）。
type DirLock struct {
	path string
	fl   *flock.Flock
}

// TryLockDir 在 dir 下创建锁文件并尝试获取排他锁；已被占用时返回 ErrLocked（不等待）。
func TryLockDir(dir string) (*DirLock, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, LockFileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("获取锁 %q 失败：%w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w：%s", ErrLocked, path)
	}
	return &DirLock{path: path, fl: fl}, nil
}

func (l *DirLock) Path() string { return l.path }

// Unlock 释放锁；锁文件保留在原处（删除会与其它进程的 TryLock 竞争）。
func (l *DirLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
