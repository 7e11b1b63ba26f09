package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/John-Robertt/subtab/internal/logging"
	"github.com/John-Robertt/subtab/internal/scan"
)

// Trigger 在一个去抖窗口结束后被调用；changed 是窗口内相关文件的相对路径（已排序）。
// Trigger 在事件循环 goroutine 内串行执行：上一次返回之前不会有下一次调用。
type Trigger func(ctx context.Context, changed []string)

type Options struct {
	Root       string
	Debounce   time.Duration
	Scan       scan.Options
	Classifier scan.Classifier
	Logger     *slog.Logger
}

// Watcher 递归监听输入根目录（跳过扫描会排除的目录），把相关事件合并后触发一次批处理。
type Watcher struct {
	root     string
	debounce time.Duration
	opts     scan.Options
	cls      scan.Classifier
	log      *slog.Logger
	fsw      *fsnotify.Watcher
}

func New(opts Options) (*Watcher, error) {
	if opts.Classifier == nil {
		return nil, errors.New("watch: classifier 不能为空")
	}
	if opts.Debounce <= 0 {
		return nil, fmt.Errorf("watch: debounce 必须大于 0，实际是 %s", opts.Debounce)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     filepath.Clean(opts.Root),
		debounce: opts.Debounce,
		opts:     opts.Scan,
		cls:      opts.Classifier,
		log:      logging.OrNop(opts.Logger),
		fsw:      fsw,
	}
	if _, err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}
	return w, nil
}

// Run 阻塞直到 ctx 结束；ctx 取消属于正常退出，返回 nil。
func (w *Watcher) Run(ctx context.Context, trigger Trigger) error {
	defer w.fsw.Close()

	w.log.Info("开始监听", slog.String("path", w.root), slog.Duration("debounce", w.debounce))

	// 计时器在第一个相关事件到来前保持停止；Stop/Reset 之后不会再收到旧值。
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	pending := map[string]struct{}{}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("停止监听")
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			rel, relevant := w.handle(ev)
			if !relevant {
				continue
			}
			w.log.Debug("检测到变化", slog.String("op", ev.Op.String()), logging.File(rel))
			pending[rel] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.log.Error("监听出错", logging.Error(err))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = map[string]struct{}{}

			w.log.Info("触发转换", slog.Int("changed", len(changed)))
			trigger(ctx, changed)
		}
	}
}

// handle 处理单个事件：新目录加入监听；返回该事件是否需要触发一次转换。
func (w *Watcher) handle(ev fsnotify.Event) (string, bool) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return "", false
	}
	rel := w.rel(ev.Name)

	if ev.Op&fsnotify.Create != 0 {
		added, err := w.addTree(ev.Name)
		if err != nil {
			w.log.Warn("无法监听新目录", logging.File(rel), logging.Error(err))
		}
		if added > 0 {
			// 移入的整个目录可能已经带着转录文件。
			return rel, true
		}
	}
	return rel, scan.Accepts(w.root, ev.Name, w.cls, w.opts)
}

// addTree 递归把 dir 下所有未被排除的目录加入监听；dir 不是目录时返回 0。
func (w *Watcher) addTree(dir string) (int, error) {
	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// 事件与遍历之间目录可能已被删除。
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if scan.IsExcludedDir(w.root, path, w.opts) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		added++
		return nil
	})
	return added, err
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
