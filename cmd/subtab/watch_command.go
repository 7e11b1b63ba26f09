package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/subtab/internal/app/watch"
	"github.com/John-Robertt/subtab/internal/config"
	"github.com/John-Robertt/subtab/internal/logging"
	"github.com/John-Robertt/subtab/internal/scan"
)

func newWatchCommand(e env) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "先转换一次，然后监听输入目录，文件变化后重新转换",
		Long: `watch 先执行一次完整转换，随后递归监听 path（包括新建的子目录）。
匹配的转录文件被创建/写入/重命名后，等待 --debounce 窗口内不再有新事件，再串行执行下一次转换。
Ctrl+C 退出。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, code := setup(e, flags.cliArgs(cmd, args))
			if code != exitOK {
				return &exitError{code: code}
			}
			return s.watch(cmd.Context())
		},
	}
	flags.bind(cmd)
	cmd.Flags().DurationVar(&flags.debounce, "debounce", config.DefaultDebounce, "合并文件事件的等待窗口")
	return cmd
}

// watch 在 ctx 结束前不返回；只有监听本身无法启动/中断时才以非零退出。
func (s session) watch(ctx context.Context) error {
	w, err := watch.New(watch.Options{
		Root:     s.eff.Path,
		Debounce: s.eff.Debounce,
		Scan: scan.Options{
			Output:      s.eff.Output,
			ExcludeDirs: s.eff.ExcludeDirs,
			Extensions:  s.eff.Extensions,
		},
		Classifier: s.reg,
		Logger:     s.log,
	})
	if err != nil {
		s.log.Error("无法启动监听", slog.String("path", s.eff.Path), logging.Error(err))
		return &exitError{code: exitFailed}
	}

	s.runOnce(ctx)

	err = w.Run(ctx, func(ctx context.Context, changed []string) {
		s.log.Info("重新转换", slog.Any("changed", changed))
		s.runOnce(ctx)
	})
	if err != nil {
		s.log.Error("监听中断", logging.Error(err))
		return &exitError{code: exitFailed}
	}
	return nil
}
