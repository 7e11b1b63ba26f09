package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/subtab/internal/app/run"
	"github.com/John-Robertt/subtab/internal/config"
	"github.com/John-Robertt/subtab/internal/converter"
	"github.com/John-Robertt/subtab/internal/domain"
	"github.com/John-Robertt/subtab/internal/infra/cache"
	"github.com/John-Robertt/subtab/internal/logging"
)

func newRunCommand(e env) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "转换一次输入目录下的全部转录文件",
		Long: `按影片目录扫描 path 下文件名含 _speakers / _timestamps 的转录文件，
每个文件输出一张 CSV 表到 <out>/<影片目录>/。

stdout 不是终端时只输出一个 RunReport JSON；摘要与日志写到 stderr。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, code := setup(e, flags.cliArgs(cmd, args))
			if code != exitOK {
				return &exitError{code: code}
			}
			rr := s.runOnce(cmd.Context())
			if rr.Summary.Failed > 0 {
				return &exitError{code: exitFailed}
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

// session 是一次 CLI 调用解析好的运行环境（配置、logger、converter 注册表）。
type session struct {
	env env
	eff config.EffectiveConfig
	reg converter.Registry
	log *slog.Logger
}

// setup 加载配置并构造依赖；失败时已向 stdout/stderr 输出报告，返回非零退出码。
func setup(e env, cli config.CLIArgs) (session, int) {
	eff, err := config.LoadEffective(e.cwd, cli)
	if err != nil {
		emitReport(e, reportForConfigError(e.cwd, cli, err))
		return session{}, exitFailed
	}

	log, err := logging.New(logging.Options{Level: eff.LogLevel, Format: eff.LogFormat, Writer: e.stderr})
	if err != nil {
		emitReport(e, reportForConfigError(e.cwd, cli, &config.Error{Code: config.ErrCodeInvalid, Path: eff.ConfigFile, Err: err}))
		return session{}, exitFailed
	}

	reg, err := converter.NewDefaultRegistry(eff.ConverterOptions())
	if err != nil {
		emitReport(e, reportForConfigError(e.cwd, cli, &config.Error{Code: config.ErrCodeInvalid, Path: eff.ConfigFile, Err: err}))
		return session{}, exitFailed
	}

	return session{env: e, eff: eff, reg: reg, log: log}, exitOK
}

func (s session) runOnce(ctx context.Context) domain.RunReport {
	w, interactive := pickProgressWriter(s.env)
	var obs run.Observer
	var ui *progressUI
	if interactive {
		ui = newProgressUI(w)
		obs = ui
	}

	rr := run.ExecuteWithObserver(ctx, s.eff, s.reg, s.log, obs)
	if ui != nil {
		ui.Stop()
	}

	emitReport(s.env, rr)
	if interactive {
		emitLocations(w, s.eff)
	}
	return rr
}

func pickProgressWriter(e env) (w io.Writer, ok bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if e.stderrTTY {
		return e.stderr, true
	}
	if e.stdoutTTY {
		return e.stdout, true
	}
	return nil, false
}

func reportForConfigError(cwd string, cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	path := cli.Path
	if path == "" {
		path = cwd
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	code := config.Code(err)
	if code == "" {
		code = config.ErrCodeInvalid
	}
	rr := domain.RunReport{
		Path:       filepath.Clean(path),
		DryRun:     cli.DryRunSet && cli.DryRun,
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	if !eff.DryRun {
		fmt.Fprintf(w, "report: %s\n", cache.New(eff.Output, false).ReportPath())
	}
	fmt.Fprintf(w, "out: %s\n", eff.Output)
}
