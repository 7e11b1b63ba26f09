package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/subtab/internal/config"
)

func newRootCommand(e env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "subtab",
		Short:         "把字幕/对白转录文件批量转换为 CSV 表",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCommand(e))
	rootCmd.AddCommand(newWatchCommand(e))
	return rootCmd
}

// runFlags 是 run/watch 共享的参数；是否显式指定由 cobra 的 Changed 判断。
type runFlags struct {
	output     string
	dryRun     bool
	force      bool
	configFile string
	logLevel   string
	logFormat  string
	debounce   time.Duration
}

func (f *runFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.output, "out", "o", "", "输出根目录（默认 <path>/out）")
	fs.BoolVar(&f.dryRun, "dry-run", false, "只解析并报告，不写任何文件；支持 --dry-run=false 覆盖配置")
	fs.BoolVar(&f.force, "force", false, "忽略缓存，重写所有输出")
	fs.StringVarP(&f.configFile, "config", "c", "", "配置文件路径（默认 <path>/subtab.toml）")
	fs.StringVar(&f.logLevel, "log-level", "", "日志级别：debug|info|warn|error")
	fs.StringVar(&f.logFormat, "log-format", "", "日志格式：console|json")
}

func (f *runFlags) cliArgs(cmd *cobra.Command, args []string) config.CLIArgs {
	fs := cmd.Flags()
	cli := config.CLIArgs{
		ConfigFile:   f.configFile,
		Output:       f.output,
		OutputSet:    fs.Changed("out"),
		DryRun:       f.dryRun,
		DryRunSet:    fs.Changed("dry-run"),
		Force:        f.force,
		ForceSet:     fs.Changed("force"),
		LogLevel:     f.logLevel,
		LogLevelSet:  fs.Changed("log-level"),
		LogFormat:    f.logFormat,
		LogFormatSet: fs.Changed("log-format"),
	}
	if fs.Lookup("debounce") != nil {
		cli.Debounce = f.debounce
		cli.DebounceSet = fs.Changed("debounce")
	}
	if len(args) > 0 {
		cli.Path = args[0]
	}
	return cli
}
