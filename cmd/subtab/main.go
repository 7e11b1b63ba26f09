package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, newEnv(), os.Args[1:])
	cancel()
	os.Exit(code)
}

// env 收拢 CLI 与进程环境的交互点，测试可以替换为 buffer。
type env struct {
	cwd    string
	stdout io.Writer
	stderr io.Writer

	stdoutTTY bool
	stderrTTY bool
}

func newEnv() env {
	cwd, _ := os.Getwd()
	return env{
		cwd:       cwd,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		stdoutTTY: isTerminal(os.Stdout),
		stderrTTY: isTerminal(os.Stderr),
	}
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// exitError 让子命令把退出码带回 execute；其他 cobra 错误一律视为用法错误。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func execute(ctx context.Context, e env, args []string) int {
	root := newRootCommand(e)
	root.SetArgs(args)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(e.stderr, "参数错误：%v\n\n", err)
	fmt.Fprint(e.stderr, root.UsageString())
	return exitUsage
}
