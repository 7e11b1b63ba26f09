package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadEffective_ConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_ConfigMissingPath(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`output = "tables"`))

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeMissingPath {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingPath, err, Code(err))
	}
}

func TestLoadEffective_DefaultsFromCLIPath(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	eff, err := LoadEffective(cwd, CLIArgs{Path: "root"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Path != root {
		t.Fatalf("期望 path=%q，实际=%q", root, eff.Path)
	}
	if eff.Output != filepath.Join(root, DefaultOutputDir) {
		t.Fatalf("默认 output 应为 <path>/out，实际=%q", eff.Output)
	}
	if eff.DryRun || eff.Force {
		t.Fatalf("dry_run/force 默认应为 false：%+v", eff)
	}
	if !reflect.DeepEqual(eff.Extensions, []string{".txt"}) {
		t.Fatalf("默认扩展名不正确：%v", eff.Extensions)
	}
	if eff.SpeakersMarker != "_speakers" || eff.TimestampsMarker != "_timestamps" || eff.StartTimeHeader != "Strat Time" {
		t.Fatalf("默认 marker/header 不正确：%+v", eff)
	}
	if eff.LogLevel != "info" || eff.LogFormat != "console" || eff.Debounce != DefaultDebounce {
		t.Fatalf("默认 log/debounce 不正确：%+v", eff)
	}
	if eff.ConfigFile != "" {
		t.Fatalf("没有配置文件时 ConfigFile 应为空：%q", eff.ConfigFile)
	}
}

func TestLoadEffective_FileFieldsAndRelativePaths(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`
path = "data/raw"
output = "data/processed"
extensions = ["TXT", "srt", ".txt"]
exclude_dirs = ["drafts"]
speakers_marker = "-dlg"
timestamps_marker = "-srt"
start_time_header = "Start Time"

[log]
level = "debug"
format = "json"

[watch]
debounce_ms = 1500
`))

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Path != filepath.Join(cwd, "data", "raw") || eff.Output != filepath.Join(cwd, "data", "processed") {
		t.Fatalf("相对路径应以配置文件目录为基准：%+v", eff)
	}
	if !reflect.DeepEqual(eff.Extensions, []string{".txt", ".srt"}) {
		t.Fatalf("扩展名规范化不正确：%v", eff.Extensions)
	}
	if !reflect.DeepEqual(eff.ExcludeDirs, []string{"drafts"}) {
		t.Fatalf("exclude_dirs 不正确：%v", eff.ExcludeDirs)
	}
	opts := eff.ConverterOptions()
	if opts.SpeakersMarker != "-dlg" || opts.TimestampsMarker != "-srt" || opts.StartTimeHeader != "Start Time" {
		t.Fatalf("converter 选项不正确：%+v", opts)
	}
	if eff.LogLevel != "debug" || eff.LogFormat != "json" || eff.Debounce != 1500*time.Millisecond {
		t.Fatalf("log/watch 配置不正确：%+v", eff)
	}
	if eff.ConfigFile != filepath.Join(cwd, FileName) {
		t.Fatalf("ConfigFile=%q", eff.ConfigFile)
	}
}

func TestLoadEffective_CLIOverrides(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`
path = "videos"
output = "tables"
dry_run = true
force = true

[log]
level = "warn"
`))

	eff, err := LoadEffective(cwd, CLIArgs{
		Output: "elsewhere", OutputSet: true,
		DryRun: false, DryRunSet: true, // --dry-run=false
		Force: false, ForceSet: true,
		LogLevel: "error", LogLevelSet: true,
		Debounce: 2 * time.Second, DebounceSet: true,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.DryRun || eff.Force {
		t.Fatalf("CLI 显式 false 必须覆盖配置：%+v", eff)
	}
	if eff.Output != filepath.Join(cwd, "elsewhere") {
		t.Fatalf("CLI output 未生效：%q", eff.Output)
	}
	if eff.LogLevel != "error" || eff.Debounce != 2*time.Second {
		t.Fatalf("CLI log/debounce 未生效：%+v", eff)
	}
	if eff.Path != filepath.Join(cwd, "videos") {
		t.Fatalf("期望 path 来自配置文件：%q", eff.Path)
	}
}

func TestLoadEffective_ExplicitConfigFile(t *testing.T) {
	cwd := t.TempDir()
	cfgDir := filepath.Join(cwd, "etc")
	writeFile(t, filepath.Join(cfgDir, "custom.toml"), []byte(`path = "../movies"`))

	eff, err := LoadEffective(cwd, CLIArgs{ConfigFile: filepath.Join("etc", "custom.toml")})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Path != filepath.Join(cwd, "movies") {
		t.Fatalf("path 应相对配置文件目录解析：%q", eff.Path)
	}

	_, err = LoadEffective(cwd, CLIArgs{Path: ".", ConfigFile: "missing.toml"})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("显式配置文件不存在应报 %q，实际 %v", ErrCodeNotFound, err)
	}
}

func TestLoadEffective_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", `path = `},
		{"unknown field", "path = \"p\"\nprovider = \"x\""},
		{"bad log level", "path = \"p\"\n[log]\nlevel = \"loud\""},
		{"bad log format", "path = \"p\"\n[log]\nformat = \"xml\""},
		{"same markers", "path = \"p\"\nspeakers_marker = \"_x\"\ntimestamps_marker = \"_x\""},
		{"negative debounce", "path = \"p\"\n[watch]\ndebounce_ms = -5"},
		{"empty extension", "path = \"p\"\nextensions = [\" \"]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cwd := t.TempDir()
			writeFile(t, filepath.Join(cwd, FileName), []byte(tt.body))
			_, err := LoadEffective(cwd, CLIArgs{})
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func TestLoadEffective_UnknownFieldNamesKeyAndLine(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte("path = \"p\"\nprovider = \"x\"\n[log]\nlevle = \"info\"\n"))

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v", ErrCodeInvalid, err)
	}
	msg := err.Error()
	for _, want := range []string{`"provider"`, "第 2 行", `"log.levle"`, "第 4 行"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("错误信息缺少 %s：%s", want, msg)
		}
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
