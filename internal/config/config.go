package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/subtab/internal/converter"
	"github.com/John-Robertt/subtab/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 subtab.toml（或 --config 指向的文件不存在）。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	// FileName 是按约定位置发现的配置文件名。
	FileName = "subtab.toml"
	// DefaultOutputDir 是未配置 output 时，输入根目录下的输出目录名。
	DefaultOutputDir = "out"
	// DefaultDebounce 是 watch 模式合并文件事件的默认窗口。
	DefaultDebounce = 500 * time.Millisecond
)

// CLIArgs 保留每个 CLI 参数“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --dry-run=false 必须能覆盖 dry_run = true。
type CLIArgs struct {
	Path string
	// ConfigFile 是 --config 显式指定的配置文件（必须存在）。
	ConfigFile string

	Output    string
	OutputSet bool

	DryRun    bool
	DryRunSet bool

	Force    bool
	ForceSet bool

	LogLevel    string
	LogLevelSet bool

	LogFormat    string
	LogFormatSet bool

	Debounce    time.Duration
	DebounceSet bool
}

// FileConfig 对应 subtab.toml 的解析结构。未知字段视为错误（避免拼写错误被静默忽略）。
type FileConfig struct {
	Path   string `toml:"path"`
	Output string `toml:"output"`
	DryRun *bool  `toml:"dry_run"`
	Force  *bool  `toml:"force"`

	Extensions  []string `toml:"extensions"`
	ExcludeDirs []string `toml:"exclude_dirs"`

	SpeakersMarker   string `toml:"speakers_marker"`
	TimestampsMarker string `toml:"timestamps_marker"`
	StartTimeHeader  string `toml:"start_time_header"`

	Log   LogConfig   `toml:"log"`
	Watch WatchConfig `toml:"watch"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type WatchConfig struct {
	DebounceMS int `toml:"debounce_ms"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path   string
	Output string
	DryRun bool
	Force  bool

	Extensions  []string
	ExcludeDirs []string

	SpeakersMarker   string
	TimestampsMarker string
	StartTimeHeader  string

	LogLevel  string
	LogFormat string

	Debounce time.Duration

	// ConfigFile 是实际读取到的配置文件；没有读取任何文件时为空。
	ConfigFile string
}

// ConverterOptions 把文件名标记与表头配置交给 converter 注册表。
func (e EffectiveConfig) ConverterOptions() converter.Options {
	return converter.Options{
		SpeakersMarker:   e.SpeakersMarker,
		TimestampsMarker: e.TimestampsMarker,
		StartTimeHeader:  e.StartTimeHeader,
	}
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) --config FILE：读取该文件（必选）；CLI 未给 path 时其中必须包含 path
// 2) CLI 提供 path：尝试读取 <path>/subtab.toml（可选）
// 3) CLI 未提供 path：必须读取 <cwd>/subtab.toml（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path / output / dry_run / force / log.* / debounce：CLI > config > 默认
// - 其他字段：仅由 config 控制（CLI 不暴露）
//
// 配置文件中的相对路径以配置文件所在目录为基准；CLI 的相对路径以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cliPath := ""
	if strings.TrimSpace(cli.Path) != "" {
		cliPath = absCleanFrom(cwdAbs, cli.Path)
	}

	var (
		cfgPath  string
		required bool
	)
	switch {
	case strings.TrimSpace(cli.ConfigFile) != "":
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigFile)
		required = true
	case cliPath != "":
		// CLI 给了 path：配置文件可选，位置固定在 <path>/subtab.toml。
		cfgPath = filepath.Join(cliPath, FileName)
	default:
		cfgPath = filepath.Join(cwdAbs, FileName)
		required = true
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists && required {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}

	cfgDir := filepath.Dir(cfgPath)
	absPath := cliPath
	if absPath == "" {
		if strings.TrimSpace(fc.Path) == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
		}
		absPath = absCleanFrom(cfgDir, fc.Path)
	}

	eff, err := merge(absPath, cwdAbs, cfgDir, cli, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if exists {
		eff.ConfigFile = cfgPath
	}
	return eff, nil
}

func merge(absPath, cwdAbs, cfgDir string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	// output：CLI > config > 默认 <path>/out
	output := filepath.Join(absPath, DefaultOutputDir)
	if cli.OutputSet && strings.TrimSpace(cli.Output) != "" {
		output = absCleanFrom(cwdAbs, cli.Output)
	} else if strings.TrimSpace(fc.Output) != "" {
		output = absCleanFrom(cfgDir, fc.Output)
	}

	// dry_run / force：CLI > config > 默认 false
	dryRun := false
	if cli.DryRunSet {
		dryRun = cli.DryRun
	} else if fc.DryRun != nil {
		dryRun = *fc.DryRun
	}
	force := false
	if cli.ForceSet {
		force = cli.Force
	} else if fc.Force != nil {
		force = *fc.Force
	}

	logLevel := pick(cli.LogLevelSet, cli.LogLevel, fc.Log.Level, "info")
	if _, err := logging.ParseLevel(logLevel); err != nil {
		return EffectiveConfig{}, err
	}
	logFormat := strings.ToLower(pick(cli.LogFormatSet, cli.LogFormat, fc.Log.Format, logging.FormatConsole))
	if logFormat != logging.FormatConsole && logFormat != logging.FormatJSON {
		return EffectiveConfig{}, fmt.Errorf("log.format 只能是 console 或 json，实际是 %q", logFormat)
	}

	debounce := DefaultDebounce
	if cli.DebounceSet {
		debounce = cli.Debounce
	} else if fc.Watch.DebounceMS != 0 {
		debounce = time.Duration(fc.Watch.DebounceMS) * time.Millisecond
	}
	if debounce <= 0 {
		return EffectiveConfig{}, fmt.Errorf("debounce 必须大于 0，实际是 %s", debounce)
	}

	speakers := strings.TrimSpace(fc.SpeakersMarker)
	if speakers == "" {
		speakers = converter.DefaultSpeakersMarker
	}
	timestamps := strings.TrimSpace(fc.TimestampsMarker)
	if timestamps == "" {
		timestamps = converter.DefaultTimestampsMarker
	}
	if speakers == timestamps {
		return EffectiveConfig{}, fmt.Errorf("speakers_marker 与 timestamps_marker 不能相同：%q", speakers)
	}

	// start_time_header 不 trim：列名按原样写入表头。
	startHeader := fc.StartTimeHeader
	if strings.TrimSpace(startHeader) == "" {
		startHeader = converter.DefaultStartTimeHeader
	}

	exts, err := normalizeExtensions(fc.Extensions)
	if err != nil {
		return EffectiveConfig{}, err
	}

	return EffectiveConfig{
		Path:             absPath,
		Output:           output,
		DryRun:           dryRun,
		Force:            force,
		Extensions:       exts,
		ExcludeDirs:      append([]string(nil), fc.ExcludeDirs...),
		SpeakersMarker:   speakers,
		TimestampsMarker: timestamps,
		StartTimeHeader:  startHeader,
		LogLevel:         strings.ToLower(strings.TrimSpace(logLevel)),
		LogFormat:        logFormat,
		Debounce:         debounce,
	}, nil
}

func pick(cliSet bool, cliVal, fileVal, def string) string {
	if cliSet && strings.TrimSpace(cliVal) != "" {
		return strings.TrimSpace(cliVal)
	}
	if strings.TrimSpace(fileVal) != "" {
		return strings.TrimSpace(fileVal)
	}
	return def
}

// normalizeExtensions 统一为小写、带前导点；空列表使用默认 .txt。
func normalizeExtensions(in []string) ([]string, error) {
	if len(in) == 0 {
		return []string{".txt"}, nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || e == "." {
			return nil, fmt.Errorf("extensions 含空值")
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 TOML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		// 未知字段：go-toml 返回 StrictMissingError，逐个列出键名与位置。
		var sme *toml.StrictMissingError
		if errors.As(err, &sme) && len(sme.Errors) > 0 {
			parts := make([]string, 0, len(sme.Errors))
			for i := range sme.Errors {
				row, col := sme.Errors[i].Position()
				parts = append(parts, fmt.Sprintf("第 %d 行第 %d 列：未知字段 %q", row, col, strings.Join(sme.Errors[i].Key(), ".")))
			}
			return FileConfig{}, true, errors.New(strings.Join(parts, "；"))
		}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			return FileConfig{}, true, fmt.Errorf("第 %d 行第 %d 列：%w", row, col, err)
		}
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
