package converter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/subtab/internal/domain"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	StageRead   = "read"
	StageDecode = "decode"
)

// ErrInvalidUTF8 表示内容既不是合法 UTF-8，也没有 UTF-16 BOM。
var ErrInvalidUTF8 = errors.New("内容不是合法的 UTF-8 文本")

// Error 是单文件转换阶段的可追溯错误。
// 上层据此把失败归类为 read_failed / decode_failed，并写入 report。
type Error struct {
	Kind  domain.Kind
	Path  string
	Stage string // "read" 或 "decode"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("converter=%s stage=%s path=%s: %v", e.Kind, e.Stage, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// DecodeText 把原始字节解码为统一换行（\n）的文本。
//
// - 开头的 BOM 会被去掉；带 BOM 的 UTF-16 也能被识别
// - 没有 UTF-16 BOM 时必须是合法 UTF-8，否则返回 ErrInvalidUTF8
func DecodeText(b []byte) (string, error) {
	if !hasUTF16BOM(b) && !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), b)
	if err != nil {
		return "", err
	}
	return newlineReplacer.Replace(string(out)), nil
}

func hasUTF16BOM(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0xFF, 0xFE}) || bytes.HasPrefix(b, []byte{0xFE, 0xFF})
}

// ConvertFile 读取 path 并用 c 转换为表格。
// 文件级错误（读失败/解码失败）以 *Error 返回；内容格式问题不会报错。
func ConvertFile(c Converter, path string) (domain.Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.Table{}, &Error{Kind: c.Kind(), Path: path, Stage: StageRead, Err: err}
	}
	text, err := DecodeText(b)
	if err != nil {
		return domain.Table{}, &Error{Kind: c.Kind(), Path: path, Stage: StageDecode, Err: err}
	}
	return c.Convert(text), nil
}

// StageOf 提取错误所属阶段；不是 *Error 时返回空串。
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
