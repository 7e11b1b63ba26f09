package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/John-Robertt/subtab/internal/domain"
	"github.com/John-Robertt/subtab/internal/infra/fsx"
)

// DirName 是输出根目录下的内部状态目录（扫描与输出都会忽略它）。
const DirName = ".cache"

// Store 提供 <output>/.cache/ 下的内部状态读写：转换戳（stamp）与最近一次运行报告。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
type Store struct {
	Root     string // <output>（输出根目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// Stamp 记录某个输出表格是由哪一份源文件生成的。
// 源文件 size/mtime 与表头都不变时，输出视为最新。
type Stamp struct {
	Source  string   `json:"source"` // 相对输入根目录的路径（/ 分隔）
	Kind    string   `json:"kind"`
	Size    int64    `json:"size"`
	ModNano int64    `json:"mod_nano"`
	Header  []string `json:"header"`
	Rows    int      `json:"rows"`
}

// NewStamp 用源文件当前的 stat 信息与表头构造 stamp。
func NewStamp(src domain.SourceFile, header []string, rows int) Stamp {
	return Stamp{
		Source:  src.RelPath,
		Kind:    string(src.Kind),
		Size:    src.Size,
		ModNano: src.ModNano,
		Header:  append([]string(nil), header...),
		Rows:    rows,
	}
}

// Matches 判断 stamp 是否仍然描述同一份源文件与同一种表头。
func (s Stamp) Matches(src domain.SourceFile, header []string) bool {
	return s.Source == src.RelPath &&
		s.Kind == string(src.Kind) &&
		s.Size == src.Size &&
		s.ModNano == src.ModNano &&
		slices.Equal(s.Header, header)
}

// StampPath 返回 <output>/.cache/stamps/<movie>/<dstName>.json。
func (s Store) StampPath(movie domain.Movie, dstName string) (string, error) {
	if err := checkSegment("movie", string(movie)); err != nil {
		return "", err
	}
	if err := checkSegment("dst", dstName); err != nil {
		return "", err
	}
	return filepath.Join(s.Root, DirName, "stamps", string(movie), dstName+".json"), nil
}

// ReadStamp 读取 stamp；不存在时 ok=false 且 err=nil。内容损坏同样视为不存在。
func (s Store) ReadStamp(movie domain.Movie, dstName string) (Stamp, bool, error) {
	path, err := s.StampPath(movie, dstName)
	if err != nil {
		return Stamp{}, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Stamp{}, false, nil
		}
		return Stamp{}, false, err
	}
	var st Stamp
	if err := json.Unmarshal(b, &st); err != nil {
		return Stamp{}, false, nil
	}
	return st, true, nil
}

func (s Store) WriteStamp(movie domain.Movie, dstName string, st Stamp) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.StampPath(movie, dstName)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), append(b, '\n'))
}

// RemoveStamp 删除 stamp；不存在不算错误。
func (s Store) RemoveStamp(movie domain.Movie, dstName string) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.StampPath(movie, dstName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReportPath 返回 <output>/.cache/report.json。
func (s Store) ReportPath() string {
	return filepath.Join(s.Root, DirName, "report.json")
}

// WriteReport 覆盖写入最近一次运行的报告（JSON）。
func (s Store) WriteReport(data []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	return fsx.WriteFileAtomic(filepath.Join(s.Root, DirName), "report.json", data)
}

// 最小约束：避免路径穿越。
func checkSegment(what, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s 不能为空", what)
	}
	if v == "." || v == ".." || strings.ContainsRune(v, '/') || strings.ContainsRune(v, filepath.Separator) {
		return fmt.Errorf("非法 %s：%q", what, v)
	}
	return nil
}
