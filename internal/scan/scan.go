package scan

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/subtab/internal/domain"
)

// DefaultExtensions 是未配置 extensions 时接受的扩展名。
var DefaultExtensions = []string{".txt"}

// Classifier 根据文件名（basename）判断转录文件类型。
type Classifier interface {
	Classify(name string) (domain.Kind, bool)
}

type Options struct {
	// Output 是输出根目录（绝对路径）；位于 root 内时整棵子树被排除。
	Output string
	// ExcludeDirs 来自配置文件，均视为相对 root 的路径（若是绝对路径，则按绝对路径处理）。
	ExcludeDirs []string
	// Extensions 为空时使用 DefaultExtensions；比较时不区分大小写。
	Extensions []string
}

type Result struct {
	Files []domain.SourceFile
	// Ignored 是扩展名或文件名标记不匹配、以及无法得到影片目录名的文件数。
	Ignored int
	// Unreadable 是遍历中无法读取的目录/文件；它们被跳过，其余文件照常收录。
	Unreadable []Unreadable
}

// Unreadable 记录一个被跳过的路径（RelPath 使用 / 分隔）。
type Unreadable struct {
	RelPath string
	Err     error
}

// walkDir/statEntry 便于测试注入目录遍历与单个文件的 stat 失败。
var (
	walkDir   = filepath.WalkDir
	statEntry = func(d fs.DirEntry) (fs.FileInfo, error) { return d.Info() }
)

// ScanTranscripts 扫描 root 下的转录文件，并应用目录排除规则。
//
// 规则：
// - 永久排除：<root>/out/（默认输出目录）与 opts.Output（若位于 root 内）
// - 影片名 = 文件所在目录的 basename（直接位于 root 下的文件使用 root 的 basename）
// - 结果按 RelPath 排序
//
// 注意：扫描阶段只做 stat（DirEntry.Info），不读文件内容。
// 只有 root 本身不可读时返回错误；其余读取失败记入 Result.Unreadable 并跳过。
func ScanTranscripts(root string, cls Classifier, opts Options) (Result, error) {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, opts.Output, opts.ExcludeDirs)
	exts := normalizeExts(opts.Extensions)

	var res Result
	res.Files = make([]domain.SourceFile, 0, 64)
	err := walkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// 根目录本身不可读才是整次扫描失败；子目录/文件只跳过自己。
			if path == root {
				return walkErr
			}
			res.Unreadable = append(res.Unreadable, Unreadable{RelPath: relSlash(root, path), Err: walkErr})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// 统一的排除判断：目录用 SkipDir，文件则直接跳过。
		if isExcluded(path, excluded) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		name := d.Name()
		if !exts[strings.ToLower(filepath.Ext(name))] {
			res.Ignored++
			return nil
		}
		kind, ok := cls.Classify(name)
		if !ok {
			res.Ignored++
			return nil
		}
		movie, ok := domain.ParseMovie(filepath.Base(filepath.Dir(path)))
		if !ok {
			res.Ignored++
			return nil
		}

		info, err := statEntry(d)
		if err != nil {
			// ReadDir 之后被删除/改名：按不存在处理。
			if !errors.Is(err, fs.ErrNotExist) {
				res.Unreadable = append(res.Unreadable, Unreadable{RelPath: relSlash(root, path), Err: err})
			}
			return nil
		}

		res.Files = append(res.Files, domain.SourceFile{
			AbsPath: path,
			RelPath: relSlash(root, path),
			Name:    name,
			Movie:   movie,
			Kind:    kind,
			Size:    info.Size(),
			ModNano: info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].RelPath < res.Files[j].RelPath })
	return res, nil
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Accepts 判断 path 是否是一次扫描会收录的文件（不 stat，只看路径）。
// watch 用它过滤无关事件。
func Accepts(root, path string, cls Classifier, opts Options) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if !isUnder(path, root) || path == root {
		return false
	}
	if isExcluded(path, buildExcluded(root, opts.Output, opts.ExcludeDirs)) {
		return false
	}
	name := filepath.Base(path)
	if !normalizeExts(opts.Extensions)[strings.ToLower(filepath.Ext(name))] {
		return false
	}
	_, ok := cls.Classify(name)
	return ok
}

// IsExcludedDir 判断目录是否会被扫描跳过。
func IsExcludedDir(root, dir string, opts Options) bool {
	return isExcluded(dir, buildExcluded(filepath.Clean(root), opts.Output, opts.ExcludeDirs))
}

func normalizeExts(in []string) map[string]bool {
	if len(in) == 0 {
		in = DefaultExtensions
	}
	out := make(map[string]bool, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = true
	}
	return out
}

func buildExcluded(root, output string, excludeDirs []string) []string {
	excluded := make([]string, 0, 2+len(excludeDirs))
	excluded = append(excluded, filepath.Join(root, "out"))

	if output = strings.TrimSpace(output); output != "" {
		output = filepath.Clean(output)
		// 输出根目录等于输入根目录时不能整体排除，否则什么都扫不到；此时只排除内部状态目录。
		if output == root {
			excluded = append(excluded, filepath.Join(root, ".cache"))
		} else if isUnder(output, root) {
			excluded = append(excluded, output)
		}
	}

	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, strings.TrimSuffix(base, sep)+sep)
}
