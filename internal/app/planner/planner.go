package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/John-Robertt/subtab/internal/domain"
	"github.com/John-Robertt/subtab/internal/infra/fsx"
)

// Freshness 判断某个输出表格是否已由同一份源文件生成（可跳过）。
type Freshness interface {
	UpToDate(src domain.SourceFile, dstName string) bool
}

// ReadOutState 读取 <output>/<movie>/ 的现状（只做 ReadDir，不读文件内容）。
// 若目录不存在，返回空状态且不报错；同名路径是文件时返回 PathTypeConflictError。
func ReadOutState(output string, movie domain.Movie) (domain.OutState, error) {
	outDir := filepath.Join(output, string(movie))
	st := domain.OutState{
		OutDir:        outDir,
		ExistingNames: map[string]bool{},
	}

	fi, err := os.Stat(outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return domain.OutState{}, err
	}
	if !fi.IsDir() {
		return domain.OutState{}, &fsx.PathTypeConflictError{Path: outDir, Want: "dir", Got: "file"}
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return domain.OutState{}, err
	}

	for _, e := range entries {
		st.ExistingNames[e.Name()] = e.IsDir()
	}
	return st, nil
}

// PlanItem 基于 WorkItem + OutState 生成确定性的执行计划（不做任何写入）。
//
// 输出名只由本次输入决定：同一 item 内同类文件依次得到 <kind>.csv、<kind>__2.csv ...；
// 目标目录里已有的同名文件会被覆盖（重复运行得到同一组文件名）。
// fresh 为 nil 时不做跳过判断（--force）。
func PlanItem(files []domain.SourceFile, item domain.WorkItem, st domain.OutState, fresh Freshness) (domain.ItemPlan, error) {
	used := make(map[string]struct{}, len(item.FileIdx))

	converts := make([]domain.ConvertPlan, 0, len(item.FileIdx))
	for _, idx := range item.FileIdx {
		if idx < 0 || idx >= len(files) {
			return domain.ItemPlan{}, fmt.Errorf("非法 file index：%d", idx)
		}
		src := files[idx]
		if src.Movie != item.Movie {
			return domain.ItemPlan{}, fmt.Errorf("文件 %q 不属于影片 %q", src.RelPath, item.Movie)
		}

		dstName := allocName(src.Kind.OutputName(), used)
		used[dstName] = struct{}{}

		isDir, exists := st.ExistingNames[dstName]
		cp := domain.ConvertPlan{
			Src:       src,
			DstAbs:    filepath.Join(st.OutDir, dstName),
			DstName:   dstName,
			DstExists: exists,
		}
		if exists && !isDir && fresh != nil {
			cp.UpToDate = fresh.UpToDate(src, dstName)
		}
		converts = append(converts, cp)
	}

	return domain.ItemPlan{
		Movie:    item.Movie,
		OutDir:   st.OutDir,
		Converts: converts,
	}, nil
}

func allocName(name string, used map[string]struct{}) string {
	if _, ok := used[name]; !ok {
		return name
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d%s", base, n, ext)
		if _, ok := used[cand]; !ok {
			return cand
		}
	}
}

// StaleOutputs 找出 OutDir 中不再对应任何源文件的 <kind>__N.csv（N>=2）。
// 只认 kinds 的去重命名格式，其它文件（包括 <kind>.csv 本身）一律不碰。
func StaleOutputs(p domain.ItemPlan, st domain.OutState, kinds []domain.Kind) []string {
	planned := make(map[string]struct{}, len(p.Converts))
	for _, cp := range p.Converts {
		planned[cp.DstName] = struct{}{}
	}

	var stale []string
	for name, isDir := range st.ExistingNames {
		if isDir {
			continue
		}
		if _, ok := planned[name]; ok {
			continue
		}
		for _, k := range kinds {
			if isSuffixedName(name, k.OutputName()) {
				stale = append(stale, name)
				break
			}
		}
	}
	sort.Strings(stale)
	return stale
}

// isSuffixedName 判断 name 是否形如 allocName 产生的 <base>__N<ext>。
func isSuffixedName(name, outputName string) bool {
	ext := filepath.Ext(outputName)
	prefix := strings.TrimSuffix(outputName, ext) + "__"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
		return false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
	n, err := strconv.Atoi(mid)
	return err == nil && n >= 2 && strconv.Itoa(n) == mid
}

// SortPlans 让上层在需要时可显式保证稳定顺序（而不是依赖 map 遍历顺序）。
func SortPlans(plans []domain.ItemPlan) {
	sort.Slice(plans, func(i, j int) bool { return plans[i].Movie < plans[j].Movie })
}
