package app

import (
	"sort"

	"github.com/John-Robertt/subtab/internal/domain"
)

// GroupByMovie 把转录文件按影片目录名分组为 WorkItem（WorkItem 只存 file index）。
//
// - items 稳定排序：按 Movie 字典序
// - item 内 FileIdx 稳定排序：按 RelPath 字典序
// - 不同深度下同名的影片目录合并为同一个 item（输出目录同名）
func GroupByMovie(files []domain.SourceFile) []domain.WorkItem {
	index := make(map[domain.Movie]int, 64)
	items := make([]domain.WorkItem, 0, 64)

	for i := range files {
		m := files[i].Movie
		if idx, ok := index[m]; ok {
			items[idx].FileIdx = append(items[idx].FileIdx, i)
			continue
		}
		index[m] = len(items)
		items = append(items, domain.WorkItem{
			Movie:   m,
			FileIdx: []int{i},
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Movie < items[j].Movie })
	for i := range items {
		sort.Slice(items[i].FileIdx, func(a, b int) bool {
			ia := items[i].FileIdx[a]
			ib := items[i].FileIdx[b]
			return files[ia].RelPath < files[ib].RelPath
		})
	}
	return items
}
