package domain

// WorkItem 是按影片目录聚合后的工作单元。
// WorkItem 只保存文件下标（指向 []SourceFile），避免复制结构体。
type WorkItem struct {
	Movie   Movie
	FileIdx []int
}
