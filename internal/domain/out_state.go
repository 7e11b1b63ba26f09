package domain

// OutState 描述 <output>/<movie>/ 的现状（只做 ReadDir，不读内容）。
type OutState struct {
	OutDir string

	// ExistingNames 是目录内现有条目名集合；值为 true 表示该条目是目录。
	ExistingNames map[string]bool
}
