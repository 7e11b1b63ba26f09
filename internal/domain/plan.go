package domain

// ConvertPlan 描述一次 "源文件 -> 表格文件" 的转换（只描述，不执行）。
type ConvertPlan struct {
	Src     SourceFile
	DstAbs  string
	DstName string

	// DstExists 表示规划时目标位置已有同名条目。
	DstExists bool
	// UpToDate 表示目标已由同一份源文件生成过，可以跳过（--force 时恒为 false）。
	UpToDate bool
}

// ItemPlan 是对某个影片目录的最小执行计划。
type ItemPlan struct {
	Movie    Movie
	OutDir   string
	Converts []ConvertPlan

	// Stale 是目录内没有对应源文件的 <kind>__N.csv（例如同类源文件变少后遗留）；apply 时删除。
	Stale []string
}
