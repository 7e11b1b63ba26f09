package domain

// Kind 标识转录文件的格式，同时决定输出表的文件名与表头。
type Kind string

const (
	KindSpeakers   Kind = "speakers"
	KindTimestamps Kind = "timestamps"
)

// OutputName 是该类型在影片输出目录中的默认文件名。
func (k Kind) OutputName() string {
	return string(k) + ".csv"
}

// SourceFile 描述一次扫描得到的转录文件（只做 stat，不读内容）。
//
// 不变量：
// - AbsPath 必须是 clean + absolute
// - Kind 由文件名标记决定；扫描阶段不会产出 Kind 为空的条目
type SourceFile struct {
	AbsPath string
	RelPath string
	Name    string // 含扩展名
	Movie   Movie  // 父目录名
	Kind    Kind
	Size    int64
	ModNano int64 // 修改时间（UnixNano）
}
