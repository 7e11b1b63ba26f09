package domain

// TimedLine 是时间轴字幕中的一个有效块。
// Text 已去除双引号与连字符；StartTime/EndTime 是原样保留的时间字符串（仅 trim）。
type TimedLine struct {
	Text      string
	StartTime string
	EndTime   string
}

func (l TimedLine) Record() []string {
	return []string{l.Text, l.StartTime, l.EndTime}
}

// SpeakerLine 是 "Speaker: Line" 对白中的一行。
type SpeakerLine struct {
	Speaker string
	Text    string
}

func (l SpeakerLine) Record() []string {
	return []string{l.Speaker, l.Text}
}

// Row 是能落成一行表格记录的实体。
type Row interface {
	Record() []string
}

// Table 是一次解析得到的有序表格，行顺序即解析顺序。
type Table struct {
	Header []string
	Rows   [][]string
}

// NewTable 按输入顺序把实体转成表格行；不排序、不去重。
func NewTable[R Row](header []string, rows []R) Table {
	t := Table{
		Header: append([]string(nil), header...),
		Rows:   make([][]string, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, r.Record())
	}
	return t
}
