package converter

import (
	"strings"

	"github.com/John-Robertt/subtab/internal/domain"
	"github.com/John-Robertt/subtab/internal/transcript"
)

const (
	DefaultSpeakersMarker   = "_speakers"
	DefaultTimestampsMarker = "_timestamps"
	DefaultStartTimeHeader  = "Strat Time"
)

// Converter 把“文件格式差异”限制在 converter 包内部；批处理流程只依赖统一接口与 domain.Table。
//
// 约束：
// - Convert 必须是纯函数：相同输入 => 相同输出
// - Convert 不返回错误：格式不合法的内容只会少产出行
// - Header 的列数必须与每一行 Record() 的列数一致
type Converter interface {
	Kind() domain.Kind
	Marker() string
	Header() []string
	Convert(content string) domain.Table
}

type Speakers struct {
	marker string
}

func NewSpeakers(marker string) Speakers {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultSpeakersMarker
	}
	return Speakers{marker: marker}
}

func (Speakers) Kind() domain.Kind { return domain.KindSpeakers }
func (s Speakers) Marker() string  { return s.marker }
func (Speakers) Header() []string  { return []string{"Speaker", "Line"} }

func (s Speakers) Convert(content string) domain.Table {
	return domain.NewTable(s.Header(), transcript.ParseSpeakers(content))
}

type Timestamps struct {
	marker      string
	startHeader string
}

// NewTimestamps 的 startHeader 为空时使用下游约定的字面列名 "Strat Time"。
func NewTimestamps(marker, startHeader string) Timestamps {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultTimestampsMarker
	}
	if strings.TrimSpace(startHeader) == "" {
		startHeader = DefaultStartTimeHeader
	}
	return Timestamps{marker: marker, startHeader: startHeader}
}

func (Timestamps) Kind() domain.Kind { return domain.KindTimestamps }
func (t Timestamps) Marker() string  { return t.marker }

func (t Timestamps) Header() []string {
	return []string{"Line", t.startHeader, "End Time"}
}

func (t Timestamps) Convert(content string) domain.Table {
	return domain.NewTable(t.Header(), transcript.ParseTimestamps(content))
}
