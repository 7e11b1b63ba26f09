package converter

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/subtab/internal/domain"
)

// Registry 是 converter 的只读注册表。
// Match 按注册顺序匹配 marker，因此注册顺序就是优先级。
type Registry struct {
	ordered []Converter
	byKind  map[domain.Kind]Converter
}

func NewRegistry(converters ...Converter) (Registry, error) {
	byKind := make(map[domain.Kind]Converter, len(converters))
	ordered := make([]Converter, 0, len(converters))
	for _, c := range converters {
		if c == nil {
			return Registry{}, fmt.Errorf("converter 不能为空")
		}
		kind := c.Kind()
		if strings.TrimSpace(string(kind)) == "" {
			return Registry{}, fmt.Errorf("converter.Kind 不能为空")
		}
		if strings.TrimSpace(c.Marker()) == "" {
			return Registry{}, fmt.Errorf("converter %q 的 marker 不能为空", kind)
		}
		if _, ok := byKind[kind]; ok {
			return Registry{}, fmt.Errorf("重复的 converter：%q", kind)
		}
		byKind[kind] = c
		ordered = append(ordered, c)
	}
	return Registry{ordered: ordered, byKind: byKind}, nil
}

// Options 是默认注册表的可配置项；零值即默认行为。
type Options struct {
	SpeakersMarker   string
	TimestampsMarker string
	StartTimeHeader  string
}

// NewDefaultRegistry 注册 speakers 与 timestamps（speakers 优先）。
func NewDefaultRegistry(opts Options) (Registry, error) {
	return NewRegistry(
		NewSpeakers(opts.SpeakersMarker),
		NewTimestamps(opts.TimestampsMarker, opts.StartTimeHeader),
	)
}

func (r Registry) Get(kind domain.Kind) (Converter, bool) {
	if r.byKind == nil {
		return nil, false
	}
	c, ok := r.byKind[kind]
	return c, ok
}

// Match 返回文件名（basename）命中的第一个 converter。
func (r Registry) Match(name string) (Converter, bool) {
	for _, c := range r.ordered {
		if strings.Contains(name, c.Marker()) {
			return c, true
		}
	}
	return nil, false
}

func (r Registry) Kinds() []domain.Kind {
	out := make([]domain.Kind, 0, len(r.ordered))
	for _, c := range r.ordered {
		out = append(out, c.Kind())
	}
	return out
}

// Classify 实现 scan.Classifier。
func (r Registry) Classify(name string) (domain.Kind, bool) {
	c, ok := r.Match(name)
	if !ok {
		return "", false
	}
	return c.Kind(), true
}
