package transcript

import (
	"strings"
	"unicode"

	"github.com/John-Robertt/subtab/internal/domain"
)

// timeArrow 是时间行中 start/end 的分隔符。
const timeArrow = "-->"

// ParseTimestamps 把 SRT 风格的字幕内容解析为 TimedLine 序列（保持块顺序）。
//
// 规则：
// - 先去标签，再整体 trim
// - 块边界：任何“整行都是十进制数字、且后面还有换行”的行之前
// - 少于 3 行（序号行 + 时间行 + 至少一行文本）的块直接跳过，不算错误
// - 文本行直接拼接（不加空格），trim 后删除全部 `"` 与 `-`
func ParseTimestamps(content string) []domain.TimedLine {
	plain := strings.TrimSpace(StripMarkup(content))
	blocks := splitBlocks(plain)

	out := make([]domain.TimedLine, 0, len(blocks))
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}

		start, end := splitTimeRange(lines[1])

		text := strings.TrimSpace(strings.Join(lines[2:], ""))
		text = strings.ReplaceAll(text, `"`, "")
		text = strings.ReplaceAll(text, "-", "")

		out = append(out, domain.TimedLine{
			Text:      text,
			StartTime: start,
			EndTime:   end,
		})
	}
	return out
}

func splitBlocks(plain string) []string {
	lines := strings.Split(plain, "\n")

	blocks := make([]string, 0, len(lines)/3+1)
	begin := 0
	// 最后一行后面没有换行，不可能成为边界。
	for i := 1; i < len(lines)-1; i++ {
		if !isIndexLine(lines[i]) {
			continue
		}
		blocks = append(blocks, strings.Join(lines[begin:i], "\n"))
		begin = i
	}
	return append(blocks, strings.Join(lines[begin:], "\n"))
}

func isIndexLine(line string) bool {
	if line == "" {
		return false
	}
	for _, r := range line {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// splitTimeRange 取首个 "-->" 之前与最后一个 "-->" 之后的部分；没有箭头时 start=end=整行。
func splitTimeRange(line string) (start, end string) {
	parts := strings.Split(strings.TrimSpace(line), timeArrow)
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[len(parts)-1])
}
