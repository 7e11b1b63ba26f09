package transcript

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/John-Robertt/subtab/internal/domain"
)

// annotationRE 匹配单层的 [...] / (...)：内部不能再出现任何括号字符。
// 嵌套的外层括号不处理（保持单层语义）。
var annotationRE = regexp.MustCompile(`\[[^\[\]()]+\]|\([^\[\]()]+\)`)

// 顺序固定：标点归一（c–e）必须先于缩写去点（f–h）。
var (
	quoteReplacer = strings.NewReplacer(`"`, "", "'", "")

	ellipsisMarkRE = regexp.MustCompile(`\.{3}[?!]`)
	markRunRE      = regexp.MustCompile(`[?!]+`)
	dotRunRE       = regexp.MustCompile(`\.{2,}`)
)

// ParseSpeakers 把 "Speaker: Line" 对白内容解析为 SpeakerLine 序列（保持行顺序）。
//
// 空行、没有冒号的行直接跳过，不算错误。
func ParseSpeakers(content string) []domain.SpeakerLine {
	cleaned := strings.TrimSpace(StripAnnotations(content))
	lines := strings.Split(cleaned, "\n")

	out := make([]domain.SpeakerLine, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		speaker, text, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out = append(out, domain.SpeakerLine{
			Speaker: strings.TrimSpace(speaker),
			Text:    NormalizeLine(text),
		})
	}
	return out
}

// StripAnnotations 一次性删除全部单层括号注释（连同括号），不补空格。
func StripAnnotations(content string) string {
	return annotationRE.ReplaceAllString(content, "")
}

// NormalizeLine 规范化一行对白文本。对自身输出再执行一次不会产生任何变化。
func NormalizeLine(text string) string {
	text = strings.TrimSpace(text)
	text = quoteReplacer.Replace(text)
	text = strings.Join(strings.Fields(text), " ")

	text = ellipsisMarkRE.ReplaceAllString(text, ".")
	text = markRunRE.ReplaceAllString(text, ".")
	text = dotRunRE.ReplaceAllString(text, ".")

	text = replaceAtWordStart(text, "Dr.", "Dr")
	text = replaceAtWordStart(text, "a.m.", "am")
	text = replaceAtWordStart(text, "Mr.", "Mr")
	return text
}

// replaceAtWordStart 替换所有位于词首的 old（不重叠、从左到右）。
// 词字符按 Unicode 判断（字母、数字、下划线）：regexp 的 \b 只认 ASCII，"éDr." 不算词首。
func replaceAtWordStart(s, old, repl string) string {
	var b strings.Builder
	i := 0
	for {
		j := strings.Index(s[i:], old)
		if j < 0 {
			break
		}
		j += i
		if !atWordStart(s, j) {
			// old 以 ASCII 字符开头，前进一个字节不会切开多字节字符。
			b.WriteString(s[i : j+1])
			i = j + 1
			continue
		}
		b.WriteString(s[i:j])
		b.WriteString(repl)
		i = j + len(old)
	}
	b.WriteString(s[i:])
	return b.String()
}

func atWordStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_'
}
