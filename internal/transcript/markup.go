package transcript

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// tagRE 只在 HTML 解析器失败时兜底使用。
var tagRE = regexp.MustCompile(`<[^>]+>`)

// StripMarkup 去掉内容中的标签，只保留文本节点。
//
// 使用宽松的 HTML 解析（goquery / x/net/html）：嵌套、未闭合的标签都能得到尽力而为的结果；
// 没有任何标签结构时内容按纯文本原样返回。该函数不会失败。
func StripMarkup(content string) string {
	if !strings.ContainsAny(content, "<&") {
		return content
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return tagRE.ReplaceAllString(content, "")
	}
	return doc.Text()
}
