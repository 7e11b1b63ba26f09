package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/John-Robertt/subtab/internal/domain"
)

// Encode 把 Table 编码为 CSV（RFC 4180 引号规则，\n 换行，首行为表头，无索引列）。
//
// 每一行的列数必须与表头一致；否则返回错误（上层映射为 encode_failed）。
func Encode(tb domain.Table) ([]byte, error) {
	if len(tb.Header) == 0 {
		return nil, fmt.Errorf("表头不能为空")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(tb.Header); err != nil {
		return nil, err
	}
	for i, row := range tb.Rows {
		if len(row) != len(tb.Header) {
			return nil, fmt.Errorf("第 %d 行列数为 %d，表头列数为 %d", i+1, len(row), len(tb.Header))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
