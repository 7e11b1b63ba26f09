package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/John-Robertt/subtab/internal/domain"
)

// emitReport 输出一次运行的结果。
//
// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（摘要走 stderr）。
// stdout 是 TTY：输出摘要行与逐文件结果表，失败定位信息走 stderr。
func emitReport(e env, rr domain.RunReport) {
	if !e.stdoutTTY {
		enc := json.NewEncoder(e.stdout)
		_ = enc.Encode(rr)
		fmt.Fprintln(e.stderr, summaryLine(rr))
		return
	}

	fmt.Fprintln(e.stdout, summaryLine(rr))
	if rows := resultRows(rr); len(rows) > 0 {
		fmt.Fprintln(e.stdout, renderTable(
			[]string{"Movie", "Source", "Output", "Kind", "Rows", "Status"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
	}
	writeFailures(e.stderr, rr)
}

func summaryLine(rr domain.RunReport) string {
	mode := "apply"
	if rr.DryRun {
		mode = "dry-run"
	}
	return fmt.Sprintf("完成（%s）：processed=%d skipped=%d failed=%d files=%d rows=%d",
		mode, rr.Summary.Processed, rr.Summary.Skipped, rr.Summary.Failed, rr.Summary.Files, rr.Summary.Rows,
	)
}

func resultRows(rr domain.RunReport) [][]string {
	var rows [][]string
	for _, it := range rr.Items {
		for _, f := range it.Files {
			rows = append(rows, []string{it.Movie, f.Src, f.Dst, f.Kind, strconv.Itoa(f.Rows), fileStatusLabel(f)})
		}
	}
	return rows
}

func fileStatusLabel(f domain.FileResult) string {
	if f.Status == domain.FileStatusFailed && f.ErrorCode != "" {
		return f.Status + " (" + f.ErrorCode + ")"
	}
	return f.Status
}

// writeFailures 每个失败写一行：文件级失败用源文件定位，合成条目用 error_code。
func writeFailures(w io.Writer, rr domain.RunReport) {
	for _, it := range rr.Items {
		if it.Status != domain.StatusFailed {
			continue
		}
		failedFiles := 0
		for _, f := range it.Files {
			if f.Status != domain.FileStatusFailed {
				continue
			}
			failedFiles++
			fmt.Fprintf(w, "%s %s: %s\n", f.Src, f.ErrorCode, f.ErrorMsg)
		}
		if failedFiles == 0 {
			key := it.Movie
			if key == "" {
				key = "<run>"
			}
			fmt.Fprintf(w, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
		}
	}
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
