package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

const (
	FileStatusPlanned = "planned"
	FileStatusWritten = "written"
	FileStatusSkipped = "skipped"
	FileStatusFailed  = "failed"
)

const (
	ErrCodeReadFailed        = "read_failed"
	ErrCodeDecodeFailed      = "decode_failed"
	ErrCodeEncodeFailed      = "encode_failed"
	ErrCodeWriteFailed       = "write_failed"
	ErrCodeTargetConflict    = "target_conflict"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeLocked            = "output_locked"
	ErrCodeCanceled          = "canceled"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Path   string `json:"path"`
	Output string `json:"output"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	Files int `json:"files"`
	Rows  int `json:"rows"`
}

// ItemResult 是一个影片目录的处理结果。
type ItemResult struct {
	Movie string `json:"movie"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Files []FileResult `json:"files"`

	// Stale 列出本目录中不再对应任何源文件的表格（apply 时已删除，dry-run 时只列出）。
	Stale []string `json:"stale,omitempty"`
}

type FileResult struct {
	Src  string `json:"src"`
	Dst  string `json:"dst"`
	Kind string `json:"kind"`
	Rows int    `json:"rows"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// Settle 根据 files 推导 item 状态：
// - 任一文件失败 => failed（首个失败文件的 error_code/error_msg 提升到 item）
// - 全部跳过 => skipped
// - 其余 => processed
//
// 已经是 failed 且没有文件的条目（例如合成条目）保持不变。
func (it *ItemResult) Settle() {
	if len(it.Files) == 0 {
		if it.Status == "" {
			it.Status = StatusSkipped
		}
		return
	}

	skipped := 0
	for _, f := range it.Files {
		switch f.Status {
		case FileStatusFailed:
			it.Status = StatusFailed
			it.ErrorCode = f.ErrorCode
			it.ErrorMsg = f.ErrorMsg
			return
		case FileStatusSkipped:
			skipped++
		}
	}
	if skipped == len(it.Files) {
		it.Status = StatusSkipped
		return
	}
	it.Status = StatusProcessed
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 movie 字典序；movie=="" 的条目排在最后
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].Movie
		b := r.Items[j].Movie
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusProcessed:
			s.Processed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
		for _, f := range it.Files {
			s.Files++
			s.Rows += f.Rows
		}
	}
	r.Summary = s
}

// FailedFiles 返回所有失败文件（按 items 顺序），供 CLI 输出定位信息。
func (r RunReport) FailedFiles() []FileResult {
	var out []FileResult
	for _, it := range r.Items {
		for _, f := range it.Files {
			if f.Status == FileStatusFailed {
				out = append(out, f)
			}
		}
	}
	return out
}

// MarshalJSON 集中约束输出的稳定性：nil 切片一律输出为 []。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	if a.Items == nil {
		a.Items = []ItemResult{}
	}
	for i := range a.Items {
		if a.Items[i].Files == nil {
			a.Items[i].Files = []FileResult{}
		}
	}
	return json.Marshal(a)
}
