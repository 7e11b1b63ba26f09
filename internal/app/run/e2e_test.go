package run

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-Robertt/subtab/internal/config"
	"github.com/John-Robertt/subtab/internal/converter"
	"github.com/John-Robertt/subtab/internal/domain"
	"github.com/John-Robertt/subtab/internal/infra/fsx"
	"github.com/John-Robertt/subtab/internal/scan"
)

const (
	speakersSrc   = "JOHN: Wait... (pause) what?!\nnarration without colon\n\nDOC: See you at 9 a.m., Dr. Smith says Mr. Lee is late!!\n"
	timestampsSrc = "1\n00:00:01,000 --> 00:00:02,000\n<i>Hello \"there\"-friend</i>\n\n2\n00:00:03,000 --> 00:00:04,000\nBye, now\n"
)

func TestExecute_Apply_WritesTablesAndReport(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "Heat", "heat_speakers.txt"), speakersSrc)
	write(t, filepath.Join(root, "Heat", "heat_timestamps.txt"), timestampsSrc)
	write(t, filepath.Join(root, "Heat", "notes.txt"), "ignored")

	eff := effFor(root)
	rr := Execute(context.Background(), eff, defaultRegistry(t), nil)

	if rr.RunID == "" || rr.DryRun || rr.Output != eff.Output {
		t.Fatalf("报告头部不正确：%+v", rr)
	}
	if rr.Summary.Processed != 1 || rr.Summary.Failed != 0 || rr.Summary.Files != 2 || rr.Summary.Rows != 4 {
		t.Fatalf("summary 不符合预期：%+v items=%+v", rr.Summary, rr.Items)
	}

	it := rr.Items[0]
	if it.Movie != "Heat" || it.Status != domain.StatusProcessed {
		t.Fatalf("item 不符合预期：%+v", it)
	}
	if it.Files[0].Src != "Heat/heat_speakers.txt" || it.Files[0].Dst != "Heat/speakers.csv" || it.Files[0].Status != domain.FileStatusWritten {
		t.Fatalf("speakers 文件结果不正确：%+v", it.Files[0])
	}

	gotSpeakers := read(t, filepath.Join(eff.Output, "Heat", "speakers.csv"))
	wantSpeakers := "Speaker,Line\nJOHN,Wait. what.\nDOC,\"See you at 9 am, Dr Smith says Mr Lee is late.\"\n"
	if gotSpeakers != wantSpeakers {
		t.Fatalf("speakers.csv 内容不一致：\n%s\n期望：\n%s", gotSpeakers, wantSpeakers)
	}

	gotTimestamps := read(t, filepath.Join(eff.Output, "Heat", "timestamps.csv"))
	wantTimestamps := "Line,Strat Time,End Time\nHello therefriend,\"00:00:01,000\",\"00:00:02,000\"\n\"Bye, now\",\"00:00:03,000\",\"00:00:04,000\"\n"
	if gotTimestamps != wantTimestamps {
		t.Fatalf("timestamps.csv 内容不一致：\n%s\n期望：\n%s", gotTimestamps, wantTimestamps)
	}

	// 报告落盘，且与返回值一致。
	var persisted domain.RunReport
	if err := json.Unmarshal([]byte(read(t, filepath.Join(eff.Output, ".cache", "report.json"))), &persisted); err != nil {
		t.Fatalf("report.json 不是合法 JSON：%v", err)
	}
	if persisted.RunID != rr.RunID || persisted.Summary != rr.Summary {
		t.Fatalf("report.json 与返回值不一致：%+v", persisted)
	}

	// 锁在运行结束后释放。
	l, err := fsx.TryLockDir(eff.Output)
	if err != nil {
		t.Fatalf("运行结束后应能重新获取锁：%v", err)
	}
	_ = l.Unlock()
}

func TestExecute_DryRun_NoWrites(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "Heat", "heat_speakers.txt"), speakersSrc)

	eff := effFor(root)
	eff.DryRun = true
	rr := Execute(context.Background(), eff, defaultRegistry(t), nil)

	if _, err := os.Stat(eff.Output); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应创建输出目录，但 Stat err=%v", err)
	}
	if !rr.DryRun || rr.Summary.Processed != 1 || rr.Summary.Rows != 2 {
		t.Fatalf("dry-run 报告不正确：%+v", rr)
	}
	if f := rr.Items[0].Files[0]; f.Status != domain.FileStatusPlanned || f.Dst != "Heat/speakers.csv" {
		t.Fatalf("dry-run 文件状态应为 planned：%+v", f)
	}
}

func TestExecute_FileFailureDoesNotStopOthers(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "Alien", "alien_speakers.txt"), "RIPLEY: \xff\xfe bad")
	write(t, filepath.Join(root, "Alien", "alien_timestamps.txt"), timestampsSrc)
	write(t, filepath.Join(root, "Heat", "heat_speakers.txt"), speakersSrc)

	eff := effFor(root)
	rr := Execute(context.Background(), eff, defaultRegistry(t), nil)

	if rr.Summary.Failed != 1 || rr.Summary.Processed != 1 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	alien := rr.Items[0]
	if alien.Movie != "Alien" || alien.Status != domain.StatusFailed || alien.ErrorCode != domain.ErrCodeDecodeFailed {
		t.Fatalf("Alien 应因解码失败而 failed：%+v", alien)
	}
	if alien.Files[0].Status != domain.FileStatusFailed || alien.Files[1].Status != domain.FileStatusWritten {
		t.Fatalf("同目录其它文件应继续转换：%+v", alien.Files)
	}
	if _, err := os.Stat(filepath.Join(eff.Output, "Alien", "speakers.csv")); !os.IsNotExist(err) {
		t.Fatalf("失败文件不应产出表格，Stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(eff.Output, "Heat", "speakers.csv")); err != nil {
		t.Fatalf("其它影片应正常输出：%v", err)
	}
	if got := rr.FailedFiles(); len(got) != 1 || got[0].Src != "Alien/alien_speakers.txt" {
		t.Fatalf("FailedFiles 不正确：%+v", got)
	}
}

func TestExecute_SkipUpToDateAndForce(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "Heat", "heat_speakers.txt")
	write(t, src, speakersSrc)

	eff := effFor(root)
	reg := defaultRegistry(t)

	first := Execute(context.Background(), eff, reg, nil)
	if first.Summary.Processed != 1 {
		t.Fatalf("首次运行应写出：%+v", first.Summary)
	}

	second := Execute(context.Background(), eff, reg, nil)
	if second.Summary.Skipped != 1 || second.Items[0].Files[0].Status != domain.FileStatusSkipped {
		t.Fatalf("源文件未变化时应跳过：%+v", second.Items)
	}

	// 修改时间变化 => 重新生成。
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, later, later); err != nil {
		t.Fatalf("Chtimes 失败：%v", err)
	}
	third := Execute(context.Background(), eff, reg, nil)
	if third.Items[0].Files[0].Status != domain.FileStatusWritten {
		t.Fatalf("源文件变化后应重写：%+v", third.Items[0].Files)
	}

	eff.Force = true
	forced := Execute(context.Background(), eff, reg, nil)
	if forced.Items[0].Files[0].Status != domain.FileStatusWritten {
		t.Fatalf("--force 应忽略 stamp：%+v", forced.Items[0].Files)
	}

	// 删除输出后，即便 stamp 仍匹配也要重写。
	eff.Force = false
	if err := os.Remove(filepath.Join(eff.Output, "Heat", "speakers.csv")); err != nil {
		t.Fatalf("删除输出失败：%v", err)
	}
	again := Execute(context.Background(), eff, reg, nil)
	if again.Items[0].Files[0].Status != domain.FileStatusWritten {
		t.Fatalf("输出缺失时应重写：%+v", again.Items[0].Files)
	}
}

func TestExecute_DuplicateKindAndMergedMovies(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a", "Heat", "first_speakers.txt"), "A: one")
	write(t, filepath.Join(root, "b", "Heat", "second_speakers.txt"), "B: two")

	eff := effFor(root)
	rr := Execute(context.Background(), eff, defaultRegistry(t), nil)

	if len(rr.Items) != 1 || len(rr.Items[0].Files) != 2 {
		t.Fatalf("同名影片目录应合并为 1 个 item：%+v", rr.Items)
	}
	if got := read(t, filepath.Join(eff.Output, "Heat", "speakers.csv")); got != "Speaker,Line\nA,one\n" {
		t.Fatalf("speakers.csv=%q", got)
	}
	if got := read(t, filepath.Join(eff.Output, "Heat", "speakers__2.csv")); got != "Speaker,Line\nB,two\n" {
		t.Fatalf("speakers__2.csv=%q", got)
	}
}

func TestExecute_RemovesStaleSuffixedOutputs(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a", "Heat", "first_speakers.txt"), "A: one")
	second := filepath.Join(root, "b", "Heat", "second_speakers.txt")
	write(t, second, "B: two")

	eff := effFor(root)
	reg := defaultRegistry(t)
	if rr := Execute(context.Background(), eff, reg, nil); rr.Summary.Files != 2 {
		t.Fatalf("首次运行应写出 2 个文件：%+v", rr.Summary)
	}
	stale := filepath.Join(eff.Output, "Heat", "speakers__2.csv")
	stamp := filepath.Join(eff.Output, ".cache", "stamps", "Heat", "speakers__2.csv.json")
	if _, err := os.Stat(stamp); err != nil {
		t.Fatalf("应写出 stamp：%v", err)
	}

	if err := os.Remove(second); err != nil {
		t.Fatalf("删除源文件失败：%v", err)
	}

	// dry-run 只列出，不删除。
	dry := eff
	dry.DryRun = true
	rr := Execute(context.Background(), dry, reg, nil)
	if len(rr.Items[0].Stale) != 1 || rr.Items[0].Stale[0] != "Heat/speakers__2.csv" {
		t.Fatalf("dry-run 应列出过期输出：%+v", rr.Items[0])
	}
	if _, err := os.Stat(stale); err != nil {
		t.Fatalf("dry-run 不应删除：%v", err)
	}

	rr = Execute(context.Background(), eff, reg, nil)
	if len(rr.Items[0].Stale) != 1 || rr.Items[0].Stale[0] != "Heat/speakers__2.csv" {
		t.Fatalf("apply 应报告已删除的过期输出：%+v", rr.Items[0])
	}
	if rr.Items[0].Status != domain.StatusSkipped {
		t.Fatalf("剩余源文件未变化，应跳过：%+v", rr.Items[0])
	}
	for _, p := range []string{stale, stamp} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s 应被删除：%v", p, err)
		}
	}
	if got := read(t, filepath.Join(eff.Output, "Heat", "speakers.csv")); got != "Speaker,Line\nA,one\n" {
		t.Fatalf("speakers.csv 不应受影响：%q", got)
	}
}

func TestExecute_TargetConflict(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "Heat", "heat_speakers.txt"), speakersSrc)

	eff := effFor(root)
	if err := os.MkdirAll(filepath.Join(eff.Output, "Heat", "speakers.csv"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	rr := Execute(context.Background(), eff, defaultRegistry(t), nil)
	if rr.Items[0].ErrorCode != domain.ErrCodeTargetConflict {
		t.Fatalf("期望 target_conflict：%+v", rr.Items[0])
	}
}

func TestExecute_OutputLocked(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "Heat", "heat_speakers.txt"), speakersSrc)
	eff := effFor(root)

	held, err := fsx.TryLockDir(eff.Output)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	defer held.Unlock()

	rr := Execute(context.Background(), eff, defaultRegistry(t), nil)
	if len(rr.Items) != 1 || rr.Items[0].Movie != "" || rr.Items[0].ErrorCode != domain.ErrCodeLocked {
		t.Fatalf("期望 output_locked 合成项：%+v", rr.Items)
	}
	if _, err := os.Stat(filepath.Join(eff.Output, "Heat")); !os.IsNotExist(err) {
		t.Fatalf("加锁失败时不应写任何输出，Stat err=%v", err)
	}
}

func TestExecute_ScanFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	eff := effFor(root)
	eff.DryRun = true

	rr := Execute(context.Background(), eff, defaultRegistry(t), nil)
	if rr.Summary.Failed != 1 || rr.Items[0].ErrorCode != domain.ErrCodeIOFailed {
		t.Fatalf("期望 io_failed 合成项：%+v", rr.Items)
	}
}

func TestExecute_Canceled(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "Heat", "heat_speakers.txt"), speakersSrc)
	eff := effFor(root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rr := Execute(ctx, eff, defaultRegistry(t), nil)
	if rr.Items[0].ErrorCode != domain.ErrCodeCanceled || rr.Items[0].Files[0].Status != domain.FileStatusFailed {
		t.Fatalf("取消后剩余条目应标记为 canceled：%+v", rr.Items)
	}
	if _, err := os.Stat(filepath.Join(eff.Output, "Heat", "speakers.csv")); !os.IsNotExist(err) {
		t.Fatalf("取消后不应写出表格")
	}
}

func TestExecute_UnreadablePathDoesNotStopOthers(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "Heat", "heat_speakers.txt"), speakersSrc)
	write(t, filepath.Join(root, "Alien", "alien_speakers.txt"), speakersSrc)

	old := scanTranscripts
	t.Cleanup(func() { scanTranscripts = old })
	scanTranscripts = func(r string, cls scan.Classifier, opts scan.Options) (scan.Result, error) {
		res, err := old(r, cls, opts)
		res.Unreadable = append(res.Unreadable, scan.Unreadable{RelPath: "Locked", Err: errors.New("permission denied")})
		return res, err
	}

	rr := Execute(context.Background(), effFor(root), defaultRegistry(t), nil)

	if rr.Summary.Processed != 2 || rr.Summary.Failed != 1 {
		t.Fatalf("summary 不符合预期：%+v items=%+v", rr.Summary, rr.Items)
	}
	for _, it := range rr.Items[:2] {
		if it.Status != domain.StatusProcessed || it.Files[0].Status != domain.FileStatusWritten {
			t.Fatalf("其余影片应照常写出：%+v", it)
		}
	}
	last := rr.Items[2]
	if last.Movie != "" || last.ErrorCode != domain.ErrCodeReadFailed || len(last.Files) != 1 || last.Files[0].Src != "Locked" {
		t.Fatalf("不可读路径应成为合成失败条目：%+v", last)
	}
}

func effFor(root string) config.EffectiveConfig {
	return config.EffectiveConfig{
		Path:       root,
		Output:     filepath.Join(root, "out"),
		Extensions: []string{".txt"},
	}
}

func defaultRegistry(t *testing.T) converter.Registry {
	t.Helper()
	reg, err := converter.NewDefaultRegistry(converter.Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return reg
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	return string(b)
}
