package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/subtab/internal/app"
	"github.com/John-Robertt/subtab/internal/app/planner"
	"github.com/John-Robertt/subtab/internal/config"
	"github.com/John-Robertt/subtab/internal/converter"
	"github.com/John-Robertt/subtab/internal/domain"
	"github.com/John-Robertt/subtab/internal/infra/cache"
	"github.com/John-Robertt/subtab/internal/infra/fsx"
	"github.com/John-Robertt/subtab/internal/logging"
	"github.com/John-Robertt/subtab/internal/scan"
	"github.com/John-Robertt/subtab/internal/tabular"
)

// scanTranscripts 便于测试注入扫描结果。
var scanTranscripts = scan.ScanTranscripts

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
// 该函数尽量把错误“降级”为文件级失败（单个文件失败不影响其他文件）。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg converter.Registry, log *slog.Logger) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, reg, log, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
//
// 文件严格按顺序逐个转换（影片目录按名称排序，目录内按 RelPath 排序）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, reg converter.Registry, log *slog.Logger, obs Observer) domain.RunReport {
	log = logging.OrNop(log)
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		Path:      eff.Path,
		Output:    eff.Output,
		DryRun:    eff.DryRun,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, 64),
	}
	log = log.With(logging.RunID(rr.RunID))

	finish := func() domain.RunReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	// apply：输出根目录加排他锁，避免 run 与 watch（或两个 run）同时写同一棵树。
	// dry-run 不创建任何文件，也就不加锁。
	if !eff.DryRun {
		lock, err := fsx.TryLockDir(eff.Output)
		if err != nil {
			code := domain.ErrCodeIOFailed
			switch {
			case errors.Is(err, fsx.ErrLocked):
				code = domain.ErrCodeLocked
			case fsx.IsPathTypeConflict(err):
				code = domain.ErrCodeTargetConflict
			}
			log.Error("无法锁定输出目录", slog.String("output", eff.Output), logging.Error(err))
			rr.Items = append(rr.Items, syntheticFailed(code, err.Error()))
			return finish()
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				log.Warn("释放输出目录锁失败", slog.String("lock", lock.Path()), logging.Error(err))
			}
		}()
	}

	store := cache.New(eff.Output, eff.DryRun)

	scanStarted := time.Now()
	sr, err := scanTranscripts(eff.Path, reg, scan.Options{
		Output:      eff.Output,
		ExcludeDirs: eff.ExcludeDirs,
		Extensions:  eff.Extensions,
	})
	if err != nil {
		log.Error("扫描失败", slog.String("path", eff.Path), logging.Error(err))
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err)))
		return finish()
	}
	scanDur := time.Since(scanStarted)
	files := sr.Files

	// 不可读的子目录/文件只让自己失败，其余文件照常转换。
	for _, u := range sr.Unreadable {
		log.Warn("跳过无法读取的路径", logging.File(u.RelPath), logging.Error(u.Err))
		rr.Items = append(rr.Items, unreadableItem(u))
	}

	groupStarted := time.Now()
	items := app.GroupByMovie(files)
	groupDur := time.Since(groupStarted)

	log.Debug("扫描完成", slog.Int("files", len(files)), slog.Int("ignored", sr.Ignored), slog.Int("movies", len(items)))
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{
			"files":      len(files),
			"ignored":    sr.Ignored,
			"unreadable": len(sr.Unreadable),
		}, scanDur)
		obs.OnPhaseDone("group", map[string]any{
			"movies": len(items),
		}, groupDur)
	}

	var fresh planner.Freshness
	if !eff.Force {
		fresh = stampFreshness{store: store, reg: reg}
	}

	planStarted := time.Now()
	plans := make([]domain.ItemPlan, 0, len(items))
	for _, it := range items {
		st, e := planner.ReadOutState(eff.Output, it.Movie)
		if e != nil {
			code := domain.ErrCodeIOFailed
			if fsx.IsPathTypeConflict(e) {
				code = domain.ErrCodeTargetConflict
			}
			log.Error("读取输出目录失败", logging.Movie(string(it.Movie)), logging.Error(e))
			rr.Items = append(rr.Items, failedPlanItem(it, files, code, fmt.Sprintf("读取输出目录失败：%v", e)))
			continue
		}
		p, e := planner.PlanItem(files, it, st, fresh)
		if e != nil {
			log.Error("规划失败", logging.Movie(string(it.Movie)), logging.Error(e))
			rr.Items = append(rr.Items, failedPlanItem(it, files, domain.ErrCodeIOFailed, fmt.Sprintf("规划失败：%v", e)))
			continue
		}
		p.Stale = planner.StaleOutputs(p, st, reg.Kinds())
		plans = append(plans, p)
	}
	planner.SortPlans(plans)
	planDur := time.Since(planStarted)

	if obs != nil {
		var converts, upToDate int
		for i := range plans {
			for _, c := range plans[i].Converts {
				converts++
				if c.UpToDate {
					upToDate++
				}
			}
		}
		obs.OnPhaseDone("plan", map[string]any{
			"items":      len(plans),
			"converts":   converts,
			"up_to_date": upToDate,
		}, planDur)
		obs.OnPhaseDone("exec", map[string]any{
			"total_items": len(plans),
		}, 0)
	}

	x := executor{eff: eff, reg: reg, store: store, log: log}
	for i, p := range plans {
		if err := ctx.Err(); err != nil {
			// 取消：剩余条目不再处理，但仍出现在报告里。
			for _, rest := range plans[i:] {
				rr.Items = append(rr.Items, canceledItem(rest, err))
			}
			log.Warn("运行被取消", slog.Int("remaining", len(plans)-i))
			break
		}

		if obs != nil {
			obs.OnItemStart(i+1, len(plans), p.Movie)
		}
		oneStarted := time.Now()
		res := x.execOne(p)
		rr.Items = append(rr.Items, res)
		if obs != nil {
			obs.OnItemDone(i+1, len(plans), p.Movie, res, time.Since(oneStarted))
		}
	}

	out := finish()
	if !eff.DryRun {
		persistReport(store, out, log)
	}
	return out
}

// persistReport 把报告写到 <output>/.cache/report.json；失败只记日志，不影响本次结果。
func persistReport(store cache.Store, rr domain.RunReport, log *slog.Logger) {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		log.Warn("序列化报告失败", logging.Error(err))
		return
	}
	if err := store.WriteReport(append(b, '\n')); err != nil {
		log.Warn("写入报告失败", slog.String("path", store.ReportPath()), logging.Error(err))
	}
}

type executor struct {
	eff   config.EffectiveConfig
	reg   converter.Registry
	store cache.Store
	log   *slog.Logger
}

// execOne 逐个处理影片目录内的文件；单个文件失败不影响同目录其它文件。
func (x executor) execOne(p domain.ItemPlan) domain.ItemResult {
	item := domain.ItemResult{
		Movie: string(p.Movie),
		Files: make([]domain.FileResult, 0, len(p.Converts)),
	}
	for _, cp := range p.Converts {
		item.Files = append(item.Files, x.convertOne(p, cp))
	}
	item.Settle()
	item.Stale = x.removeStale(p)
	return item
}

// removeStale 删除没有源文件对应的 <kind>__N.csv 及其 stamp，返回已删除的相对路径；
// dry-run 只列出将删除的路径。删除失败只记日志，不影响条目状态。
func (x executor) removeStale(p domain.ItemPlan) []string {
	if len(p.Stale) == 0 {
		return nil
	}
	log := x.log.With(logging.Movie(string(p.Movie)))
	out := make([]string, 0, len(p.Stale))
	for _, name := range p.Stale {
		rel := x.relDst(filepath.Join(p.OutDir, name))
		if x.eff.DryRun {
			log.Info("将删除过期输出", slog.String("dst", rel))
			out = append(out, rel)
			continue
		}
		if err := fsx.RemoveFile(filepath.Join(p.OutDir, name)); err != nil {
			log.Warn("删除过期输出失败", slog.String("dst", rel), logging.Error(err))
			continue
		}
		if err := x.store.RemoveStamp(p.Movie, name); err != nil {
			log.Warn("删除 stamp 失败", slog.String("dst", rel), logging.Error(err))
		}
		log.Info("已删除过期输出", slog.String("dst", rel))
		out = append(out, rel)
	}
	return out
}

func (x executor) convertOne(p domain.ItemPlan, cp domain.ConvertPlan) domain.FileResult {
	fr := domain.FileResult{
		Src:    cp.Src.RelPath,
		Dst:    x.relDst(cp.DstAbs),
		Kind:   string(cp.Src.Kind),
		Status: domain.FileStatusPlanned,
	}
	log := x.log.With(logging.Movie(string(p.Movie)), logging.File(cp.Src.RelPath))

	if cp.UpToDate {
		fr.Status = domain.FileStatusSkipped
		log.Debug("输出已是最新，跳过", slog.String("dst", fr.Dst))
		return fr
	}

	fail := func(code, stage string, err error) domain.FileResult {
		fr.Status = domain.FileStatusFailed
		fr.ErrorCode = code
		fr.ErrorMsg = err.Error()
		fr.Rows = 0
		log.Error("转换失败", logging.Stage(stage), logging.Error(err))
		return fr
	}

	conv, ok := x.reg.Get(cp.Src.Kind)
	if !ok {
		return fail(domain.ErrCodeIOFailed, "dispatch", fmt.Errorf("没有注册 %q 类型的 converter", cp.Src.Kind))
	}

	tb, err := converter.ConvertFile(conv, cp.Src.AbsPath)
	if err != nil {
		stage := converter.StageOf(err)
		code := domain.ErrCodeReadFailed
		if stage == converter.StageDecode {
			code = domain.ErrCodeDecodeFailed
		}
		return fail(code, stage, err)
	}
	fr.Rows = len(tb.Rows)

	b, err := tabular.Encode(tb)
	if err != nil {
		return fail(domain.ErrCodeEncodeFailed, "encode", err)
	}

	// dry-run：解析与编码都做，但不落盘。
	if x.eff.DryRun {
		return fr
	}

	if err := fsx.WriteFileAtomic(p.OutDir, cp.DstName, b); err != nil {
		if fsx.IsPathTypeConflict(err) {
			return fail(domain.ErrCodeTargetConflict, "write", err)
		}
		return fail(domain.ErrCodeWriteFailed, "write", err)
	}
	fr.Status = domain.FileStatusWritten

	if err := x.store.WriteStamp(p.Movie, cp.DstName, cache.NewStamp(cp.Src, tb.Header, len(tb.Rows))); err != nil {
		// stamp 只影响下次是否跳过；表格已经写成功。
		log.Warn("写入 stamp 失败", logging.Error(err))
	}
	log.Debug("已写入", slog.String("dst", fr.Dst), slog.Int("rows", fr.Rows))
	return fr
}

// relDst 输出相对 output 根目录的路径（/ 分隔）；无法计算时回退为绝对路径。
func (x executor) relDst(abs string) string {
	rel, err := filepath.Rel(x.eff.Output, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

type stampFreshness struct {
	store cache.Store
	reg   converter.Registry
}

func (f stampFreshness) UpToDate(src domain.SourceFile, dstName string) bool {
	c, ok := f.reg.Get(src.Kind)
	if !ok {
		return false
	}
	st, ok, err := f.store.ReadStamp(src.Movie, dstName)
	if err != nil || !ok {
		return false
	}
	return st.Matches(src, c.Header())
}

func failedPlanItem(it domain.WorkItem, files []domain.SourceFile, code, msg string) domain.ItemResult {
	out := domain.ItemResult{
		Movie:     string(it.Movie),
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Files:     make([]domain.FileResult, 0, len(it.FileIdx)),
	}
	for _, idx := range it.FileIdx {
		if idx < 0 || idx >= len(files) {
			continue
		}
		out.Files = append(out.Files, domain.FileResult{
			Src:       files[idx].RelPath,
			Kind:      string(files[idx].Kind),
			Status:    domain.FileStatusFailed,
			ErrorCode: code,
			ErrorMsg:  msg,
		})
	}
	return out
}

func canceledItem(p domain.ItemPlan, err error) domain.ItemResult {
	out := domain.ItemResult{
		Movie:     string(p.Movie),
		Status:    domain.StatusFailed,
		ErrorCode: domain.ErrCodeCanceled,
		ErrorMsg:  err.Error(),
		Files:     make([]domain.FileResult, 0, len(p.Converts)),
	}
	for _, cp := range p.Converts {
		out.Files = append(out.Files, domain.FileResult{
			Src:       cp.Src.RelPath,
			Kind:      string(cp.Src.Kind),
			Status:    domain.FileStatusFailed,
			ErrorCode: domain.ErrCodeCanceled,
			ErrorMsg:  err.Error(),
		})
	}
	return out
}

// unreadableItem 是扫描阶段跳过的路径；影片目录未知，作为合成条目排在最后。
func unreadableItem(u scan.Unreadable) domain.ItemResult {
	it := syntheticFailed(domain.ErrCodeReadFailed, u.Err.Error())
	it.Files = append(it.Files, domain.FileResult{
		Src:       u.RelPath,
		Status:    domain.FileStatusFailed,
		ErrorCode: domain.ErrCodeReadFailed,
		ErrorMsg:  u.Err.Error(),
	})
	return it
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Movie:     "",
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Files:     []domain.FileResult{},
	}
}
