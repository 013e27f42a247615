package run

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/photosort/internal/app"
	"github.com/John-Robertt/photosort/internal/app/planner"
	"github.com/John-Robertt/photosort/internal/config"
	"github.com/John-Robertt/photosort/internal/domain"
	"github.com/John-Robertt/photosort/internal/geo"
	"github.com/John-Robertt/photosort/internal/geo/nominatim"
	"github.com/John-Robertt/photosort/internal/infra/dircache"
	"github.com/John-Robertt/photosort/internal/infra/fsx"
	"github.com/John-Robertt/photosort/internal/infra/httpx"
	"github.com/John-Robertt/photosort/internal/meta"
	"github.com/John-Robertt/photosort/internal/scan"
	"github.com/John-Robertt/photosort/internal/stats"
)

// Extractor 读取单张照片的元数据。
type Extractor interface {
	Extract(path string) (domain.PhotoRecord, error)
}

// Deps 是 run 的可替换依赖。零值可用：
// - GeoClient 为 nil 时按 eff.Geocoder 构造 Nominatim 客户端
// - Extractor 为 nil 时使用 goexif 实现
// - Log 零值不输出任何日志
type Deps struct {
	GeoClient geo.Client
	Extractor Extractor
	Log       zerolog.Logger
}

// Result 是一次 run 的结果。
type Result struct {
	Report domain.PerformanceReport

	// 以下只用于诊断：运行结束时缓存中的条目数。
	GeoCacheEntries int
	KnownDirs       int
}

type job struct {
	file domain.PhotoFile
	name string // 已消歧的目标文件名
}

type outcome struct {
	res domain.PhotoResult
	dur time.Duration
}

// Execute 执行一次分拣：校验根目录 -> 扫描 -> 分配文件名 -> worker pool 处理每张照片 -> 汇总报告。
//
// 错误语义：
// - 单张照片的失败只记入统计，不返回 error
// - 根目录不可用（启动前或运行中）返回 *config.Error，已派发的照片处理完后停止派发
// - ctx 取消时返回 ctx.Err()
//
// 返回 error 时 Result 仍携带截至当时的统计。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) (Result, error) {
	started := time.Now()
	log := deps.Log

	if obs != nil {
		obs.OnStart(eff)
	}

	if err := config.ValidateRoots(eff); err != nil {
		return Result{}, err
	}

	agg := stats.New()

	client := deps.GeoClient
	if client == nil {
		c, err := newGeoClient(eff.Geocoder)
		if err != nil {
			return Result{}, &config.Error{Code: config.ErrCodeInvalid, Path: eff.ConfigPath, Err: err}
		}
		client = c
	}
	resolver, err := geo.NewResolver(client, eff.CacheSize, agg, log)
	if err != nil {
		return Result{}, &config.Error{Code: config.ErrCodeInvalid, Path: eff.ConfigPath, Err: err}
	}

	var extractor Extractor = meta.Extractor{Rec: agg}
	if deps.Extractor != nil {
		extractor = timedExtractor{inner: deps.Extractor, rec: agg}
	}

	dirs := dircache.New(agg)
	p := &pipeline{
		eff:      eff,
		extract:  extractor,
		resolver: resolver,
		planner:  planner.Planner{Root: eff.Dest, UseDevice: eff.UseDevice, Dirs: dirs},
		copier:   fsx.Copier{Rec: agg},
		stats:    agg,
		log:      log,
		probe:    func() error { return fsx.ProbeWritable(eff.Dest) },
	}

	runID := uuid.NewString()
	log.Info().Str("run_id", runID).Str("source", eff.Source).Str("dest", eff.Dest).Int("workers", eff.Workers).Msg("run start")

	scanStarted := time.Now()
	// dest 位于 source 之下时，跳过 dest，避免把自己的产物再分拣一遍。
	excludes := append([]string(nil), eff.ExcludeDirs...)
	if isNested(eff.Source, eff.Dest) {
		excludes = append(excludes, eff.Dest)
	}
	files, err := scan.ScanPhotos(eff.Source, excludes)
	if err != nil {
		return Result{}, &config.Error{Code: config.ErrCodeSourceInvalid, Path: eff.Source, Err: fmt.Errorf("扫描失败：%w", err)}
	}
	names, renamed := app.AssignNames(files)
	agg.RecordDiscovered(len(files))
	agg.RecordDuplicatesRenamed(renamed)

	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{
			"files":   len(files),
			"renamed": renamed,
		}, time.Since(scanStarted))
	}

	workers := eff.Workers
	if workers < 1 {
		workers = 1
	}
	if obs != nil {
		obs.OnPhaseDone("copy", map[string]any{
			"workers": workers,
			"total":   len(files),
		}, 0)
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	results := make(chan outcome, workers)

	g.Go(func() error {
		defer close(jobs)
		for i := range files {
			select {
			case jobs <- job{file: files[i], name: names[i]}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for j := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				oneStarted := time.Now()
				res, err := p.process(gctx, j)
				if err != nil {
					return err
				}
				results <- outcome{res: res, dur: time.Since(oneStarted)}
			}
			return nil
		})
	}

	var runErr error
	go func() {
		runErr = g.Wait()
		close(results)
	}()

	done := 0
	for o := range results {
		done++
		if obs != nil {
			obs.OnPhotoDone(done, len(files), o.res, o.dur)
		}
	}

	rep := agg.Snapshot()
	rep.RunID = runID
	rep.Source = eff.Source
	rep.Dest = eff.Dest
	rep.StartedAt = started
	rep.FinishedAt = time.Now()
	rep.Finalize()

	out := Result{Report: rep, GeoCacheEntries: resolver.Len(), KnownDirs: dirs.Len()}

	if runErr != nil {
		log.Error().Str("run_id", runID).Err(runErr).Int("done", done).Int("total", len(files)).Msg("run aborted")
		return out, runErr
	}
	log.Info().Str("run_id", runID).
		Int64("classified", rep.Classified).
		Int64("unsorted", rep.Unsorted).
		Int64("failed", rep.Failed).
		Dur("elapsed", rep.Elapsed()).
		Msg("run finished")
	return out, nil
}

func newGeoClient(g config.Geocoder) (geo.Client, error) {
	hc, err := httpx.NewGeoClient(httpx.Options{
		UserAgent: g.UserAgent,
		Timeout:   g.Timeout,
		RetryMax:  g.Retries,
		ProxyURL:  g.ProxyURL,
	})
	if err != nil {
		return nil, err
	}
	return nominatim.Client{
		BaseURL:  g.URL,
		Language: g.Language,
		HTTP:     hc,
		Limiter:  nominatim.NewLimiter(g.RPS),
	}, nil
}

// pipeline 是单张照片的处理流程：元数据 -> 地名 -> 目录 -> 拷贝。
// 它本身无状态；共享状态只存在于 resolver / dircache / stats 中。
type pipeline struct {
	eff      config.EffectiveConfig
	extract  Extractor
	resolver *geo.Resolver
	planner  planner.Planner
	copier   fsx.Copier
	stats    *stats.Aggregator
	log      zerolog.Logger

	// probe 在目录/拷贝失败后确认 dest 根目录仍然可用。
	probe func() error
}

// process 处理一张照片。返回的 error 只有两类：ctx 取消与 dest 根目录失效。
func (p *pipeline) process(ctx context.Context, j job) (domain.PhotoResult, error) {
	res := domain.PhotoResult{File: j.file.RelPath}

	rec, err := p.extract.Extract(j.file.AbsPath)
	if err != nil {
		// 元数据失败：计入 metadata 失败；开启 copy_unsorted 时仍尽量保住这张照片。
		if ferr := p.fail(ctx, &res, domain.StageMetadata, err, !p.eff.CopyUnsorted); ferr != nil {
			return res, ferr
		}
		if !p.eff.CopyUnsorted {
			return res, nil
		}
		return p.copyUnsorted(ctx, j, res)
	}

	place, err := p.resolver.Resolve(ctx, rec.GPS)
	if err != nil {
		return res, p.fail(ctx, &res, domain.StageGeocode, err, true)
	}
	res.Place = place

	plan, err := p.planner.Plan(rec, place, j.name)
	if err != nil {
		return res, p.fail(ctx, &res, domain.StageDirectory, err, true)
	}

	if _, err := p.copier.Copy(j.file.AbsPath, plan.Dst); err != nil {
		return res, p.fail(ctx, &res, domain.StageCopy, err, true)
	}

	p.stats.RecordClassified(plan.Month, plan.Place, plan.Device)
	res.Outcome = domain.OutcomeClassified
	res.Dst = plan.Dst
	p.log.Debug().Str("file", res.File).Str("dst", plan.Dst).Msg("photo classified")
	return res, nil
}

func (p *pipeline) copyUnsorted(ctx context.Context, j job, res domain.PhotoResult) (domain.PhotoResult, error) {
	plan, err := p.planner.PlanUnsorted(j.file.AbsPath, j.file.RelPath)
	if err != nil {
		return res, p.fail(ctx, &res, domain.StageDirectory, err, true)
	}
	if _, err := p.copier.Copy(j.file.AbsPath, plan.Dst); err != nil {
		return res, p.fail(ctx, &res, domain.StageCopy, err, true)
	}
	p.stats.RecordUnsorted()
	res.Outcome = domain.OutcomeUnsorted
	res.Dst = plan.Dst
	return res, nil
}

// fail 记录一次阶段失败。counted=true 表示这张照片最终计为失败。
//
// 返回非 nil 表示整个 run 需要停止（ctx 已取消或 dest 根目录失效）；此时不计入统计。
func (p *pipeline) fail(ctx context.Context, res *domain.PhotoResult, stage domain.Stage, err error, counted bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if stage == domain.StageDirectory || stage == domain.StageCopy {
		if perr := p.probe(); perr != nil {
			return &config.Error{Code: config.ErrCodeDestUnwritable, Path: p.eff.Dest, Err: perr}
		}
	}

	serr := &domain.StageError{Stage: stage, Path: res.File, Err: err}
	p.stats.RecordFailure(stage, res.File, err.Error(), counted)
	p.log.Warn().Str("file", res.File).Str("stage", string(stage)).Err(serr).Msg("photo failed")

	res.Stage = stage
	res.Reason = err.Error()
	if counted {
		res.Outcome = domain.OutcomeFailed
	}
	return nil
}

// timedExtractor 为外部注入的 Extractor 补齐 metadata 阶段计时。
type timedExtractor struct {
	inner Extractor
	rec   meta.Recorder
}

func (t timedExtractor) Extract(path string) (domain.PhotoRecord, error) {
	started := time.Now()
	rec, err := t.inner.Extract(path)
	t.rec.RecordMetadata(time.Since(started))
	return rec, err
}

// isNested 报告 dir 是否严格位于 root 之下。
func isNested(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsFatal 报告 err 是否为终止整个 run 的错误（而不是 ctx 取消）。
func IsFatal(err error) bool {
	var ce *config.Error
	return errors.As(err, &ce)
}
