package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/John-Robertt/photosort/internal/domain"
)

// Aggregator 汇总一次 run 的全部计数与耗时。所有方法并发安全。
//
// 约束：
// - 标量计数与分阶段耗时使用原子操作
// - 复合数据（per-place/per-device、失败明细、日期范围）由同一把读写锁保护
// - 锁内只做内存更新，不做 I/O
// - Snapshot 只应在 worker 全部退出后调用一次
type Aggregator struct {
	discovered atomic.Int64
	classified atomic.Int64
	unsorted   atomic.Int64
	failed     atomic.Int64
	renamed    atomic.Int64

	geoHits     atomic.Int64
	geoMisses   atomic.Int64
	bytesCopied atomic.Int64
	dirHits     atomic.Int64

	stageCount [stageN]atomic.Int64
	stageTime  [stageN]atomic.Int64
	failures   [stageN]atomic.Int64

	mu       sync.RWMutex
	byPlace  map[string]int64
	byDevice map[string]int64
	oldest   string
	newest   string
	errors   []domain.FailureDetail
}

const stageN = 4

func stageIndex(s domain.Stage) int {
	switch s {
	case domain.StageMetadata:
		return 0
	case domain.StageGeocode:
		return 1
	case domain.StageDirectory:
		return 2
	default:
		return 3
	}
}

func New() *Aggregator {
	return &Aggregator{
		byPlace:  map[string]int64{},
		byDevice: map[string]int64{},
	}
}

func (a *Aggregator) addStage(s domain.Stage, d time.Duration) {
	i := stageIndex(s)
	a.stageCount[i].Add(1)
	a.stageTime[i].Add(int64(d))
}

func (a *Aggregator) RecordDiscovered(n int) { a.discovered.Add(int64(n)) }

func (a *Aggregator) RecordDuplicatesRenamed(n int) { a.renamed.Add(int64(n)) }

func (a *Aggregator) RecordMetadata(d time.Duration) { a.addStage(domain.StageMetadata, d) }

// RecordGeocode 记录一次经过缓存的地名解析。lookups = hits + misses。
func (a *Aggregator) RecordGeocode(hit bool, d time.Duration) {
	if hit {
		a.geoHits.Add(1)
	} else {
		a.geoMisses.Add(1)
	}
	a.addStage(domain.StageGeocode, d)
}

func (a *Aggregator) RecordDirCreated(d time.Duration) { a.addStage(domain.StageDirectory, d) }

func (a *Aggregator) RecordDirCacheHit() { a.dirHits.Add(1) }

// RecordCopy 记录一次成功拷贝：字节数与耗时一并计入。
func (a *Aggregator) RecordCopy(bytes int64, d time.Duration) {
	a.bytesCopied.Add(bytes)
	a.addStage(domain.StageCopy, d)
}

// RecordClassified 记录一张按 月份/地点/设备 归档成功的照片。
func (a *Aggregator) RecordClassified(month, place, device string) {
	a.classified.Add(1)

	a.mu.Lock()
	a.byPlace[place]++
	if device != "" {
		a.byDevice[device]++
	}
	if month != "" && month != domain.DateUnknown {
		if a.oldest == "" || month < a.oldest {
			a.oldest = month
		}
		if a.newest == "" || month > a.newest {
			a.newest = month
		}
	}
	a.mu.Unlock()
}

// RecordUnsorted 记录一张因元数据缺失而拷贝到 Unsorted 的照片。
func (a *Aggregator) RecordUnsorted() { a.unsorted.Add(1) }

// RecordFailure 记录某张照片在某阶段的失败。
//
// 同一张照片可能既计入 metadata 失败又被拷贝到 Unsorted；counted 为 false 时
// 只记阶段失败与明细，不计入 failed 照片数。
func (a *Aggregator) RecordFailure(stage domain.Stage, file, reason string, counted bool) {
	a.failures[stageIndex(stage)].Add(1)
	if counted {
		a.failed.Add(1)
	}

	a.mu.Lock()
	a.errors = append(a.errors, domain.FailureDetail{File: file, Stage: stage, Reason: reason})
	a.mu.Unlock()
}

// Snapshot 生成只读报告（持一次读锁）。时间与 run 元信息由调用方补齐。
func (a *Aggregator) Snapshot() domain.PerformanceReport {
	r := domain.PerformanceReport{
		Discovered:        a.discovered.Load(),
		Classified:        a.classified.Load(),
		Unsorted:          a.unsorted.Load(),
		Failed:            a.failed.Load(),
		DuplicatesRenamed: a.renamed.Load(),

		GeocodeHits:   a.geoHits.Load(),
		GeocodeMisses: a.geoMisses.Load(),
		BytesCopied:   a.bytesCopied.Load(),
		DirCacheHits:  a.dirHits.Load(),

		Failures:   make(map[domain.Stage]int64, stageN),
		StageCount: make(map[domain.Stage]int64, stageN),
		StageTime:  make(map[domain.Stage]time.Duration, stageN),
	}
	r.GeocodeLookups = r.GeocodeHits + r.GeocodeMisses

	for _, s := range domain.Stages {
		i := stageIndex(s)
		r.StageCount[s] = a.stageCount[i].Load()
		r.StageTime[s] = time.Duration(a.stageTime[i].Load())
		r.Failures[s] = a.failures[i].Load()
	}
	r.MetadataReads = r.StageCount[domain.StageMetadata]
	r.Copies = r.StageCount[domain.StageCopy]
	r.DirsCreated = r.StageCount[domain.StageDirectory]

	a.mu.RLock()
	r.ByPlace = make(map[string]int64, len(a.byPlace))
	for k, v := range a.byPlace {
		r.ByPlace[k] = v
	}
	r.ByDevice = make(map[string]int64, len(a.byDevice))
	for k, v := range a.byDevice {
		r.ByDevice[k] = v
	}
	r.OldestMonth = a.oldest
	r.NewestMonth = a.newest
	r.Errors = append([]domain.FailureDetail(nil), a.errors...)
	a.mu.RUnlock()

	return r
}
