package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// FailureDetail 记录一张失败照片的定位信息（文件 + 阶段 + 原因）。
type FailureDetail struct {
	File   string `json:"file"`
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// PerformanceReport 是 run 结束时从 Stats 派生出的只读快照。
//
// 约束：只在 worker pool 完全排空后生成一次，生成后不再修改。
type PerformanceReport struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	Dest   string `json:"dest"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Discovered        int64 `json:"discovered"`
	Classified        int64 `json:"classified"`
	Unsorted          int64 `json:"unsorted"`
	Failed            int64 `json:"failed"`
	DuplicatesRenamed int64 `json:"duplicates_renamed"`

	MetadataReads  int64 `json:"metadata_reads"`
	GeocodeLookups int64 `json:"geocode_lookups"`
	GeocodeHits    int64 `json:"geocode_hits"`
	GeocodeMisses  int64 `json:"geocode_misses"`
	Copies         int64 `json:"copies"`
	BytesCopied    int64 `json:"bytes_copied"`
	DirsCreated    int64 `json:"dirs_created"`
	DirCacheHits   int64 `json:"dir_cache_hits"`

	Failures   map[Stage]int64         `json:"failures"`
	StageCount map[Stage]int64         `json:"stage_count"`
	StageTime  map[Stage]time.Duration `json:"stage_time_ns"`

	ByPlace  map[string]int64 `json:"by_place"`
	ByDevice map[string]int64 `json:"by_device"`

	OldestMonth string `json:"oldest_month,omitempty"`
	NewestMonth string `json:"newest_month,omitempty"`

	Errors []FailureDetail `json:"errors"`
}

// Finalize 统一时间为 UTC，并把失败明细按文件稳定排序（与调度顺序无关）。
func (r *PerformanceReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Errors, func(i, j int) bool {
		if r.Errors[i].File != r.Errors[j].File {
			return r.Errors[i].File < r.Errors[j].File
		}
		return r.Errors[i].Stage < r.Errors[j].Stage
	})
	if r.Errors == nil {
		r.Errors = []FailureDetail{}
	}
}

// Elapsed 是整个 run 的墙钟耗时。
func (r PerformanceReport) Elapsed() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// MeasuredTime 是四个可计时阶段的累计耗时之和（percent 分母）。
func (r PerformanceReport) MeasuredTime() time.Duration {
	var total time.Duration
	for _, s := range Stages {
		total += r.StageTime[s]
	}
	return total
}

// PlaceTotal 是 per-place 计数之和；不变量：等于 Classified。
func (r PerformanceReport) PlaceTotal() int64 {
	var n int64
	for _, c := range r.ByPlace {
		n += c
	}
	return n
}

// MarshalJSON 只用于集中约束输出的稳定性。
func (r PerformanceReport) MarshalJSON() ([]byte, error) {
	type Alias PerformanceReport
	return json.Marshal(Alias(r))
}
