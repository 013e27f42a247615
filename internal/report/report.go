package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/John-Robertt/photosort/internal/domain"
)

// MaxErrorDetails 是分拣报告中展示的失败明细上限；完整明细见日志与 JSON 报告。
const MaxErrorDetails = 10

// maxTopEntries 是 "Top places / devices" 的展示条数。
const maxTopEntries = 10

var stageLabels = map[domain.Stage]string{
	domain.StageMetadata:  "EXIF reading",
	domain.StageGeocode:   "Geocoding",
	domain.StageDirectory: "Directory creation",
	domain.StageCopy:      "File copying",
}

// Sorting 生成分拣结果摘要。纯函数：只依赖报告快照。
func Sorting(r domain.PerformanceReport) string {
	var b strings.Builder
	line := func(label string, value any) {
		fmt.Fprintf(&b, "%-22s: %v\n", label, value)
	}

	b.WriteString("Sorting Report\n\n")
	line("Execution time", FormatDuration(r.Elapsed()))
	line("Images discovered", r.Discovered)
	line("Sorted", withPct(r.Classified, r.Discovered))
	line("Unsorted", withPct(r.Unsorted, r.Discovered))
	line("Failed", withPct(r.Failed, r.Discovered))
	if r.DuplicatesRenamed > 0 {
		line("Duplicates renamed", r.DuplicatesRenamed)
	}
	if r.OldestMonth != "" {
		line("Date range", r.OldestMonth+" ~ "+r.NewestMonth)
	}

	if len(r.ByPlace) > 0 {
		fmt.Fprintf(&b, "\nPlaces (%d)\n", len(r.ByPlace))
		for _, kv := range top(r.ByPlace, maxTopEntries) {
			fmt.Fprintf(&b, "  %-30s %d\n", kv.key, kv.n)
		}
	}
	if len(r.ByDevice) > 0 {
		fmt.Fprintf(&b, "\nDevices (%d)\n", len(r.ByDevice))
		for _, kv := range top(r.ByDevice, maxTopEntries) {
			fmt.Fprintf(&b, "  %-30s %d\n", kv.key, kv.n)
		}
	}

	if n := len(r.Errors); n > 0 {
		fmt.Fprintf(&b, "\nErrors (%d)\n", n)
		for i, e := range r.Errors {
			if i >= MaxErrorDetails {
				fmt.Fprintf(&b, "  ... and %d more\n", n-MaxErrorDetails)
				break
			}
			fmt.Fprintf(&b, "  [%s] %s: %s\n", e.Stage, e.File, e.Reason)
		}
	}
	return b.String()
}

// Performance 生成分阶段性能摘要。纯函数。
func Performance(r domain.PerformanceReport) string {
	var b strings.Builder
	line := func(label string, value any) {
		fmt.Fprintf(&b, "%-24s: %v\n", label, value)
	}

	b.WriteString("Performance Report\n")

	if r.MetadataReads > 0 {
		b.WriteString("\n")
		line("EXIF reads", r.MetadataReads)
		line("  Total time", FormatSeconds(r.StageTime[domain.StageMetadata]))
		line("  Average per read", FormatMillis(avg(r.StageTime[domain.StageMetadata], r.MetadataReads)))
	}

	if r.GeocodeLookups > 0 {
		b.WriteString("\n")
		line("Geocoding lookups", r.GeocodeLookups)
		line("  Cache hits", withPct(r.GeocodeHits, r.GeocodeLookups))
		line("  Cache misses", r.GeocodeMisses)
		line("  Total time", FormatSeconds(r.StageTime[domain.StageGeocode]))
		line("  Average per lookup", FormatMillis(avg(r.StageTime[domain.StageGeocode], r.GeocodeLookups)))
	}

	if r.Copies > 0 {
		ct := r.StageTime[domain.StageCopy]
		b.WriteString("\n")
		line("File copies", r.Copies)
		line("  Total size", fmt.Sprintf("%.2f MB", megabytes(r.BytesCopied)))
		line("  Total time", FormatSeconds(ct))
		line("  Average per file", FormatMillis(avg(ct, r.Copies)))
		line("  Throughput", fmt.Sprintf("%.2f MB/s", Throughput(r.BytesCopied, ct)))
	}

	if r.DirsCreated > 0 {
		b.WriteString("\n")
		line("Directory creations", r.DirsCreated)
		line("  Cache hits", r.DirCacheHits)
		line("  Total time", FormatSeconds(r.StageTime[domain.StageDirectory]))
		line("  Average per mkdir", FormatMillis(avg(r.StageTime[domain.StageDirectory], r.DirsCreated)))
	}

	b.WriteString("\nTime breakdown\n")
	if r.MeasuredTime() <= 0 {
		b.WriteString("  (no measured work)\n")
		return b.String()
	}
	pct := StagePercentages(r)
	for _, s := range domain.Stages {
		fmt.Fprintf(&b, "  %-22s: %5.1f%%\n", stageLabels[s], pct[s])
	}
	return b.String()
}

// StagePercentages 返回各阶段耗时占四阶段总耗时的百分比（保留 1 位小数）。
//
// 使用最大余数法分配舍入误差：只要总耗时大于 0，四项之和恰好为 100.0。
// 总耗时为 0 时全部为 0。
func StagePercentages(r domain.PerformanceReport) map[domain.Stage]float64 {
	tenths := StageTenths(r)
	out := make(map[domain.Stage]float64, len(tenths))
	for s, t := range tenths {
		out[s] = float64(t) / 10
	}
	return out
}

// StageTenths 以 0.1% 为单位返回各阶段占比；总耗时大于 0 时和为 1000。
func StageTenths(r domain.PerformanceReport) map[domain.Stage]int64 {
	out := make(map[domain.Stage]int64, len(domain.Stages))
	total := int64(r.MeasuredTime())
	if total <= 0 {
		for _, s := range domain.Stages {
			out[s] = 0
		}
		return out
	}

	type share struct {
		stage domain.Stage
		rem   int64
		idx   int
	}
	shares := make([]share, 0, len(domain.Stages))
	var assigned int64
	for i, s := range domain.Stages {
		// 整数运算避免浮点误差：t*1000/total。
		num := int64(r.StageTime[s]) * 1000
		q := num / total
		out[s] = q
		assigned += q
		shares = append(shares, share{stage: s, rem: num % total, idx: i})
	}

	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].rem != shares[j].rem {
			return shares[i].rem > shares[j].rem
		}
		return shares[i].idx < shares[j].idx
	})
	for i := 0; assigned < 1000; i++ {
		out[shares[i%len(shares)].stage]++
		assigned++
	}
	return out
}

// Throughput 返回 MB/s；耗时为 0 时返回 0。
func Throughput(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return megabytes(bytes) / d.Seconds()
}

// FormatDuration 以 "42s" / "3m 7s" 形式展示墙钟耗时。
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

func FormatSeconds(d time.Duration) string { return fmt.Sprintf("%.2fs", d.Seconds()) }

func FormatMillis(d time.Duration) string { return fmt.Sprintf("%dms", d.Milliseconds()) }

func avg(total time.Duration, n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return total / time.Duration(n)
}

func megabytes(b int64) float64 { return float64(b) / (1024 * 1024) }

func withPct(n, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%d (%.1f%%)", n, float64(n)*100/float64(total))
}

type kv struct {
	key string
	n   int64
}

// top 按计数降序、名字升序返回前 n 项（稳定、与 map 遍历顺序无关）。
func top(m map[string]int64, n int) []kv {
	out := make([]kv, 0, len(m))
	for k, v := range m {
		out = append(out, kv{key: k, n: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
