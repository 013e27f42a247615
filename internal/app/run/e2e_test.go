package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/photosort/internal/config"
	"github.com/John-Robertt/photosort/internal/domain"
	"github.com/John-Robertt/photosort/internal/meta"
)

// fakeExtractor 按相对路径返回预置元数据；未预置的文件视为 EXIF 损坏。
type fakeExtractor struct {
	root string
	recs map[string]domain.PhotoRecord
	hook func(rel string)
}

func (f fakeExtractor) Extract(path string) (domain.PhotoRecord, error) {
	rel, _ := filepath.Rel(f.root, path)
	rel = filepath.ToSlash(rel)
	if f.hook != nil {
		f.hook(rel)
	}
	r, ok := f.recs[rel]
	if !ok {
		return domain.PhotoRecord{}, &meta.Error{Path: path, Err: errors.New("no exif")}
	}
	r.Path = path
	return r, nil
}

// geoServer 是一个最小 Nominatim：48.8566 -> Paris，35.6895 -> Tokyo，其余 -> <error>。
type geoServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newGeoServer(t *testing.T) *geoServer {
	t.Helper()
	gs := &geoServer{}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gs.hits.Add(1)
		w.Header().Set("Content-Type", "text/xml; charset=UTF-8")
		switch r.URL.Query().Get("lat") {
		case "48.8566":
			fmt.Fprint(w, `<reversegeocode><result>Paris</result><addressparts><city>Paris</city><country>France</country></addressparts></reversegeocode>`)
		case "35.6895":
			fmt.Fprint(w, `<reversegeocode><result>Tokyo</result><addressparts><city>Tokyo</city><country>Japan</country></addressparts></reversegeocode>`)
		default:
			fmt.Fprint(w, `<reversegeocode><error>Unable to geocode</error></reversegeocode>`)
		}
	}))
	t.Cleanup(gs.Close)
	return gs
}

func testConfig(src, dst string, workers int, geoURL string) config.EffectiveConfig {
	return config.EffectiveConfig{
		Source:       src,
		Dest:         dst,
		Workers:      workers,
		UseDevice:    true,
		CopyUnsorted: true,
		CacheSize:    config.DefaultCacheSize,
		Geocoder: config.Geocoder{
			URL:      geoURL,
			Timeout:  5 * time.Second,
			Language: "en",
		},
	}
}

func month(y int, m time.Month) *time.Time {
	t := time.Date(y, m, 10, 12, 0, 0, 0, time.Local)
	return &t
}

var (
	paris  = &domain.Coordinate{Lat: 48.85661, Lon: 2.35222}
	paris2 = &domain.Coordinate{Lat: 48.85659, Lon: 2.35219}
	tokyo  = &domain.Coordinate{Lat: 35.68951, Lon: 139.69171}
)

func TestExecute_ClassifiesByMonthPlaceDevice(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	mkdirs(t, dst)
	writePhoto(t, src, "A.jpg", "aaa")
	writePhoto(t, src, "B.jpg", "bbbb")
	writePhoto(t, src, "C.jpg", "cc")

	gs := newGeoServer(t)
	ex := fakeExtractor{root: src, recs: map[string]domain.PhotoRecord{
		"A.jpg": {Captured: month(2024, time.June), GPS: paris, Device: "CamX"},
		"B.jpg": {Captured: month(2024, time.June), Device: "CamY"},
		"C.jpg": {Captured: month(2024, time.June), GPS: paris2, Device: "CamX"},
	}}

	res, err := Execute(context.Background(), testConfig(src, dst, 4, gs.URL), Deps{Extractor: ex, Log: zerolog.Nop()}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	r := res.Report

	if gs.hits.Load() != 1 {
		t.Fatalf("期望外部反查 1 次，实际 %d", gs.hits.Load())
	}
	if r.GeocodeLookups != 2 || r.GeocodeHits != 1 || r.GeocodeMisses != 1 {
		t.Fatalf("地名解析计数不符合预期：lookups=%d hits=%d misses=%d", r.GeocodeLookups, r.GeocodeHits, r.GeocodeMisses)
	}
	if r.Copies != 3 || r.BytesCopied != 9 || r.Classified != 3 {
		t.Fatalf("拷贝计数不符合预期：copies=%d bytes=%d classified=%d", r.Copies, r.BytesCopied, r.Classified)
	}
	if r.DirsCreated != 2 {
		t.Fatalf("A/C 共享目录，期望创建 2 个目录，实际 %d", r.DirsCreated)
	}
	if r.ByPlace["Paris"] != 2 || r.ByPlace[domain.PlaceUnknown] != 1 || r.PlaceTotal() != r.Classified {
		t.Fatalf("per-place 计数不符合预期：%v", r.ByPlace)
	}
	if len(r.ByDevice) != 2 || r.ByDevice["CamX"] != 2 || r.ByDevice["CamY"] != 1 {
		t.Fatalf("per-device 计数不符合预期：%v", r.ByDevice)
	}

	parisDir := filepath.Join(dst, "2024-06", "Paris", "CamX")
	assertFile(t, filepath.Join(parisDir, "A.jpg"), "aaa")
	assertFile(t, filepath.Join(parisDir, "C.jpg"), "cc")
	assertFile(t, filepath.Join(dst, "2024-06", domain.PlaceUnknown, "CamY", "B.jpg"), "bbbb")

	// 源文件保持不变（只拷贝不移动）。
	assertFile(t, filepath.Join(src, "A.jpg"), "aaa")

	if r.RunID == "" || len(r.Errors) != 0 {
		t.Fatalf("报告字段不符合预期：run_id=%q errors=%v", r.RunID, r.Errors)
	}
	if res.GeoCacheEntries != 1 {
		t.Fatalf("期望缓存 1 个地名，实际 %d", res.GeoCacheEntries)
	}
}

// buildMixedSource 构造一个包含多地点、多月份、重名、损坏文件的输入目录。
func buildMixedSource(t *testing.T, src string) fakeExtractor {
	t.Helper()
	recs := map[string]domain.PhotoRecord{}
	coords := []*domain.Coordinate{paris, paris2, tokyo, nil, {Lat: 10, Lon: -30}}
	for i := 0; i < 30; i++ {
		rel := fmt.Sprintf("trip%d/IMG_%02d.jpg", i%3, i%10)
		writePhoto(t, src, rel, fmt.Sprintf("photo-%d", i))
		if i%11 == 7 {
			continue // 无 EXIF
		}
		recs[rel] = domain.PhotoRecord{
			Captured: month(2020+i%3, time.Month(1+i%12)),
			GPS:      coords[i%len(coords)],
			Device:   fmt.Sprintf("Cam%d", i%2),
		}
	}
	return fakeExtractor{root: src, recs: recs}
}

func TestExecute_WorkerCountDoesNotChangeResult(t *testing.T) {
	gs := newGeoServer(t)

	run := func(workers int) (map[string]string, domain.PerformanceReport) {
		root := t.TempDir()
		src := filepath.Join(root, "src")
		dst := filepath.Join(root, "dst")
		mkdirs(t, dst)
		ex := buildMixedSource(t, src)

		res, err := Execute(context.Background(), testConfig(src, dst, workers, gs.URL), Deps{Extractor: ex, Log: zerolog.Nop()}, nil)
		if err != nil {
			t.Fatalf("workers=%d 不期望错误：%v", workers, err)
		}
		return snapshotTree(t, dst), res.Report
	}

	tree1, r1 := run(1)
	tree4, r4 := run(4)

	if !reflect.DeepEqual(tree1, tree4) {
		t.Fatalf("目标目录树应与 worker 数量无关：\n1=%v\n4=%v", tree1, tree4)
	}

	type counts struct {
		Discovered, Classified, Unsorted, Failed, Renamed int64
		Lookups, Hits, Misses, Copies, Bytes, Dirs       int64
	}
	pick := func(r domain.PerformanceReport) counts {
		return counts{r.Discovered, r.Classified, r.Unsorted, r.Failed, r.DuplicatesRenamed,
			r.GeocodeLookups, r.GeocodeHits, r.GeocodeMisses, r.Copies, r.BytesCopied, r.DirsCreated}
	}
	if pick(r1) != pick(r4) {
		t.Fatalf("统计应与 worker 数量无关：\n1=%+v\n4=%+v", pick(r1), pick(r4))
	}
	if !reflect.DeepEqual(r1.ByPlace, r4.ByPlace) || !reflect.DeepEqual(failedFiles(r1), failedFiles(r4)) {
		t.Fatalf("per-place 或失败明细应与 worker 数量无关")
	}

	if r1.Discovered != 30 || r1.Classified+r1.Unsorted+r1.Failed != r1.Discovered {
		t.Fatalf("每张照片应恰好落入一种结果：%+v", pick(r1))
	}
	if r1.PlaceTotal() != r1.Classified {
		t.Fatalf("per-place 之和应等于 classified：%d vs %d", r1.PlaceTotal(), r1.Classified)
	}
	if r1.DuplicatesRenamed == 0 {
		t.Fatalf("重名文件应被改名")
	}
}

// failedFiles 只取 文件+阶段（原因里含临时目录路径，两次运行不同）。
func failedFiles(r domain.PerformanceReport) []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.File+"@"+string(e.Stage))
	}
	return out
}

func TestExecute_MetadataFailureGoesToUnsorted(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	mkdirs(t, dst)
	writePhoto(t, src, "sub/broken.jpg", "xx")

	ex := fakeExtractor{root: src, recs: map[string]domain.PhotoRecord{}}
	res, err := Execute(context.Background(), testConfig(src, dst, 2, "http://127.0.0.1:1"), Deps{Extractor: ex, Log: zerolog.Nop()}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	r := res.Report
	if r.Unsorted != 1 || r.Classified != 0 || r.Failed != 0 {
		t.Fatalf("计数不符合预期：unsorted=%d classified=%d failed=%d", r.Unsorted, r.Classified, r.Failed)
	}
	if r.Failures[domain.StageMetadata] != 1 || len(r.Errors) != 1 || r.Errors[0].Stage != domain.StageMetadata {
		t.Fatalf("元数据失败应被记录：failures=%v errors=%v", r.Failures, r.Errors)
	}
	assertFile(t, filepath.Join(dst, domain.UnsortedDir, "sub", "broken.jpg"), "xx")
}

func TestExecute_MetadataFailureWithoutUnsortedCopy(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	mkdirs(t, dst)
	writePhoto(t, src, "broken.jpg", "xx")

	cfg := testConfig(src, dst, 1, "http://127.0.0.1:1")
	cfg.CopyUnsorted = false
	ex := fakeExtractor{root: src, recs: map[string]domain.PhotoRecord{}}
	res, err := Execute(context.Background(), cfg, Deps{Extractor: ex, Log: zerolog.Nop()}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.Report.Failed != 1 || res.Report.Copies != 0 {
		t.Fatalf("关闭 copy_unsorted 后应计为失败且不拷贝：%+v", res.Report)
	}
	if _, err := os.Stat(filepath.Join(dst, domain.UnsortedDir)); !os.IsNotExist(err) {
		t.Fatalf("不应创建 Unsorted 目录")
	}
}

type failingGeo struct{ calls atomic.Int64 }

func (f *failingGeo) Lookup(ctx context.Context, lat, lon float64) (string, error) {
	f.calls.Add(1)
	if lat > 40 {
		return "", errors.New("service unavailable")
	}
	return "Tokyo", nil
}

func TestExecute_GeocodeFailureIsIsolated(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	mkdirs(t, dst)
	writePhoto(t, src, "a.jpg", "a")
	writePhoto(t, src, "b.jpg", "b")
	writePhoto(t, src, "c.jpg", "c")

	ex := fakeExtractor{root: src, recs: map[string]domain.PhotoRecord{
		"a.jpg": {Captured: month(2024, time.June), GPS: paris},
		"b.jpg": {Captured: month(2024, time.June), GPS: tokyo},
		"c.jpg": {Captured: month(2024, time.July)},
	}}
	res, err := Execute(context.Background(), testConfig(src, dst, 3, ""), Deps{Extractor: ex, GeoClient: &failingGeo{}, Log: zerolog.Nop()}, nil)
	if err != nil {
		t.Fatalf("单张照片失败不应终止 run：%v", err)
	}
	r := res.Report
	if r.Failed != 1 || r.Classified != 2 || r.Failures[domain.StageGeocode] != 1 {
		t.Fatalf("计数不符合预期：failed=%d classified=%d failures=%v", r.Failed, r.Classified, r.Failures)
	}
	if len(r.Errors) != 1 || r.Errors[0].File != "a.jpg" {
		t.Fatalf("失败明细不符合预期：%v", r.Errors)
	}
	// 失败的反查同样计入解析次数：a（失败）与 b 各一次未命中，c 无 GPS 不计。
	if r.GeocodeLookups != 2 || r.GeocodeMisses != 2 || r.StageCount[domain.StageGeocode] != 2 {
		t.Fatalf("地名解析计数不符合预期：lookups=%d misses=%d stage=%d", r.GeocodeLookups, r.GeocodeMisses, r.StageCount[domain.StageGeocode])
	}
	assertFile(t, filepath.Join(dst, "2024-06", "Tokyo", domain.DeviceUnknown, "b.jpg"), "b")
	assertFile(t, filepath.Join(dst, "2024-07", domain.PlaceUnknown, domain.DeviceUnknown, "c.jpg"), "c")
}

func TestExecute_MissingDestIsFatal(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writePhoto(t, src, "a.jpg", "a")

	ex := fakeExtractor{root: src}
	_, err := Execute(context.Background(), testConfig(src, filepath.Join(root, "nope"), 2, ""), Deps{Extractor: ex, GeoClient: &failingGeo{}, Log: zerolog.Nop()}, nil)
	if config.Code(err) != config.ErrCodeDestMissing || !IsFatal(err) {
		t.Fatalf("期望 %q，实际 %v", config.ErrCodeDestMissing, err)
	}
}

func TestExecute_DestBrokenMidRunStopsDispatch(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	mkdirs(t, dst)
	for _, n := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"} {
		writePhoto(t, src, n, n)
	}

	recs := map[string]domain.PhotoRecord{}
	for _, n := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"} {
		recs[n] = domain.PhotoRecord{Captured: month(2024, time.Month(1+len(recs)))}
	}
	ex := fakeExtractor{root: src, recs: recs, hook: func(rel string) {
		if rel == "b.jpg" {
			// dest 根目录被替换为普通文件：之后任何写入都不可能成功。
			_ = os.RemoveAll(dst)
			_ = os.WriteFile(dst, []byte("x"), 0o644)
		}
	}}

	res, err := Execute(context.Background(), testConfig(src, dst, 1, ""), Deps{Extractor: ex, GeoClient: &failingGeo{}, Log: zerolog.Nop()}, nil)
	if config.Code(err) != config.ErrCodeDestUnwritable {
		t.Fatalf("期望 %q，实际 %v", config.ErrCodeDestUnwritable, err)
	}
	r := res.Report
	if r.Classified != 1 || r.Copies != 1 {
		t.Fatalf("失效后不应继续派发：classified=%d copies=%d", r.Classified, r.Copies)
	}
	if r.MetadataReads != 2 {
		t.Fatalf("期望只读取了 a/b 的元数据，实际 %d", r.MetadataReads)
	}
}

func TestExecute_ContextCanceled(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	mkdirs(t, dst)
	writePhoto(t, src, "a.jpg", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := fakeExtractor{root: src}
	res, err := Execute(ctx, testConfig(src, dst, 2, ""), Deps{Extractor: ex, GeoClient: &failingGeo{}, Log: zerolog.Nop()}, nil)
	if !errors.Is(err, context.Canceled) || IsFatal(err) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
	if res.Report.Copies != 0 {
		t.Fatalf("取消后不应拷贝")
	}
}

func TestExecute_RealExtractorNonImageGoesUnsorted(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	mkdirs(t, dst)
	writePhoto(t, src, "fake.jpg", "not a jpeg")

	res, err := Execute(context.Background(), testConfig(src, dst, 1, ""), Deps{GeoClient: &failingGeo{}, Log: zerolog.Nop()}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.Report.Unsorted != 1 || res.Report.MetadataReads != 1 {
		t.Fatalf("无法解析 EXIF 的文件应进入 Unsorted：%+v", res.Report)
	}
	assertFile(t, filepath.Join(dst, domain.UnsortedDir, "fake.jpg"), "not a jpeg")
}

func TestExecute_DestInsideSourceIsSkipped(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(src, "sorted")
	mkdirs(t, dst)
	writePhoto(t, src, "a.jpg", "a")
	writePhoto(t, dst, "old.jpg", "old")

	ex := fakeExtractor{root: src, recs: map[string]domain.PhotoRecord{"a.jpg": {Captured: month(2024, time.June)}}}
	res, err := Execute(context.Background(), testConfig(src, dst, 1, ""), Deps{Extractor: ex, GeoClient: &failingGeo{}, Log: zerolog.Nop()}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.Report.Discovered != 1 {
		t.Fatalf("dest 位于 source 下时应跳过 dest，discovered=%d", res.Report.Discovered)
	}
}

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	phases     []string
	photos     []string
	maxIdx     int
}

func (o *recordObserver) OnStart(eff config.EffectiveConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
}

func (o *recordObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnPhotoDone(idx, total int, res domain.PhotoResult, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.photos = append(o.photos, res.File)
	if idx > o.maxIdx {
		o.maxIdx = idx
	}
}

func (o *recordObserver) OnProgress(done, total, ok, fail int, elapsed time.Duration) {}

func TestExecute_EmitsObserverEvents(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	mkdirs(t, dst)
	writePhoto(t, src, "a.jpg", "a")
	writePhoto(t, src, "b.jpg", "b")

	ex := fakeExtractor{root: src, recs: map[string]domain.PhotoRecord{
		"a.jpg": {Captured: month(2024, time.June)},
		"b.jpg": {Captured: month(2024, time.June)},
	}}
	obs := &recordObserver{}
	if _, err := Execute(context.Background(), testConfig(src, dst, 2, ""), Deps{Extractor: ex, GeoClient: &failingGeo{}, Log: zerolog.Nop()}, obs); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if obs.startCalls != 1 {
		t.Fatalf("期望 OnStart 调用 1 次，实际 %d", obs.startCalls)
	}
	if !reflect.DeepEqual(obs.phases, []string{"scan", "copy"}) {
		t.Fatalf("阶段事件不符合预期：%v", obs.phases)
	}
	if len(obs.photos) != 2 || obs.maxIdx != 2 {
		t.Fatalf("照片事件不符合预期：%v maxIdx=%d", obs.photos, obs.maxIdx)
	}
}

func writePhoto(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	mkdirs(t, filepath.Dir(p))
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("写入照片失败：%v", err)
	}
}

func mkdirs(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
}

func assertFile(t *testing.T, p, want string) {
	t.Helper()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("读取 %q 失败：%v", p, err)
	}
	if string(b) != want {
		t.Fatalf("%q 内容不符合预期：%q", p, string(b))
	}
}

// snapshotTree 返回 root 下所有文件的 相对路径 -> 内容。
func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	if err != nil {
		t.Fatalf("遍历目录失败：%v", err)
	}
	return out
}

func TestExecute_GeocoderRateLimited(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	mkdirs(t, dst)

	var (
		mu       sync.Mutex
		arrivals []time.Time
		inflight int
		peak     int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()

		fmt.Fprint(w, `<reversegeocode><result>Somewhere</result><addressparts><town>Somewhere</town></addressparts></reversegeocode>`)

		mu.Lock()
		inflight--
		mu.Unlock()
	}))
	defer srv.Close()

	const n = 6
	recs := map[string]domain.PhotoRecord{}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("p%d.jpg", i)
		writePhoto(t, src, name, "x")
		recs[name] = domain.PhotoRecord{Captured: month(2024, time.May), GPS: &domain.Coordinate{Lat: float64(i + 1), Lon: 1}}
	}

	eff := testConfig(src, dst, 4, srv.URL)
	eff.Geocoder.RPS = 20
	res, err := Execute(context.Background(), eff, Deps{Extractor: fakeExtractor{root: src, recs: recs}, Log: zerolog.Nop()}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.Report.Classified != n || res.Report.Failed != 0 {
		t.Fatalf("限速不应导致失败：classified=%d failed=%d", res.Report.Classified, res.Report.Failed)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(arrivals) != n {
		t.Fatalf("期望 %d 次外部反查，实际 %d", n, len(arrivals))
	}
	if peak > 2 {
		t.Fatalf("20 rps 下请求基本不应重叠，实际最大并发 %d", peak)
	}
	first, last := arrivals[0], arrivals[0]
	for _, a := range arrivals {
		if a.Before(first) {
			first = a
		}
		if a.After(last) {
			last = a
		}
	}
	// 6 个请求至少跨越 5 个 50ms 间隔（留出调度抖动余量）。
	if span := last.Sub(first); span < 200*time.Millisecond {
		t.Fatalf("请求未被限速：跨度 %s", span)
	}
}
