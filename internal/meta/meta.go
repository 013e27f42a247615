package meta

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/John-Robertt/photosort/internal/domain"
)

// exifTimeLayout 是 EXIF 日期字段的固定格式。
const exifTimeLayout = "2006:01:02 15:04:05"

// dateFields 按优先级排列：拍摄时间 > 数字化时间 > 文件修改时间。
var dateFields = []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime}

// Recorder 接收元数据读取的耗时（成功与失败都计入）。
type Recorder interface {
	RecordMetadata(d time.Duration)
}

// Error 表示文件无法读取或 EXIF 无法解析。
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("读取 EXIF 失败：%q：%v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Extractor 从照片文件中读取拍摄时间、GPS 坐标与设备型号。
//
// 单个字段缺失不是错误：对应字段留空，由 planner 使用兜底目录名。
type Extractor struct {
	Rec Recorder
}

func (e Extractor) Extract(path string) (domain.PhotoRecord, error) {
	started := time.Now()
	rec, err := extract(path)
	if e.Rec != nil {
		e.Rec.RecordMetadata(time.Since(started))
	}
	return rec, err
}

func extract(path string) (domain.PhotoRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.PhotoRecord{}, &Error{Path: path, Err: err}
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return domain.PhotoRecord{}, &Error{Path: path, Err: err}
	}
	return build(path, exifString(x), x.LatLong), nil
}

func exifString(x *exif.Exif) func(exif.FieldName) (string, bool) {
	return func(name exif.FieldName) (string, bool) {
		tag, err := x.Get(name)
		if err != nil {
			return "", false
		}
		s, err := tag.StringVal()
		if err != nil {
			return "", false
		}
		return s, true
	}
}

// build 把原始标签组装为 PhotoRecord。纯函数，便于测试。
func build(path string, str func(exif.FieldName) (string, bool), latLong func() (float64, float64, error)) domain.PhotoRecord {
	rec := domain.PhotoRecord{Path: path}

	for _, f := range dateFields {
		s, ok := str(f)
		if !ok {
			continue
		}
		if t, ok := parseExifTime(s); ok {
			rec.Captured = &t
			break
		}
	}

	if lat, lon, err := latLong(); err == nil && validCoordinate(lat, lon) {
		rec.GPS = &domain.Coordinate{Lat: lat, Lon: lon}
	}

	if s, ok := str(exif.Model); ok {
		rec.Device = cleanModel(s)
	}
	return rec
}

func parseExifTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.Trim(s, "\x00"))
	if s == "" || strings.HasPrefix(s, "0000") {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(exifTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// validCoordinate 过滤相机未定位时写入的 0/0 以及越界值。
func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func cleanModel(s string) string {
	s = strings.Trim(s, "\x00")
	return strings.Join(strings.Fields(s), " ")
}
