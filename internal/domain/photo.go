package domain

import (
	"math"
	"time"
)

// PhotoFile 描述一次扫描得到的照片文件（只做 stat，不读内容）。
//
// 不变量：
// - AbsPath 必须是 clean + absolute
// - RelPath 相对 source 根目录，用于 Unsorted 目录与报告定位
type PhotoFile struct {
	AbsPath string
	RelPath string
	Name    string // 含扩展名
	Ext     string // 小写，例如 ".jpg"
	Size    int64
}

// Coordinate 是十进制度表示的 GPS 坐标。
type Coordinate struct {
	Lat float64
	Lon float64
}

// PhotoRecord 是单张照片的元数据记录。
//
// 约束：产生后不可变；只属于处理它的那个 worker，拷贝完成即丢弃。
// 可选字段用零值/nil 表示缺失。
type PhotoRecord struct {
	Path     string
	Captured *time.Time
	GPS      *Coordinate
	Device   string
}

// GeoKey 是坐标保留 4 位小数（约 11m）后的缓存键，只用于缓存，从不落盘。
//
// 用整数（×1e4）保存，避免浮点比较的不确定性。
type GeoKey struct {
	LatE4 int64
	LonE4 int64
}

// KeyOf 把坐标四舍五入到 4 位小数得到 GeoKey。
func KeyOf(c Coordinate) GeoKey {
	return GeoKey{
		LatE4: int64(math.Round(c.Lat * 1e4)),
		LonE4: int64(math.Round(c.Lon * 1e4)),
	}
}

// Coordinate 返回 key 对应的（已取整）坐标，用于真正发起反查。
func (k GeoKey) Coordinate() Coordinate {
	return Coordinate{Lat: float64(k.LatE4) / 1e4, Lon: float64(k.LonE4) / 1e4}
}
