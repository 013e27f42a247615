package domain

import "fmt"

// Stage 是单张照片流水线中的一个可计时阶段。
type Stage string

const (
	StageMetadata  Stage = "metadata"
	StageGeocode   Stage = "geocode"
	StageDirectory Stage = "directory"
	StageCopy      Stage = "copy"
)

// Stages 是报告中的固定阶段顺序。
var Stages = []Stage{StageMetadata, StageGeocode, StageDirectory, StageCopy}

const (
	// PlaceUnknown 是无 GPS 照片的固定地点，同时也是 per-place 统计里的显式桶。
	PlaceUnknown  = "Unknown"
	DateUnknown   = "Unknown Date"
	DeviceUnknown = "Unknown Device"

	// UnsortedDir 存放无法提取元数据的照片（保留源相对路径）。
	UnsortedDir = "Unsorted"
)

// StageError 表示某张照片在某个阶段失败。
// 它只影响当前照片：worker 记录失败计数后继续处理下一张。
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage=%s file=%q: %v", e.Stage, e.Path, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
