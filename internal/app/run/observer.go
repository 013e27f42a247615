package run

import (
	"time"

	"github.com/John-Robertt/photosort/internal/config"
	"github.com/John-Robertt/photosort/internal/domain"
)

// Observer 用于把 "运行进度/阶段/照片结果" 从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的报告）
// - Observer 的实现必须并发安全
type Observer interface {
	// OnStart 在 Execute 开始时调用（早于根目录校验）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用（scan、copy）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnPhotoDone 在一张照片处理完成时调用。idx 从 1 开始，按完成顺序递增。
	OnPhotoDone(idx, total int, res domain.PhotoResult, dur time.Duration)
	// OnProgress 用于 keepalive（通常由 CLI 自己 ticker 触发；run 层不强制调用）。
	OnProgress(done, total, ok, fail int, elapsed time.Duration)
}
