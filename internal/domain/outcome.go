package domain

// Outcome 是单张照片的最终归宿。每张被派发的照片恰好落入其中一种。
type Outcome string

const (
	OutcomeClassified Outcome = "classified"
	OutcomeUnsorted   Outcome = "unsorted"
	OutcomeFailed     Outcome = "failed"
)

// PhotoResult 是单张照片处理完成后的结果（用于进度输出）。
type PhotoResult struct {
	File    string // 相对 source 的路径
	Outcome Outcome
	Dst     string // 成功时的目标文件
	Place   string

	// 失败（或元数据缺失落入 Unsorted）时的阶段与原因。
	Stage  Stage
	Reason string
}
