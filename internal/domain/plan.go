package domain

// CopyPlan 描述一张照片的目标位置（只描述路径；目录是否已创建由 DirectoryCache 负责）。
type CopyPlan struct {
	Src string
	Dir string // 目标目录（绝对路径）
	Dst string // 目标文件（绝对路径）

	Month  string
	Place  string
	Device string
}
