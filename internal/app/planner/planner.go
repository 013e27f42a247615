package planner

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/John-Robertt/photosort/internal/domain"
)

// maxSegmentBytes 限制单个目录名长度（常见文件系统上限为 255 字节）。
const maxSegmentBytes = 120

// DirEnsurer 确保目录存在（由 dircache.Cache 实现）。
type DirEnsurer interface {
	Ensure(dir string) error
}

// Planner 根据元数据计算目标路径，并确保目标目录存在。
//
// 路径：<Root>/<YYYY-MM>/<Place>/[<Device>/]<name>
// 结果只依赖输入，不读取目标目录现状。
type Planner struct {
	Root      string
	UseDevice bool
	Dirs      DirEnsurer
}

// Plan 为一张已分类照片生成拷贝计划。place 为空时落入 Unknown 目录。
//
// 返回的 error 只可能来自 Dirs.Ensure。
func (p Planner) Plan(rec domain.PhotoRecord, place, name string) (domain.CopyPlan, error) {
	if strings.TrimSpace(name) == "" {
		return domain.CopyPlan{}, errors.New("目标文件名不能为空")
	}

	month := MonthOf(rec)
	placeDir := Segment(place, domain.PlaceUnknown)

	dir := filepath.Join(p.Root, month, placeDir)
	device := ""
	if p.UseDevice {
		device = Segment(rec.Device, domain.DeviceUnknown)
		dir = filepath.Join(dir, device)
	}

	plan := domain.CopyPlan{
		Src:    rec.Path,
		Dir:    dir,
		Dst:    filepath.Join(dir, name),
		Month:  month,
		Place:  placeDir,
		Device: device,
	}
	if p.Dirs != nil {
		if err := p.Dirs.Ensure(dir); err != nil {
			return domain.CopyPlan{}, err
		}
	}
	return plan, nil
}

// PlanUnsorted 为无法读取元数据的照片生成拷贝计划：<Root>/Unsorted/<relPath>。
//
// 源相对路径天然唯一，因此不需要改名。
func (p Planner) PlanUnsorted(src, relPath string) (domain.CopyPlan, error) {
	rel := filepath.Clean(filepath.FromSlash(relPath))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return domain.CopyPlan{}, errors.New("非法相对路径：" + relPath)
	}

	dst := filepath.Join(p.Root, domain.UnsortedDir, rel)
	plan := domain.CopyPlan{
		Src: src,
		Dir: filepath.Dir(dst),
		Dst: dst,
	}
	if p.Dirs != nil {
		if err := p.Dirs.Ensure(plan.Dir); err != nil {
			return domain.CopyPlan{}, err
		}
	}
	return plan, nil
}

// MonthOf 返回拍摄月份目录名（YYYY-MM）；缺失时返回 Unknown Date。
func MonthOf(rec domain.PhotoRecord) string {
	if rec.Captured == nil || rec.Captured.IsZero() {
		return domain.DateUnknown
	}
	return rec.Captured.Format("2006-01")
}

// Segment 把任意字符串清洗为单个安全的目录名；清洗后为空时返回 fallback。
//
// 规则：
// - 路径分隔符、Windows 保留字符、控制字符替换为 "_"
// - 连续空白折叠为一个空格
// - 去掉首尾空格与点（避免 "." / ".." 以及 Windows 尾随点）
// - 超长时按 rune 边界截断
func Segment(s, fallback string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == utf8.RuneError:
			b.WriteRune('_')
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		case unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Join(strings.Fields(b.String()), " ")
	out = strings.Trim(out, ". ")
	if len(out) > maxSegmentBytes {
		cut := maxSegmentBytes
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.TrimRight(out[:cut], ". ")
	}
	if out == "" {
		return fallback
	}
	return out
}
