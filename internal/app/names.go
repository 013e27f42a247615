package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/photosort/internal/domain"
)

// AssignNames 为每个文件分配目标文件名，返回与 files 下标一一对应的名字和改名数量。
//
// 规则：
// - 名字唯一（大小写不敏感，兼容 macOS/Windows）的文件保留原名
// - 同名文件按 files 顺序（scan 已按 RelPath 排序）第一个保留原名，其余追加 __N
//
// 结果只依赖输入集合，与 worker 数量/调度顺序无关。
func AssignNames(files []domain.PhotoFile) ([]string, int) {
	count := make(map[string]int, len(files))
	for i := range files {
		count[foldName(files[i].Name)]++
	}

	used := make(map[string]struct{}, len(files))
	for k, n := range count {
		if n == 1 {
			used[k] = struct{}{}
		}
	}

	names := make([]string, len(files))
	seen := make(map[string]bool, len(files))
	renamed := 0
	for i := range files {
		name := files[i].Name
		key := foldName(name)
		if count[key] == 1 {
			names[i] = name
			continue
		}
		if !seen[key] {
			seen[key] = true
			used[key] = struct{}{}
			names[i] = name
			continue
		}
		alloc := allocName(name, used)
		used[foldName(alloc)] = struct{}{}
		names[i] = alloc
		renamed++
	}
	return names, renamed
}

func allocName(name string, used map[string]struct{}) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d%s", base, n, ext)
		if _, ok := used[foldName(cand)]; !ok {
			return cand
		}
	}
}

func foldName(s string) string { return strings.ToLower(s) }
