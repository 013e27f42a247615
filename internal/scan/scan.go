package scan

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/photosort/internal/domain"
)

// ScanPhotos 扫描 root 下的照片文件，并应用目录排除规则。
//
// 规则（硬约束）：
// - excludeDirs 中的相对路径均相对 root；绝对路径按绝对路径处理
// - 目标目录若位于 root 之下，由调用方放进 excludeDirs（避免把自己的产物再扫一遍）
//
// 注意：扫描阶段只做 stat（DirEntry.Info），不读文件内容。
func ScanPhotos(root string, excludeDirs []string) ([]domain.PhotoFile, error) {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, excludeDirs)

	files := make([]domain.PhotoFile, 0, 256)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if isExcluded(path, excluded) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && isSkippedDirName(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !isPhotoExt(ext) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		files = append(files, domain.PhotoFile{
			AbsPath: path,
			RelPath: rel,
			Name:    name,
			Ext:     ext,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 强制稳定输出：后续的重名分配依赖这个顺序。
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func isPhotoExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".tif", ".tiff", ".heic", ".heif", ".png",
		".dng", ".arw", ".cr2", ".nef", ".orf", ".raf", ".rw2":
		return true
	default:
		return false
	}
}

// isSkippedDirName 跳过常见的系统/相机内部目录。
func isSkippedDirName(name string) bool {
	switch name {
	case ".Trashes", ".fseventsd", ".Spotlight-V100", ".stfolder", "@eaDir":
		return true
	default:
		return false
	}
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
