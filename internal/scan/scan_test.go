package scan

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanPhotos_FiltersByExtension(t *testing.T) {
	root := t.TempDir()

	touch(t, filepath.Join(root, "2024", "IMG_0001.JPG"))
	touch(t, filepath.Join(root, "2024", "notes.txt"))
	touch(t, filepath.Join(root, "raw", "DSC_1.nef"))

	got, err := ScanPhotos(root, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 2 {
		t.Fatalf("期望 2 个照片文件，实际 %d", len(got))
	}
	if got[0].RelPath != filepath.Join("2024", "IMG_0001.JPG") || got[0].Ext != ".jpg" {
		t.Fatalf("第一个文件不符合预期：%+v", got[0])
	}
	if got[1].Name != "DSC_1.nef" {
		t.Fatalf("第二个文件不符合预期：%+v", got[1])
	}
}

func TestScanPhotos_ExcludeDirs(t *testing.T) {
	root := t.TempDir()

	touch(t, filepath.Join(root, "sorted", "2024-01", "a.jpg"))
	touch(t, filepath.Join(root, "in", "b.jpg"))

	// 绝对路径与相对路径两种写法都应生效。
	for _, ex := range []string{"sorted", filepath.Join(root, "sorted")} {
		got, err := ScanPhotos(root, []string{ex})
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		if len(got) != 1 || got[0].RelPath != filepath.Join("in", "b.jpg") {
			t.Fatalf("exclude=%q 结果不符合预期：%+v", ex, got)
		}
	}
}

func TestScanPhotos_SkipsSystemDirs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "@eaDir", "thumb.jpg"))
	touch(t, filepath.Join(root, "x.jpeg"))

	got, err := ScanPhotos(root, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 1 || got[0].Name != "x.jpeg" {
		t.Fatalf("期望只扫描到 x.jpeg，实际 %+v", got)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
