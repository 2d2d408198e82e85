package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestDirStructure(b *testing.B, dirs int) string {
	b.Helper()
	root := b.TempDir()
	for i := 0; i < dirs; i++ {
		dir := filepath.Join(root, fmt.Sprintf("pkg_%d", i), "src")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte("export default 1\n"), 0o644); err != nil {
			b.Fatal(err)
		}
	}
	return root
}

func BenchmarkFileWatcher_AddRecursive(b *testing.B) {
	for _, size := range []int{10, 50, 200} {
		b.Run(fmt.Sprintf("dirs-%d", size), func(b *testing.B) {
			root := createTestDirStructure(b, size)
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				fw, err := NewFileWatcher(100*time.Millisecond, nil)
				if err != nil {
					b.Fatal(err)
				}
				if err := fw.AddRecursive(root); err != nil {
					b.Fatal(err)
				}
				fw.Stop()
			}
		})
	}
}

func BenchmarkIgnoreFilter(b *testing.B) {
	filter := IgnoreFilter([]string{"node_modules", ".git", "elm-stuff", "*.swp"})
	path := "/home/dev/project/src/components/button/index.js"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		filter(path)
	}
}
