package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// smallWriter builds a writer whose limit is a handful of bytes so tests
// can trigger rotation without writing megabytes.
func smallWriter(t *testing.T, limit int64, backups int) (*RotatingWriter, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: backups})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.limit = limit
	t.Cleanup(func() { _ = rw.Close() })
	return rw, path
}

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates nested directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "test.log")

		rw, err := NewRotatingWriter(path, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", path)
		}
		if rw.Path() != path {
			t.Errorf("Path() = %q, want %q", rw.Path(), path)
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.log")
		if err := os.WriteFile(path, []byte("initial\n"), 0644); err != nil {
			t.Fatal(err)
		}

		rw, err := NewRotatingWriter(path, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		if rw.Size() != 8 {
			t.Errorf("Size() = %d, want 8", rw.Size())
		}
		if _, err := rw.Write([]byte("more\n")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		_ = rw.Close()

		content, _ := os.ReadFile(path)
		if string(content) != "initial\nmore\n" {
			t.Errorf("content = %q", content)
		}
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	t.Run("rotates when limit is exceeded", func(t *testing.T) {
		rw, path := smallWriter(t, 10, 3)

		_, _ = rw.Write([]byte("aaaaaaaa\n")) // 9 bytes
		_, _ = rw.Write([]byte("bbbbbbbb\n")) // would exceed 10

		backup, err := os.ReadFile(path + ".1")
		if err != nil {
			t.Fatalf("expected backup file: %v", err)
		}
		if string(backup) != "aaaaaaaa\n" {
			t.Errorf("backup content = %q", backup)
		}
		current, _ := os.ReadFile(path)
		if string(current) != "bbbbbbbb\n" {
			t.Errorf("current content = %q", current)
		}
		if rw.Size() != 9 {
			t.Errorf("Size() after rotation = %d, want 9", rw.Size())
		}
	})

	t.Run("keeps at most MaxBackups files", func(t *testing.T) {
		rw, path := smallWriter(t, 4, 2)

		for i := 0; i < 5; i++ {
			_, _ = rw.Write([]byte(fmt.Sprintf("%d..\n", i)))
		}

		for _, n := range []int{1, 2} {
			if _, err := os.Stat(fmt.Sprintf("%s.%d", path, n)); err != nil {
				t.Errorf("expected backup %d: %v", n, err)
			}
		}
		if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
			t.Error("backup 3 should not exist")
		}

		newest, _ := os.ReadFile(path + ".1")
		if string(newest) != "3..\n" {
			t.Errorf("newest backup = %q, want %q", newest, "3..\n")
		}
	})

	t.Run("zero backups truncates in place", func(t *testing.T) {
		rw, path := smallWriter(t, 4, 0)

		_, _ = rw.Write([]byte("one\n"))
		_, _ = rw.Write([]byte("two\n"))

		if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
			t.Error("no backup should be kept")
		}
		current, _ := os.ReadFile(path)
		if string(current) != "two\n" {
			t.Errorf("current content = %q", current)
		}
	})

	t.Run("oversized single write is not split", func(t *testing.T) {
		rw, path := smallWriter(t, 4, 1)

		big := bytes.Repeat([]byte("x"), 20)
		if n, err := rw.Write(big); err != nil || n != 20 {
			t.Fatalf("Write = %d, %v", n, err)
		}
		if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
			t.Error("an empty file should not be rotated")
		}
	})
}

func TestRotatingWriterConcurrency(t *testing.T) {
	rw, path := smallWriter(t, 1024, 50)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = rw.Write([]byte("0123456789\n"))
			}
		}()
	}
	wg.Wait()
	_ = rw.Close()

	var total int64
	matches, _ := filepath.Glob(path + "*")
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			t.Fatal(err)
		}
		total += info.Size()
	}
	if total != 8*50*11 {
		t.Errorf("total bytes across files = %d, want %d", total, 8*50*11)
	}
}

func TestRotatingWriterClose(t *testing.T) {
	rw, _ := smallWriter(t, 100, 1)

	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 {
		t.Errorf("MaxSizeMB = %d, want 10", cfg.MaxSizeMB)
	}
	if cfg.MaxBackups != 3 {
		t.Errorf("MaxBackups = %d, want 3", cfg.MaxBackups)
	}
}
