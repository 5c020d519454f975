package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterKeepsOneBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.log")
	w, err := NewRotatingWriter(path, 64)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	first := strings.Repeat("a", 70) + "\n"
	if _, err := w.Write([]byte(first)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("after rotate\n")); err != nil {
		t.Fatalf("Write after rotate: %v", err)
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != first {
		t.Errorf("backup = %q, want first write", backup)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(current) != "after rotate\n" {
		t.Errorf("log = %q, want only the post-rotation line", current)
	}
}

func TestRotatingWriterTruncatesOversizedFileOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 200)), 0644); err != nil {
		t.Fatal(err)
	}
	w, err := NewRotatingWriter(path, 100)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()
	if w.size != 0 {
		t.Errorf("size = %d, want 0 after truncation", w.size)
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "x.log"), 100)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("Write after Close succeeded")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestLevelThreshold(t *testing.T) {
	defer SetLevel("info")

	tests := []struct {
		setting string
		level   string
		want    bool
	}{
		{"info", "info", true},
		{"info", "error", true},
		{"warn", "info", false},
		{"warn", "warn", true},
		{"ERROR", "warn", false},
		{"error", "error", true},
		{"bogus", "info", true},
		{"error", "debug", true},
	}
	for _, tt := range tests {
		SetLevel(tt.setting)
		if got := Enabled(tt.level); got != tt.want {
			t.Errorf("SetLevel(%q) Enabled(%q) = %v, want %v", tt.setting, tt.level, got, tt.want)
		}
	}
}
