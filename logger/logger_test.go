package logger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewWithRollingFileWrites(t *testing.T) {
	dir := t.TempDir()
	log := New(Config{
		MinLevel: "debug",
		Console:  false,
		Rolling:  &RollingFile{Dirname: dir, Filename: "test.log", MaxSizeMB: 1, MaxBackups: 1},
	})
	log.Info().Msg("hello")

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log file to have content")
	}
}

func TestNewFallsBackOnBadLevel(t *testing.T) {
	log := New(Config{MinLevel: "not-a-level", Console: false})
	if log.GetLevel().String() != "info" {
		t.Fatalf("level = %s, want info fallback", log.GetLevel())
	}
}
