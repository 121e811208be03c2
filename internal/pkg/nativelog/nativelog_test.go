package nativelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestWriterAppendsToDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	day := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day }

	for _, line := range []string{"first\n", "second\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := os.ReadFile(filepath.Join(dir, "realtime_2026-03-04.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "first\nsecond\n" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel(" WARN "); err != nil || lvl != zapcore.WarnLevel {
		t.Fatalf("ParseLevel(WARN) = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewZapLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewZapLogger(Options{Level: "debug", Dir: dir})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("hello from test")
	_ = logger.Sync()

	got, err := os.ReadFile(filepath.Join(dir, DailyFilename(time.Now())))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(got), "hello from test") {
		t.Fatalf("log line missing: %q", got)
	}

	if _, err := NewZapLogger(Options{Level: "nope"}); err == nil {
		t.Fatal("expected invalid level error")
	}
}
