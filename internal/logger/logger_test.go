package logger

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestSetLevelWhileLogging(t *testing.T) {
	t.Cleanup(func() { SetLevel("info"); SetPrefix("") })

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				Debugf("worker %d", i)
				LogDuration("test.op", time.Now())
			}
		}()
	}
	for _, l := range []string{"debug", "error", "info", "trace"} {
		SetLevel(l)
		SetPrefix("svc-" + l)
	}
	wg.Wait()

	SetLevel("error")
	if lvl() != slog.LevelError {
		t.Errorf("level = %v, want error", lvl())
	}
	SetLevel("")
	if lvl() != slog.LevelError {
		t.Errorf("empty level must keep the current one, got %v", lvl())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"trace": slog.LevelDebug,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
