package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeEnv(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReloadAppliesLogLevel(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	writeEnv(t, envPath, "SUBTRACKER_LOG_LEVEL=info\n")

	var got []string
	w, err := NewWatcher(&Config{EnvPath: envPath, LogLevel: "info"}, func(level string) {
		got = append(got, level)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.Reload()
	if len(got) != 0 {
		t.Fatalf("unchanged level triggered callback: %v", got)
	}

	writeEnv(t, envPath, "SUBTRACKER_LOG_LEVEL='DEBUG'\n")
	w.Reload()
	w.Reload()
	if len(got) != 1 || got[0] != "debug" {
		t.Fatalf("callbacks = %v, want [debug]", got)
	}
}

func TestWatcherReloadIgnoresMissingFile(t *testing.T) {
	called := false
	w, err := NewWatcher(&Config{EnvPath: filepath.Join(t.TempDir(), ".env"), LogLevel: "info"}, func(string) {
		called = true
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.Reload()
	if called {
		t.Fatal("missing file must not change the level")
	}
}

func TestWatcherDetectsFileWrite(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	writeEnv(t, envPath, "SUBTRACKER_LOG_LEVEL=info\n")

	levels := make(chan string, 4)
	w, err := NewWatcher(&Config{EnvPath: envPath, LogLevel: "info"}, func(level string) {
		levels <- level
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	writeEnv(t, envPath, "SUBTRACKER_LOG_LEVEL=warn\n")

	select {
	case level := <-levels:
		if level != "warn" {
			t.Fatalf("level = %q, want warn", level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for log level change")
	}
}
