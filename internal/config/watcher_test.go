package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asmcenter/voicecoach/internal/config"
)

const (
	kore = `
log_level: info
realtime:
  provider: gemini-live
  api_key: test-key
  voice: Kore
`
	puck = `
log_level: debug
realtime:
  provider: gemini-live
  api_key: test-key
  voice: Puck
`
	broken = `
log_level: bananas
`
)

type reload struct{ old, new *config.Config }

// edit rewrites path and moves its mtime forward, so coarse filesystem
// timestamps still register as a change.
func edit(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	at := time.Now().Add(bump)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// startWatcher writes content to a fresh config file and watches it with a
// short poll interval. Reloads are delivered on the returned channel.
func startWatcher(t *testing.T, content string) (string, *config.Watcher, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicecoach.yaml")
	edit(t, path, content, 0)

	reloads := make(chan reload, 4)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		reloads <- reload{old, new}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, reloads
}

func expectNoReload(t *testing.T, reloads <-chan reload) {
	t.Helper()
	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload to voice %q", r.new.Realtime.Voice)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, kore)

	cfg := w.Current()
	if cfg.Realtime.Voice != "Kore" {
		t.Errorf("voice: got %q, want Kore", cfg.Realtime.Voice)
	}
	if cfg.Audio.InputSampleRate != config.DefaultInputSampleRate {
		t.Errorf("defaults not applied: input_sample_rate %d", cfg.Audio.InputSampleRate)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path, w, reloads := startWatcher(t, kore)

	edit(t, path, puck, 2*time.Second)

	var r reload
	select {
	case r = <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
	}
	if r.old.Realtime.Voice != "Kore" || r.new.Realtime.Voice != "Puck" {
		t.Errorf("reload voices: got %q -> %q, want Kore -> Puck", r.old.Realtime.Voice, r.new.Realtime.Voice)
	}
	if r.new.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want debug", r.new.LogLevel)
	}
	if w.Current() != r.new {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	path, w, reloads := startWatcher(t, kore)
	before := w.Current()

	edit(t, path, broken, 2*time.Second)
	expectNoReload(t, reloads)

	if w.Current() != before {
		t.Error("invalid edit replaced the current config")
	}

	// A later valid edit is still picked up.
	edit(t, path, puck, 4*time.Second)
	select {
	case r := <-reloads:
		if r.old != before {
			t.Error("reload old config is not the last valid one")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid edit after an invalid one was not picked up")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "voicecoach.yaml")
	edit(t, path, broken, 0)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for an invalid file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, kore)
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path, _, reloads := startWatcher(t, kore)

	at := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	expectNoReload(t, reloads)
}
