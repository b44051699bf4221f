package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[engine]
strict = true
max-call-depth = 64
trace = true

[cache]
enabled = false
path = "build/units.db"

[log]
verbosity = 2
file = "moth.log"

[server]
listen = ":9000"
handle-ttl = "90s"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.EngineConfig()
	if !cfg.Strict || cfg.MaxCallDepth != 64 || !cfg.Trace {
		t.Errorf("engine config = %+v, want strict, depth 64, trace", cfg)
	}
	if m.Cache.Enabled {
		t.Error("cache enabled = true, want false")
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, "build", "units.db"); got != want {
		t.Errorf("cache path = %q, want %q", got, want)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if f := m.LogFile(); f == nil || *f != filepath.Join(m.Dir, "moth.log") {
		t.Errorf("log file = %v, want moth.log in the manifest directory", f)
	}
	if m.Server.Listen != ":9000" {
		t.Errorf("server listen = %q, want :9000", m.Server.Listen)
	}
	if m.Server.HandleTTL.Duration != 90*time.Second {
		t.Errorf("handle ttl = %v, want 90s", m.Server.HandleTTL)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[engine]
strict = false
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Engine.MaxCallDepth != 1000 {
		t.Errorf("max call depth = %d, want 1000", m.Engine.MaxCallDepth)
	}
	if !m.Cache.Enabled {
		t.Error("cache should be enabled by default")
	}
	if m.Server.Listen != "127.0.0.1:7377" {
		t.Errorf("server listen = %q, want 127.0.0.1:7377", m.Server.Listen)
	}
	if m.Server.HandleTTL.Duration != 30*time.Minute {
		t.Errorf("handle ttl = %v, want 30m", m.Server.HandleTTL)
	}
	if m.LogFile() != nil {
		t.Error("log file should default to stderr")
	}
}

func TestLoadManifestRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[engine]
strict = true
stirct = false
`)
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "stirct") {
		t.Errorf("error = %v, want one naming the unknown key", err)
	}
}

func TestLoadManifestBadDuration(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[server]
handle-ttl = "soon"
`)
	if _, err := Load(dir); err == nil {
		t.Error("Load accepted an invalid duration")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `
[engine]
max-call-depth = 5
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m.Engine.MaxCallDepth != 5 {
		t.Errorf("max call depth = %d, want 5", m.Engine.MaxCallDepth)
	}
	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadFallsBackToDefaults(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	// a moth.toml above the temp directory would also satisfy the walk
	if m.Dir == "" && m.CachePath() != filepath.Join(".moth", "cache.db") {
		t.Errorf("default cache path = %q", m.CachePath())
	}
}
