package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/stmweave/weave"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a weave.toml
	dir := t.TempDir()
	tomlContent := `
[weave]
max-version = 55
default-retries = 8
frames = false

[exclude]
include = ["java/util/concurrent/*"]
exclude = ["java/**", "demo/gen/**"]

[cache]
path = "build/woven.db"
`
	if err := os.WriteFile(filepath.Join(dir, "weave.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Weave.MaxVersion != 55 {
		t.Errorf("max-version = %d, want 55", m.Weave.MaxVersion)
	}
	if m.Weave.DefaultRetries != 8 {
		t.Errorf("default-retries = %d, want 8", m.Weave.DefaultRetries)
	}
	if m.Weave.Frames {
		t.Error("frames = true, want false")
	}
	if len(m.Exclude.Include) != 1 {
		t.Errorf("include count = %d, want 1", len(m.Exclude.Include))
	}
	if len(m.Exclude.Exclude) != 2 || m.Exclude.Exclude[1] != "demo/gen/**" {
		t.Errorf("exclude = %v, want [java/** demo/gen/**]", m.Exclude.Exclude)
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, "build", "woven.db"); got != want {
		t.Errorf("cache path = %q, want %q", got, want)
	}

	cfg, err := m.WeaveConfig(nil)
	if err != nil {
		t.Fatalf("WeaveConfig failed: %v", err)
	}
	if cfg.MaxVersion != 55 || cfg.DefaultRetries != 8 || cfg.Frames {
		t.Errorf("weave config = %+v", cfg)
	}
	if cfg.Policy.Excluded("java/util/concurrent/Queue") {
		t.Error("included owner is excluded")
	}
	if !cfg.Policy.Excluded("demo/gen/Proxy") {
		t.Error("excluded owner is instrumented")
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[cache]
disabled = true
`
	if err := os.WriteFile(filepath.Join(dir, "weave.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Weave.MaxVersion != weave.DefaultMaxVersion {
		t.Errorf("default max-version = %d, want %d", m.Weave.MaxVersion, weave.DefaultMaxVersion)
	}
	if m.Weave.DefaultRetries != weave.Unbounded {
		t.Errorf("default retries = %d, want unbounded", m.Weave.DefaultRetries)
	}
	if !m.Weave.Frames {
		t.Error("default frames = false, want true")
	}
	if len(m.Exclude.Exclude) != len(weave.DefaultExcludes) {
		t.Errorf("default excludes = %v, want %v", m.Exclude.Exclude, weave.DefaultExcludes)
	}
	if !m.Cache.Disabled {
		t.Error("cache disabled = false, want true")
	}
	if m.Cache.Path != DefaultCachePath {
		t.Errorf("default cache path = %q, want %q", m.Cache.Path, DefaultCachePath)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[weave\nframes = true"},
		{"unknown key", "[weave]\nlevel = 3"},
		{"wrong type", "[weave]\nmax-version = \"52\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content)); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.content)
			}
		})
	}

	m, err := Parse([]byte("[exclude]\nexclude = [\"demo/[x\"]"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := m.WeaveConfig(nil); err == nil {
		t.Error("WeaveConfig accepted a bad pattern")
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `[weave]
default-retries = 3
`
	if err := os.WriteFile(filepath.Join(dir, "weave.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Weave.DefaultRetries != 3 {
		t.Errorf("default-retries = %d, want 3", m.Weave.DefaultRetries)
	}
	abs, _ := filepath.Abs(dir)
	if m.Dir != abs {
		t.Errorf("dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no weave.toml exists")
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Default().Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint %q is not a hex sha256", a)
	}

	m := Default()
	m.Cache.Path = "elsewhere.db"
	m.Dir = "/tmp"
	b, _ := m.Fingerprint()
	if a != b {
		t.Error("cache location changed the fingerprint")
	}

	m.Weave.DefaultRetries = 5
	c, _ := m.Fingerprint()
	if a == c {
		t.Error("retry default did not change the fingerprint")
	}
}
