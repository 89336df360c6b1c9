// Package manifest handles weave.toml instrumentation configuration.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/stmweave/weave"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "weave.toml"

// DefaultCachePath is the cache database location relative to Dir.
var DefaultCachePath = filepath.Join(".stmweave", "cache.db")

// Manifest represents a weave.toml configuration.
type Manifest struct {
	Weave   Weave   `toml:"weave"`
	Exclude Exclude `toml:"exclude"`
	Cache   Cache   `toml:"cache"`

	// Dir is the directory containing the weave.toml file (set at load time).
	Dir string `toml:"-"`
}

// Weave configures the class rewriter.
type Weave struct {
	MaxVersion     int   `toml:"max-version"`
	DefaultRetries int32 `toml:"default-retries"`
	Frames         bool  `toml:"frames"`
}

// Exclude configures which owner types are instrumented.
type Exclude struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// Cache configures the instrumentation cache.
type Cache struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Default returns the configuration used when no weave.toml exists.
func Default() *Manifest {
	wd, _ := os.Getwd()
	return &Manifest{
		Weave: Weave{
			MaxVersion:     weave.DefaultMaxVersion,
			DefaultRetries: weave.Unbounded,
			Frames:         true,
		},
		Exclude: Exclude{Exclude: append([]string(nil), weave.DefaultExcludes...)},
		Cache:   Cache{Path: DefaultCachePath},
		Dir:     wd,
	}
}

// Load parses a weave.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes weave.toml content. Keys that are not set keep the
// values of Default.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}

	// Defaults
	if m.Weave.MaxVersion <= 0 {
		m.Weave.MaxVersion = weave.DefaultMaxVersion
	}
	if m.Weave.DefaultRetries <= 0 {
		m.Weave.DefaultRetries = weave.Unbounded
	}
	if m.Cache.Path == "" {
		m.Cache.Path = DefaultCachePath
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a weave.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CachePath returns the absolute path of the cache database.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// Policy compiles the exclusion patterns.
func (m *Manifest) Policy() (*weave.Policy, error) {
	return weave.NewPolicy(m.Exclude.Include, m.Exclude.Exclude)
}

// WeaveConfig returns the rewriter configuration. counter may be nil.
func (m *Manifest) WeaveConfig(counter *weave.AttemptCounter) (weave.Config, error) {
	policy, err := m.Policy()
	if err != nil {
		return weave.Config{}, err
	}
	return weave.Config{
		MaxVersion:     m.Weave.MaxVersion,
		DefaultRetries: m.Weave.DefaultRetries,
		Frames:         m.Weave.Frames,
		Policy:         policy,
		Counter:        counter,
	}, nil
}

// Fingerprint identifies the settings that change woven output. Two
// manifests with the same fingerprint weave any class identically.
func (m *Manifest) Fingerprint() (string, error) {
	var buf bytes.Buffer
	settings := struct {
		Weave   Weave   `toml:"weave"`
		Exclude Exclude `toml:"exclude"`
	}{m.Weave, m.Exclude}
	if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
		return "", fmt.Errorf("cannot encode settings: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
