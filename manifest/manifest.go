// Package manifest handles moth.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/moth/vm"
)

// FileName is the name of the configuration file.
const FileName = "moth.toml"

// Manifest represents a moth.toml configuration.
type Manifest struct {
	Engine Engine `toml:"engine"`
	Cache  Cache  `toml:"cache"`
	Log    Log    `toml:"log"`
	Server Server `toml:"server"`

	// Dir is the directory containing the moth.toml file (set at load time).
	// It is empty for the built-in defaults.
	Dir string `toml:"-"`
}

// Engine configures every engine the tool creates.
type Engine struct {
	Strict       bool `toml:"strict"`
	MaxCallDepth int  `toml:"max-call-depth"`
	Trace        bool `toml:"trace"`
}

// Cache configures the compiled-unit cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Server configures the compile service.
type Server struct {
	Listen    string   `toml:"listen"`
	HandleTTL Duration `toml:"handle-ttl"`
}

// Duration is a time.Duration written as a Go duration string ("30m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no moth.toml exists.
func Default() *Manifest {
	m := &Manifest{
		Cache: Cache{Enabled: true},
	}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Engine.MaxCallDepth <= 0 {
		m.Engine.MaxCallDepth = vm.DefaultConfig().MaxCallDepth
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".moth", "cache.db")
	}
	if m.Server.Listen == "" {
		m.Server.Listen = "127.0.0.1:7377"
	}
	if m.Server.HandleTTL.Duration <= 0 {
		m.Server.HandleTTL.Duration = 30 * time.Minute
	}
}

// Load parses a moth.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return parse(data, dir, path)
}

// LoadFile parses the configuration at an explicit path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return parse(data, filepath.Dir(path), path)
}

func parse(data []byte, dir, path string) (*Manifest, error) {
	// cache.enabled defaults to true when the section omits it
	m := Manifest{Cache: Cache{Enabled: true}}
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a moth.toml file, then loads
// and returns it. Returns the defaults if no file is found.
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
			return Default(), nil
		}
		dir = parent
	}
}

// EngineConfig returns the vm settings.
func (m *Manifest) EngineConfig() vm.Config {
	return vm.Config{
		Strict:       m.Engine.Strict,
		MaxCallDepth: m.Engine.MaxCallDepth,
		Trace:        m.Engine.Trace,
	}
}

// CachePath returns the cache database location, relative paths being
// resolved against the manifest directory.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Cache.Path) || m.Dir == "" {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// LogFile returns the log destination, or nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) && m.Dir != "" {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}
