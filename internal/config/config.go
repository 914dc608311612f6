// Package config loads dotnetasm.toml and resolves toolchains from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"

	"dotnetasm/internal/buildpipeline"
)

// FileName is the configuration file searched for from the working directory up.
const FileName = "dotnetasm.toml"

// Environment overrides.
const (
	EnvConfig   = "DOTNETASM_CONFIG"
	EnvDotnet   = "DOTNETASM_DOTNET"
	EnvCacheDir = "DOTNETASM_CACHE_DIR"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultMaxOutputLines = 10000
)

var (
	// ErrNotFound is returned when no configuration file can be located.
	ErrNotFound = errors.New("no " + FileName + " found")
	// ErrUnknownToolchain is returned by Lookup for an unconfigured id.
	ErrUnknownToolchain = errors.New("unknown toolchain")
)

// Config is the decoded configuration file.
type Config struct {
	// Path is the file the configuration was read from.
	Path       string            `toml:"-"`
	Defaults   Defaults          `toml:"defaults"`
	Toolchains []ToolchainConfig `toml:"toolchain"`
}

// Defaults apply to every toolchain that does not override them.
type Defaults struct {
	Dotnet         string   `toml:"dotnet"`
	Timeout        Duration `toml:"timeout"`
	MaxOutputLines int      `toml:"max_output_lines"`
	CacheDir       string   `toml:"cache_dir"`
}

// ToolchainConfig is one [[toolchain]] table.
type ToolchainConfig struct {
	ID          string   `toml:"id"`
	Lang        string   `toml:"lang"`
	CoreRoot    string   `toml:"core_root"`
	TestAppSrc  string   `toml:"test_app_src"`
	Dotnet      string   `toml:"dotnet"`
	ProjectFile string   `toml:"project_file"`
	Timeout     Duration `toml:"timeout"`
}

// Duration decodes TOML strings such as "90s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Find walks up from startDir to locate FileName. DOTNETASM_CONFIG wins when set.
func Find(startDir string) (path string, ok bool, err error) {
	// env caches os.Environ on first use; reread so later changes are seen.
	env.Load()
	if p := env.Str(EnvConfig); p != "" {
		return p, true, nil
	}
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads path, or searches from the working directory when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		found, ok, err := Find(".")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		path = found
	}
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	if !meta.IsDefined("toolchain") || len(cfg.Toolchains) == 0 {
		return nil, fmt.Errorf("%s: missing [[toolchain]]", path)
	}
	cfg.Path = path
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	env.Load()
	c.Defaults.Dotnet = env.Str(EnvDotnet, c.Defaults.Dotnet)
	c.Defaults.CacheDir = env.Str(EnvCacheDir, c.Defaults.CacheDir)
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Toolchains))
	for i, tc := range c.Toolchains {
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			return fmt.Errorf("toolchain #%d: missing id", i+1)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("toolchain %q defined twice", id)
		}
		seen[id] = struct{}{}
		if _, err := buildpipeline.LookupLanguage(tc.Lang); err != nil {
			return fmt.Errorf("toolchain %q: %w", id, err)
		}
		if strings.TrimSpace(tc.CoreRoot) == "" {
			return fmt.Errorf("toolchain %q: missing core_root", id)
		}
		if strings.TrimSpace(tc.TestAppSrc) == "" {
			return fmt.Errorf("toolchain %q: missing test_app_src", id)
		}
	}
	if c.Defaults.MaxOutputLines < 0 {
		return fmt.Errorf("[defaults].max_output_lines must not be negative")
	}
	return nil
}

// resolvePaths makes relative toolchain paths relative to the config file.
func (c *Config) resolvePaths() {
	base := filepath.Dir(c.Path)
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, filepath.FromSlash(p))
	}
	for i := range c.Toolchains {
		c.Toolchains[i].CoreRoot = abs(c.Toolchains[i].CoreRoot)
		c.Toolchains[i].TestAppSrc = abs(c.Toolchains[i].TestAppSrc)
	}
	if c.Defaults.CacheDir != "" {
		c.Defaults.CacheDir = abs(c.Defaults.CacheDir)
	}
}

// IDs lists configured toolchain ids in file order.
func (c *Config) IDs() []string {
	ids := make([]string, len(c.Toolchains))
	for i, tc := range c.Toolchains {
		ids[i] = tc.ID
	}
	return ids
}

// Lookup returns the resolved toolchain for id. An empty id selects the
// only configured toolchain.
func (c *Config) Lookup(id string) (buildpipeline.Toolchain, error) {
	if id == "" {
		if len(c.Toolchains) != 1 {
			return buildpipeline.Toolchain{}, fmt.Errorf("%d toolchains configured, pick one with --toolchain (%s)",
				len(c.Toolchains), strings.Join(c.IDs(), ", "))
		}
		return c.resolve(c.Toolchains[0]), nil
	}
	idx := slices.IndexFunc(c.Toolchains, func(tc ToolchainConfig) bool { return tc.ID == id })
	if idx < 0 {
		return buildpipeline.Toolchain{}, fmt.Errorf("%w %q (configured: %s)", ErrUnknownToolchain, id, strings.Join(c.IDs(), ", "))
	}
	return c.resolve(c.Toolchains[idx]), nil
}

func (c *Config) resolve(tc ToolchainConfig) buildpipeline.Toolchain {
	out := buildpipeline.Toolchain{
		ID:             tc.ID,
		Lang:           tc.Lang,
		Dotnet:         tc.Dotnet,
		CoreRoot:       tc.CoreRoot,
		TestAppSrc:     tc.TestAppSrc,
		ProjectFile:    tc.ProjectFile,
		Timeout:        tc.Timeout.Duration,
		MaxOutputLines: c.Defaults.MaxOutputLines,
	}
	if out.Dotnet == "" {
		out.Dotnet = c.Defaults.Dotnet
	}
	if out.Dotnet == "" {
		out.Dotnet = "dotnet"
	}
	if out.Timeout == 0 {
		out.Timeout = c.Defaults.Timeout.Duration
	}
	if out.Timeout == 0 {
		out.Timeout = defaultTimeout
	}
	if out.MaxOutputLines == 0 {
		out.MaxOutputLines = defaultMaxOutputLines
	}
	return out
}

// CacheDir is the result cache root. DOTNETASM_CACHE_DIR overrides
// [defaults].cache_dir; the user cache directory is the fallback.
func (c *Config) CacheDir() (string, error) {
	if c != nil && c.Defaults.CacheDir != "" {
		return c.Defaults.CacheDir, nil
	}
	return DefaultCacheDir()
}

// DefaultCacheDir is used when no configuration names a cache directory.
func DefaultCacheDir() (string, error) {
	env.Load()
	if dir := env.Str(EnvCacheDir); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user cache dir: %w", err)
	}
	return filepath.Join(base, "dotnetasm"), nil
}
