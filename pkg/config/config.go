package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"debfab.dev/debfab/pkg/deb"
)

// Config carries the user-level defaults applied when an operation does
// not specify them itself.
type Config struct {
	path      string
	configDir string

	// Maintainer in "Name <email>" form, used as commit author and as
	// the Maintainer of scaffolded packages.
	Maintainer string `json:"maintainer"`

	// Defaults for new distributions and builders.
	Suite         string   `json:"suite"`
	Mirror        string   `json:"mirror"`
	Architectures []string `json:"architectures"`
	Components    []string `json:"components"`
	BuilderType   string   `json:"builder-type"`

	// SigningKeyPath points at an ASCII-armored OpenPGP secret key used
	// to configure archive signing. Empty means unsigned archives.
	SigningKeyPath string `json:"signing-key,omitempty"`
}

const (
	DefaultConfigPath  = "~/.config/debfab/config.json"
	DefaultSuite       = "bookworm"
	DefaultMirror      = "http://deb.debian.org/debian"
	DefaultBuilderType = "chroot"
)

// LoadConfig loads the user configuration, falling back to defaults when
// no config file exists yet. DEBFAB_CONFIG overrides the location,
// DEBFAB_* variables override individual fields.
func LoadConfig() (*Config, error) {
	if loc := os.Getenv("DEBFAB_CONFIG"); loc != "" {
		return loadFile(loc)
	}

	path, err := homedir.Expand(DefaultConfigPath)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		return loadFile(path)
	}

	dir := filepath.Dir(path)

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		path:      path,
		configDir: dir,
	}

	return updateFromEnv(cfg)
}

func loadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	var cfg Config

	err = json.NewDecoder(f).Decode(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.path = path
	cfg.configDir = filepath.Dir(path)

	return updateFromEnv(&cfg)
}

func updateFromEnv(cfg *Config) (*Config, error) {
	if v := os.Getenv("DEBFAB_MAINTAINER"); v != "" {
		cfg.Maintainer = v
	}

	if v := os.Getenv("DEBFAB_SUITE"); v != "" {
		cfg.Suite = v
	}

	if v := os.Getenv("DEBFAB_MIRROR"); v != "" {
		cfg.Mirror = v
	}

	if v := os.Getenv("DEBFAB_ARCHITECTURES"); v != "" {
		cfg.Architectures = strings.Fields(v)
	}

	if v := os.Getenv("DEBFAB_SIGNING_KEY"); v != "" {
		if _, err := os.Stat(v); err != nil {
			return nil, fmt.Errorf("signing key not readable: %s", v)
		}

		cfg.SigningKeyPath = v
	}

	return applyDefaults(cfg), nil
}

func applyDefaults(cfg *Config) *Config {
	if cfg.Maintainer == "" {
		cfg.Maintainer = defaultMaintainer()
	}

	if cfg.Suite == "" {
		cfg.Suite = DefaultSuite
	}

	if cfg.Mirror == "" {
		cfg.Mirror = DefaultMirror
	}

	if len(cfg.Architectures) == 0 {
		cfg.Architectures = []string{deb.HostArchitecture()}
	}

	if len(cfg.Components) == 0 {
		cfg.Components = []string{"main"}
	}

	if cfg.BuilderType == "" {
		cfg.BuilderType = DefaultBuilderType
	}

	return cfg
}

func defaultMaintainer() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "debfab"
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	return fmt.Sprintf("%s <%s@%s>", user, user, host)
}

// ConfigDir returns the directory holding the config file.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Path returns the config file location, even if it does not exist yet.
func (c *Config) Path() string {
	return c.path
}

// Save persists the current configuration.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, append(data, '\n'), 0644)
}
