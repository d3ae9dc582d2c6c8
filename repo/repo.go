// Package repo implements the listener's on-disk storage layout: a
// directory holding the binding config, the long-lived endpoint secrets,
// and the Proxy State snapshot. Its location defaults to ~/.datum-connect
// and can be overridden with an environment variable, mirroring
// the repo directory pattern of the system this one replaces.
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/datum-cloud/datum-connect/identity"
)

// EnvRepoPath overrides the default repo location when set.
const EnvRepoPath = "DATUM_CONNECT_REPO"

const (
	fileConfig  = "config.yml"
	fileListen  = "listen_key"
	fileConnect = "connect_key"
	fileState   = "state.yml"
)

// Repo is a handle to the listener's storage directory. It does not cache
// file contents; every accessor reads or writes through to disk so that an
// external editor (or the user) can safely change files between calls.
type Repo struct {
	dir string
}

// DefaultLocation returns EnvRepoPath's value if set, else
// "~/.datum-connect".
func DefaultLocation() (string, error) {
	if v := os.Getenv(EnvRepoPath); v != "" {
		return v, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("repo: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".datum-connect"), nil
}

// Open returns a Repo rooted at dir, creating dir if it does not exist.
func Open(dir string) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("repo: create %s: %w", dir, err)
	}
	return &Repo{dir: dir}, nil
}

// Dir returns the repo's root directory.
func (r *Repo) Dir() string { return r.dir }

func (r *Repo) path(name string) string { return filepath.Join(r.dir, name) }

// StatePath returns the path Proxy State should persist its snapshot to.
func (r *Repo) StatePath() string { return r.path(fileState) }

// Config is the listener's binding configuration.
type Config struct {
	IPv4Addr  string `yaml:"ipv4_addr,omitempty"`
	IPv6Addr  string `yaml:"ipv6_addr,omitempty"`
	Discovery string `yaml:"discovery_mode,omitempty"`
	DNSOrigin string `yaml:"dns_origin,omitempty"`
	DNSServer string `yaml:"dns_resolver,omitempty"`
}

// Config loads config.yml, returning a zero-value Config (not an error) if
// it does not yet exist. A present-but-corrupt file is a hard error.
func (r *Repo) Config() (Config, error) {
	raw, err := os.ReadFile(r.path(fileConfig))
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("repo: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("repo: parse config: %w", err)
	}
	return cfg, nil
}

// WriteConfig persists cfg to config.yml.
func (r *Repo) WriteConfig(cfg Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("repo: marshal config: %w", err)
	}
	return os.WriteFile(r.path(fileConfig), out, 0o600)
}

// ListenKey loads the listener endpoint secret, generating and persisting a
// fresh one on first use.
func (r *Repo) ListenKey() (identity.SecretKey, error) {
	return r.loadOrCreateKey(fileListen)
}

// ConnectKey loads the gateway-side endpoint secret (used when a gateway is
// colocated with a listener process), generating and persisting a fresh
// one on first use.
func (r *Repo) ConnectKey() (identity.SecretKey, error) {
	return r.loadOrCreateKey(fileConnect)
}

func (r *Repo) loadOrCreateKey(name string) (identity.SecretKey, error) {
	path := r.path(name)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		key, genErr := identity.Generate()
		if genErr != nil {
			return identity.SecretKey{}, fmt.Errorf("repo: generate %s: %w", name, genErr)
		}
		if writeErr := os.WriteFile(path, key.Seed(), 0o600); writeErr != nil {
			return identity.SecretKey{}, fmt.Errorf("repo: persist %s: %w", name, writeErr)
		}
		return key, nil
	}
	if err != nil {
		return identity.SecretKey{}, fmt.Errorf("repo: read %s: %w", name, err)
	}
	key, err := identity.FromSeed(raw)
	if err != nil {
		return identity.SecretKey{}, fmt.Errorf("repo: parse %s: %w", name, err)
	}
	return key, nil
}
