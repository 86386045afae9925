// Package config loads runledger settings from a YAML file, applies
// environment overrides, and validates the result. Command-line flags are
// applied on top by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvArtifactsRoot   = "RUNLEDGER_ARTIFACTS_ROOT"
	EnvAttachmentsRoot = "RUNLEDGER_ATTACHMENTS_ROOT"
	EnvLegacyPath      = "RUNLEDGER_LEGACY_PATH"
)

// DefaultSigningKeyEnv names the variable holding the signing key when the
// config does not say otherwise.
const DefaultSigningKeyEnv = "RUNLEDGER_SIGNING_KEY"

// DefaultSignedURLTTL is the lifetime of signed references.
const DefaultSignedURLTTL = 15 * time.Minute

// Config is the resolved runledger configuration.
type Config struct {
	ArtifactsRoot   string        `yaml:"artifacts_root"`
	AttachmentsRoot string        `yaml:"attachments_root"`
	LegacyPath      string        `yaml:"legacy_path,omitempty"`
	BackupDir       string        `yaml:"backup_dir,omitempty"`
	JournalPath     string        `yaml:"journal_path,omitempty"`
	SigningKeyEnv   string        `yaml:"signing_key_env,omitempty"`
	SignedURLTTL    time.Duration `yaml:"signed_url_ttl,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ArtifactsRoot:   filepath.Join("data", "artifacts"),
		AttachmentsRoot: filepath.Join("data", "attachments"),
		SigningKeyEnv:   DefaultSigningKeyEnv,
		SignedURLTTL:    DefaultSignedURLTTL,
	}
}

// Load reads a YAML config file on top of Default. Relative paths in the
// file are resolved against the file's directory. Unknown keys are
// rejected so typos surface immediately.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes YAML from r on top of Default. Paths are left as written.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production; tests pass a map-backed function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for env, field := range map[string]*string{
		EnvArtifactsRoot:   &c.ArtifactsRoot,
		EnvAttachmentsRoot: &c.AttachmentsRoot,
		EnvLegacyPath:      &c.LegacyPath,
	} {
		if v, ok := lookup(env); ok && strings.TrimSpace(v) != "" {
			*field = v
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ArtifactsRoot) == "" {
		errs = append(errs, errors.New("artifacts_root is required"))
	}
	if strings.TrimSpace(c.AttachmentsRoot) == "" {
		errs = append(errs, errors.New("attachments_root is required"))
	}
	if c.SignedURLTTL < 0 {
		errs = append(errs, fmt.Errorf("signed_url_ttl must not be negative, got %s", c.SignedURLTTL))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// BackupDirOrDefault returns the configured backup directory, or a
// "backups" directory next to the legacy file.
func (c *Config) BackupDirOrDefault() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	if c.LegacyPath == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(c.LegacyPath), "backups")
}

// JournalPathOrDefault returns the configured journal path, or a dot-file
// inside the artifacts root.
func (c *Config) JournalPathOrDefault() string {
	if c.JournalPath != "" {
		return c.JournalPath
	}
	return filepath.Join(c.ArtifactsRoot, ".migrations.db")
}

// TTL returns the signed reference lifetime, defaulting when unset.
func (c *Config) TTL() time.Duration {
	if c.SignedURLTTL <= 0 {
		return DefaultSignedURLTTL
	}
	return c.SignedURLTTL
}

// SigningKey reads the signing key from the configured environment
// variable.
func (c *Config) SigningKey(lookup func(string) (string, bool)) ([]byte, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	name := c.SigningKeyEnv
	if name == "" {
		name = DefaultSigningKeyEnv
	}
	v, ok := lookup(name)
	if !ok || v == "" {
		return nil, fmt.Errorf("signing key not set: export %s", name)
	}
	return []byte(v), nil
}

func (c *Config) resolve(base string) {
	for _, p := range []*string{&c.ArtifactsRoot, &c.AttachmentsRoot, &c.LegacyPath, &c.BackupDir, &c.JournalPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}
