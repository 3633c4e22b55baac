package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the main configuration for diffit.
type Config struct {
	InstanceID string           `toml:"instance_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Storage    StorageConfig    `toml:"storage"`
	Encryption EncryptionConfig `toml:"encryption"`
	Diff       DiffConfig       `toml:"diff"`
	Events     EventsConfig     `toml:"events"`
	Import     ImportConfig     `toml:"import"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// StorageConfig represents configuration for the artifact store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services such as MinIO

	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig selects how artifacts are encrypted at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// DiffConfig tunes the comparison pipeline.
type DiffConfig struct {
	Threshold float64 `toml:"threshold"`
	IncludeAA bool    `toml:"include_aa"`
	Workers   int     `toml:"workers"`
	// CountUnchangedAsApproved counts snapshots without a visual change as
	// approved in the build counters.
	CountUnchangedAsApproved bool `toml:"count_unchanged_as_approved"`
}

// EventsConfig selects where pipeline events are published.
type EventsConfig struct {
	Type         string `toml:"type"` // "none", "memory" or "redis"
	RedisAddr    string `toml:"redis_addr,omitempty"`
	RedisChannel string `toml:"redis_channel,omitempty"`
}

// ImportConfig holds settings for importing screenshot directories.
type ImportConfig struct {
	Ignore []string `toml:"ignore"`
}

const (
	DefaultAddr           = ":8080"
	DefaultMaxUploadBytes = 64 << 20
	DefaultRedisChannel   = "diffit:events"
	DefaultThreshold      = 0.1
	DefaultWorkers        = 4
)

// NewConfig creates a Config for a local installation rooted at baseDir.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Server: ServerConfig{
			Addr:           DefaultAddr,
			MaxUploadBytes: DefaultMaxUploadBytes,
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Storage:  StorageConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "artifacts")},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "diffit.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "diffit.key"),
		},
		Diff:   DiffConfig{Threshold: DefaultThreshold, Workers: DefaultWorkers},
		Events: EventsConfig{Type: "none", RedisChannel: DefaultRedisChannel},
	}
}

// Validate rejects unknown backend types and out-of-range settings.
func (c *Config) Validate() error {
	var errs []error
	check := func(section, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s.type %q must be one of %s", section, value, strings.Join(allowed, ", ")))
	}
	check("database", c.Database.Type, "sqlite", "memory", "postgres")
	check("storage", c.Storage.Type, "memory", "filesystem", "s3")
	check("encryption", c.Encryption.Type, "", "none", "age", "test")
	check("events", c.Events.Type, "", "none", "memory", "redis")

	if c.Database.Type == "postgres" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required for postgres"))
	}
	if c.Storage.Type == "s3" && c.Storage.S3Bucket == "" {
		errs = append(errs, errors.New("storage.s3_bucket is required for s3"))
	}
	if c.Events.Type == "redis" && c.Events.RedisAddr == "" {
		errs = append(errs, errors.New("events.redis_addr is required for redis"))
	}
	if c.Diff.Threshold < 0 || c.Diff.Threshold > 1 {
		errs = append(errs, fmt.Errorf("diff.threshold %v must be within [0, 1]", c.Diff.Threshold))
	}
	if c.Diff.Workers < 0 {
		errs = append(errs, fmt.Errorf("diff.workers %d must not be negative", c.Diff.Workers))
	}
	if c.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", c.Server.MaxUploadBytes))
	}
	return errors.Join(errs...)
}

// ApplyEnv overrides settings from the environment variables used by
// container deployments. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if dsn := getenv("DATABASE_URL"); dsn != "" {
		c.Database.Type = "postgres"
		c.Database.DSN = dsn
	}
	if port := getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	if root := getenv("STORAGE_PATH"); root != "" {
		c.Storage.Type = "filesystem"
		c.Storage.FSRoot = root
	}
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}
	if addr := getenv("REDIS_ADDR"); addr != "" {
		c.Events.Type = "redis"
		c.Events.RedisAddr = addr
	}
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Settings missing from the
// file keep their defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := Config{
		Server: ServerConfig{Addr: DefaultAddr, MaxUploadBytes: DefaultMaxUploadBytes},
		Diff:   DiffConfig{Threshold: DefaultThreshold, Workers: DefaultWorkers},
		Events: EventsConfig{RedisChannel: DefaultRedisChannel},
	}
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.LogDir == "" && cfg.BaseDir != "" {
		cfg.LogDir = filepath.Join(cfg.BaseDir, "log")
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to a new config file at path. It refuses to overwrite an
// existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
