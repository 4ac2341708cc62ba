package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/svcmon/internal/logger"
	"github.com/loykin/svcmon/internal/registry"
)

// EnvPrefix is the prefix for environment overrides, e.g. SVCMON_INTERVAL or
// SVCMON_SERVER_LISTEN.
const EnvPrefix = "SVCMON"

// Defaults.
const (
	DefaultServiceList = "ServiceList.txt"
	DefaultInterval    = 10 * time.Second
	DefaultListen      = "127.0.0.1:8080"
	DefaultBasePath    = "/api"
	DefaultMetrics     = "127.0.0.1:9090"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the top-level TOML structure.
type Config struct {
	ServiceList    string          `toml:"service_list" mapstructure:"service_list"`
	Interval       time.Duration   `toml:"interval" mapstructure:"interval"`
	Registry       string          `toml:"registry" mapstructure:"registry"`
	Watch          bool            `toml:"watch" mapstructure:"watch"`
	EnvFiles       []string        `toml:"env_files" mapstructure:"env_files"`
	MemoryServices []MemoryService `toml:"memory_services" mapstructure:"memory_services"`
	Log            LogConfig       `toml:"log" mapstructure:"log"`
	Server         ServerConfig    `toml:"server" mapstructure:"server"`
	Metrics        MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History        HistoryConfig   `toml:"history" mapstructure:"history"`

	// Path is the config file the values were read from, empty for defaults.
	Path string `toml:"-" mapstructure:"-"`
}

// MemoryService seeds the in-memory registry.
type MemoryService struct {
	DisplayName string `toml:"display_name" mapstructure:"display_name"`
	Name        string `toml:"name" mapstructure:"name"`
	Running     bool   `toml:"running" mapstructure:"running"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Logger converts the section into a logger configuration.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      l.Level,
			Format:     l.Format,
			Color:      l.Color,
			TimeStamps: l.TimeStamps,
		},
		File: logger.FileConfig{
			Path:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

type ServerConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_list", DefaultServiceList)
	v.SetDefault("interval", DefaultInterval.String())
	v.SetDefault("registry", registry.KindAuto)
	v.SetDefault("watch", true)
	v.SetDefault("env_files", []string{})
	v.SetDefault("log.level", logger.LevelInfo)
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("server.tls_min_version", "")
	v.SetDefault("server.tls_max_version", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", DefaultMetrics)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
}

// Load reads the TOML file at path (optional) and applies SVCMON_* environment
// overrides. extraEnvFiles are loaded with godotenv before the file's own
// env_files; variables already present in the environment are never replaced.
func Load(path string, extraEnvFiles ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := loadEnvFiles(extraEnvFiles); err != nil {
		return nil, err
	}

	baseDir := ""
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		baseDir = filepath.Dir(path)
		files := v.GetStringSlice("env_files")
		for i, f := range files {
			files[i] = resolve(baseDir, f)
		}
		if err := loadEnvFiles(files); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Path = path
	c.ServiceList = resolve(baseDir, c.ServiceList)
	if c.Log.File != "" {
		c.Log.File = resolve(baseDir, c.Log.File)
	}
	if c.Server.TLS != nil {
		t := c.Server.TLS
		if t.CertFile != "" {
			t.CertFile = resolve(baseDir, t.CertFile)
		}
		if t.KeyFile != "" {
			t.KeyFile = resolve(baseDir, t.KeyFile)
		}
		if t.Dir != "" {
			t.Dir = resolve(baseDir, t.Dir)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadEnvFiles(files []string) error {
	var clean []string
	for _, f := range files {
		if f = strings.TrimSpace(f); f != "" {
			clean = append(clean, filepath.Clean(f))
		}
	}
	if len(clean) == 0 {
		return nil
	}
	if err := godotenv.Load(clean...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func resolve(baseDir, p string) string {
	if p == "" || baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServiceList) == "" {
		return fmt.Errorf("%w: service_list must not be empty", ErrInvalid)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalid, c.Interval)
	}
	if !validKind(c.Registry) {
		return fmt.Errorf("%w: unknown registry %q (want one of %s)", ErrInvalid, c.Registry, strings.Join(registry.Kinds(), ", "))
	}
	for i, m := range c.MemoryServices {
		if m.Name == "" {
			return fmt.Errorf("%w: memory_services[%d] requires name", ErrInvalid, i)
		}
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != logger.FormatText && f != logger.FormatJSON {
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalid, c.Log.Format)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("%w: server.base_path must start with /", ErrInvalid)
	}
	if t := c.Server.TLS; t != nil && t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			return fmt.Errorf("%w: server.tls requires both cert_file and key_file", ErrInvalid)
		}
		if t.CertFile == "" && t.Dir == "" {
			return fmt.Errorf("%w: server.tls requires cert_file/key_file or dir", ErrInvalid)
		}
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		return fmt.Errorf("%w: history.enabled requires history.dsn", ErrInvalid)
	}
	return nil
}

func validKind(k string) bool {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return true
	}
	for _, known := range registry.Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Sample is written by "svcmon config init".
const Sample = `# svcmon configuration
service_list = "ServiceList.txt"
interval = "10s"
registry = "auto"   # auto | windows | systemd | memory
watch = true
# env_files = [".env"]

[log]
level = "info"
format = "text"
color = true

[server]
listen = "127.0.0.1:8080"
base_path = "/api"

[metrics]
enabled = false
listen = "127.0.0.1:9090"

[history]
enabled = false
dsn = "sqlite://svcmon-history.db"
`

// WriteSample writes Sample to path, refusing to overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(Sample), 0o600)
}
