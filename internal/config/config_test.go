package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/svcmon/internal/logger"
	"github.com/loykin/svcmon/internal/registry"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ServiceList != DefaultServiceList || c.Interval != DefaultInterval || c.Registry != registry.KindAuto {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if !c.Watch || c.Server.Listen != DefaultListen || c.Server.BasePath != DefaultBasePath {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Log.MaxSizeMB != logger.DefaultMaxSizeMB || c.Log.Level != logger.LevelInfo {
		t.Fatalf("unexpected log defaults: %+v", c.Log)
	}
	if c.Metrics.Enabled || c.History.Enabled {
		t.Fatalf("metrics and history are off by default")
	}
}

func TestLoad_FullFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "svcmon.toml")
	writeFile(t, file, `
service_list = "lists/services.txt"
interval = "2500ms"
registry = "memory"
watch = false

[[memory_services]]
display_name = "Print Spooler"
name = "Spooler"
running = true

[[memory_services]]
display_name = "Windows Time"
name = "W32Time"

[log]
level = "debug"
format = "json"
file = "logs/svcmon.log"
max_backups = 9

[server]
listen = ":9999"
base_path = "/svc"
  [server.tls]
  enabled = true
  dir = "certs"
  auto_generate = true

[metrics]
enabled = true
listen = ":9100"

[history]
enabled = true
dsn = "sqlite://history.db"
`)
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ServiceList != filepath.Join(dir, "lists", "services.txt") {
		t.Fatalf("service_list not resolved against config dir: %s", c.ServiceList)
	}
	if c.Interval != 2500*time.Millisecond || c.Registry != "memory" || c.Watch {
		t.Fatalf("unexpected top-level: %+v", c)
	}
	if len(c.MemoryServices) != 2 || c.MemoryServices[0].Name != "Spooler" || !c.MemoryServices[0].Running || c.MemoryServices[1].Running {
		t.Fatalf("unexpected memory services: %+v", c.MemoryServices)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" || c.Log.MaxBackups != 9 || c.Log.File != filepath.Join(dir, "logs", "svcmon.log") {
		t.Fatalf("unexpected log: %+v", c.Log)
	}
	if c.Server.Listen != ":9999" || c.Server.BasePath != "/svc" {
		t.Fatalf("unexpected server: %+v", c.Server)
	}
	if c.Server.TLS == nil || !c.Server.TLS.Enabled || c.Server.TLS.Dir != filepath.Join(dir, "certs") || !c.Server.TLS.AutoGenerate {
		t.Fatalf("unexpected tls: %+v", c.Server.TLS)
	}
	if !c.Metrics.Enabled || c.Metrics.Listen != ":9100" || !c.History.Enabled || c.History.DSN != "sqlite://history.db" {
		t.Fatalf("unexpected metrics/history: %+v %+v", c.Metrics, c.History)
	}
	if c.Path != file {
		t.Fatalf("path not recorded")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SVCMON_INTERVAL", "30s")
	t.Setenv("SVCMON_SERVER_LISTEN", ":7000")
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Interval != 30*time.Second || c.Server.Listen != ":7000" {
		t.Fatalf("env overrides not applied: %v %s", c.Interval, c.Server.Listen)
	}
}

func TestLoad_EnvFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "svcmon.env"), "SVCMON_REGISTRY=memory\n# comment\n")
	file := filepath.Join(dir, "svcmon.toml")
	writeFile(t, file, `env_files = ["svcmon.env"]`+"\n")
	t.Setenv("SVCMON_REGISTRY", "")
	_ = os.Unsetenv("SVCMON_REGISTRY")

	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Registry != "memory" {
		t.Fatalf("env file not applied, registry = %q", c.Registry)
	}
}

func TestLoad_ExtraEnvFileMissing(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	if err == nil || !strings.Contains(err.Error(), "load env files") {
		t.Fatalf("expected env file error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{ServiceList: "x", Interval: time.Second, Registry: "auto"}
	}
	cases := map[string]func(*Config){
		"empty list":       func(c *Config) { c.ServiceList = " " },
		"zero interval":    func(c *Config) { c.Interval = 0 },
		"unknown registry": func(c *Config) { c.Registry = "launchd" },
		"memory no name":   func(c *Config) { c.MemoryServices = []MemoryService{{DisplayName: "x"}} },
		"bad format":       func(c *Config) { c.Log.Format = "xml" },
		"bad base path":    func(c *Config) { c.Server.BasePath = "api" },
		"tls half files":   func(c *Config) { c.Server.TLS = &TLSConfig{Enabled: true, CertFile: "c"} },
		"tls nothing":      func(c *Config) { c.Server.TLS = &TLSConfig{Enabled: true} },
		"history no dsn":   func(c *Config) { c.History.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
	c := base()
	if err := c.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}
}

func TestLogConfigConversion(t *testing.T) {
	lc := LogConfig{Level: "warn", Format: "json", File: "/tmp/x.log", MaxSizeMB: 5, Compress: true}.Logger()
	if lc.Slog.Level != "warn" || lc.Slog.Format != "json" || lc.File.Path != "/tmp/x.log" || lc.File.MaxSizeMB != 5 || !lc.File.Compress {
		t.Fatalf("unexpected conversion: %+v", lc)
	}
}

func TestWriteSampleLoads(t *testing.T) {
	file := filepath.Join(t.TempDir(), "conf", "svcmon.toml")
	if err := WriteSample(file); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if err := WriteSample(file); err == nil {
		t.Fatal("second write must refuse to overwrite")
	}
	c, err := Load(file)
	if err != nil {
		t.Fatalf("sample must load: %v", err)
	}
	if c.Interval != DefaultInterval || c.ServiceList != filepath.Join(filepath.Dir(file), "ServiceList.txt") {
		t.Fatalf("unexpected sample values: %+v", c)
	}
}
