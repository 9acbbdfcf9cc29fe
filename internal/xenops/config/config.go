// Package config assembles the daemon's runtime configuration the way
// the teacher lineage's cmd/jvp does: environment variables first, an
// optional on-disk YAML bootstrap file for the settings too numerous
// or structured for env vars (cpuid templates, shadow defaults).
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's full runtime configuration.
type Config struct {
	// Address is the RPC listen address. Env: XENOPSD_ADDRESS.
	Address string

	// DataDir holds the VmExtra store and the auxiliary sqlite registry.
	// Env: XENOPSD_DATA_DIR.
	DataDir string

	// XenstorePath is the xenstored socket/device path. Env: XENSTORE_PATH.
	XenstorePath string

	// BuilderHelperPath is the path to the domain-builder helper binary.
	// Env: XENOPSD_BUILDER_HELPER.
	BuilderHelperPath string

	// DeviceModelBinary is the default qemu device-model binary for HVM
	// domains. Env: XENOPSD_DEVICE_MODEL.
	DeviceModelBinary string

	// Bootstrap holds settings only practical to express as structured
	// data, loaded from BootstrapFile if present.
	Bootstrap Bootstrap
}

// Bootstrap is the optional YAML-encoded settings file.
type Bootstrap struct {
	DefaultShadowMultiplier float64  `yaml:"default_shadow_multiplier"`
	// CpuidTemplates holds 32-character leaf template strings (see
	// hypervisor.CpuidTemplate). They are parsed from the bootstrap file
	// only; Create uses just the templates a request supplies.
	CpuidTemplates         []string `yaml:"cpuid_templates"`
	MemoryRetryIntervalSec int      `yaml:"memory_retry_interval_sec"`
	MemoryRetryBudgetSec   int      `yaml:"memory_retry_budget_sec"`
}

// New assembles Config from the environment, then merges in
// BootstrapFile if it exists. A missing bootstrap file is not an error:
// every field it could set has a workable default.
func New() (*Config, error) {
	cfg := &Config{
		Address:           getEnv("XENOPSD_ADDRESS", "0.0.0.0:8080"),
		DataDir:           getDataDir(),
		XenstorePath:      getEnv("XENSTORE_PATH", "/var/run/xenstored/socket"),
		BuilderHelperPath: getEnv("XENOPSD_BUILDER_HELPER", "/usr/lib/xen/bin/xenguest"),
		DeviceModelBinary: getEnv("XENOPSD_DEVICE_MODEL", "/usr/lib/xen/bin/qemu-system-i386"),
	}

	bootstrapPath := getEnv("XENOPSD_BOOTSTRAP_FILE", filepath.Join(cfg.DataDir, "bootstrap.yaml"))
	if b, err := loadBootstrap(bootstrapPath); err == nil {
		cfg.Bootstrap = *b
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return cfg, nil
}

func loadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDataDir() string {
	if dir := os.Getenv("XENOPSD_DATA_DIR"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "xenopsd")
	}
	return filepath.Join(".", "data")
}
