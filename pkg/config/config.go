// Package config loads Kestrel's startup configuration from a TOML or
// JSON file, merging it over built-in defaults. A missing file is not
// an error — the kernel starts with defaults, so it runs with zero
// external configuration out of the box.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// TenantOverride holds per-tenant admission-control overrides.
type TenantOverride struct {
	MaxPerTenant int `toml:"max_per_tenant" json:"max_per_tenant"`
	MaxTotal     int `toml:"max_total" json:"max_total"`
}

// Config is the merged, immutable configuration snapshot handed to
// components at construction time. Nothing mutates it after Load
// returns; per-tenant overrides are resolved by lookup, not by
// mutating this struct.
type Config struct {
	ListenPort   int    `toml:"listen_port" json:"listen_port"`
	HTTPPort     int    `toml:"http_port" json:"http_port"`
	DataDir      string `toml:"data_dir" json:"data_dir"`
	MaxTenants   int    `toml:"max_tenants" json:"max_tenants"`
	MaxPerTenant int    `toml:"max_per_tenant" json:"max_per_tenant"`
	MaxTotal     int    `toml:"max_total" json:"max_total"`
	EventsDB     string `toml:"events_db" json:"events_db"`
	VaultDB      string `toml:"vault_db" json:"vault_db"`
	CertDir      string `toml:"cert_dir" json:"cert_dir"`

	Tenants map[string]TenantOverride `toml:"tenants" json:"tenants"`
}

// Default returns Kestrel's built-in configuration defaults.
func Default() Config {
	return Config{
		ListenPort:   50051,
		HTTPPort:     8080,
		DataDir:      "./data",
		MaxTenants:   100,
		MaxPerTenant: 100,
		MaxTotal:     1000,
		EventsDB:     "./data/events",
		VaultDB:      "./data/vault",
		CertDir:      "./data/certs",
		Tenants:      map[string]TenantOverride{},
	}
}

// Load reads the config file at path (TOML unless it ends in .json),
// merging non-zero fields over Default(). A path of "" or a missing
// file returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var loaded Config
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &loaded); err != nil {
			return cfg, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := toml.Unmarshal(data, &loaded); err != nil {
			return cfg, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	}

	mergeNonZero(&cfg, loaded)
	return cfg, nil
}

func mergeNonZero(dst *Config, src Config) {
	if src.ListenPort != 0 {
		dst.ListenPort = src.ListenPort
	}
	if src.HTTPPort != 0 {
		dst.HTTPPort = src.HTTPPort
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.MaxTenants != 0 {
		dst.MaxTenants = src.MaxTenants
	}
	if src.MaxPerTenant != 0 {
		dst.MaxPerTenant = src.MaxPerTenant
	}
	if src.MaxTotal != 0 {
		dst.MaxTotal = src.MaxTotal
	}
	if src.EventsDB != "" {
		dst.EventsDB = src.EventsDB
	}
	if src.VaultDB != "" {
		dst.VaultDB = src.VaultDB
	}
	if src.CertDir != "" {
		dst.CertDir = src.CertDir
	}
	if len(src.Tenants) > 0 {
		if dst.Tenants == nil {
			dst.Tenants = map[string]TenantOverride{}
		}
		for id, ov := range src.Tenants {
			dst.Tenants[id] = ov
		}
	}
}

// TenantLimits resolves the effective per-tenant LoadShedder limits,
// falling back to the process-wide defaults when no override exists.
func (c Config) TenantLimits(tenant string) (maxPerTenant, maxTotal int) {
	maxPerTenant, maxTotal = c.MaxPerTenant, c.MaxTotal
	if ov, ok := c.Tenants[tenant]; ok {
		if ov.MaxPerTenant > 0 {
			maxPerTenant = ov.MaxPerTenant
		}
		if ov.MaxTotal > 0 {
			maxTotal = ov.MaxTotal
		}
	}
	return maxPerTenant, maxTotal
}
