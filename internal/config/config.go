// Package config loads the gateway's YAML configuration tree: mounts,
// balance groups, download settings, search, geoip, and meta rules.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/nimbusgate/gateway/internal/meta"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

// MountConfig is one mount's on-disk representation.
type MountConfig struct {
	ID         string                 `yaml:"id"`
	MountPath  string                 `yaml:"mount_path"`
	DriverType string                 `yaml:"driver_type"`
	DriverConf map[string]interface{} `yaml:"driver_config"`
	Order      int                    `yaml:"order"`
	Enabled    bool                   `yaml:"enabled"`
}

// BalanceDriverConfig is one replica within a balance group.
type BalanceDriverConfig struct {
	DriverID    string `yaml:"driver_id"`
	MountPath   string `yaml:"mount_path"`
	Weight      uint32 `yaml:"weight"`
	Order       int32  `yaml:"order"`
	IsChinaNode bool   `yaml:"is_china_node"`
}

// BalanceGroupConfig is one named load-balanced group.
type BalanceGroupConfig struct {
	Name    string                `yaml:"name"`
	Mode    string                `yaml:"mode"`
	Drivers []BalanceDriverConfig `yaml:"drivers"`
	Enabled bool                  `yaml:"enabled"`
}

// DownloadConfig configures the traffic governor.
type DownloadConfig struct {
	DownloadDomain    string `yaml:"download_domain"`
	MaxSpeedBPS       int64  `yaml:"max_speed_bps"`
	MaxConcurrent     int32  `yaml:"max_concurrent"`
	LinkExpiryMinutes int    `yaml:"link_expiry_minutes"`
}

// SearchConfig configures the per-driver search index.
type SearchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	IndexDir string `yaml:"index_dir"`
}

// GeoIPConfig points at the MaxMind database.
type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MetaRuleConfig is one meta rule's on-disk representation.
type MetaRuleConfig struct {
	Path        string `yaml:"path"`
	Password    string `yaml:"password"`
	PasswordSub bool   `yaml:"password_sub"`
	Write       bool   `yaml:"write"`
	WriteSub    bool   `yaml:"write_sub"`
	Hide        string `yaml:"hide"`
	HideSub     bool   `yaml:"hide_sub"`
	Readme      string `yaml:"readme"`
	ReadmeSub   bool   `yaml:"readme_sub"`
	Header      string `yaml:"header"`
	HeaderSub   bool   `yaml:"header_sub"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Configuration is the full, parsed gateway configuration tree.
type Configuration struct {
	Mounts    []MountConfig         `yaml:"mounts"`
	Balance   []BalanceGroupConfig  `yaml:"balance_groups"`
	Download  DownloadConfig        `yaml:"download"`
	Search    SearchConfig          `yaml:"search"`
	GeoIP     GeoIPConfig           `yaml:"geoip"`
	MetaRules []MetaRuleConfig      `yaml:"meta_rules"`
	Log       LogConfig             `yaml:"log"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Configuration) applyDefaults() {
	if c.Download.LinkExpiryMinutes <= 0 {
		c.Download.LinkExpiryMinutes = 15
	}
	if c.Search.IndexDir == "" {
		c.Search.IndexDir = "./search-index"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// MountValues converts the parsed mount configs into gwtypes.Mount values (the
// driver instances themselves are constructed separately via
// internal/driver.Create using DriverConf).
func (c *Configuration) MountValues() []gwtypes.Mount {
	out := make([]gwtypes.Mount, 0, len(c.Mounts))
	for _, m := range c.Mounts {
		out = append(out, gwtypes.Mount{
			ID:        m.ID,
			MountPath: m.MountPath,
			DriverID:  m.DriverType,
			Order:     m.Order,
			Enabled:   m.Enabled,
		})
	}
	return out
}

// DownloadSettings converts the parsed download config into the governor's
// value type.
func (c *Configuration) DownloadSettings() gwtypes.DownloadSettings {
	return gwtypes.DownloadSettings{
		DownloadDomain:    c.Download.DownloadDomain,
		MaxSpeedBPS:       c.Download.MaxSpeedBPS,
		MaxConcurrent:     c.Download.MaxConcurrent,
		LinkExpiryMinutes: c.Download.LinkExpiryMinutes,
	}
}

// BalanceGroups converts the parsed balance groups into gwtypes values.
func (c *Configuration) BalanceGroups() []gwtypes.BalanceGroup {
	out := make([]gwtypes.BalanceGroup, 0, len(c.Balance))
	for _, g := range c.Balance {
		drivers := make([]gwtypes.BalanceDriver, 0, len(g.Drivers))
		for _, d := range g.Drivers {
			drivers = append(drivers, gwtypes.BalanceDriver{
				DriverID:    d.DriverID,
				MountPath:   d.MountPath,
				Weight:      d.Weight,
				Order:       d.Order,
				IsChinaNode: d.IsChinaNode,
			})
		}
		out = append(out, gwtypes.BalanceGroup{
			Name:    g.Name,
			Mode:    gwtypes.BalanceMode(g.Mode),
			Drivers: drivers,
			Enabled: g.Enabled,
		})
	}
	return out
}

// MetaTable builds a populated meta.Table from the parsed rules.
func (c *Configuration) MetaTable() *meta.Table {
	table := meta.NewTable()
	for _, r := range c.MetaRules {
		table.Set(meta.Rule{
			Path:        r.Path,
			Password:    r.Password,
			PasswordSub: r.PasswordSub,
			Write:       r.Write,
			WriteSub:    r.WriteSub,
			Hide:        r.Hide,
			HideSub:     r.HideSub,
			Readme:      r.Readme,
			ReadmeSub:   r.ReadmeSub,
			Header:      r.Header,
			HeaderSub:   r.HeaderSub,
		})
	}
	return table
}
