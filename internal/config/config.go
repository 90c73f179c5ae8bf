package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/models"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Device  DeviceConfig  `yaml:"device"`
	SSH     SSHConfig     `yaml:"ssh"`
	Capture CaptureConfig `yaml:"capture"`
	Restart RestartConfig `yaml:"restart"`
	Bands   BandsConfig   `yaml:"bands"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig represents server identity configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the REST/WebSocket listener configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DeviceConfig identifies the access point under control
type DeviceConfig struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	KeyPath  string `yaml:"key_path"`
	Port     int    `yaml:"port"`
}

// SSHConfig represents remote execution configuration
type SSHConfig struct {
	// Transport selects the executor implementation: "openssh" shells
	// out to the local ssh client, "native" uses the in-process client.
	Transport      string        `yaml:"transport"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// CaptureConfig represents capture session configuration
type CaptureConfig struct {
	DownloadDir     string        `yaml:"download_dir"`
	RemoteDir       string        `yaml:"remote_dir"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	StopGrace       time.Duration `yaml:"stop_grace"`
	AutoSyncTime    bool          `yaml:"auto_sync_time"`
	SplitEnabled    bool          `yaml:"split_enabled"`
	SplitSizeMB     int           `yaml:"split_size_mb"`
}

// RestartConfig bounds the post-reload readiness poll
type RestartConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxWait        time.Duration `yaml:"max_wait"`
	StabilizePause time.Duration `yaml:"stabilize_pause"`
}

// BandDefaults holds the static per-band defaults used until detection
// replaces them
type BandDefaults struct {
	Interface string `yaml:"interface"`
	Radio     string `yaml:"radio"`
	Channel   int    `yaml:"channel"`
	Bandwidth string `yaml:"bandwidth"`
}

// BandsConfig maps band labels to their defaults. YAML keeps the
// string keys; typed accessors convert at the boundary.
type BandsConfig struct {
	Defaults map[string]BandDefaults `yaml:"defaults"`
}

// CacheConfig represents result cache TTLs
type CacheConfig struct {
	ConnectionTTL time.Duration `yaml:"connection_ttl"`
	InterfaceTTL  time.Duration `yaml:"interface_ttl"`
	WifiConfigTTL time.Duration `yaml:"wifi_config_ttl"`
	TimeInfoTTL   time.Duration `yaml:"time_info_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyEnvOverrides()
	cfg.setDefaults()
	return &cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("SNIFFER_DEVICE_HOST"); host != "" {
		c.Device.Host = host
	}
	if user := os.Getenv("SNIFFER_DEVICE_USER"); user != "" {
		c.Device.User = user
	}
	if dir := os.Getenv("SNIFFER_DOWNLOAD_DIR"); dir != "" {
		c.Capture.DownloadDir = dir
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// setDefaults fills zero values with working defaults for a stock
// OpenWrt access point.
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "wifi-sniffer-control"
	}
	if c.Server.Version == "" {
		c.Server.Version = "2.0.0"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 5000
	}

	if c.Device.Host == "" {
		c.Device.Host = "192.168.1.1"
	}
	if c.Device.User == "" {
		c.Device.User = "root"
	}
	if c.Device.Port == 0 {
		c.Device.Port = 22
	}

	if c.SSH.Transport == "" {
		c.SSH.Transport = "openssh"
	}
	if c.SSH.ConnectTimeout == 0 {
		c.SSH.ConnectTimeout = 10 * time.Second
	}
	if c.SSH.CommandTimeout == 0 {
		c.SSH.CommandTimeout = 30 * time.Second
	}

	if c.Capture.DownloadDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Capture.DownloadDir = filepath.Join(home, "Downloads")
		} else {
			c.Capture.DownloadDir = "."
		}
	}
	if c.Capture.RemoteDir == "" {
		c.Capture.RemoteDir = "/tmp"
	}
	if c.Capture.MonitorInterval == 0 {
		c.Capture.MonitorInterval = 3 * time.Second
	}
	if c.Capture.StopGrace == 0 {
		c.Capture.StopGrace = 2 * time.Second
	}
	if c.Capture.SplitSizeMB == 0 {
		c.Capture.SplitSizeMB = 200
	}

	if c.Restart.PollInterval == 0 {
		c.Restart.PollInterval = 5 * time.Second
	}
	if c.Restart.MaxWait == 0 {
		c.Restart.MaxWait = 90 * time.Second
	}
	if c.Restart.StabilizePause == 0 {
		c.Restart.StabilizePause = 3 * time.Second
	}

	if c.Bands.Defaults == nil {
		c.Bands.Defaults = map[string]BandDefaults{}
	}
	defaults := map[string]BandDefaults{
		"2G": {Interface: "ath0", Radio: "wifi0", Channel: 6, Bandwidth: "HT40"},
		"5G": {Interface: "ath2", Radio: "wifi2", Channel: 36, Bandwidth: "EHT160"},
		"6G": {Interface: "ath1", Radio: "wifi1", Channel: 37, Bandwidth: "EHT320"},
	}
	for label, def := range defaults {
		if _, ok := c.Bands.Defaults[label]; !ok {
			c.Bands.Defaults[label] = def
		}
	}

	if c.Cache.ConnectionTTL == 0 {
		c.Cache.ConnectionTTL = 5 * time.Second
	}
	if c.Cache.InterfaceTTL == 0 {
		c.Cache.InterfaceTTL = 5 * time.Minute
	}
	if c.Cache.WifiConfigTTL == 0 {
		c.Cache.WifiConfigTTL = time.Minute
	}
	if c.Cache.TimeInfoTTL == 0 {
		c.Cache.TimeInfoTTL = 2 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// validate rejects configurations the rest of the system cannot work
// with.
func (c *Config) validate() error {
	switch c.SSH.Transport {
	case "openssh", "native":
	default:
		return fmt.Errorf("invalid ssh transport: %s", c.SSH.Transport)
	}
	for label := range c.Bands.Defaults {
		if _, err := models.ParseBand(label); err != nil {
			return fmt.Errorf("bands.defaults: %w", err)
		}
	}
	if c.Capture.SplitSizeMB < 10 || c.Capture.SplitSizeMB > 2000 {
		return fmt.Errorf("capture.split_size_mb must be within 10..2000, got %d", c.Capture.SplitSizeMB)
	}
	return nil
}

// DefaultInterfaces returns the static band-to-interface defaults.
func (c *Config) DefaultInterfaces() models.InterfaceMap {
	var m models.InterfaceMap
	for label, def := range c.Bands.Defaults {
		if b, err := models.ParseBand(label); err == nil {
			m[b] = def.Interface
		}
	}
	return m
}

// DefaultRadios returns the static band-to-radio defaults.
func (c *Config) DefaultRadios() models.RadioMap {
	var m models.RadioMap
	for label, def := range c.Bands.Defaults {
		if b, err := models.ParseBand(label); err == nil {
			m[b] = def.Radio
		}
	}
	return m
}

// DefaultChannels returns the static per-band channel configuration.
func (c *Config) DefaultChannels() models.ChannelConfigMap {
	var m models.ChannelConfigMap
	for label, def := range c.Bands.Defaults {
		if b, err := models.ParseBand(label); err == nil {
			m[b] = models.ChannelConfig{Channel: def.Channel, Bandwidth: def.Bandwidth}
		}
	}
	return m
}

// CacheTTLs returns the per-key default TTL table for the result cache.
func (c *Config) CacheTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"connection_status": c.Cache.ConnectionTTL,
		"interface_mapping": c.Cache.InterfaceTTL,
		"wifi_config":       c.Cache.WifiConfigTTL,
		"time_info":         c.Cache.TimeInfoTTL,
	}
}

// PrintConfigSummary 打印配置摘要
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== WiFi Sniffer Control Server ===\n")
	fmt.Printf("Server: %s v%s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("Device: %s@%s:%d (%s transport)\n", c.Device.User, c.Device.Host, c.Device.Port, c.SSH.Transport)
	fmt.Printf("Download Folder: %s\n", c.Capture.DownloadDir)
	fmt.Printf("Default Interface Mapping:\n")
	for _, b := range models.Bands() {
		def := c.Bands.Defaults[b.String()]
		fmt.Printf("  - %s: %s (%s) CH%d %s\n", b, def.Interface, def.Radio, def.Channel, def.Bandwidth)
	}
	fmt.Printf("===================================\n")
}
