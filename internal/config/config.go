// Package config loads the propagation server's runtime configuration from
// flags, environment variables, and an optional config file, grounded on
// cuemby-warren's cobra+viper command setup.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the server needs at startup.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	TLSCertFile   string `mapstructure:"tls_cert_file"`
	TLSKeyFile    string `mapstructure:"tls_key_file"`
	ClientCAFile  string `mapstructure:"client_ca_file"`
	RequireClient bool   `mapstructure:"require_client_cert"`

	StorageRoot string `mapstructure:"storage_root"`

	SessionTTL time.Duration `mapstructure:"session_ttl"`
	NonceTTL   time.Duration `mapstructure:"nonce_ttl"`
	OwnerTTL   time.Duration `mapstructure:"owner_ttl"`

	UploadStartRateLimit int           `mapstructure:"upload_start_rate_limit"`
	UploadStartWindow    time.Duration `mapstructure:"upload_start_window"`
	FetchRateLimit       int           `mapstructure:"fetch_rate_limit"`
	FetchWindow          time.Duration `mapstructure:"fetch_window"`

	OwnerUsername string `mapstructure:"owner_username"`
	OwnerPassword string `mapstructure:"owner_password"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Defaults returns a Config populated with the server's default values.
func Defaults() Config {
	return Config{
		ListenAddr:           ":8443",
		StorageRoot:          "/var/lib/propagator",
		SessionTTL:           5 * time.Minute,
		NonceTTL:             10 * time.Minute,
		OwnerTTL:             3 * time.Minute,
		UploadStartRateLimit: 10,
		UploadStartWindow:    15 * time.Minute,
		FetchRateLimit:       100,
		FetchWindow:          15 * time.Minute,
		LogLevel:             "info",
		LogJSON:              true,
	}
}

// BindDefaults registers every Defaults() value with v so flags and env vars
// can override it.
func BindDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("storage_root", d.StorageRoot)
	v.SetDefault("session_ttl", d.SessionTTL)
	v.SetDefault("nonce_ttl", d.NonceTTL)
	v.SetDefault("owner_ttl", d.OwnerTTL)
	v.SetDefault("upload_start_rate_limit", d.UploadStartRateLimit)
	v.SetDefault("upload_start_window", d.UploadStartWindow)
	v.SetDefault("fetch_rate_limit", d.FetchRateLimit)
	v.SetDefault("fetch_window", d.FetchWindow)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
}

// Load unmarshals v into a Config and validates required fields.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if cfg.OwnerUsername == "" || cfg.OwnerPassword == "" {
		return Config{}, fmt.Errorf("owner_username and owner_password are required")
	}
	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		return Config{}, fmt.Errorf("tls_cert_file and tls_key_file are required")
	}
	return cfg, nil
}
