// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads pairmaster.yaml through viper. Values come, in
// increasing precedence, from built-in defaults, the config file,
// PAIRMASTER_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Dsn  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`
	Language string `mapstructure:"language" yaml:"language"`
	Log      struct {
		Level string `mapstructure:"level" yaml:"level"`
	} `mapstructure:"log" yaml:"log"`
	Identity struct {
		FriendlyName string `mapstructure:"friendly_name" yaml:"friendly_name"`
		PublicID     string `mapstructure:"public_id" yaml:"public_id,omitempty"`
	} `mapstructure:"identity" yaml:"identity"`
	Bridge struct {
		Path           string        `mapstructure:"path" yaml:"path"`
		Port           int           `mapstructure:"port" yaml:"port"`
		Spawn          bool          `mapstructure:"spawn" yaml:"spawn"`
		StartTimeout   time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
		RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	} `mapstructure:"bridge" yaml:"bridge"`
	Discovery struct {
		Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
		DebounceMisses int           `mapstructure:"debounce_misses" yaml:"debounce_misses"`
		UDPPorts       []int         `mapstructure:"udp_ports" yaml:"udp_ports"`
		Bluetooth      bool          `mapstructure:"bluetooth" yaml:"bluetooth"`
		Broadcast      bool          `mapstructure:"broadcast" yaml:"broadcast"`
		// BeaconRate limits accepted beacons per source address per second.
		BeaconRate float64 `mapstructure:"beacon_rate" yaml:"beacon_rate"`
	} `mapstructure:"discovery" yaml:"discovery"`
	Pairing struct {
		PeerKeyTimeout time.Duration `mapstructure:"peer_key_timeout" yaml:"peer_key_timeout"`
		DevicePort     int           `mapstructure:"device_port" yaml:"device_port"`
	} `mapstructure:"pairing" yaml:"pairing"`
	Install struct {
		PackagePath string `mapstructure:"package_path" yaml:"package_path"`
		PackageName string `mapstructure:"package_name" yaml:"package_name"`
		FallbackURL string `mapstructure:"fallback_url" yaml:"fallback_url"`
		ServeAddr   string `mapstructure:"serve_addr" yaml:"serve_addr"`
	} `mapstructure:"install" yaml:"install"`
}

// Defaults returns the built-in value of every key.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":             "sqlite",
		"database.dsn":              "./pairmaster.db",
		"language":                  "en",
		"log.level":                 "info",
		"identity.friendly_name":    hostname(),
		"identity.public_id":        "",
		"bridge.path":               "adb",
		"bridge.port":               5037,
		"bridge.spawn":              false,
		"bridge.start_timeout":      "10s",
		"bridge.request_timeout":    "10s",
		"discovery.interval":        "2s",
		"discovery.debounce_misses": 3,
		"discovery.udp_ports":       []int{24816, 4816},
		"discovery.bluetooth":       true,
		"discovery.broadcast":       true,
		"discovery.beacon_rate":     2.0,
		"pairing.peer_key_timeout":  "30s",
		"pairing.device_port":       24816,
		"install.package_path":      "",
		"install.package_name":      "cz.xoft.deskemes",
		"install.fallback_url":      "https://github.com/toeirei/pairmaster/releases/latest",
		"install.serve_addr":        "127.0.0.1:0",
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "pairmaster"
	}
	return h
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Pairmaster")
		default: // Linux, macOS, etc.
			configDir = "/etc/pairmaster"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "pairmaster")
	}

	return filepath.Join(configDir, "pairmaster.yaml"), nil
}

// LoadConfig builds a T from defaults, the first pairmaster.yaml found (or
// the explicit file), the environment and the flags of cmd.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitFile *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("pairmaster")
	v.SetConfigType("yaml")

	// An explicit --config file has the highest precedence among files.
	if explicitFile != nil && *explicitFile != "" {
		v.SetConfigFile(*explicitFile)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; a broken one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("pairmaster")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// WriteConfigFile stores c as YAML in the user or system config location.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	return os.WriteFile(path, data, 0600)
}

// EnsurePublicID returns the desktop's advertised public ID. An unset ID is
// generated once and kept next to the user config file, so devices keep
// recognizing this desktop across runs.
func EnsurePublicID(c *Config) (string, error) {
	if c.Identity.PublicID != "" {
		return c.Identity.PublicID, nil
	}
	cfgPath, err := GetConfigPath(false)
	if err != nil {
		return "", err
	}
	idPath := filepath.Join(filepath.Dir(cfgPath), "public_id")
	if data, err := os.ReadFile(idPath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			c.Identity.PublicID = id
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(idPath), 0755); err != nil {
		return "", fmt.Errorf("could not create config directory: %w", err)
	}
	if err := os.WriteFile(idPath, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("could not store public id: %w", err)
	}
	c.Identity.PublicID = id
	return id, nil
}
