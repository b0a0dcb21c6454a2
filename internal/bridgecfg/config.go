// Package bridgecfg loads the daemon's plugin options from a YAML file,
// following internal/config's load-with-defaults-and-reload shape.
package bridgecfg

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the nip47-* plugin options, for the standalone/dev
// daemon that reads them from a file instead of from lightningd's
// option-passing handshake.
type Config struct {
	Relays               []string      `yaml:"relays"`
	NotificationsEnabled bool          `yaml:"notifications_enabled"`
	DataDir              string        `yaml:"datadir"`
	LogLevel             string        `yaml:"log_level"`
	MetricsAddr          string        `yaml:"metrics_addr"`
	ControlSocket        string        `yaml:"control_socket"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	PayInvoiceTimeout    time.Duration `yaml:"pay_invoice_timeout"`
}

// Default returns the configuration used when no file is present, so the
// daemon is runnable out of the box in dev mode.
func Default() *Config {
	return &Config{
		NotificationsEnabled: true,
		DataDir:              "./nip47bridge-data",
		LogLevel:             "info",
		MetricsAddr:          "",
		ControlSocket:        "./nip47bridge.sock",
		RequestTimeout:       60 * time.Second,
		PayInvoiceTimeout:    300 * time.Second,
	}
}

// Load reads path and overlays it onto Default(); a missing file is not
// an error, mirroring internal/config's "fall back to defaults and log"
// behavior for a missing client.json.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("bridgecfg: config file not found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("bridgecfg: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("bridgecfg: parsing %s: %w", path, err)
	}

	slog.Info("bridgecfg: loaded configuration", "path", path, "relays", len(cfg.Relays), "notifications", cfg.NotificationsEnabled)
	return cfg, nil
}
