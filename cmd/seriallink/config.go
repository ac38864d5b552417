package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the persistent flags.
type fileConfig struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	Driver      string `yaml:"driver"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
	Framing     string `yaml:"framing"`
	Delimiter   string `yaml:"delimiter"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyConfigFile sets every flag the user did not pass explicitly from the
// file at path.
func applyConfigFile(cmd *cobra.Command, path string) error {
	cfg, err := loadConfigFile(path)
	if err != nil {
		return err
	}

	values := map[string]string{
		"port":         cfg.Port,
		"driver":       cfg.Driver,
		"url":          cfg.URL,
		"username":     cfg.Username,
		"framing":      cfg.Framing,
		"delimiter":    cfg.Delimiter,
		"metrics-addr": cfg.MetricsAddr,
		"log-level":    cfg.LogLevel,
	}
	if cfg.Baud != 0 {
		values["baud"] = strconv.Itoa(cfg.Baud)
	}
	if cfg.NoSSLVerify {
		values["no-ssl-verify"] = "true"
	}

	flags := cmd.Flags()
	for name, value := range values {
		if value == "" || flags.Changed(name) {
			continue
		}
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	return nil
}
