package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"project-downlink/internal/filesystem"

	"gopkg.in/yaml.v3"
)

// File is the bootstrap configuration read before the database is open.
type File struct {
	DataDir            string `yaml:"data_dir"`
	SessionID          string `yaml:"session_id"`
	APIPort            int    `yaml:"api_port"`
	TempDir            string `yaml:"temp_dir"`
	DefaultDestination string `yaml:"default_destination"`
	MaxConcurrent      int    `yaml:"max_concurrent"`
	LogLevel           string `yaml:"log_level"`
}

// Default returns a File with sensible defaults.
func Default() File {
	dataDir := "downlink-data"
	if appData, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(appData, "Downlink")
	}
	destination, err := filesystem.GetDefaultDownloadPath()
	if err != nil {
		destination = "Downloads"
	}
	return File{
		DataDir:            dataDir,
		SessionID:          "downlink.background",
		APIPort:            4444,
		TempDir:            filepath.Join(dataDir, "tmp"),
		DefaultDestination: destination,
		MaxConcurrent:      4,
		LogLevel:           "info",
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (File, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("read config file: %w", err)
	}

	var fc File
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return File{}, fmt.Errorf("parse config file: %w", err)
	}

	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
		// temp dir follows the data dir unless set explicitly
		cfg.TempDir = filepath.Join(fc.DataDir, "tmp")
	}
	if fc.SessionID != "" {
		cfg.SessionID = fc.SessionID
	}
	if fc.APIPort != 0 {
		cfg.APIPort = fc.APIPort
	}
	if fc.TempDir != "" {
		cfg.TempDir = fc.TempDir
	}
	if fc.DefaultDestination != "" {
		cfg.DefaultDestination = fc.DefaultDestination
	}
	if fc.MaxConcurrent != 0 {
		cfg.MaxConcurrent = fc.MaxConcurrent
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}

	return cfg, cfg.Validate()
}

// LoadFromEnv applies DOWNLINK_ environment overrides.
func (c *File) LoadFromEnv() error {
	if v := os.Getenv("DOWNLINK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DOWNLINK_TEMP_DIR"); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv("DOWNLINK_DEFAULT_DESTINATION"); v != "" {
		c.DefaultDestination = v
	}
	if v := os.Getenv("DOWNLINK_API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DOWNLINK_API_PORT: %w", err)
		}
		c.APIPort = n
	}
	if v := os.Getenv("DOWNLINK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return c.Validate()
}

// Validate validates the configuration.
func (c *File) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.SessionID == "" {
		return errors.New("config: session_id is required")
	}
	if c.MaxConcurrent <= 0 {
		return errors.New("config: max_concurrent must be positive")
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("config: api_port %d out of range", c.APIPort)
	}
	return nil
}
