package config

import (
	"crypto/rand"
	"encoding/hex"

	"project-downlink/internal/storage"
)

// Keys for AppSettings in DB
const (
	KeyEnableAPI         = "enable_api"
	KeyAPIToken          = "api_token"
	KeyBackgroundUpdates = "background_updates"
	keyCleanShutdown     = "clean_shutdown:"
)

type ConfigManager struct {
	storage *storage.Storage
}

func NewConfigManager(s *storage.Storage) *ConfigManager {
	return &ConfigManager{storage: s}
}

func (c *ConfigManager) GetEnableAPI() bool {
	val, err := c.storage.GetString(KeyEnableAPI)
	if err != nil {
		return false
	}
	return val == "true"
}

func (c *ConfigManager) SetEnableAPI(enabled bool) error {
	return c.storage.SetString(KeyEnableAPI, formatBool(enabled))
}

func (c *ConfigManager) GetAPIToken() string {
	val, err := c.storage.GetString(KeyAPIToken)
	if err != nil || val == "" {
		// Generate if missing
		token := generateSecureToken()
		c.storage.SetString(KeyAPIToken, token)
		return token
	}
	return val
}

// GetBackgroundUpdates reports whether transfers may continue across a
// restart. Defaults to true.
func (c *ConfigManager) GetBackgroundUpdates() bool {
	val, err := c.storage.GetString(KeyBackgroundUpdates)
	if err != nil {
		return true
	}
	return val != "false"
}

func (c *ConfigManager) SetBackgroundUpdates(enabled bool) error {
	return c.storage.SetString(KeyBackgroundUpdates, formatBool(enabled))
}

// GetCleanShutdown reports whether the named session last closed cleanly.
// A session that never ran counts as clean.
func (c *ConfigManager) GetCleanShutdown(sessionID string) bool {
	val, err := c.storage.GetString(keyCleanShutdown + sessionID)
	if err != nil {
		return false
	}
	return val != "false"
}

func (c *ConfigManager) SetCleanShutdown(sessionID string, clean bool) error {
	return c.storage.SetString(keyCleanShutdown+sessionID, formatBool(clean))
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func generateSecureToken() string {
	b := make([]byte, 16) // 16 bytes = 32 hex chars
	if _, err := rand.Read(b); err != nil {
		// Fallback (extremely unlikely)
		return "downlink-fallback-token-change-me"
	}
	return hex.EncodeToString(b)
}
