package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LinkTokenData represents the structure of the link token stored in the file
type LinkTokenData struct {
	Provider  string `json:"provider"`
	LinkToken string `json:"link_token"`
	UpdatedAt int64  `json:"updated_at"`
}

// TokenCache keeps the most recent link token per provider on disk. The
// cache is advisory: nothing reads it back to restore a connection.
type TokenCache struct {
	dir string
}

// NewTokenCache creates a cache rooted at dir
func NewTokenCache(dir string) *TokenCache {
	return &TokenCache{dir: dir}
}

// Dir returns the cache directory
func (c *TokenCache) Dir() string {
	return c.dir
}

func (c *TokenCache) ensureDir() error {
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return fmt.Errorf("failed to create token cache directory: %w", err)
	}
	return nil
}

// filePath returns the path to the link token file for a specific provider
func (c *TokenCache) filePath(provider string) string {
	return filepath.Join(c.dir, fmt.Sprintf("mesh-link-token-%s.json", provider))
}

// SaveLinkToken saves the link token to a file
func (c *TokenCache) SaveLinkToken(provider, linkToken string) error {
	if err := c.ensureDir(); err != nil {
		return err
	}

	data := LinkTokenData{
		Provider:  provider,
		LinkToken: linkToken,
		UpdatedAt: time.Now().Unix(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal link token data: %w", err)
	}

	if err := os.WriteFile(c.filePath(provider), jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write link token file: %w", err)
	}

	return nil
}

// LoadLinkToken gets the last link token from a file. A missing file is not an error.
func (c *TokenCache) LoadLinkToken(provider string) (LinkTokenData, error) {
	filePath := c.filePath(provider)

	if _, statErr := os.Stat(filePath); os.IsNotExist(statErr) {
		return LinkTokenData{}, nil
	}

	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return LinkTokenData{}, fmt.Errorf("failed to read link token file: %w", err)
	}

	var data LinkTokenData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return LinkTokenData{}, fmt.Errorf("failed to unmarshal link token data: %w", err)
	}

	return data, nil
}
