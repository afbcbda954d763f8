package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAPIBaseURL  = "https://integration-api.meshconnect.com/api/v1"
	DefaultLinkBaseURL = "https://web.meshconnect.com"
	DefaultRelayAddr   = "127.0.0.1:8765"
	DefaultSymbol      = "USDC"
)

// Role identifies one provider slot.
type Role string

const (
	RoleWallet   Role = "wallet"
	RoleExchange Role = "exchange"
)

// Provider is the per-slot profile a connector is parameterised with.
type Provider struct {
	Role          Role
	DisplayName   string
	IntegrationID string
	NetworkID     string
	DefaultSymbol string
	// BrokerType and BrokerName are used when the widget payload omits them.
	BrokerType string
	BrokerName string
}

// Credentials holds the values every gated gateway call needs.
type Credentials struct {
	ClientID     string
	ClientSecret string
	UserID       string
}

// HasClient reports whether the client identifier and secret are both set.
func (c Credentials) HasClient() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Complete reports whether client identifier, secret and user identifier are all set.
func (c Credentials) Complete() bool {
	return c.HasClient() && c.UserID != ""
}

// Config holds all application configuration
type Config struct {
	Credentials Credentials

	// API settings
	BaseURL     string
	HTTPTimeout time.Duration

	// Provider profiles
	Wallet   Provider
	Exchange Provider

	TransferSymbol string

	// Widget relay settings
	RelayAddr   string
	LinkBaseURL string

	// Token cache
	DataDir string
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		BaseURL:     DefaultAPIBaseURL,
		HTTPTimeout: 30 * time.Second,
		Wallet: Provider{
			Role:          RoleWallet,
			DisplayName:   "MetaMask",
			IntegrationID: "metamask",
			DefaultSymbol: DefaultSymbol,
			BrokerType:    "metamask",
			BrokerName:    "MetaMask",
		},
		Exchange: Provider{
			Role:          RoleExchange,
			DisplayName:   "Binance",
			IntegrationID: "binance",
			DefaultSymbol: DefaultSymbol,
			BrokerType:    "binance",
			BrokerName:    "Binance",
		},
		TransferSymbol: DefaultSymbol,
		RelayAddr:      DefaultRelayAddr,
		LinkBaseURL:    DefaultLinkBaseURL,
	}
}

// LoadFromEnvironment loads configuration from environment variables
func (c *Config) LoadFromEnvironment() {
	c.Credentials.ClientID = strings.TrimSpace(os.Getenv("MESH_CLIENT_ID"))
	c.Credentials.ClientSecret = strings.TrimSpace(os.Getenv("MESH_CLIENT_SECRET"))
	c.Credentials.UserID = strings.TrimSpace(os.Getenv("MESH_USER_ID"))

	if baseURL := os.Getenv("MESH_API_BASE_URL"); baseURL != "" {
		c.BaseURL = strings.TrimRight(baseURL, "/")
	}

	if timeout := os.Getenv("MESH_HTTP_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			c.HTTPTimeout = time.Duration(t) * time.Second
		}
	}

	if id := os.Getenv("MESH_METAMASK_INTEGRATION_ID"); id != "" {
		c.Wallet.IntegrationID = id
	}
	c.Wallet.NetworkID = os.Getenv("MESH_METAMASK_NETWORK_ID")

	if id := os.Getenv("MESH_BINANCE_INTEGRATION_ID"); id != "" {
		c.Exchange.IntegrationID = id
	}
	c.Exchange.NetworkID = os.Getenv("MESH_BINANCE_NETWORK_ID")

	if symbol := os.Getenv("MESH_TRANSFER_SYMBOL"); symbol != "" {
		c.TransferSymbol = strings.ToUpper(symbol)
		c.Wallet.DefaultSymbol = c.TransferSymbol
		c.Exchange.DefaultSymbol = c.TransferSymbol
	}

	if addr := os.Getenv("MESH_RELAY_ADDR"); addr != "" {
		c.RelayAddr = addr
	}

	if linkBase := os.Getenv("MESH_LINK_BASE_URL"); linkBase != "" {
		c.LinkBaseURL = strings.TrimRight(linkBase, "/")
	}

	if dataDir := os.Getenv("MESH_DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}
}

// ResolveDataDir returns the token cache directory, defaulting to ~/.mesh-link
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".mesh-link"), nil
}

// Provider returns the profile for a role
func (c *Config) Provider(role Role) (Provider, error) {
	switch role {
	case RoleWallet:
		return c.Wallet, nil
	case RoleExchange:
		return c.Exchange, nil
	default:
		return Provider{}, fmt.Errorf("unknown provider role %q", role)
	}
}

// Validate checks the structural settings. Missing credentials are not an
// error here; credential-gated operations report them when invoked.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid API base URL %q: %w", c.BaseURL, err)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive, got: %v", c.HTTPTimeout)
	}

	if _, _, err := net.SplitHostPort(c.RelayAddr); err != nil {
		return fmt.Errorf("invalid relay address %q: %w", c.RelayAddr, err)
	}

	if c.TransferSymbol == "" {
		return fmt.Errorf("transfer symbol cannot be empty")
	}

	if c.Wallet.IntegrationID == "" || c.Exchange.IntegrationID == "" {
		return fmt.Errorf("provider integration ids cannot be empty")
	}

	return nil
}
