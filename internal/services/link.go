package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kelsos/mesh-link/internal/async"
	"github.com/kelsos/mesh-link/internal/client"
	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/connector"
	"github.com/kelsos/mesh-link/internal/logger"
	"github.com/kelsos/mesh-link/internal/models"
	"github.com/kelsos/mesh-link/internal/registry"
	"github.com/kelsos/mesh-link/internal/storage"
	"github.com/kelsos/mesh-link/internal/transfer"
	"github.com/kelsos/mesh-link/internal/widget"
)

const waitPollInterval = 250 * time.Millisecond

// LinkService wires the gateway client, widget relay, provider connectors,
// account registry and transfer coordinator together.
type LinkService struct {
	config   *config.Config
	client   *client.APIClient
	relay    *widget.Relay
	cache    *storage.TokenCache
	registry *registry.Registry
	wallet   *connector.Connector
	exchange *connector.Connector
	transfer *transfer.Coordinator

	mu     sync.Mutex
	onOpen []func(widget.Opened)
}

// NewLinkService creates a link service with all dependencies
func NewLinkService(cfg *config.Config) *LinkService {
	s := &LinkService{
		config:   cfg,
		client:   client.NewAPIClient(cfg),
		registry: registry.New(),
	}

	s.relay = widget.NewRelay(widget.RelayConfig{
		Addr:        cfg.RelayAddr,
		LinkBaseURL: cfg.LinkBaseURL,
		OnOpen:      s.linkOpened,
	})

	var cache connector.TokenCache
	if dataDir, err := cfg.ResolveDataDir(); err != nil {
		logger.Warn("Link tokens will not be cached: %v", err)
	} else {
		s.cache = storage.NewTokenCache(dataDir)
		cache = s.cache
	}

	newConnector := func(provider config.Provider) *connector.Connector {
		return connector.New(connector.Options{
			Provider:    provider,
			Credentials: cfg.Credentials,
			Gateway:     s.client,
			Widgets:     s.relay,
			Cache:       cache,
			Publish:     s.registry.Publish,
		})
	}
	s.wallet = newConnector(cfg.Wallet)
	s.exchange = newConnector(cfg.Exchange)

	for _, c := range []*connector.Connector{s.wallet, s.exchange} {
		s.registry.RegisterRefresher(c.Provider().Role, func(ctx context.Context) error {
			_, err := c.Refresh(ctx, nil)
			return err
		})
	}

	s.transfer = transfer.New(transfer.Options{
		Credentials: cfg.Credentials,
		Source:      cfg.Wallet,
		Destination: cfg.Exchange,
		Symbol:      cfg.TransferSymbol,
		Gateway:     s.client,
		Accounts:    s.registry,
		Widgets:     s.relay,
	})

	return s
}

// Start begins serving the widget relay.
func (s *LinkService) Start() error {
	return s.relay.Start()
}

// Shutdown closes every widget session and stops the relay.
func (s *LinkService) Shutdown(ctx context.Context) error {
	s.transfer.Close()
	s.wallet.Close()
	s.exchange.Close()
	return s.relay.Shutdown(ctx)
}

// OnLinkOpened registers fn to be told about every widget session that opens.
func (s *LinkService) OnLinkOpened(fn func(widget.Opened)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = append(s.onOpen, fn)
}

func (s *LinkService) linkOpened(opened widget.Opened) {
	s.mu.Lock()
	handlers := make([]func(widget.Opened), len(s.onOpen))
	copy(handlers, s.onOpen)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(opened)
	}
}

// GetConfig returns the current configuration
func (s *LinkService) GetConfig() *config.Config {
	return s.config
}

func (s *LinkService) Registry() *registry.Registry {
	return s.registry
}

func (s *LinkService) Transfer() *transfer.Coordinator {
	return s.transfer
}

func (s *LinkService) Relay() *widget.Relay {
	return s.relay
}

// Connector returns the connector for role.
func (s *LinkService) Connector(role config.Role) (*connector.Connector, error) {
	switch role {
	case config.RoleWallet:
		return s.wallet, nil
	case config.RoleExchange:
		return s.exchange, nil
	default:
		_, err := s.config.Provider(role)
		return nil, err
	}
}

// Connect starts the link flow for role.
func (s *LinkService) Connect(ctx context.Context, role config.Role) error {
	c, err := s.Connector(role)
	if err != nil {
		return err
	}
	return c.Connect(ctx)
}

// Refresh re-fetches holdings and the managed address for role.
func (s *LinkService) Refresh(ctx context.Context, role config.Role) (models.ProviderSnapshot, error) {
	c, err := s.Connector(role)
	if err != nil {
		return models.ProviderSnapshot{}, err
	}
	return c.Refresh(ctx, nil)
}

// WaitForSnapshot blocks until role publishes a snapshot that satisfies ready.
func (s *LinkService) WaitForSnapshot(ctx context.Context, role config.Role, ready func(models.ProviderSnapshot) bool) (models.ProviderSnapshot, error) {
	return async.Poll(ctx, waitPollInterval, func() (models.ProviderSnapshot, bool) {
		snapshot, ok := s.registry.Snapshot(role)
		return snapshot, ok && (ready == nil || ready(snapshot))
	})
}

// WaitForTransfer blocks until the transfer widget reports completion or an error.
func (s *LinkService) WaitForTransfer(ctx context.Context) (models.TransferFinishedPayload, error) {
	type outcome struct {
		payload models.TransferFinishedPayload
		err     error
	}

	result, err := async.Poll(ctx, waitPollInterval, func() (outcome, bool) {
		view := s.transfer.View()
		switch {
		case view.Completed != nil:
			return outcome{payload: *view.Completed}, true
		case view.Error != "":
			return outcome{err: errors.New(view.Error)}, true
		default:
			return outcome{}, false
		}
	})
	if err != nil {
		return models.TransferFinishedPayload{}, err
	}
	return result.payload, result.err
}
