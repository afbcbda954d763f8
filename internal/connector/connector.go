// Package connector drives one provider's link lifecycle: requesting a link
// session, opening the widget, normalizing the connected account and keeping
// its holdings and managed deposit address fresh.
package connector

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kelsos/mesh-link/internal/apperr"
	"github.com/kelsos/mesh-link/internal/client"
	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/logger"
	"github.com/kelsos/mesh-link/internal/models"
	"github.com/kelsos/mesh-link/internal/widget"
)

// DefaultAccountLabel is used when the widget reports neither an account nor a broker name.
const DefaultAccountLabel = "Connected account"

var (
	// ErrNoAuthToken is returned by Refresh before the provider has connected.
	ErrNoAuthToken = errors.New("no auth token available for refresh")
	ErrClosed      = errors.New("connector closed")

	// ErrSuperseded is returned by a refresh whose results were dropped
	// because a newer connection replaced the account it was fetching.
	ErrSuperseded = errors.New("connection replaced during refresh")
)

var log = logger.With("connector")

// Gateway is the subset of the remote gateway a connector needs.
type Gateway interface {
	CreateLinkSession(ctx context.Context, request models.LinkTokenRequest) (string, error)
	GetHoldings(ctx context.Context, authToken, brokerType string) (models.HoldingsResult, error)
	GetManagedAddress(ctx context.Context, query client.ManagedAddressQuery) (string, error)
}

// TokenCache stores issued link tokens. Failures are logged and ignored.
type TokenCache interface {
	SaveLinkToken(provider, linkToken string) error
}

// PublishFunc receives every snapshot the connector produces.
type PublishFunc func(role config.Role, snapshot models.ProviderSnapshot)

type Options struct {
	Provider    config.Provider
	Credentials config.Credentials
	Gateway     Gateway
	Widgets     widget.Factory
	Cache       TokenCache
	Publish     PublishFunc
}

// RefreshOverrides replace the last known values for a single refresh. Empty
// fields fall back to the connector's state.
type RefreshOverrides struct {
	AuthToken        string
	BrokerType       string
	IntegrationToken *models.IntegrationAccessToken
	AccountLabel     string
	BrokerName       string
}

type Connector struct {
	provider    config.Provider
	credentials config.Credentials
	gateway     Gateway
	widgets     widget.Factory
	cache       TokenCache
	publish     PublishFunc

	// ctx scopes work started by widget callbacks; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	state            State
	closed           bool
	generation       uint64
	link             widget.Link
	authToken        string
	brokerType       string
	integrationToken *models.IntegrationAccessToken
	accountLabel     string
	institution      string
	holdings         []models.HoldingPosition
	managedAddress   string
	linkError        string
	holdingsError    string
	addressError     string
	loadingHoldings  bool
	loadingAddress   bool
}

// New creates a connector for a single provider profile.
func New(opts Options) *Connector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		provider:    opts.Provider,
		credentials: opts.Credentials,
		gateway:     opts.Gateway,
		widgets:     opts.Widgets,
		cache:       opts.Cache,
		publish:     opts.Publish,
		ctx:         ctx,
		cancel:      cancel,
		state:       Idle,
	}
}

func (c *Connector) Provider() config.Provider {
	return c.provider
}

// Connect requests a link session and opens a fresh widget with the issued token.
func (c *Connector) Connect(ctx context.Context) error {
	name := c.provider.DisplayName

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.credentials.Complete() {
		c.state = LinkError
		c.linkError = apperr.CredentialsMissing
		c.mu.Unlock()
		return apperr.Configuration(apperr.CredentialsMissing)
	}
	c.state = RequestingSession
	c.linkError = ""
	c.mu.Unlock()

	request := models.LinkTokenRequest{
		UserID:                   c.credentials.UserID,
		IntegrationID:            c.provider.IntegrationID,
		RestrictMultipleAccounts: false,
		DisableAPIKeyGeneration:  false,
		IsInclusiveFeeEnabled:    true,
	}
	if c.provider.NetworkID != "" {
		request.VerifyWalletOptions = &models.VerifyWalletOptions{
			NetworkID:           c.provider.NetworkID,
			VerificationMethods: []string{models.VerificationSignedMessage},
		}
	}

	log.Info("Requesting %s link token", name)
	linkToken, err := c.gateway.CreateLinkSession(ctx, request)
	if err != nil {
		log.Error("Failed to get %s link token: %v", name, err)
		c.fail(apperr.Message(err, "Failed to fetch Mesh link token."))
		return err
	}

	if c.cache != nil {
		if err := c.cache.SaveLinkToken(c.provider.IntegrationID, linkToken); err != nil {
			log.Warn("Failed to persist %s link token: %v", name, err)
		}
	}

	link, err := c.replaceLink()
	if err != nil {
		return err
	}

	if err := link.Open(ctx, linkToken); err != nil {
		log.Error("Failed to open %s link: %v", name, err)
		c.releaseLink(link)
		c.fail(err.Error())
		return apperr.Widget(err.Error())
	}

	c.mu.Lock()
	if c.state == RequestingSession {
		c.state = SessionOpen
	}
	c.mu.Unlock()
	return nil
}

func (c *Connector) fail(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state = LinkError
	c.linkError = message
}

// replaceLink swaps in a fresh widget and closes the previous one.
func (c *Connector) replaceLink() (widget.Link, error) {
	link := c.widgets.CreateLink(widget.Options{
		Label:    c.provider.DisplayName,
		ClientID: c.credentials.ClientID,
		Events: widget.Events{
			OnIntegrationConnected: func(payload models.LinkPayload) {
				_ = c.HandleIntegrationConnected(c.ctx, payload)
			},
			OnExit: c.HandleExit,
		},
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		link.Close()
		return nil, ErrClosed
	}
	previous := c.link
	c.link = link
	c.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return link, nil
}

// releaseLink drops the handle if it is still the current one.
func (c *Connector) releaseLink(link widget.Link) {
	c.mu.Lock()
	if c.link == link {
		c.link = nil
	}
	c.mu.Unlock()
	link.Close()
}

// HandleIntegrationConnected records the connected account and refreshes its data.
// A payload without an account token is ignored.
func (c *Connector) HandleIntegrationConnected(ctx context.Context, payload models.LinkPayload) error {
	name := c.provider.DisplayName

	account, ok := payload.PrimaryAccount()
	if !ok || account.AccessToken == "" {
		log.Warn("%s link session completed without an auth token", name)
		return nil
	}

	var brokerType, brokerName string
	if payload.AccessToken != nil {
		brokerType = payload.AccessToken.BrokerType
		brokerName = payload.AccessToken.BrokerName
	}

	label := firstNonEmpty(account.Account.AccountName, brokerName, DefaultAccountLabel)
	integrationToken := &models.IntegrationAccessToken{
		AccountID:   firstNonEmpty(account.Account.AccountID, account.Account.AccountName),
		AccountName: firstNonEmpty(account.Account.AccountName, label),
		AccessToken: account.AccessToken,
		BrokerType:  firstNonEmpty(brokerType, c.provider.BrokerType),
		BrokerName:  firstNonEmpty(brokerName, c.provider.BrokerName),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.generation++
	generation := c.generation
	c.accountLabel = label
	c.institution = integrationToken.BrokerName
	c.holdings = nil
	c.holdingsError = ""
	c.managedAddress = ""
	c.addressError = ""
	c.linkError = ""
	c.integrationToken = integrationToken
	c.authToken = account.AccessToken
	c.brokerType = integrationToken.BrokerType
	c.mu.Unlock()

	log.Info("%s connected as %s", name, label)

	_, err := c.refresh(ctx, &RefreshOverrides{
		AuthToken:        account.AccessToken,
		BrokerType:       integrationToken.BrokerType,
		IntegrationToken: integrationToken,
		AccountLabel:     label,
		BrokerName:       integrationToken.BrokerName,
	}, generation)
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrSuperseded) {
		return nil
	}
	return err
}

// Refresh re-fetches holdings and the managed address concurrently, then
// publishes a snapshot. The returned error joins both fetch failures. If a new
// connection arrives while the fetches run, their results are dropped and
// ErrSuperseded is returned.
func (c *Connector) Refresh(ctx context.Context, overrides *RefreshOverrides) (models.ProviderSnapshot, error) {
	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()
	return c.refresh(ctx, overrides, generation)
}

func (c *Connector) refresh(ctx context.Context, overrides *RefreshOverrides, generation uint64) (models.ProviderSnapshot, error) {
	name := c.provider.DisplayName
	if overrides == nil {
		overrides = &RefreshOverrides{}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.ProviderSnapshot{}, ErrClosed
	}
	if c.generation != generation {
		c.mu.Unlock()
		return models.ProviderSnapshot{}, ErrSuperseded
	}
	snapshot := models.ProviderSnapshot{
		AuthToken:    firstNonEmpty(overrides.AuthToken, c.authToken),
		BrokerType:   firstNonEmpty(overrides.BrokerType, c.brokerType),
		BrokerName:   firstNonEmpty(overrides.BrokerName, c.institution),
		AccountLabel: firstNonEmpty(overrides.AccountLabel, c.accountLabel),
		NetworkID:    c.provider.NetworkID,
	}
	snapshot.IntegrationToken = overrides.IntegrationToken
	if snapshot.IntegrationToken == nil {
		snapshot.IntegrationToken = c.integrationToken
	}
	if snapshot.AuthToken == "" {
		c.mu.Unlock()
		log.Warn("No %s auth token available for refresh", name)
		return models.ProviderSnapshot{}, ErrNoAuthToken
	}

	query := client.ManagedAddressQuery{
		AuthToken:  snapshot.AuthToken,
		BrokerType: snapshot.BrokerType,
		NetworkID:  c.provider.NetworkID,
		Symbol:     c.provider.DefaultSymbol,
		Cached:     c.managedAddress,
	}
	c.state = Refreshing
	c.loadingHoldings = true
	c.holdingsError = ""
	if !query.Skipped() {
		c.loadingAddress = true
		c.addressError = ""
	}
	c.mu.Unlock()

	var (
		holdings                models.HoldingsResult
		address                 string
		holdingsErr, addressErr error
	)

	// Neither fetch returns an error to the group so one failure never cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		holdings, holdingsErr = c.gateway.GetHoldings(ctx, snapshot.AuthToken, snapshot.BrokerType)
		return nil
	})
	g.Go(func() error {
		address, addressErr = c.gateway.GetManagedAddress(ctx, query)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.ProviderSnapshot{}, ErrClosed
	}
	if c.generation != generation {
		c.mu.Unlock()
		log.Debug("Dropping stale %s refresh results", name)
		return models.ProviderSnapshot{}, ErrSuperseded
	}
	c.applyHoldings(holdings, holdingsErr)
	c.applyAddress(address, addressErr)
	c.loadingHoldings = false
	c.loadingAddress = false
	if holdingsErr != nil || addressErr != nil {
		c.state = DataError
	} else {
		c.state = Connected
	}
	snapshot.ManagedAddress = c.managedAddress
	publish := c.publish
	c.mu.Unlock()

	if publish != nil {
		publish(c.provider.Role, snapshot.Clone())
	}

	return snapshot.Clone(), errors.Join(holdingsErr, addressErr)
}

func (c *Connector) applyHoldings(result models.HoldingsResult, err error) {
	if err != nil {
		log.Error("Failed to fetch %s holdings: %v", c.provider.DisplayName, err)
		c.holdingsError = apperr.Message(err, "Failed to fetch holdings")
		if !errors.Is(err, apperr.ErrConfiguration) {
			c.holdings = nil
		}
		return
	}
	c.holdings = result.Positions
	if result.InstitutionName != "" {
		c.institution = result.InstitutionName
	}
}

func (c *Connector) applyAddress(address string, err error) {
	if err != nil {
		log.Error("Failed to fetch %s managed address: %v", c.provider.DisplayName, err)
		c.addressError = apperr.Message(err, "Failed to fetch managed deposit address.")
		if !errors.Is(err, apperr.ErrConfiguration) {
			c.managedAddress = ""
		}
		return
	}
	c.managedAddress = address
}

// HandleExit records a widget error, if any, and releases the widget.
func (c *Connector) HandleExit(errMessage string) {
	name := c.provider.DisplayName

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	link := c.link
	c.link = nil
	if errMessage != "" {
		log.Error("%s link exited with error: %s", name, errMessage)
		c.linkError = apperr.Widget(errMessage).Error()
		c.state = LinkError
	} else if c.state == SessionOpen || c.state == RequestingSession {
		log.Info("%s link closed by user", name)
		if c.authToken != "" {
			c.state = Connected
		} else {
			c.state = Idle
		}
	}
	c.mu.Unlock()

	if link != nil {
		link.Close()
	}
}

// Close releases the widget and makes any in-flight work inert.
func (c *Connector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	link := c.link
	c.link = nil
	c.mu.Unlock()

	c.cancel()
	if link != nil {
		link.Close()
	}
}

// Snapshot returns the current normalized state without fetching anything.
func (c *Connector) Snapshot() models.ProviderSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := models.ProviderSnapshot{
		AuthToken:        c.authToken,
		BrokerType:       c.brokerType,
		BrokerName:       c.institution,
		AccountLabel:     c.accountLabel,
		IntegrationToken: c.integrationToken,
		ManagedAddress:   c.managedAddress,
		NetworkID:        c.provider.NetworkID,
	}
	return snapshot.Clone()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
