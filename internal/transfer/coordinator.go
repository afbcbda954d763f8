// Package transfer starts a guided transfer from the connected wallet to the
// connected exchange's managed deposit address.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kelsos/mesh-link/internal/apperr"
	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/connector"
	"github.com/kelsos/mesh-link/internal/logger"
	"github.com/kelsos/mesh-link/internal/models"
	"github.com/kelsos/mesh-link/internal/registry"
	"github.com/kelsos/mesh-link/internal/utils"
	"github.com/kelsos/mesh-link/internal/widget"
)

const (
	msgNetworkUnknown = "Unable to determine network id for transfer."
	msgStartFailed    = "Failed to initiate transfer session."
)

var (
	ErrInFlight = errors.New("a transfer session is already being started")
	ErrClosed   = errors.New("transfer coordinator closed")
)

var log = logger.With("transfer")

// SessionRequester issues link tokens.
type SessionRequester interface {
	CreateLinkSession(ctx context.Context, request models.LinkTokenRequest) (string, error)
}

// Accounts exposes the published provider snapshots and their refreshers.
type Accounts interface {
	Snapshot(role config.Role) (models.ProviderSnapshot, bool)
	Refresher(role config.Role) (registry.RefreshFunc, bool)
}

type Options struct {
	Credentials config.Credentials
	Source      config.Provider
	Destination config.Provider
	Symbol      string
	Gateway     SessionRequester
	Accounts    Accounts
	Widgets     widget.Factory
}

// Coordinator validates transfer preconditions and drives the transfer widget.
type Coordinator struct {
	credentials config.Credentials
	source      config.Provider
	destination config.Provider
	symbol      string
	gateway     SessionRequester
	accounts    Accounts
	widgets     widget.Factory

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	link      widget.Link
	inFlight  bool
	closed    bool
	lastError string
	completed *models.TransferFinishedPayload
}

func New(opts Options) *Coordinator {
	symbol := opts.Symbol
	if symbol == "" {
		symbol = config.DefaultSymbol
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		credentials: opts.Credentials,
		source:      opts.Source,
		destination: opts.Destination,
		symbol:      symbol,
		gateway:     opts.Gateway,
		accounts:    opts.Accounts,
		widgets:     opts.Widgets,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Validate checks every transfer precondition in order and builds the request.
// The request's NetworkID is empty when no network can be resolved.
func (c *Coordinator) Validate(amountInput string) (models.TransferRequest, error) {
	if !c.credentials.Complete() {
		return models.TransferRequest{}, apperr.Configuration(apperr.CredentialsMissing)
	}

	source, ok := c.accounts.Snapshot(c.source.Role)
	if !ok {
		return models.TransferRequest{}, apperr.Validation(fmt.Sprintf("Connect %s before transferring.", c.source.DisplayName))
	}
	if source.IntegrationToken == nil || source.AuthToken == "" {
		return models.TransferRequest{}, apperr.Validation(fmt.Sprintf("%s authorization is incomplete. Refresh the connection and try again.", c.source.DisplayName))
	}

	destination, ok := c.accounts.Snapshot(c.destination.Role)
	if !ok {
		return models.TransferRequest{}, apperr.Validation(fmt.Sprintf("Connect %s before initiating a transfer.", c.destination.DisplayName))
	}
	if destination.IntegrationToken == nil {
		return models.TransferRequest{}, apperr.Validation(fmt.Sprintf("%s authorization is incomplete. Refresh the connection and try again.", c.destination.DisplayName))
	}
	if destination.ManagedAddress == "" {
		return models.TransferRequest{}, apperr.Validation(fmt.Sprintf(
			"%s managed deposit address is unavailable. Refresh the %s connection and try again.",
			c.destination.DisplayName, c.destination.DisplayName))
	}

	amount, ok := utils.ParseAmount(amountInput)
	if !ok {
		return models.TransferRequest{}, apperr.Validation(fmt.Sprintf("Enter a valid %s amount greater than 0.", c.symbol))
	}

	return models.TransferRequest{
		NetworkID: firstNonEmpty(destination.NetworkID, c.source.NetworkID, c.source.IntegrationID),
		Address:   destination.ManagedAddress,
		Symbol:    c.symbol,
		Amount:    amount,
	}, nil
}

// CanTransfer reports whether Start would pass validation right now.
func (c *Coordinator) CanTransfer(amountInput string) bool {
	c.mu.Lock()
	busy := c.inFlight || c.closed
	c.mu.Unlock()
	if busy {
		return false
	}
	_, err := c.Validate(amountInput)
	return err == nil
}

// Start validates the preconditions, replaces any previous transfer widget and
// opens a new one with a transfer-configured link token.
func (c *Coordinator) Start(ctx context.Context, amountInput string) error {
	request, err := c.Validate(amountInput)
	if err != nil {
		c.setError(apperr.Message(err, msgStartFailed))
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrInFlight
	}
	c.inFlight = true
	c.lastError = ""
	c.completed = nil
	previous := c.link
	c.link = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	if previous != nil {
		previous.Close()
	}

	link, err := c.start(ctx, request)
	if err != nil {
		log.Error("Failed to initiate transfer: %v", err)
		if link != nil {
			c.release(link)
		}
		c.setError(apperr.Message(err, msgStartFailed))
		return err
	}
	return nil
}

func (c *Coordinator) start(ctx context.Context, request models.TransferRequest) (widget.Link, error) {
	var link widget.Link
	link = c.widgets.CreateLink(widget.Options{
		Label:                     "Transfer",
		ClientID:                  c.credentials.ClientID,
		AccessTokens:              []models.IntegrationAccessToken{},
		TransferDestinationTokens: []models.IntegrationAccessToken{},
		Events: widget.Events{
			OnTransferFinished: func(payload models.TransferFinishedPayload) {
				if c.current(link) {
					c.HandleTransferFinished(c.ctx, payload)
				}
			},
			OnExit: func(errMessage string) {
				if c.current(link) {
					c.HandleExit(errMessage)
				}
			},
		},
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		link.Close()
		return nil, ErrClosed
	}
	c.link = link
	c.mu.Unlock()

	verificationNetworkID := firstNonEmpty(c.source.NetworkID, c.source.IntegrationID)
	if request.NetworkID == "" || verificationNetworkID == "" {
		return link, apperr.Validation(msgNetworkUnknown)
	}

	linkRequest := models.LinkTokenRequest{
		UserID:                   c.credentials.UserID,
		IntegrationID:            c.source.IntegrationID,
		RestrictMultipleAccounts: false,
		DisableAPIKeyGeneration:  false,
		VerifyWalletOptions: &models.VerifyWalletOptions{
			NetworkID:           verificationNetworkID,
			VerificationMethods: []string{models.VerificationSignedMessage},
		},
		TransferOptions: &models.TransferOptions{
			ToAddresses: []models.TransferDestination{
				models.NewTransferDestination(request.NetworkID, request.Symbol, request.Address, request.Amount),
			},
			IsInclusiveFeeEnabled: false,
		},
	}

	linkToken, err := c.gateway.CreateLinkSession(ctx, linkRequest)
	if err != nil {
		return link, err
	}

	source, _ := c.accounts.Snapshot(c.source.Role)
	destination, _ := c.accounts.Snapshot(c.destination.Role)
	log.Info("Initiating transfer of %s %s from %q to %q", request.Amount.String(), request.Symbol, source.AccountLabel, destination.AccountLabel)

	if err := link.Open(ctx, linkToken); err != nil {
		return link, apperr.Widget(err.Error())
	}
	return link, nil
}

func (c *Coordinator) current(link widget.Link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.link == link
}

func (c *Coordinator) release(link widget.Link) {
	c.mu.Lock()
	if c.link == link {
		c.link = nil
	}
	c.mu.Unlock()
	link.Close()
}

func (c *Coordinator) releaseCurrent() {
	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()
	if link != nil {
		link.Close()
	}
}

func (c *Coordinator) setError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = message
}

// HandleTransferFinished records the completion, refreshes both providers once
// each and releases the transfer widget. Refresh failures are only logged.
func (c *Coordinator) HandleTransferFinished(ctx context.Context, payload models.TransferFinishedPayload) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	completed := payload
	c.completed = &completed
	c.mu.Unlock()

	log.Info("Transfer finished: %s %s (tx %s)", payload.Amount.String(), payload.Symbol, firstNonEmpty(payload.TxID, "N/A"))

	var g errgroup.Group
	for _, role := range []config.Role{c.source.Role, c.destination.Role} {
		refresh, ok := c.accounts.Refresher(role)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := refresh(ctx); err != nil {
				if errors.Is(err, connector.ErrNoAuthToken) || errors.Is(err, connector.ErrSuperseded) {
					log.Warn("Skipped %s refresh after transfer: %v", role, err)
				} else {
					log.Error("Failed to refresh %s after transfer: %v", role, err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	c.releaseCurrent()
}

// HandleExit records a non-empty widget error verbatim and releases the widget.
func (c *Coordinator) HandleExit(errMessage string) {
	if errMessage != "" {
		log.Error("Transfer link exited with error: %s", errMessage)
		c.setError(errMessage)
	}
	c.releaseCurrent()
}

// ClearError dismisses the displayed error; called whenever the amount changes.
func (c *Coordinator) ClearError() {
	c.setError("")
}

// Close releases the transfer widget and ignores any later callbacks.
func (c *Coordinator) Close() {
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
