// Package widget models the external linking widget as an opaque actor:
// it can be opened with a link token and closed, and it reports back through
// a fixed set of callbacks that may fire on any goroutine.
package widget

import (
	"context"
	"errors"

	"github.com/kelsos/mesh-link/internal/models"
)

var (
	ErrAlreadyOpened = errors.New("widget: link session already opened")
	ErrClosed        = errors.New("widget: link is closed")
	ErrEmptyToken    = errors.New("widget: link token is empty")
)

// Events are the callbacks a widget session emits. Any of them may be nil.
type Events struct {
	OnIntegrationConnected func(payload models.LinkPayload)
	OnTransferFinished     func(payload models.TransferFinishedPayload)
	// OnExit receives the widget's error text, or "" on a clean exit.
	OnExit func(errMessage string)
}

// Options configures a single widget instance.
type Options struct {
	// Label names the session in logs and in the open notification.
	Label                     string
	ClientID                  string
	AccessTokens              []models.IntegrationAccessToken
	TransferDestinationTokens []models.IntegrationAccessToken
	Events                    Events
}

// Link is one widget instance. A link opens at most one token.
type Link interface {
	Open(ctx context.Context, linkToken string) error
	Close()
}

// Factory creates widget instances.
type Factory interface {
	CreateLink(opts Options) Link
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(opts Options) Link

func (f FactoryFunc) CreateLink(opts Options) Link {
	return f(opts)
}
