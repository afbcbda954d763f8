package connector

import "github.com/kelsos/mesh-link/internal/models"

type State int

const (
	Idle State = iota
	RequestingSession
	SessionOpen
	Connected
	Refreshing
	LinkError
	DataError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingSession:
		return "requesting session"
	case SessionOpen:
		return "session open"
	case Connected:
		return "connected"
	case Refreshing:
		return "refreshing"
	case LinkError:
		return "link error"
	case DataError:
		return "data error"
	default:
		return "unknown"
	}
}

// View is a read-only copy of what a provider panel displays.
type View struct {
	Name            string
	State           State
	Connected       bool
	AccountLabel    string
	Institution     string
	Holdings        []models.HoldingPosition
	ManagedAddress  string
	LinkError       string
	HoldingsError   string
	AddressError    string
	Linking         bool
	LoadingHoldings bool
	LoadingAddress  bool
}

// View copies the connector state for rendering.
func (c *Connector) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	holdings := make([]models.HoldingPosition, len(c.holdings))
	copy(holdings, c.holdings)

	return View{
		Name:            c.provider.DisplayName,
		State:           c.state,
		Connected:       c.authToken != "",
		AccountLabel:    c.accountLabel,
		Institution:     c.institution,
		Holdings:        holdings,
		ManagedAddress:  c.managedAddress,
		LinkError:       c.linkError,
		HoldingsError:   c.holdingsError,
		AddressError:    c.addressError,
		Linking:         c.state == RequestingSession,
		LoadingHoldings: c.loadingHoldings,
		LoadingAddress:  c.loadingAddress,
	}
}

// ClearLinkError dismisses the link error shown to the user.
func (c *Connector) ClearLinkError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linkError = ""
	if c.state == LinkError {
		if c.authToken != "" {
			c.state = Connected
		} else {
			c.state = Idle
		}
	}
}
