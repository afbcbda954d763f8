package transfer

import (
	"fmt"

	"github.com/kelsos/mesh-link/internal/models"
	"github.com/kelsos/mesh-link/internal/utils"
)

const addressUnavailable = "Not available yet"

// View is what the transfer panel renders.
type View struct {
	Title          string
	Symbol         string
	Error          string
	InFlight       bool
	Source         string
	Destination    string
	DepositAddress string
	Completed      *models.TransferFinishedPayload
}

func (c *Coordinator) View() View {
	c.mu.Lock()
	view := View{
		Title:    fmt.Sprintf("Transfer coins from %s to %s", c.source.DisplayName, c.destination.DisplayName),
		Symbol:   c.symbol,
		Error:    c.lastError,
		InFlight: c.inFlight,
	}
	if c.completed != nil {
		completed := *c.completed
		view.Completed = &completed
	}
	c.mu.Unlock()

	view.Source = fmt.Sprintf("%s connection required", c.source.DisplayName)
	if source, ok := c.accounts.Snapshot(c.source.Role); ok {
		view.Source = source.AccountLabel
	}

	view.Destination = fmt.Sprintf("%s connection required", c.destination.DisplayName)
	view.DepositAddress = addressUnavailable
	if destination, ok := c.accounts.Snapshot(c.destination.Role); ok {
		view.Destination = destination.AccountLabel
		if destination.ManagedAddress != "" {
			view.DepositAddress = destination.ManagedAddress
		}
	}
	return view
}

// CompletionLines renders the details of a finished transfer.
func CompletionLines(payload models.TransferFinishedPayload) []string {
	txID := payload.TxID
	if txID == "" {
		txID = "N/A"
	}
	lines := []string{
		fmt.Sprintf("Amount: %s %s", payload.Amount.String(), payload.Symbol),
		fmt.Sprintf("Tx ID: %s", txID),
	}
	if payload.TxHash != "" {
		lines = append(lines, fmt.Sprintf("Tx Hash: %s", payload.TxHash))
	}
	lines = append(lines, fmt.Sprintf("To: %s", payload.ToAddress))
	return lines
}

// Check is one transfer precondition and whether it currently holds.
type Check struct {
	Label string
	Done  bool
}

// Checklist reports every transfer precondition in validation order.
func (c *Coordinator) Checklist(amountInput string) []Check {
	source, sourceOK := c.accounts.Snapshot(c.source.Role)
	destination, destinationOK := c.accounts.Snapshot(c.destination.Role)
	_, amountOK := utils.ParseAmount(amountInput)

	return []Check{
		{Label: "Credentials configured", Done: c.credentials.Complete()},
		{Label: fmt.Sprintf("%s connected", c.source.DisplayName), Done: sourceOK && source.IntegrationToken != nil && source.AuthToken != ""},
		{Label: fmt.Sprintf("%s connected", c.destination.DisplayName), Done: destinationOK && destination.IntegrationToken != nil},
		{Label: fmt.Sprintf("%s deposit address", c.destination.DisplayName), Done: destinationOK && destination.ManagedAddress != ""},
		{Label: fmt.Sprintf("Valid %s amount", c.symbol), Done: amountOK},
	}
}
