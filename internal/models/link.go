package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// VerificationSignedMessage is the only wallet verification method requested.
const VerificationSignedMessage = "signedMessage"

type VerifyWalletOptions struct {
	NetworkID           string   `json:"networkId"`
	VerificationMethods []string `json:"verificationMethods"`
	Addresses           []string `json:"addresses,omitempty"`
}

// TransferDestination is one entry of transferOptions.toAddresses.
type TransferDestination struct {
	NetworkID string      `json:"networkId"`
	Symbol    string      `json:"symbol"`
	Address   string      `json:"address"`
	Amount    json.Number `json:"amount"`
}

// NewTransferDestination keeps the amount a JSON number on the wire.
func NewTransferDestination(networkID, symbol, address string, amount decimal.Decimal) TransferDestination {
	return TransferDestination{
		NetworkID: networkID,
		Symbol:    symbol,
		Address:   address,
		Amount:    json.Number(amount.String()),
	}
}

type TransferOptions struct {
	ToAddresses           []TransferDestination `json:"toAddresses"`
	IsInclusiveFeeEnabled bool                  `json:"isInclusiveFeeEnabled"`
}

// LinkTokenRequest is the body of POST /linktoken.
type LinkTokenRequest struct {
	UserID                   string               `json:"userId"`
	IntegrationID            string               `json:"integrationId"`
	RestrictMultipleAccounts bool                 `json:"restrictMultipleAccounts"`
	DisableAPIKeyGeneration  bool                 `json:"disableApiKeyGeneration"`
	IsInclusiveFeeEnabled    bool                 `json:"isInclusiveFeeEnabled"`
	VerifyWalletOptions      *VerifyWalletOptions `json:"verifyWalletOptions,omitempty"`
	TransferOptions          *TransferOptions     `json:"transferOptions,omitempty"`
}

// LinkTokenResponse accepts both the flat and the content-wrapped shapes.
type LinkTokenResponse struct {
	LinkToken     string `json:"linkToken"`
	Expiration    string `json:"expiration,omitempty"`
	UserID        string `json:"userId,omitempty"`
	IntegrationID string `json:"integrationId,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
	Content       *struct {
		LinkToken string `json:"linkToken"`
	} `json:"content,omitempty"`
}

// Token returns the top-level link token, falling back to content.linkToken.
func (r LinkTokenResponse) Token() string {
	if r.LinkToken != "" {
		return r.LinkToken
	}
	if r.Content != nil {
		return r.Content.LinkToken
	}
	return ""
}
