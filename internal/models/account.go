package models

import "github.com/shopspring/decimal"

// IntegrationAccessToken is the durable credential needed to build later transfer requests.
type IntegrationAccessToken struct {
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	AccessToken string `json:"accessToken"`
	BrokerType  string `json:"brokerType"`
	BrokerName  string `json:"brokerName"`
}

type Account struct {
	AccountID   string `json:"accountId,omitempty"`
	AccountName string `json:"accountName,omitempty"`
}

type AccountToken struct {
	Account     Account `json:"account"`
	AccessToken string  `json:"accessToken"`
}

type AccessTokenPayload struct {
	BrokerType    string         `json:"brokerType,omitempty"`
	BrokerName    string         `json:"brokerName,omitempty"`
	AccountTokens []AccountToken `json:"accountTokens,omitempty"`
}

// LinkPayload is delivered by the widget when an integration connects.
type LinkPayload struct {
	AccessToken *AccessTokenPayload `json:"accessToken,omitempty"`
}

// PrimaryAccount returns the first account token, if any.
func (p LinkPayload) PrimaryAccount() (AccountToken, bool) {
	if p.AccessToken == nil || len(p.AccessToken.AccountTokens) == 0 {
		return AccountToken{}, false
	}
	return p.AccessToken.AccountTokens[0], true
}

// TransferFinishedPayload is delivered by the widget when a transfer completes.
type TransferFinishedPayload struct {
	Status      string          `json:"status,omitempty"`
	TxID        string          `json:"txId,omitempty"`
	TxHash      string          `json:"txHash,omitempty"`
	FromAddress string          `json:"fromAddress,omitempty"`
	ToAddress   string          `json:"toAddress,omitempty"`
	Symbol      string          `json:"symbol,omitempty"`
	NetworkID   string          `json:"networkId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// ProviderSnapshot is the normalized state a connector publishes. An empty
// string means the value is absent.
type ProviderSnapshot struct {
	AuthToken        string
	BrokerType       string
	BrokerName       string
	AccountLabel     string
	IntegrationToken *IntegrationAccessToken
	ManagedAddress   string
	NetworkID        string
}

// Clone returns a copy that shares no pointers with the receiver.
func (s ProviderSnapshot) Clone() ProviderSnapshot {
	if s.IntegrationToken != nil {
		token := *s.IntegrationToken
		s.IntegrationToken = &token
	}
	return s
}

// TransferRequest is built once every transfer precondition holds.
type TransferRequest struct {
	NetworkID string
	Address   string
	Symbol    string
	Amount    decimal.Decimal
}
