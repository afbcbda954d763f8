package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type HoldingDistribution struct {
	CaipNetworkID string           `json:"caipNetworkId,omitempty"`
	Address       string           `json:"address,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// HoldingPosition is a single balance line. Fields the gateway sends that are
// not modelled here are kept in Extra and written back on marshal.
type HoldingPosition struct {
	Name         string                     `json:"name,omitempty"`
	Symbol       string                     `json:"symbol,omitempty"`
	Amount       *decimal.Decimal           `json:"amount,omitempty"`
	FiatAmount   *decimal.Decimal           `json:"fiatAmount,omitempty"`
	FiatCurrency string                     `json:"fiatCurrency,omitempty"`
	Distribution []HoldingDistribution      `json:"distribution,omitempty"`
	Extra        map[string]json.RawMessage `json:"-"`
}

var holdingPositionFields = []string{"name", "symbol", "amount", "fiatAmount", "fiatCurrency", "distribution"}

type holdingPositionAlias HoldingPosition

func (p *HoldingPosition) UnmarshalJSON(data []byte) error {
	var known holdingPositionAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, field := range holdingPositionFields {
		delete(raw, field)
	}
	if len(raw) > 0 {
		known.Extra = raw
	}

	*p = HoldingPosition(known)
	return nil
}

func (p HoldingPosition) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(holdingPositionAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(p.Extra)+len(holdingPositionFields))
	for k, v := range p.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// DisplaySymbol is the identity shown for a position: symbol, then name, then "Asset".
func (p HoldingPosition) DisplaySymbol() string {
	if p.Symbol != "" {
		return p.Symbol
	}
	if p.Name != "" {
		return p.Name
	}
	return "Asset"
}

type HoldingsContent struct {
	CryptocurrencyPositions []*HoldingPosition `json:"cryptocurrencyPositions,omitempty"`
	EquityPositions         []*HoldingPosition `json:"equityPositions,omitempty"`
	AccountName             string             `json:"accountName,omitempty"`
	InstitutionName         string             `json:"institutionName,omitempty"`
	Type                    string             `json:"type,omitempty"`
	AccountID               string             `json:"accountId,omitempty"`
	Status                  string             `json:"status,omitempty"`
	DisplayMessage          string             `json:"displayMessage,omitempty"`
	ErrorMessage            string             `json:"errorMessage,omitempty"`
}

type HoldingsRequest struct {
	AuthToken string `json:"authToken"`
	Type      string `json:"type,omitempty"`
}

type HoldingsResponse = Envelope[*HoldingsContent]

// HoldingsResult is the flattened view returned by the gateway client.
type HoldingsResult struct {
	Positions       []HoldingPosition
	InstitutionName string
}

type ManagedAddressRequest struct {
	AuthToken string `json:"authToken"`
	Type      string `json:"type,omitempty"`
	NetworkID string `json:"networkId"`
	Symbol    string `json:"symbol"`
}

type ManagedAddressContent struct {
	Address string `json:"address"`
}

type ManagedAddressResponse = Envelope[*ManagedAddressContent]
