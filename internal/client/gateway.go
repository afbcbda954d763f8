package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kelsos/mesh-link/internal/apperr"
	"github.com/kelsos/mesh-link/internal/models"
)

// linkErrorFields are checked in order when decoding a failed link session response.
var linkErrorFields = []string{"message", "error", "errorMessage"}

// DecodeLinkSessionError extracts the first non-empty message|error|errorMessage
// string from a JSON body, falling back to the raw body and then to fallback.
func DecodeLinkSessionError(body []byte, fallback string) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, field := range linkErrorFields {
			if candidate, ok := parsed[field].(string); ok && strings.TrimSpace(candidate) != "" {
				return strings.TrimSpace(candidate)
			}
		}
	}

	if text := string(body); text != "" {
		return text
	}
	return fallback
}

// rawBodyDecoder uses the response text, or a status message when it is empty.
func rawBodyDecoder(label string) errorDecoder {
	return func(status int, body []byte) string {
		if text := string(body); text != "" {
			return text
		}
		return fmt.Sprintf("%s request failed (%d)", label, status)
	}
}

// CreateLinkSession requests a link token for the given configuration.
func (c *APIClient) CreateLinkSession(ctx context.Context, request models.LinkTokenRequest) (string, error) {
	if err := c.requireClient(); err != nil {
		return "", err
	}

	session := "Mesh session"
	if request.TransferOptions != nil {
		session = "transfer session"
	}
	decode := func(status int, body []byte) string {
		return DecodeLinkSessionError(body, fmt.Sprintf("Unable to start %s (status %d).", session, status))
	}

	var response models.LinkTokenResponse
	if err := c.post(ctx, EndpointLinkToken, request, &response, decode); err != nil {
		return "", apperr.SessionRequest(messageOf(err), err)
	}

	token := response.Token()
	if token == "" {
		return "", apperr.SessionRequest("Link token missing from response payload", nil)
	}

	log.Debug("Link token issued for integration %s (expires %s)", request.IntegrationID, response.ExpiresAt)
	return token, nil
}

// GetHoldings fetches holdings for an auth token. Crypto positions come first,
// then equity positions, each in upstream order with nil entries dropped.
func (c *APIClient) GetHoldings(ctx context.Context, authToken, brokerType string) (models.HoldingsResult, error) {
	if err := c.requireClient(); err != nil {
		return models.HoldingsResult{}, err
	}

	request := models.HoldingsRequest{AuthToken: authToken, Type: brokerType}

	var response models.HoldingsResponse
	if err := c.post(ctx, EndpointHoldings, request, &response, rawBodyDecoder("Holdings")); err != nil {
		return models.HoldingsResult{}, apperr.DataFetch(messageOf(err), err)
	}

	return flattenHoldings(response.Content), nil
}

func flattenHoldings(content *models.HoldingsContent) models.HoldingsResult {
	result := models.HoldingsResult{Positions: []models.HoldingPosition{}}
	if content == nil {
		return result
	}

	for _, group := range [][]*models.HoldingPosition{content.CryptocurrencyPositions, content.EquityPositions} {
		for _, position := range group {
			if position == nil {
				continue
			}
			result.Positions = append(result.Positions, *position)
		}
	}
	result.InstitutionName = content.InstitutionName
	return result
}

// ManagedAddressQuery identifies the deposit address to resolve. Cached is
// returned unchanged when NetworkID or Symbol is unknown.
type ManagedAddressQuery struct {
	AuthToken  string
	BrokerType string
	NetworkID  string
	Symbol     string
	Cached     string
}

// Skipped reports whether the query lacks the network/asset pair needed for a lookup.
func (q ManagedAddressQuery) Skipped() bool {
	return q.NetworkID == "" || q.Symbol == ""
}

// GetManagedAddress resolves the provider-custodied deposit address.
func (c *APIClient) GetManagedAddress(ctx context.Context, query ManagedAddressQuery) (string, error) {
	if err := c.requireClient(); err != nil {
		return "", err
	}

	if query.Skipped() {
		return query.Cached, nil
	}

	request := models.ManagedAddressRequest{
		AuthToken: query.AuthToken,
		Type:      query.BrokerType,
		NetworkID: query.NetworkID,
		Symbol:    query.Symbol,
	}

	var response models.ManagedAddressResponse
	if err := c.post(ctx, EndpointManagedAddress, request, &response, rawBodyDecoder("Managed address")); err != nil {
		return "", apperr.DataFetch(messageOf(err), err)
	}

	if response.Content == nil || response.Content.Address == "" {
		return "", apperr.DataFetch("Managed address missing from response payload", nil)
	}

	return response.Content.Address, nil
}
