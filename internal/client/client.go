package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kelsos/mesh-link/internal/apperr"
	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/logger"
)

const (
	EndpointLinkToken      = "/linktoken"
	EndpointHoldings       = "/holdings/get"
	EndpointManagedAddress = "/transfers/managed/address/get"

	maxResponseBodyBytes = 1 << 20
)

var log = logger.With("gateway")

// httpError carries a non-2xx response after the endpoint-specific decoder
// has turned the body into a message.
type httpError struct {
	StatusCode int
	Message    string
}

func (e *httpError) Error() string {
	return e.Message
}

// errorDecoder turns a failed response into the message shown to the user.
type errorDecoder func(status int, body []byte) string

// APIClient handles all HTTP communication with the Mesh integration API
type APIClient struct {
	config     *config.Config
	httpClient *http.Client
}

// NewAPIClient creates a new API client with the given configuration
func NewAPIClient(cfg *config.Config) *APIClient {
	return &APIClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}
}

// BuildURL constructs a full URL for the given endpoint
func (c *APIClient) BuildURL(endpoint string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + endpoint
}

// requireClient fails before any I/O when the client identifier or secret is missing.
func (c *APIClient) requireClient() error {
	if !c.config.Credentials.HasClient() {
		return apperr.Configuration(apperr.CredentialsMissing)
	}
	return nil
}

// post is the core HTTP request method. Every gateway call is a JSON POST
// carrying the client credential headers.
func (c *APIClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}, decode errorDecoder) error {
	url := c.BuildURL(endpoint)
	requestID := uuid.NewString()
	start := time.Now()
	log.Debug("Starting POST request %s to %s", requestID, url)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", c.config.Credentials.ClientID)
	req.Header.Set("X-Client-Secret", c.config.Credentials.ClientSecret)
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		elapsed := time.Since(start)
		log.Error("Request %s to %s failed after %v: %v", requestID, url, elapsed, err)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	log.Debug("Request %s to %s completed in %v with status %d", requestID, url, elapsed, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		log.Error("%s: HTTP error %d: %s", url, resp.StatusCode, string(bodyBytes))
		return &httpError{StatusCode: resp.StatusCode, Message: decode(resp.StatusCode, bodyBytes)}
	}

	if result != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(result); err != nil {
			log.Error("%s: Error decoding response: %v", url, err)
			return fmt.Errorf("error decoding response: %w", err)
		}
	}

	return nil
}

// messageOf returns the decoded HTTP message when err is an HTTP failure, or
// the plain error text otherwise.
func messageOf(err error) string {
	if httpErr, ok := err.(*httpError); ok {
		return httpErr.Message
	}
	return err.Error()
}
