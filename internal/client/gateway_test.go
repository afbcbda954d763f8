package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kelsos/mesh-link/internal/apperr"
	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*APIClient, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := config.NewConfig()
	cfg.BaseURL = server.URL
	cfg.Credentials = config.Credentials{ClientID: "client", ClientSecret: "secret", UserID: "user"}
	return NewAPIClient(cfg), &calls
}

func TestCreateLinkSession_SendsHeadersAndBody(t *testing.T) {
	var received models.LinkTokenRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointLinkToken || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Client-Id") != "client" || r.Header.Get("X-Client-Secret") != "secret" {
			t.Errorf("missing credential headers: %v", r.Header)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Errorf("missing request id")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"linkToken":"lt_1","expiresAt":"2026-01-01T00:00:00Z"}`)
	})

	token, err := client.CreateLinkSession(context.Background(), models.LinkTokenRequest{
		UserID:                "user",
		IntegrationID:         "metamask",
		IsInclusiveFeeEnabled: true,
	})
	if err != nil {
		t.Fatalf("create link session: %v", err)
	}
	if token != "lt_1" {
		t.Fatalf("unexpected token %q", token)
	}
	if received.IntegrationID != "metamask" || !received.IsInclusiveFeeEnabled {
		t.Fatalf("unexpected request body %+v", received)
	}
}

func TestCreateLinkSession_NestedToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"content":{"linkToken":"nested"}}`)
	})

	token, err := client.CreateLinkSession(context.Background(), models.LinkTokenRequest{})
	if err != nil {
		t.Fatalf("create link session: %v", err)
	}
	if token != "nested" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestCreateLinkSession_MissingToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"content":{}}`)
	})

	_, err := client.CreateLinkSession(context.Background(), models.LinkTokenRequest{})
	if !errors.Is(err, apperr.ErrSessionRequest) {
		t.Fatalf("expected session request error, got %v", err)
	}
	if err.Error() != "Link token missing from response payload" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCreateLinkSession_ErrorDecoding(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		transfer bool
		want     string
	}{
		{"message field", 400, `{"message":"  bad user  "}`, false, "bad user"},
		{"error field", 400, `{"error":"invalid integration"}`, false, "invalid integration"},
		{"errorMessage field", 422, `{"errorMessage":"amount too low"}`, true, "amount too low"},
		{"message wins over error", 400, `{"message":"first","error":"second"}`, false, "first"},
		{"blank message falls through", 400, `{"message":"   ","error":"second"}`, false, "second"},
		{"json without fields uses raw body", 500, `{"code":7}`, false, `{"code":7}`},
		{"plain text body", 502, "upstream down", false, "upstream down"},
		{"empty body", 503, "", false, "Unable to start Mesh session (status 503)."},
		{"empty body transfer", 503, "", true, "Unable to start transfer session (status 503)."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})

			req := models.LinkTokenRequest{}
			if tc.transfer {
				req.TransferOptions = &models.TransferOptions{}
			}
			_, err := client.CreateLinkSession(context.Background(), req)
			if err == nil {
				t.Fatalf("expected error")
			}
			if apperr.KindOf(err) != apperr.KindSessionRequest {
				t.Fatalf("unexpected kind %q", apperr.KindOf(err))
			}
			if err.Error() != tc.want {
				t.Fatalf("got %q, want %q", err.Error(), tc.want)
			}
		})
	}
}

func TestCredentialGateSkipsNetwork(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	client.config.Credentials.ClientSecret = ""

	ctx := context.Background()
	if _, err := client.CreateLinkSession(ctx, models.LinkTokenRequest{}); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := client.GetHoldings(ctx, "tok", ""); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := client.GetManagedAddress(ctx, ManagedAddressQuery{AuthToken: "tok", NetworkID: "n", Symbol: "USDC"}); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("expected no requests, got %d", *calls)
	}
}

func TestGetHoldings_OrdersCryptoBeforeEquity(t *testing.T) {
	var received models.HoldingsRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointHoldings {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = io.WriteString(w, `{"content":{
			"equityPositions":[{"symbol":"AAPL"},null,{"symbol":"MSFT"}],
			"cryptocurrencyPositions":[{"symbol":"ETH","amount":1.5},null,{"symbol":"BTC"},{"symbol":"ETH","amount":0.1}],
			"institutionName":"MetaMask"}}`)
	})

	result, err := client.GetHoldings(context.Background(), "tok_A", "metamask")
	if err != nil {
		t.Fatalf("get holdings: %v", err)
	}
	if received.AuthToken != "tok_A" || received.Type != "metamask" {
		t.Fatalf("unexpected request %+v", received)
	}

	var symbols []string
	for _, p := range result.Positions {
		symbols = append(symbols, p.Symbol)
	}
	want := []string{"ETH", "BTC", "ETH", "AAPL", "MSFT"}
	if len(symbols) != len(want) {
		t.Fatalf("got %v, want %v", symbols, want)
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Fatalf("got %v, want %v", symbols, want)
		}
	}
	if result.InstitutionName != "MetaMask" {
		t.Fatalf("unexpected institution %q", result.InstitutionName)
	}
}

func TestGetHoldings_EmptyContent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	result, err := client.GetHoldings(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("get holdings: %v", err)
	}
	if result.Positions == nil || len(result.Positions) != 0 {
		t.Fatalf("expected empty non-nil positions, got %#v", result.Positions)
	}
}

func TestGetHoldings_ErrorUsesRawBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"token expired"}`)
	})

	_, err := client.GetHoldings(context.Background(), "tok", "")
	if !errors.Is(err, apperr.ErrDataFetch) {
		t.Fatalf("expected data fetch error, got %v", err)
	}
	if err.Error() != `{"message":"token expired"}` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestGetHoldings_ErrorWithEmptyBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetHoldings(context.Background(), "tok", "")
	if err == nil || err.Error() != "Holdings request failed (500)" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestGetManagedAddress(t *testing.T) {
	var received models.ManagedAddressRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointManagedAddress {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = io.WriteString(w, `{"content":{"address":"0xDEAD"}}`)
	})

	address, err := client.GetManagedAddress(context.Background(), ManagedAddressQuery{
		AuthToken:  "tok_B",
		BrokerType: "binance",
		NetworkID:  "eth-mainnet",
		Symbol:     "USDC",
	})
	if err != nil {
		t.Fatalf("get managed address: %v", err)
	}
	if address != "0xDEAD" {
		t.Fatalf("unexpected address %q", address)
	}
	want := models.ManagedAddressRequest{AuthToken: "tok_B", Type: "binance", NetworkID: "eth-mainnet", Symbol: "USDC"}
	if received != want {
		t.Fatalf("got %+v, want %+v", received, want)
	}
}

func TestGetManagedAddress_SkipsWithoutNetworkOrSymbol(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})

	queries := []ManagedAddressQuery{
		{AuthToken: "tok", Symbol: "USDC", Cached: "0xCACHED"},
		{AuthToken: "tok", NetworkID: "eth-mainnet", Cached: "0xCACHED"},
	}
	for _, q := range queries {
		address, err := client.GetManagedAddress(context.Background(), q)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if address != "0xCACHED" {
			t.Fatalf("expected cached address, got %q", address)
		}
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("expected no requests, got %d", *calls)
	}
}

func TestGetManagedAddress_MissingAddress(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"content":{}}`)
	})

	_, err := client.GetManagedAddress(context.Background(), ManagedAddressQuery{AuthToken: "tok", NetworkID: "n", Symbol: "USDC"})
	if err == nil || err.Error() != "Managed address missing from response payload" {
		t.Fatalf("unexpected error %v", err)
	}
}
