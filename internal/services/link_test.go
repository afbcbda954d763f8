package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kelsos/mesh-link/internal/client"
	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/models"
	"github.com/kelsos/mesh-link/internal/widget"
)

type fakeMesh struct {
	mu            sync.Mutex
	linkRequests  []map[string]interface{}
	holdingsCalls int
}

func (m *fakeMesh) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(client.EndpointLinkToken, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode link request: %v", err)
		}
		m.mu.Lock()
		m.linkRequests = append(m.linkRequests, body)
		m.mu.Unlock()
		_, _ = w.Write([]byte(`{"content":{"linkToken":"lt_` + body["integrationId"].(string) + `"}}`))
	})
	mux.HandleFunc(client.EndpointHoldings, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.holdingsCalls++
		m.mu.Unlock()
		_, _ = w.Write([]byte(`{"content":{"cryptocurrencyPositions":[{"symbol":"USDC","amount":25}],"institutionName":"Mesh Test"}}`))
	})
	mux.HandleFunc(client.EndpointManagedAddress, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":{"address":"0xDEAD"}}`))
	})
	return mux
}

func (m *fakeMesh) holdings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdingsCalls
}

func newTestService(t *testing.T) (*LinkService, *fakeMesh, <-chan widget.Opened) {
	t.Helper()
	mesh := &fakeMesh{}
	gateway := httptest.NewServer(mesh.handler(t))
	t.Cleanup(gateway.Close)

	cfg := config.NewConfig()
	cfg.Credentials = config.Credentials{ClientID: "id", ClientSecret: "secret", UserID: "user"}
	cfg.BaseURL = gateway.URL
	cfg.HTTPTimeout = 5 * time.Second
	cfg.RelayAddr = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()
	cfg.Exchange.NetworkID = "net-eth"

	svc := NewLinkService(cfg)
	opened := make(chan widget.Opened, 4)
	svc.OnLinkOpened(func(o widget.Opened) { opened <- o })

	if err := svc.Start(); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, mesh, opened
}

func postEvent(t *testing.T, opened widget.Opened, body string) {
	t.Helper()
	resp, err := http.Post(opened.RelayURL+"/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected event status %d", resp.StatusCode)
	}
}

func nextOpened(t *testing.T, opened <-chan widget.Opened) widget.Opened {
	t.Helper()
	select {
	case o := <-opened:
		return o
	case <-time.After(5 * time.Second):
		t.Fatalf("no widget session opened")
		return widget.Opened{}
	}
}

func connect(t *testing.T, ctx context.Context, svc *LinkService, opened <-chan widget.Opened, role config.Role, event string) models.ProviderSnapshot {
	t.Helper()
	if err := svc.Connect(ctx, role); err != nil {
		t.Fatalf("connect %s: %v", role, err)
	}
	postEvent(t, nextOpened(t, opened), event)

	snapshot, err := svc.WaitForSnapshot(ctx, role, nil)
	if err != nil {
		t.Fatalf("wait for %s snapshot: %v", role, err)
	}
	return snapshot
}

func TestLinkService_ConnectBothAndTransfer(t *testing.T) {
	svc, mesh, opened := newTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wallet := connect(t, ctx, svc, opened, config.RoleWallet,
		`{"type":"integrationConnected","payload":{"accessToken":{"brokerName":"MetaMask","accountTokens":[{"account":{"accountName":"Wallet A"},"accessToken":"tok_A"}]}}}`)
	if wallet.AccountLabel != "Wallet A" || wallet.AuthToken != "tok_A" {
		t.Fatalf("unexpected wallet snapshot %+v", wallet)
	}

	exchange := connect(t, ctx, svc, opened, config.RoleExchange,
		`{"type":"integrationConnected","payload":{"accessToken":{"brokerType":"binance","accountTokens":[{"account":{"accountName":"Main"},"accessToken":"tok_B"}]}}}`)
	if exchange.ManagedAddress != "0xDEAD" || exchange.NetworkID != "net-eth" {
		t.Fatalf("unexpected exchange snapshot %+v", exchange)
	}

	if _, err := os.Stat(filepath.Join(svc.GetConfig().DataDir, "mesh-link-token-metamask.json")); err != nil {
		t.Fatalf("link token was not cached: %v", err)
	}

	if !svc.Transfer().CanTransfer("10") {
		t.Fatalf("transfer should be enabled once both providers are linked")
	}
	if err := svc.Transfer().Start(ctx, "10"); err != nil {
		t.Fatalf("start transfer: %v", err)
	}
	transferSession := nextOpened(t, opened)

	mesh.mu.Lock()
	last := mesh.linkRequests[len(mesh.linkRequests)-1]
	mesh.mu.Unlock()
	if _, ok := last["transferOptions"]; !ok || last["integrationId"] != "metamask" {
		t.Fatalf("unexpected transfer link request %v", last)
	}

	before := mesh.holdings()
	postEvent(t, transferSession, `{"type":"transferFinished","payload":{"status":"success","txId":"tx-1","symbol":"USDC","amount":10,"toAddress":"0xDEAD"}}`)
	postEvent(t, transferSession, `{"type":"exit"}`)

	payload, err := svc.WaitForTransfer(ctx)
	if err != nil {
		t.Fatalf("wait for transfer: %v", err)
	}
	if payload.TxID != "tx-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	svc.Relay().Wait()
	if got := mesh.holdings() - before; got != 2 {
		t.Fatalf("expected both providers refreshed once, got %d holdings calls", got)
	}
}

func TestLinkService_UnknownRole(t *testing.T) {
	svc := NewLinkService(config.NewConfig())
	if _, err := svc.Connector(config.Role("bank")); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
