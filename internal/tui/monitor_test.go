package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/services"
	"github.com/kelsos/mesh-link/internal/widget"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	return NewModel(services.NewLinkService(cfg))
}

func typeRunes(m Model, s string) Model {
	for _, r := range s {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = updated.(Model)
	}
	return m
}

func TestModel_AmountAcceptsDigitsAndDot(t *testing.T) {
	m := typeRunes(newTestModel(t), "1x0.5")
	if got := m.amount.Value(); got != "10.5" {
		t.Fatalf("amount = %q, want %q", got, "10.5")
	}
}

func TestModel_ViewShowsPanels(t *testing.T) {
	m := newTestModel(t)
	view := m.View()
	for _, want := range []string{
		"Transfer coins from MetaMask to Binance",
		"MetaMask connection required",
		"Binance connection required",
		"Not available yet",
		"Credentials configured",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_LogsAreBounded(t *testing.T) {
	m := newTestModel(t)
	for i := 0; i < maxLogLines+5; i++ {
		updated, _ := m.Update(ActionDone{Action: "Refresh", Err: errors.New("boom")})
		m = updated.(Model)
	}
	if len(m.logs) != maxLogLines {
		t.Fatalf("expected %d log lines, got %d", maxLogLines, len(m.logs))
	}
	if !strings.Contains(m.logs[0], "Refresh failed: boom") {
		t.Fatalf("unexpected log line %q", m.logs[0])
	}
}

func TestModel_LinkOpenedIsListedOnce(t *testing.T) {
	m := newTestModel(t)
	opened := widget.Opened{SessionID: "s1", Label: "MetaMask", RelayURL: "http://127.0.0.1/link/s1"}
	for i := 0; i < 2; i++ {
		updated, _ := m.Update(LinkOpened{Opened: opened})
		m = updated.(Model)
	}
	if len(m.order) != 1 {
		t.Fatalf("expected one session entry, got %v", m.order)
	}
	if !strings.Contains(m.View(), opened.RelayURL) {
		t.Fatalf("view does not list the relay URL")
	}
}

func TestModel_QuitKey(t *testing.T) {
	updated, cmd := newTestModel(t).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if !updated.(Model).quit || cmd == nil {
		t.Fatalf("expected quit")
	}
}

func TestModel_RejectedTransferShowsValidationMessage(t *testing.T) {
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	cfg.Credentials = config.Credentials{ClientID: "id", ClientSecret: "secret", UserID: "user"}
	m := typeRunes(NewModel(services.NewLinkService(cfg)), "10")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if cmd != nil {
		t.Fatalf("a rejected transfer must not start any action")
	}
	if m.validation != "Connect MetaMask before transferring." {
		t.Fatalf("unexpected validation message %q", m.validation)
	}
	if !strings.Contains(m.View(), "Connect MetaMask before transferring.") {
		t.Fatalf("view does not show the validation message")
	}

	m = typeRunes(m, "5")
	if m.validation != "" {
		t.Fatalf("editing the amount should clear the message, got %q", m.validation)
	}
}
