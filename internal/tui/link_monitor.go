package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/logger"
	"github.com/kelsos/mesh-link/internal/models"
	"github.com/kelsos/mesh-link/internal/services"
	"github.com/kelsos/mesh-link/internal/widget"
)

type LinkMonitor struct {
	linkService *services.LinkService
	program     *tea.Program
	options     []tea.ProgramOption
}

// NewLinkMonitor creates a monitor for linkService. Extra program options are
// applied after the alternate screen option.
func NewLinkMonitor(linkService *services.LinkService, options ...tea.ProgramOption) *LinkMonitor {
	return &LinkMonitor{
		linkService: linkService,
		options:     options,
	}
}

// Start begins serving the widget relay and prepares the program. Nothing is
// sent to the program until Run starts its event loop.
func (lm *LinkMonitor) Start() error {
	if err := lm.linkService.Start(); err != nil {
		return err
	}

	options := append([]tea.ProgramOption{tea.WithAltScreen()}, lm.options...)
	lm.program = tea.NewProgram(lm.initialModel(), options...)

	lm.linkService.OnLinkOpened(func(opened widget.Opened) {
		lm.program.Send(LinkOpened{Opened: opened})
	})
	lm.linkService.Registry().Subscribe(func(role config.Role, snapshot models.ProviderSnapshot) {
		lm.program.Send(SnapshotPublished{Role: role, Label: snapshot.AccountLabel})
	})

	return nil
}

func (lm *LinkMonitor) initialModel() Model {
	cfg := lm.linkService.GetConfig()
	model := NewModel(lm.linkService)
	model = model.appendLog(fmt.Sprintf("Relay listening on %s", lm.linkService.Relay().BaseURL()))
	model = model.appendLog(fmt.Sprintf("Press w to connect %s, e to connect %s", cfg.Wallet.DisplayName, cfg.Exchange.DisplayName))
	return model
}

func (lm *LinkMonitor) Stop() {
	if lm.program != nil {
		lm.program.Quit()
	}
}

// AddLog blocks until the running program accepts the line.
func (lm *LinkMonitor) AddLog(message string) {
	if lm.program != nil {
		lm.program.Send(LogMessage{
			Message: message,
		})
	}
}

func (lm *LinkMonitor) Run() error {
	logger.Info("Link monitor started")

	// Blocks until quit
	if _, err := lm.program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}

	return nil
}
