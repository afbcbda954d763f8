package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kelsos/mesh-link/internal/apperr"
	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/connector"
	"github.com/kelsos/mesh-link/internal/services"
	"github.com/kelsos/mesh-link/internal/transfer"
	"github.com/kelsos/mesh-link/internal/utils"
	"github.com/kelsos/mesh-link/internal/widget"
)

const (
	maxLogLines   = 10
	actionTimeout = 2 * time.Minute
)

type Model struct {
	service  *services.LinkService
	sessions map[string]widget.Opened
	order    []string
	logs     []string
	amount   textinput.Model
	spinner  spinner.Model
	progress progress.Model

	// validation is the inline message shown after a rejected transfer attempt.
	validation string
	width      int
	height     int
	quit       bool
}

// LinkOpened reports a widget session the user should visit.
type LinkOpened struct {
	Opened widget.Opened
}

// SnapshotPublished reports that a provider published new account data.
type SnapshotPublished struct {
	Role  config.Role
	Label string
}

type LogMessage struct {
	Message string
}

// ActionDone reports the result of a connect, refresh or transfer action.
type ActionDone struct {
	Action string
	Err    error
}

func NewModel(service *services.LinkService) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	pr := progress.New(progress.WithDefaultGradient())

	cfg := service.GetConfig()
	amount := textinput.New()
	amount.Placeholder = fmt.Sprintf("Amount in %s", cfg.TransferSymbol)
	amount.CharLimit = 32
	amount.Width = 24
	amount.Focus()

	return Model{
		service:  service,
		sessions: make(map[string]widget.Opened),
		logs:     []string{},
		amount:   amount,
		spinner:  sp,
		progress: pr,
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.isQuitKey(msg) {
			m.quit = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m, cmd = m.handleKeyMsg(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m = m.handleWindowSizeMsg(msg)

	case LinkOpened:
		m = m.handleLinkOpened(msg)

	case SnapshotPublished:
		m = m.appendLog(fmt.Sprintf("Updated %s account %q", msg.Role, msg.Label))

	case LogMessage:
		m = m.appendLog(msg.Message)

	case ActionDone:
		if msg.Err != nil {
			m = m.appendLog(fmt.Sprintf("❌ %s failed: %v", msg.Action, msg.Err))
		} else {
			m = m.appendLog(fmt.Sprintf("✅ %s", msg.Action))
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		if progressModel, ok := progressModel.(progress.Model); ok {
			m.progress = progressModel
		}
		cmds = append(cmds, cmd)

	default:
		var cmd tea.Cmd
		m.amount, cmd = m.amount.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) isQuitKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return true
	}
	return false
}

// handleKeyMsg routes digits and editing keys to the amount input and treats
// letters as commands.
func (m Model) handleKeyMsg(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "w":
		return m, m.run("Connect "+m.service.GetConfig().Wallet.DisplayName, func(ctx context.Context) error {
			return m.service.Connect(ctx, config.RoleWallet)
		})
	case "e":
		return m, m.run("Connect "+m.service.GetConfig().Exchange.DisplayName, func(ctx context.Context) error {
			return m.service.Connect(ctx, config.RoleExchange)
		})
	case "r":
		return m, tea.Batch(
			m.refresh(config.RoleWallet),
			m.refresh(config.RoleExchange),
		)
	case "c":
		m.validation = ""
		m.service.Transfer().ClearError()
		for _, role := range []config.Role{config.RoleWallet, config.RoleExchange} {
			if c, err := m.service.Connector(role); err == nil {
				c.ClearLinkError()
			}
		}
		return m, nil
	case "enter", "t":
		amount := m.amount.Value()
		if !m.service.Transfer().CanTransfer(amount) {
			if _, err := m.service.Transfer().Validate(amount); err != nil {
				m.validation = apperr.Message(err, "Unable to start transfer.")
			}
			return m, nil
		}
		m.validation = ""
		return m, m.run("Start transfer", func(ctx context.Context) error {
			return m.service.Transfer().Start(ctx, amount)
		})
	}

	if msg.Type == tea.KeySpace || (msg.Type == tea.KeyRunes && !isAmountInput(msg.Runes)) {
		return m, nil
	}

	before := m.amount.Value()
	var cmd tea.Cmd
	m.amount, cmd = m.amount.Update(msg)
	if m.amount.Value() != before {
		m.validation = ""
		m.service.Transfer().ClearError()
	}
	return m, cmd
}

func isAmountInput(runes []rune) bool {
	for _, r := range runes {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

func (m Model) refresh(role config.Role) tea.Cmd {
	provider, _ := m.service.GetConfig().Provider(role)
	return m.run("Refresh "+provider.DisplayName, func(ctx context.Context) error {
		_, err := m.service.Refresh(ctx, role)
		return err
	})
}

func (m Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return ActionDone{Action: action, Err: fn(ctx)}
	}
}

func (m Model) handleWindowSizeMsg(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.progress.Width = msg.Width - 40
	return m
}

func (m Model) handleLinkOpened(msg LinkOpened) Model {
	if _, exists := m.sessions[msg.Opened.Label]; !exists {
		m.order = append(m.order, msg.Opened.Label)
	}
	m.sessions[msg.Opened.Label] = msg.Opened
	return m.appendLog(fmt.Sprintf("🔗 %s link ready: %s", msg.Opened.Label, msg.Opened.RelayURL))
}

func (m Model) appendLog(message string) Model {
	m.logs = append(m.logs, fmt.Sprintf("[%s] %s",
		time.Now().Format("15:04:05"), message))
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	return m
}

func (m Model) View() string {
	if m.quit {
		return "Shutting down...\n"
	}

	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		MarginBottom(1)

	s.WriteString(headerStyle.Render("🔗 Mesh Link Monitor"))
	s.WriteString("\n\n")

	wallet, _ := m.service.Connector(config.RoleWallet)
	exchange, _ := m.service.Connector(config.RoleExchange)

	panelWidth := (m.width - 4) / 2
	if panelWidth < 30 {
		panelWidth = 30
	}
	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderProvider(wallet.View(), panelWidth),
		m.renderProvider(exchange.View(), panelWidth),
	)
	s.WriteString(panels)
	s.WriteString("\n\n")

	s.WriteString(m.renderTransfer())
	s.WriteString("\n\n")

	if len(m.order) > 0 {
		s.WriteString(m.renderSessions())
		s.WriteString("\n\n")
	}

	logSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(m.width - 2).
		Height(8)

	var logSection strings.Builder
	logSection.WriteString("📝 Recent Logs\n")
	for _, line := range m.logs {
		logSection.WriteString(line + "\n")
	}

	s.WriteString(logSectionStyle.Render(logSection.String()))
	s.WriteString("\n\n")

	footerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	footer := "w: connect wallet | e: connect exchange | r: refresh | enter: transfer | c: clear errors | q: quit | Logs: logs/mesh-link_*.log"
	s.WriteString(footerStyle.Render(footer))

	return s.String()
}

func (m Model) renderProvider(view connector.View, width int) string {
	panelStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(getStateColor(view.State))).
		Padding(0, 1).
		Width(width)
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s", getStateIcon(view.State), lipgloss.NewStyle().Bold(true).Render(view.Name)))
	if view.Linking || view.LoadingHoldings || view.LoadingAddress {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(view.State.String()) + "\n")

	if view.Connected {
		b.WriteString(fmt.Sprintf("Account: %s\n", view.AccountLabel))
		if view.Institution != "" {
			b.WriteString(fmt.Sprintf("Institution: %s\n", view.Institution))
		}
	}

	if view.LinkError != "" {
		b.WriteString(errorStyle.Render(view.LinkError) + "\n")
	}

	if view.HoldingsError != "" {
		b.WriteString(errorStyle.Render(view.HoldingsError) + "\n")
	} else if view.Connected {
		if len(view.Holdings) == 0 && !view.LoadingHoldings {
			b.WriteString(mutedStyle.Render("No holdings found") + "\n")
		}
		for _, position := range view.Holdings {
			line := fmt.Sprintf("%-8s %14s", truncate(position.DisplaySymbol(), 8), utils.FormatAmount(position.Amount))
			if position.FiatAmount != nil {
				line += mutedStyle.Render(" ≈ " + utils.FormatFiat(position.FiatAmount, position.FiatCurrency))
			}
			if position.Name != "" && position.Symbol != "" && position.Name != position.Symbol {
				line += mutedStyle.Render(" " + truncate(position.Name, 16))
			}
			b.WriteString(line + "\n")
		}
	}

	if view.AddressError != "" {
		b.WriteString(errorStyle.Render(view.AddressError) + "\n")
	} else if view.ManagedAddress != "" {
		b.WriteString(fmt.Sprintf("Deposit address: %s\n", utils.ShortenAddress(view.ManagedAddress)))
	}

	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderTransfer() string {
	coordinator := m.service.Transfer()
	view := coordinator.View()
	checks := coordinator.Checklist(m.amount.Value())

	sectionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1).
		Width(m.width - 2)

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render(view.Title) + "\n")
	b.WriteString(m.amount.View())
	switch {
	case view.InFlight:
		b.WriteString(" " + m.spinner.View() + " Starting…")
	case coordinator.CanTransfer(m.amount.Value()):
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("  ⏎ Transfer"))
	}
	b.WriteString("\n")

	done := 0
	for _, check := range checks {
		if check.Done {
			done++
		}
	}
	b.WriteString(m.progress.ViewAs(float64(done)/float64(len(checks))) + "\n")
	for _, check := range checks {
		icon := "○"
		if check.Done {
			icon = "●"
		}
		b.WriteString(fmt.Sprintf("%s %s  ", icon, check.Label))
	}
	b.WriteString("\n")

	if message := firstNonEmpty(m.validation, view.Error); message != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(message) + "\n")
	}

	b.WriteString(fmt.Sprintf("Source: %s\n", view.Source))
	b.WriteString(fmt.Sprintf("Destination: %s\n", view.Destination))
	b.WriteString(fmt.Sprintf("Deposit address: %s\n", view.DepositAddress))

	if view.Completed != nil {
		b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("82")).Render("Transfer completed") + "\n")
		for _, line := range transfer.CompletionLines(*view.Completed) {
			b.WriteString(line + "\n")
		}
	}

	return sectionStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderSessions() string {
	var b strings.Builder
	b.WriteString("🌐 Open these links in your browser\n")
	for _, label := range m.order {
		b.WriteString(fmt.Sprintf("%-10s %s\n", label, m.sessions[label].RelayURL))
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render(strings.TrimRight(b.String(), "\n"))
}

func getStateIcon(state connector.State) string {
	switch state {
	case connector.Idle:
		return "⏸"
	case connector.RequestingSession:
		return "🔐"
	case connector.SessionOpen:
		return "🌐"
	case connector.Refreshing:
		return "🔄"
	case connector.Connected:
		return "✅"
	case connector.LinkError, connector.DataError:
		return "❌"
	default:
		return "❓"
	}
}

func getStateColor(state connector.State) string {
	switch state {
	case connector.Idle:
		return "244"
	case connector.Connected:
		return "82"
	case connector.LinkError, connector.DataError:
		return "196"
	default:
		return "39"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
