package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kelsos/mesh-link/internal/async"
	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/connector"
	"github.com/kelsos/mesh-link/internal/logger"
	"github.com/kelsos/mesh-link/internal/services"
	"github.com/kelsos/mesh-link/internal/storage"
	"github.com/kelsos/mesh-link/internal/transfer"
	"github.com/kelsos/mesh-link/internal/tui"
	"github.com/kelsos/mesh-link/internal/utils"
	"github.com/kelsos/mesh-link/internal/widget"
)

const shutdownTimeout = 5 * time.Second

func parseRole(arg string) (config.Role, error) {
	switch config.Role(arg) {
	case config.RoleWallet, config.RoleExchange:
		return config.Role(arg), nil
	}
	return "", fmt.Errorf("unknown provider %q, expected %q or %q", arg, config.RoleWallet, config.RoleExchange)
}

// startService starts the relay and prints every widget session that opens.
func startService(cfg *config.Config) (*services.LinkService, error) {
	svc := services.NewLinkService(cfg)
	svc.OnLinkOpened(func(opened widget.Opened) {
		fmt.Printf("\nOpen %s in your browser to continue with %s\n\n", opened.RelayURL, opened.Label)
	})
	if err := svc.Start(); err != nil {
		return nil, err
	}
	return svc, nil
}

func stopService(svc *services.LinkService) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		logger.Error("Failed to stop widget relay: %v", err)
	}
}

// waitLinked blocks until the connector leaves the linking states.
func waitLinked(ctx context.Context, c *connector.Connector) (connector.View, error) {
	view, err := async.Poll(ctx, async.DefaultPollInterval, func() (connector.View, bool) {
		view := c.View()
		switch view.State {
		case connector.Connected, connector.DataError, connector.LinkError, connector.Idle:
			return view, true
		}
		return view, false
	})
	if err != nil {
		return view, err
	}
	switch view.State {
	case connector.LinkError:
		return view, fmt.Errorf("%s link failed: %s", view.Name, view.LinkError)
	case connector.Idle:
		return view, fmt.Errorf("%s link closed before an account was connected", view.Name)
	}
	return view, nil
}

func linkProvider(ctx context.Context, svc *services.LinkService, role config.Role) (connector.View, error) {
	c, err := svc.Connector(role)
	if err != nil {
		return connector.View{}, err
	}
	if err := c.Connect(ctx); err != nil {
		return c.View(), err
	}
	return waitLinked(ctx, c)
}

func printAccount(view connector.View) {
	fmt.Printf("%s: %s (%s)\n", view.Name, view.AccountLabel, view.State)
	if view.Institution != "" {
		fmt.Printf("  Institution: %s\n", view.Institution)
	}
	if view.HoldingsError != "" {
		fmt.Printf("  Holdings error: %s\n", view.HoldingsError)
	} else if len(view.Holdings) == 0 {
		fmt.Println("  No holdings found")
	}
	for _, position := range view.Holdings {
		line := fmt.Sprintf("  %-8s %s", position.DisplaySymbol(), utils.FormatAmount(position.Amount))
		if position.FiatAmount != nil {
			line += " ≈ " + utils.FormatFiat(position.FiatAmount, position.FiatCurrency)
		}
		fmt.Println(line)
	}
	if view.AddressError != "" {
		fmt.Printf("  Address error: %s\n", view.AddressError)
	} else if view.ManagedAddress != "" {
		fmt.Printf("  Deposit address: %s\n", view.ManagedAddress)
	}
}

func main() {
	envFiles, envErr := utils.LoadEnvironment()

	cfg := config.NewConfig()
	cfg.LoadFromEnvironment()

	var (
		relayAddr string
		dataDir   string
		amount    string
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runTUI := func(cmd *cobra.Command, args []string) error {
		svc := services.NewLinkService(cfg)
		monitor := tui.NewLinkMonitor(svc)
		if err := monitor.Start(); err != nil {
			return err
		}
		defer stopService(svc)

		go func() {
			<-ctx.Done()
			monitor.Stop()
		}()

		return monitor.Run()
	}

	rootCmd := &cobra.Command{
		Use:   "mesh-link",
		Short: "Link a MetaMask wallet and a Binance account through Mesh",
		Long: `mesh-link connects a MetaMask wallet and a Binance account through the Mesh
Link widget, shows their holdings and moves coins from the wallet to the exchange.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The TUI owns the terminal, so it logs to a file only.
			if !cmd.HasParent() || cmd.Name() == "tui" {
				logPath, err := logger.InitFileOnly()
				if err != nil {
					return fmt.Errorf("failed to initialize file logger: %w", err)
				}
				logger.Info("Logging to %s", logPath)
			} else {
				logger.Init()
			}
			for _, path := range envFiles {
				logger.Debug("Loaded environment from %s", path)
			}
			if envErr != nil {
				logger.Warn("Some .env files could not be loaded: %v", envErr)
			}

			if relayAddr != "" {
				cfg.RelayAddr = relayAddr
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			return cfg.Validate()
		},
		RunE: runTUI,
	}

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the interactive link monitor",
		RunE:  runTUI,
	}

	connectCmd := &cobra.Command{
		Use:       "connect [wallet|exchange]",
		Short:     "Link providers and print their holdings",
		Long:      `Link the given provider, or both when none is given, and print holdings and deposit address.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(config.RoleWallet), string(config.RoleExchange)},
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := []config.Role{config.RoleWallet, config.RoleExchange}
			if len(args) == 1 {
				role, err := parseRole(args[0])
				if err != nil {
					return err
				}
				roles = []config.Role{role}
			}

			svc, err := startService(cfg)
			if err != nil {
				return err
			}
			defer stopService(svc)

			for _, role := range roles {
				view, err := linkProvider(ctx, svc, role)
				if err != nil {
					return err
				}
				printAccount(view)
			}
			return nil
		},
	}

	transferCmd := &cobra.Command{
		Use:   "transfer",
		Short: "Link both providers and transfer coins from the wallet to the exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := utils.ParseAmount(amount); !ok {
				return fmt.Errorf("enter a valid %s amount greater than 0", cfg.TransferSymbol)
			}

			svc, err := startService(cfg)
			if err != nil {
				return err
			}
			defer stopService(svc)

			for _, role := range []config.Role{config.RoleWallet, config.RoleExchange} {
				view, err := linkProvider(ctx, svc, role)
				if err != nil {
					return err
				}
				printAccount(view)
			}

			if err := svc.Transfer().Start(ctx, amount); err != nil {
				return err
			}

			payload, err := svc.WaitForTransfer(ctx)
			if err != nil {
				return err
			}
			svc.Relay().Wait()

			fmt.Println("Transfer completed")
			for _, line := range transfer.CompletionLines(payload) {
				fmt.Printf("  %s\n", line)
			}
			return nil
		},
	}
	transferCmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount to transfer")
	_ = transferCmd.MarkFlagRequired("amount")

	tokenCmd := &cobra.Command{
		Use:   "token [wallet|exchange]",
		Short: "Print the last link token issued for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRole(args[0])
			if err != nil {
				return err
			}
			provider, err := cfg.Provider(role)
			if err != nil {
				return err
			}
			dir, err := cfg.ResolveDataDir()
			if err != nil {
				return err
			}

			data, err := storage.NewTokenCache(dir).LoadLinkToken(provider.IntegrationID)
			if err != nil {
				return err
			}
			if data.LinkToken == "" {
				fmt.Printf("No link token cached for %s\n", provider.DisplayName)
				return nil
			}
			fmt.Printf("%s link token (issued %s):\n%s\n", provider.DisplayName, time.Unix(data.UpdatedAt, 0).Format(time.RFC3339), data.LinkToken)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&relayAddr, "relay-addr", "", "", "Address the widget relay listens on (default: 127.0.0.1:8765)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "", "", "Directory where link tokens are cached (default: ~/.mesh-link)")

	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(tokenCmd)

	defer logger.Close()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Fatal("Failed to execute command: %v", err)
	}
}
