// market is the interactive terminal client of the NFT marketplace. It
// draws the wallet header and the listing cards and submits approve, list,
// buy and cancel transactions from the connected wallet.
//
// Configuration comes from the environment (optionally a .env file) and
// flags; see "market --help". Logs go to --log-file when set and are
// discarded otherwise, so they never draw over the screen.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"nft-market/internal/app"
	"nft-market/internal/config"
	"nft-market/internal/logging"
	"nft-market/internal/tui"
)

// startupTimeout bounds endpoint selection and wallet hydration.
const startupTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg := config.FromEnv()

	flagSet := pflag.NewFlagSet("market", pflag.ContinueOnError)
	cfg.BindFlags(flagSet)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	logger := zap.NewNop()
	if cfg.LogFile != "" {
		var err error
		logger, err = logging.New(cfg.LogLevel, cfg.LogFile)
		if err != nil {
			return err
		}
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, startupTimeout)
	defer startCancel()

	fmt.Fprintln(os.Stderr, "Selecting RPC endpoint…")
	a, err := app.New(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	go func() {
		if err := a.Hydrate(startCtx); err != nil {
			logger.Warn("wallet reconnect failed", zap.Error(err))
		}
	}()

	model := tui.NewModel(ctx, tui.Source{
		View:    a.View,
		Header:  a.Header,
		Changes: a.Changes(),
		History: a.History,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()

	// Abandon transactions still waiting for a receipt.
	cancel()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
