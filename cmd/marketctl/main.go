// marketctl runs one marketplace operation and exits. It drives the same
// view-models as the interactive client, so the same rules apply: the
// token approval is only sent while the allowance reads zero, and a
// listing is only submitted once the NFT approval reads back as the
// marketplace.
//
// Usage:
//
//	marketctl [flags] <command> [args]
//
// Commands:
//
//	listings                  print every listing
//	balances                  print the connected account's balances and allowance
//	approve-token             grant the marketplace the token allowance
//	approve-nft <token-id>    let the marketplace transfer an NFT
//	list <token-id> <price>   list an NFT for sale
//	buy <token-id>            buy a listed NFT
//	cancel <token-id>         cancel your listing
//	history                   print settled transactions of the connected account
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"nft-market/internal/app"
	"nft-market/internal/config"
	"nft-market/internal/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg := config.FromEnv()
	if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}

	var limit int
	flagSet := pflag.NewFlagSet("marketctl", pflag.ContinueOnError)
	cfg.BindFlags(flagSet)
	flagSet.IntVar(&limit, "limit", 20, "number of records printed by history")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: marketctl [flags] <command> [args]")
		fmt.Fprintln(os.Stderr, "\nCommands:")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-24s %s\n", c.usage, c.summary)
		}
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		flagSet.Usage()
		return errors.New("missing command")
	}
	cmd, ok := lookup(rest[0])
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}
	if len(rest)-1 != cmd.args {
		return fmt.Errorf("usage: marketctl %s", cmd.usage)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.wallet {
		if err := connect(ctx, a); err != nil {
			return err
		}
	}

	env := &env{app: a, out: out, limit: limit, logger: logger}
	err = cmd.run(ctx, env, rest[1:])
	cancel()
	return err
}

// connect reconnects the configured connector, falling back to the first
// available one.
func connect(ctx context.Context, a *app.App) error {
	if err := a.Hydrate(ctx); err != nil {
		a.Logger.Debug("configured connector unavailable", zap.Error(err))
	}
	if a.Wallet.Session().Connected {
		return nil
	}
	if _, err := a.Header.Connect(ctx); err != nil {
		return fmt.Errorf("connect wallet: %w", err)
	}
	return nil
}
