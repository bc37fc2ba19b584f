package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nft-market/internal/app"
	"nft-market/internal/domain"
	"nft-market/internal/market"
	"nft-market/internal/query"
	"nft-market/internal/txn"
)

type env struct {
	app    *app.App
	out    io.Writer
	limit  int
	logger *zap.Logger
}

type command struct {
	name    string
	usage   string
	summary string
	args    int
	wallet  bool
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{name: "listings", usage: "listings", summary: "print every listing", run: runListings},
	{name: "balances", usage: "balances", summary: "print balances and allowance", wallet: true, run: runBalances},
	{name: "approve-token", usage: "approve-token", summary: "grant the marketplace the token allowance", wallet: true, run: runApproveToken},
	{name: "approve-nft", usage: "approve-nft <token-id>", summary: "let the marketplace transfer an NFT", args: 1, wallet: true, run: runApproveNFT},
	{name: "list", usage: "list <token-id> <price>", summary: "list an NFT for sale", args: 2, wallet: true, run: runList},
	{name: "buy", usage: "buy <token-id>", summary: "buy a listed NFT", args: 1, wallet: true, run: cardAction(market.ActionBuy)},
	{name: "cancel", usage: "cancel <token-id>", summary: "cancel your listing", args: 1, wallet: true, run: cardAction(market.ActionCancel)},
	{name: "history", usage: "history", summary: "print settled transactions", wallet: true, run: runHistory},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// settle renders the views until no read they started is in flight.
func (e *env) settle(ctx context.Context) error {
	q := e.app.Query
	for i := 0; i < 3; i++ {
		e.app.View.Render()
		e.app.Header.Render()

		keys := []string{query.ListingsKey()}
		if s := e.app.Wallet.Session(); s.Connected {
			keys = append(keys,
				query.AllowanceKey(s.Address),
				query.NativeBalanceKey(s.Address),
				query.TokenBalanceKey(s.Address),
			)
		}
		for _, card := range e.app.View.Cards() {
			keys = append(keys, query.ApprovedKey(card.TokenID()), query.MetadataKey(card.TokenID()))
		}
		for _, key := range keys {
			if _, err := q.Await(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *env) card(ctx context.Context, raw string) (*market.Card, error) {
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", raw)
	}
	if err := e.settle(ctx); err != nil {
		return nil, err
	}
	r := e.app.View.Render()
	if r.Phase == market.PhaseFailed {
		return nil, fmt.Errorf("%s %s", r.Message, r.Error)
	}
	card, ok := e.app.View.Card(id)
	if !ok {
		return nil, fmt.Errorf("token %s is not on the market", id)
	}
	return card, nil
}

// wait blocks until p settles and prints its outcome.
func (e *env) wait(ctx context.Context, p *txn.Pending) error {
	fmt.Fprintln(e.out, "Waiting for wallet…")
	for {
		select {
		case <-p.Done():
			tx := p.Snapshot()
			if tx.Hash != (common.Hash{}) {
				fmt.Fprintf(e.out, "Transaction %s\n  %s\n", tx.Hash.Hex(), e.app.TxURL(tx.Hash))
			}
			if tx.Err != nil {
				return tx.Err
			}
			fmt.Fprintf(e.out, "Confirmed in block %d\n", tx.BlockNumber)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			if tx := p.Snapshot(); tx.Status == domain.TxStatusConfirming {
				e.logger.Debug("waiting for receipt", zap.Stringer("hash", tx.Hash))
			}
		}
	}
}

func runListings(ctx context.Context, e *env, _ []string) error {
	if err := e.settle(ctx); err != nil {
		return err
	}
	r := e.app.View.Render()
	switch r.Phase {
	case market.PhaseFailed:
		return fmt.Errorf("%s %s", r.Message, r.Error)
	case market.PhaseEmpty:
		fmt.Fprintln(e.out, r.Message)
		return nil
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tNAME\tSELLER\tPRICE\tSTATUS")
	for _, c := range r.Cards {
		status := "not listed"
		price := "-"
		if c.Listed {
			status = "listed"
			price = c.Price
		}
		card, _ := e.app.View.Card(c.TokenID)
		seller := "-"
		if card != nil {
			seller = domain.ShortAddress(card.Listing().Seller.Hex())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.TokenID, c.Title, seller, price, status)
	}
	return w.Flush()
}

func runBalances(ctx context.Context, e *env, _ []string) error {
	account := e.app.Wallet.Session().Address
	chain := e.app.Chain

	var native, token, allowance *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		native, err = chain.NativeBalance(gctx, account)
		return err
	})
	g.Go(func() (err error) {
		token, err = chain.TokenBalance(gctx, account)
		return err
	})
	g.Go(func() (err error) {
		allowance, err = chain.Allowance(gctx, account)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	network := e.app.Config.Network
	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Account\t%s\n", account.Hex())
	fmt.Fprintf(w, "Native\t%s %s\n", domain.FormatFixed(native, network.NativeDecimals, 4), network.NativeSymbol)
	fmt.Fprintf(w, "Token\t%s MTK\n", domain.FormatUnits(token, market.TokenDecimals))
	fmt.Fprintf(w, "Allowance\t%s MTK\n", domain.FormatUnits(allowance, market.TokenDecimals))
	return w.Flush()
}

func runApproveToken(ctx context.Context, e *env, _ []string) error {
	if err := e.settle(ctx); err != nil {
		return err
	}
	p, err := e.app.View.ApproveSpending(ctx)
	if err != nil {
		if allowance := e.app.View.Render().Allowance; allowance.State == query.Loaded {
			return fmt.Errorf("%w (allowance is %s)", err, allowance.Value)
		}
		return err
	}
	return e.wait(ctx, p)
}

func runApproveNFT(ctx context.Context, e *env, args []string) error {
	card, err := e.card(ctx, args[0])
	if err != nil {
		return err
	}
	if err := card.StartListing(); err != nil {
		return err
	}
	if v := card.Render(); v.Approved {
		fmt.Fprintln(e.out, "The marketplace is already approved for this NFT.")
		return nil
	}
	p, err := card.ApproveNFT(ctx)
	if err != nil {
		return err
	}
	if err := e.wait(ctx, p); err != nil {
		return err
	}
	return e.awaitState(ctx, card, market.ApprovedDraft, market.ListingDraft)
}

func runList(ctx context.Context, e *env, args []string) error {
	card, err := e.card(ctx, args[0])
	if err != nil {
		return err
	}
	if err := card.StartListing(); err != nil {
		return err
	}
	if err := card.SetPrice(args[1]); err != nil {
		return err
	}
	p, err := card.SubmitListing(ctx)
	if err != nil {
		return err
	}
	return e.wait(ctx, p)
}

func cardAction(action market.Action) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		card, err := e.card(ctx, args[0])
		if err != nil {
			return err
		}
		p, err := card.Do(ctx, action)
		if err != nil {
			return err
		}
		return e.wait(ctx, p)
	}
}

// awaitState waits for the card to leave AwaitingApproval and reports
// whether the approval read back.
func (e *env) awaitState(ctx context.Context, card *market.Card, ok, retry market.CardState) error {
	for {
		v := card.Render()
		switch v.State {
		case ok:
			fmt.Fprintln(e.out, "Approval confirmed.")
			return nil
		case retry:
			return errors.New(v.Notice)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.app.Changes():
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func runHistory(ctx context.Context, e *env, _ []string) error {
	records, err := e.app.History(ctx, e.limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(e.out, "No settled transactions.")
		return nil
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SETTLED\tKIND\tTOKEN\tSTATUS\tHASH\tERROR")
	for _, r := range records {
		token := "-"
		if r.TokenID != nil {
			token = *r.TokenID
		}
		errText := ""
		if r.Error != nil {
			errText = strings.SplitN(*r.Error, "\n", 2)[0]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			time.UnixMilli(r.SettledAt).Format(time.DateTime), r.Kind, token, r.Status, r.TxHash, errText)
	}
	return w.Flush()
}
