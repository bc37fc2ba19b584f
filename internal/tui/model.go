// Package tui is the interactive terminal front end of the marketplace.
// Built on bubbletea, it draws the wallet header, the spending approval
// bar and the listing cards from the market view-models, and turns key
// presses into card actions.
//
// The view-models own all state. The model only keeps what the terminal
// needs: which card and button have focus, the price being typed, and the
// last render of each view, refreshed after every message. Reads and
// transactions settle on other goroutines and surface through the
// Source's change channel.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"nft-market/internal/domain"
	"nft-market/internal/market"
)

// historyLimit is how many journal records the history panel shows.
const historyLimit = 20

// Source connects the model to the running views.
type Source struct {
	View   *market.ListingsView
	Header *market.Header
	// Changes receives a value whenever any view may render differently.
	Changes <-chan struct{}
	// History returns settled transactions of the connected account. Nil
	// disables the history panel.
	History func(ctx context.Context, limit int) ([]*domain.ActivityRecord, error)
}

type changeMsg struct{}

type actionDoneMsg struct {
	action market.Action
	err    error
}

type historyMsg struct {
	records []*domain.ActivityRecord
	err     error
}

// Model is the bubbletea model of the marketplace.
type Model struct {
	ctx    context.Context
	source Source
	keys   KeyMap
	styles styles

	width  int
	height int

	listings market.ListingsRender
	header   market.HeaderRender

	cursor  int
	button  int
	price   textinput.Model
	editing bool

	showHistory bool
	history     []*domain.ActivityRecord
	historyErr  string

	status string
}

// NewModel creates the model. Transactions are submitted under ctx;
// cancelling it abandons them.
func NewModel(ctx context.Context, source Source) Model {
	price := textinput.New()
	price.CharLimit = 40
	price.Width = cardWidth - 8

	model := Model{
		ctx:    ctx,
		source: source,
		keys:   DefaultKeyMap,
		styles: newStyles(DefaultTheme),
		price:  price,
	}
	model.refresh()
	return model
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return tea.Batch(listenForChanges(model.source.Changes), textinput.Blink)
}

// listenForChanges blocks until the views report a change.
func listenForChanges(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changeMsg{}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height

	case changeMsg:
		cmd = listenForChanges(model.source.Changes)
		if model.showHistory {
			cmd = tea.Batch(cmd, model.loadHistory())
		}

	case actionDoneMsg:
		model.status = ""
		if message.err != nil {
			model.status = describe(message.err)
		} else if message.action == market.ActionStartListing {
			model.startEditing()
		}

	case historyMsg:
		model.history = message.records
		model.historyErr = ""
		if message.err != nil {
			model.historyErr = describe(message.err)
		}

	case tea.KeyMsg:
		if model.editing {
			cmd = model.handleEditKeys(message)
		} else {
			var quit bool
			cmd, quit = model.handleKeys(message)
			if quit {
				return model, tea.Quit
			}
		}
	}

	model.refresh()
	return model, cmd
}

func (model *Model) handleKeys(message tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return nil, true

	case key.Matches(message, model.keys.Up):
		if model.cursor > 0 {
			model.cursor--
			model.button = 0
		}

	case key.Matches(message, model.keys.Down):
		if model.cursor < len(model.listings.Cards)-1 {
			model.cursor++
			model.button = 0
		}

	case key.Matches(message, model.keys.Left):
		if model.button > 0 {
			model.button--
		}

	case key.Matches(message, model.keys.Right):
		if card, ok := model.focusedCard(); ok && model.button < len(card.Actions)-1 {
			model.button++
		}

	case key.Matches(message, model.keys.Press):
		return model.press(), false

	case key.Matches(message, model.keys.EditPrice):
		if card, ok := model.focusedCard(); ok && isDraft(card.State) {
			model.startEditing()
			model.price.SetValue(card.PriceInput)
		}

	case key.Matches(message, model.keys.ApproveSpending):
		return model.approveSpending(), false

	case key.Matches(message, model.keys.Connect):
		return model.connect(), false

	case key.Matches(message, model.keys.Disconnect):
		model.source.Header.Disconnect()

	case key.Matches(message, model.keys.Refresh):
		model.status = ""
		if model.listings.Phase == market.PhaseFailed {
			model.source.View.Retry()
		} else {
			model.source.View.Refresh()
		}

	case key.Matches(message, model.keys.History):
		if model.source.History == nil {
			return nil, false
		}
		model.showHistory = !model.showHistory
		if model.showHistory {
			return model.loadHistory(), false
		}
	}
	return nil, false
}

func (model *Model) handleEditKeys(message tea.KeyMsg) tea.Cmd {
	if key.Matches(message, model.keys.EndEdit) {
		model.editing = false
		model.price.Blur()
		return nil
	}

	var cmd tea.Cmd
	model.price, cmd = model.price.Update(message)
	if card, ok := model.focusedViewModel(); ok {
		if err := card.SetPrice(model.price.Value()); err != nil {
			// The draft ended under us, e.g. a confirmation moved the card.
			model.editing = false
			model.price.Blur()
		}
	}
	return cmd
}

func (model *Model) startEditing() {
	model.editing = true
	if card, ok := model.focusedCard(); ok {
		model.price.Placeholder = card.PricePlaceholder
	}
	model.price.SetValue("")
	model.price.Focus()
}

// refresh re-renders both views and keeps focus in range.
func (model *Model) refresh() {
	model.header = model.source.Header.Render()
	model.listings = model.source.View.Render()

	if model.cursor >= len(model.listings.Cards) {
		model.cursor = max(len(model.listings.Cards)-1, 0)
	}
	if card, ok := model.focusedCard(); ok {
		if model.button >= len(card.Actions) {
			model.button = max(len(card.Actions)-1, 0)
		}
		if model.editing && !isDraft(card.State) {
			model.editing = false
			model.price.Blur()
		}
	} else {
		model.button = 0
		model.editing = false
	}
}

func (model Model) focusedCard() (market.CardView, bool) {
	if model.cursor < 0 || model.cursor >= len(model.listings.Cards) {
		return market.CardView{}, false
	}
	return model.listings.Cards[model.cursor], true
}

func (model Model) focusedViewModel() (*market.Card, bool) {
	view, ok := model.focusedCard()
	if !ok {
		return nil, false
	}
	return model.source.View.Card(view.TokenID)
}

// press runs the focused button of the focused card.
func (model Model) press() tea.Cmd {
	view, ok := model.focusedCard()
	if !ok || model.button >= len(view.Actions) {
		return nil
	}
	button := view.Actions[model.button]
	if button.Disabled {
		return nil
	}
	card, ok := model.source.View.Card(view.TokenID)
	if !ok {
		return nil
	}

	ctx := model.ctx
	return func() tea.Msg {
		_, err := card.Do(ctx, button.Action)
		return actionDoneMsg{action: button.Action, err: err}
	}
}

func (model Model) approveSpending() tea.Cmd {
	allowance := model.listings.Allowance
	if !allowance.ApproveOffered || allowance.ApproveDisabled {
		return nil
	}
	view := model.source.View
	ctx := model.ctx
	return func() tea.Msg {
		_, err := view.ApproveSpending(ctx)
		return actionDoneMsg{err: err}
	}
}

func (model Model) connect() tea.Cmd {
	if model.header.Phase != market.HeaderDisconnected {
		return nil
	}
	header := model.source.Header
	ctx := model.ctx
	return func() tea.Msg {
		_, err := header.Connect(ctx)
		return actionDoneMsg{err: err}
	}
}

func (model Model) loadHistory() tea.Cmd {
	history := model.source.History
	ctx := model.ctx
	return func() tea.Msg {
		records, err := history(ctx, historyLimit)
		return historyMsg{records: records, err: err}
	}
}

func isDraft(state market.CardState) bool {
	switch state {
	case market.ListingDraft, market.AwaitingApproval, market.ApprovedDraft:
		return true
	}
	return false
}

// describe turns an action error into a status line.
func describe(err error) string {
	switch {
	case errors.Is(err, market.ErrInvalidPrice):
		return "Enter a price greater than zero."
	case errors.Is(err, market.ErrNotApproved):
		return "Approve the NFT before listing it."
	case errors.Is(err, market.ErrBusy):
		return "A transaction is already in progress."
	}
	return fmt.Sprintf("Error: %v", err)
}
