package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"nft-market/internal/domain"
	"nft-market/internal/market"
	"nft-market/internal/query"
)

// cardWidth is the inner width of a listing card.
const cardWidth = 34

const appTitle = "NFT Marketplace"

// View implements tea.Model.
func (model Model) View() string {
	sections := []string{model.renderHeader()}
	if bar := model.renderAllowance(); bar != "" {
		sections = append(sections, bar)
	}
	sections = append(sections, "", model.renderListings())
	if model.showHistory {
		sections = append(sections, "", model.renderHistory())
	}
	if model.status != "" {
		sections = append(sections, "", model.styles.err.Render(model.status))
	}
	sections = append(sections, "", model.renderHelp())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model Model) renderHeader() string {
	title := model.styles.title.Render(appTitle)
	h := model.header

	var right string
	switch h.Phase {
	case market.HeaderHydrating:
		// Nothing until the session is known.
	case market.HeaderDisconnected:
		if h.ConnectDisabled {
			right = model.styles.faint.Render(h.Notice)
		} else {
			right = fmt.Sprintf("[c] %s", h.ConnectLabel)
			if h.ConnectorName != "" {
				right += model.styles.faint.Render(" (" + h.ConnectorName + ")")
			}
		}
	case market.HeaderConnected:
		right = strings.Join([]string{
			model.styles.accent.Render(h.Address),
			h.NativeBalance + " " + h.NativeSymbol,
			h.TokenBalance + " " + h.TokenSymbol,
			"[x] " + market.LabelDisconnect,
		}, model.styles.faint.Render("  │  "))
	}

	if right == "" {
		return title
	}
	gap := model.width - lipgloss.Width(title) - lipgloss.Width(right)
	if gap < 2 {
		gap = 2
	}
	return title + strings.Repeat(" ", gap) + right
}

func (model Model) renderAllowance() string {
	if !model.listings.Connected {
		return ""
	}
	a := model.listings.Allowance
	line := model.styles.faint.Render("Marketplace allowance: ") + a.Value
	if a.ApproveOffered {
		if a.ApproveDisabled {
			line += "  " + model.styles.pending.Render(a.ApproveLabel)
		} else {
			line += "  " + model.styles.accent.Render("[a] "+a.ApproveLabel)
		}
	}
	if a.TxHash != "" {
		line += "  " + model.styles.faint.Render(a.TxURL)
	}
	if a.Error != "" {
		line += "  " + model.styles.err.Render(a.Error)
	}
	return line
}

func (model Model) renderListings() string {
	r := model.listings
	switch r.Phase {
	case market.PhaseLoading:
		return model.styles.faint.Render(r.Message)
	case market.PhaseEmpty:
		return model.styles.normal.Render(r.Message)
	case market.PhaseFailed:
		return model.styles.err.Render(r.Message+" "+r.Error) + "\n" + model.styles.faint.Render("[r] Retry")
	}

	perRow := 1
	if model.width > 0 {
		perRow = max(model.width/(cardWidth+4), 1)
	}

	var rows []string
	for start := 0; start < len(r.Cards); start += perRow {
		end := min(start+perRow, len(r.Cards))
		boxes := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			boxes = append(boxes, model.renderCard(r.Cards[i], i == model.cursor))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (model Model) renderCard(card market.CardView, focused bool) string {
	s := model.styles
	var lines []string

	if card.Skeleton {
		lines = append(lines, s.faint.Render("Loading…"), s.faint.Render("░░░░░░░░░░░░"))
	} else {
		lines = append(lines, s.title.Render(truncate(card.Title)))
		image := card.ImageLabel
		if card.Image != "" {
			image = card.Image
		}
		lines = append(lines, s.faint.Render(truncate(image)))
	}
	lines = append(lines, s.faint.Render(card.TokenLabel))

	if card.Listed {
		lines = append(lines, s.normal.Render(card.Price))
	} else {
		lines = append(lines, s.faint.Render("Not listed"))
	}

	if isDraft(card.State) {
		input := card.PriceInput
		if focused && model.editing {
			input = model.price.View()
		} else if input == "" {
			input = s.faint.Render(card.PricePlaceholder)
		}
		lines = append(lines, "Price: "+input)
		if card.Approval == query.Loaded && !card.Approved {
			lines = append(lines, s.pending.Render("Marketplace not approved for this NFT"))
		}
	}

	if card.Notice != "" {
		style := s.normal
		if card.State == market.Done {
			style = s.success
		}
		lines = append(lines, style.Render(truncate(card.Notice)))
	}
	if card.Error != "" {
		lines = append(lines, s.err.Render(truncate(card.Error)))
	}
	if card.TxHash != "" {
		status := s.pending.Render(card.State.String())
		lines = append(lines, status+" "+s.faint.Render(truncate(domain.ShortAddress(card.TxHash))))
	}

	if len(card.Actions) > 0 {
		lines = append(lines, model.renderButtons(card.Actions, focused))
	}

	box := s.card
	if focused {
		box = s.focused
	}
	return box.Render(strings.Join(lines, "\n"))
}

func (model Model) renderButtons(buttons []market.Button, focused bool) string {
	parts := make([]string, 0, len(buttons))
	for i, b := range buttons {
		style := model.styles.button
		switch {
		case b.Disabled:
			style = model.styles.disabled
		case focused && i == model.button:
			style = model.styles.selected
		}
		parts = append(parts, style.Render(b.Label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (model Model) renderHistory() string {
	s := model.styles
	lines := []string{s.title.Render("Recent transactions")}
	if model.historyErr != "" {
		return strings.Join(append(lines, s.err.Render(model.historyErr)), "\n")
	}
	if len(model.history) == 0 {
		return strings.Join(append(lines, s.faint.Render("No settled transactions.")), "\n")
	}

	for _, r := range model.history {
		token := "-"
		if r.TokenID != nil {
			token = "#" + *r.TokenID
		}
		status := s.success.Render(r.Status.String())
		if r.Status == domain.TxStatusFailed {
			status = s.err.Render(r.Status.String())
		}
		settled := time.UnixMilli(r.SettledAt).Format("2006-01-02 15:04:05")
		lines = append(lines, fmt.Sprintf("%s  %-17s %-6s %s  %s",
			s.faint.Render(settled), r.Kind, token, status, s.faint.Render(domain.ShortAddress(r.TxHash))))
	}
	return strings.Join(lines, "\n")
}

func (model Model) renderHelp() string {
	bindings := model.keys.helpBindings(model.editing)
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, helpEntry(b))
	}
	return model.styles.faint.Render(strings.Join(parts, "  "))
}

func helpEntry(b key.Binding) string {
	h := b.Help()
	return h.Key + " " + h.Desc
}

func truncate(s string) string {
	return ansi.Truncate(s, cardWidth-2, "…")
}
