package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings of the marketplace TUI.
type KeyMap struct {
	// Card focus.
	Up   key.Binding
	Down key.Binding

	// Action focus within the focused card.
	Left  key.Binding
	Right key.Binding
	Press key.Binding

	// Price entry (active while a listing draft is focused).
	EditPrice key.Binding
	EndEdit   key.Binding

	// Page-level actions.
	ApproveSpending key.Binding
	Connect         key.Binding
	Disconnect      key.Binding
	Refresh         key.Binding
	History         key.Binding

	Quit key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "prev card"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "next card"),
	),
	Left: key.NewBinding(
		key.WithKeys("h", "left", "shift+tab"),
		key.WithHelp("h/←", "prev action"),
	),
	Right: key.NewBinding(
		key.WithKeys("l", "right", "tab"),
		key.WithHelp("l/→", "next action"),
	),
	Press: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("Enter", "press"),
	),
	EditPrice: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "edit price"),
	),
	EndEdit: key.NewBinding(
		key.WithKeys("enter", "esc"),
		key.WithHelp("Enter/Esc", "done"),
	),
	ApproveSpending: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "approve token"),
	),
	Connect: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "connect"),
	),
	Disconnect: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "disconnect"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	History: key.NewBinding(
		key.WithKeys("t"),
		key.WithHelp("t", "history"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// helpBindings returns the bindings listed in the footer.
func (k KeyMap) helpBindings(editing bool) []key.Binding {
	if editing {
		return []key.Binding{k.EndEdit}
	}
	return []key.Binding{
		k.Up, k.Down, k.Left, k.Press, k.EditPrice,
		k.ApproveSpending, k.Connect, k.Disconnect, k.Refresh, k.History, k.Quit,
	}
}
