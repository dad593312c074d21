package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"miku/model"
)

// settingsState backs the domain preferences screen. Include domains come
// first in the list, exclude domains after them.
type settingsState struct {
	active   bool
	prefs    model.DomainPreferences
	selected int
	adding   bool
	addTo    listKind
	input    textinput.Model
	err      string
}

type listKind int

const (
	listInclude listKind = iota
	listExclude
)

func newSettingsState() settingsState {
	in := textinput.New()
	in.Prompt = "Domain: "
	in.Placeholder = "example.com"
	in.CharLimit = 253
	return settingsState{input: in, prefs: model.DomainPreferences{}.Normalized()}
}

func (s settingsState) rows() int {
	return len(s.prefs.IncludeDomains) + len(s.prefs.ExcludeDomains)
}

// at returns the list and domain under the cursor.
func (s settingsState) at(i int) (listKind, string, bool) {
	if i < 0 || i >= s.rows() {
		return 0, "", false
	}
	if i < len(s.prefs.IncludeDomains) {
		return listInclude, s.prefs.IncludeDomains[i], true
	}
	return listExclude, s.prefs.ExcludeDomains[i-len(s.prefs.IncludeDomains)], true
}

func (a AppView) loadPreferences() tea.Cmd {
	store := a.deps.Store
	return func() tea.Msg {
		prefs, err := store.Preferences.Load()
		return preferencesLoadedMsg{prefs: prefs, err: err}
	}
}

func (a *AppView) openSettings() tea.Cmd {
	a.settings.active = true
	a.settings.err = ""
	a.textarea.Blur()
	return a.loadPreferences()
}

func (a *AppView) closeSettings() {
	a.settings.active = false
	a.settings.adding = false
	a.settings.input.Blur()
	a.textarea.Focus()
}

func (a *AppView) handleSettingsKey(msg tea.KeyMsg) tea.Cmd {
	s := &a.settings
	store := a.deps.Store

	if s.adding {
		switch msg.String() {
		case "esc":
			s.adding = false
			s.input.Blur()
			return nil
		case "enter":
			domain := strings.TrimSpace(s.input.Value())
			s.adding = false
			s.input.Blur()
			if domain == "" {
				return nil
			}
			kind := s.addTo
			return func() tea.Msg {
				var err error
				if kind == listInclude {
					err = store.Preferences.AddInclude(domain)
				} else {
					err = store.Preferences.AddExclude(domain)
				}
				if err != nil {
					return noticeMsg{err: err}
				}
				return noticeMsg{text: "Saved domain preferences"}
			}
		}
		var cmd tea.Cmd
		s.input, cmd = s.input.Update(msg)
		return cmd
	}

	switch msg.String() {
	case "esc", "q", "ctrl+p":
		a.closeSettings()
	case "j", "down":
		if n := s.rows(); n > 0 {
			s.selected = (s.selected + 1) % n
		}
	case "k", "up":
		if n := s.rows(); n > 0 {
			s.selected = (s.selected - 1 + n) % n
		}
	case "i", "e":
		s.adding = true
		s.addTo = listInclude
		if msg.String() == "e" {
			s.addTo = listExclude
		}
		s.input.SetValue("")
		s.input.Focus()
	case "d", "delete":
		kind, domain, ok := s.at(s.selected)
		if !ok {
			return nil
		}
		return func() tea.Msg {
			var err error
			if kind == listInclude {
				err = store.Preferences.RemoveInclude(domain)
			} else {
				err = store.Preferences.RemoveExclude(domain)
			}
			if err != nil {
				return noticeMsg{err: err}
			}
			return noticeMsg{text: "Removed " + domain}
		}
	case "C":
		return func() tea.Msg {
			if err := store.Preferences.Clear(); err != nil {
				return noticeMsg{err: err}
			}
			return noticeMsg{text: "Cleared domain preferences"}
		}
	}
	return nil
}

func (a AppView) renderSettings(width, height int) string {
	s := a.settings
	modalWidth := min(70, width-10)

	titleSection := lipgloss.NewStyle().
		Bold(true).
		Align(lipgloss.Center).
		Width(modalWidth).
		Render("Search Domain Preferences")

	var lines []string
	row := 0
	section := func(name string, domains []string) {
		lines = append(lines, AssistantStyle.Bold(true).Render(name))
		if len(domains) == 0 {
			lines = append(lines, DimStyle.Render("  (none)"))
		}
		for _, d := range domains {
			line := "  " + d
			if row == s.selected {
				line = SelectedStyle.Render("▶ " + d)
			}
			lines = append(lines, line)
			row++
		}
		lines = append(lines, "")
	}
	section("Only search these domains", s.prefs.IncludeDomains)
	section("Never search these domains", s.prefs.ExcludeDomains)

	if s.adding {
		target := "include"
		if s.addTo == listExclude {
			target = "exclude"
		}
		lines = append(lines, fmt.Sprintf("Add to %s list:", target), s.input.View())
	}
	if s.err != "" {
		lines = append(lines, ErrorBannerStyle.Render(s.err))
	}

	body := lipgloss.NewStyle().
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimColor).
		Width(modalWidth).
		Render(strings.Join(lines, "\n"))

	footer := lipgloss.NewStyle().
		Foreground(dimColor).
		Align(lipgloss.Center).
		Width(modalWidth).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimColor).
		Render(FormatFooter("i", "Include", "e", "Exclude", "d", "Remove", "C", "Clear", "Esc", "Close"))

	content := strings.Join([]string{titleSection, body, footer}, "\n")
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}
