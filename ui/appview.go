package ui

import (
	"context"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"miku/bus"
	"miku/chat"
	"miku/model"
	"miku/storage"
)

// ImageSaver downloads search images to disk.
type ImageSaver interface {
	DownloadImage(ctx context.Context, imageURL, dir string) (string, error)
}

// Deps are the collaborators of the chat view.
type Deps struct {
	Store       *storage.Store
	Controller  *chat.Controller
	Bus         *bus.Bus
	Images      ImageSaver
	DownloadDir string
	Logger      *zap.Logger
	Version     string
	// Slug, when set, is the chat shown first.
	Slug string
	// Clipboard defaults to the system clipboard.
	Clipboard func(string) error
}

type focusArea int

const (
	focusInput focusArea = iota
	focusSidebar
)

const sidebarWidth = 30

type AppView struct {
	deps   Deps
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// UI components
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool
	focus  focusArea

	events      <-chan bus.Event
	unsubscribe func()

	// Sidebar
	chats         []model.ConversationRecord
	filtered      []model.ConversationRecord
	selectedChat  int
	filterMode    bool
	filterInput   textinput.Model
	renameMode    bool
	renameInput   textinput.Model
	confirmDelete *model.ConversationRecord

	// Current conversation
	slug     string
	messages []model.Message
	status   model.Status
	rendered map[string]string
	cursor   messageCursor

	// Composer
	mode        chat.Mode
	files       []chat.File
	attachMode  bool
	attachInput textinput.Model

	// Overlays
	errorText string
	errorSeq  int
	notice    string
	showLimit bool
	showHelp  bool
	settings  settingsState

	remaining int
}

func NewAppView(deps Deps) AppView {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = bus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	ta := textarea.New()
	ta.Placeholder = "Ask Miku anything..."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.SetWidth(80)
	// Alt+Enter inserts a newline; Enter sends.
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "| "
	})

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(accentColor)

	filterInput := textinput.New()
	filterInput.Prompt = "Filter: "
	filterInput.CharLimit = 64

	renameInput := textinput.New()
	renameInput.Prompt = "Title: "
	renameInput.CharLimit = 120

	attachInput := textinput.New()
	attachInput.Prompt = "Attach file: "
	attachInput.CharLimit = 512

	events, unsubscribe := deps.Bus.Subscribe("", 256)

	return AppView{
		deps:        deps,
		logger:      deps.Logger.Named("ui"),
		ctx:         ctx,
		cancel:      cancel,
		viewport:    viewport.New(0, 0),
		textarea:    ta,
		spinner:     sp,
		events:      events,
		unsubscribe: unsubscribe,
		filterInput: filterInput,
		renameInput: renameInput,
		attachInput: attachInput,
		status:      model.StatusIdle,
		rendered:    make(map[string]string),
		mode:        chat.ModeChat,
		settings:    newSettingsState(),
		cursor:      newMessageCursor(),
		slug:        deps.Slug,
	}
}

func (a AppView) Init() tea.Cmd {
	cmds := []tea.Cmd{
		textarea.Blink,
		a.spinner.Tick,
		a.listen(),
		a.loadChats(),
		a.loadRemaining(),
	}
	if a.slug != "" {
		cmds = append(cmds, a.loadConversation(a.slug))
	}
	return tea.Batch(cmds...)
}

func (a AppView) View() string {
	if !a.ready {
		return "Loading Miku..."
	}

	// Overlay order, top first.
	switch {
	case a.showHelp:
		return a.renderHelpModal(a.width, a.height)
	case a.showLimit:
		return renderLimitModal(a.deps.Controller.Limit(), a.width, a.height)
	case a.confirmDelete != nil:
		return renderDeleteConfirmation(*a.confirmDelete, a.width, a.height)
	case a.settings.active:
		return a.renderSettings(a.width, a.height)
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		a.renderHeader(),
		a.viewport.View(),
		a.renderComposer(),
		a.renderStatusBar(),
	)
	sidebar := SidebarStyle.Width(sidebarWidth).Height(a.height).Render(a.renderSidebar())
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, main)
}

// Close releases the bus subscription and cancels turns the view started.
func (a AppView) Close() {
	a.unsubscribe()
	a.cancel()
}

func (a AppView) mainWidth() int {
	return max(a.width-sidebarWidth-2, 20)
}

func (a *AppView) layout() {
	w := a.mainWidth()
	a.textarea.SetWidth(w)
	a.cursor.input.SetWidth(w)
	reserved := a.textarea.Height() + 5 // header, composer extras, status bar
	if a.errorText != "" {
		reserved++
	}
	if a.cursor.editing {
		reserved++
	}
	a.viewport.Width = w
	a.viewport.Height = max(a.height-reserved, 3)
}

func (a AppView) currentTitle() string {
	if a.slug == "" {
		return "New chat"
	}
	for _, c := range a.chats {
		if c.Slug == a.slug {
			return storage.DisplayTitle(c)
		}
	}
	return storage.QueryFromSlug(a.slug)
}

func (a AppView) lastAssistant() (model.Message, bool) {
	idx := model.LastIndexOf(a.messages, model.RoleAssistant)
	if idx < 0 {
		return model.Message{}, false
	}
	return a.messages[idx], true
}
