// Package tui renders side-by-side thread columns for the active session and
// routes user input to the run dispatcher.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"concourse/internal/dispatch"
	"concourse/internal/history"
	"concourse/internal/pubsub"
	"concourse/internal/session"
	"concourse/internal/threadcache"
	"concourse/internal/view"
)

// MinColumnWidth is the narrowest a thread column may render, in cells.
const MinColumnWidth = 40

type cacheEventMsg struct {
	event pubsub.Event[string]
}

type storeEventMsg struct {
	event pubsub.Event[string]
}

type subClosedMsg struct{}

// Deps bundles everything the model drives. All fields are required.
type Deps struct {
	Store      *session.Store
	Cache      *threadcache.Cache
	Loader     *history.Loader
	Dispatcher *dispatch.Dispatcher
	Pager      *view.Pager
}

type Model struct {
	store      *session.Store
	cache      *threadcache.Cache
	loader     *history.Loader
	dispatcher *dispatch.Dispatcher
	pager      *view.Pager

	input textarea.Model
	spin  spinner.Model
	help  help.Model
	keys  keyMap

	width, height int
	focusIdx      int
	moduleCursor  int
	showHelp      bool
	status        string

	ctx     context.Context
	cancel  context.CancelFunc
	cacheCh <-chan pubsub.Event[string]
	storeCh <-chan pubsub.Event[string]

	// sessCtx scopes run streams and history fetches to the session that
	// started them; switching sessions cancels it.
	sessCtx    context.Context
	sessCancel context.CancelFunc

	// runs of the most recent fan-out, for esc to cancel
	activeRuns []*dispatch.Run
}

func NewModel(deps Deps) *Model {
	input := textarea.New()
	input.Placeholder = "Send a message to every enabled thread..."
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	spin := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	spin.Style = lipglossSpinnerStyle

	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		store:      deps.Store,
		cache:      deps.Cache,
		loader:     deps.Loader,
		dispatcher: deps.Dispatcher,
		pager:      deps.Pager,
		input:      input,
		spin:       spin,
		help:       help.New(),
		keys:       defaultKeyMap(),
		ctx:        ctx,
		cancel:     cancel,
	}
	m.sessCtx, m.sessCancel = context.WithCancel(ctx)
	m.cacheCh = deps.Cache.Subscribe(ctx)
	m.storeCh = deps.Store.Subscribe(ctx)
	m.syncPager()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spin.Tick,
		waitForEvent(m.cacheCh, func(ev pubsub.Event[string]) tea.Msg { return cacheEventMsg{ev} }),
		waitForEvent(m.storeCh, func(ev pubsub.Event[string]) tea.Msg { return storeEventMsg{ev} }),
	)
}

func waitForEvent(ch <-chan pubsub.Event[string], wrap func(pubsub.Event[string]) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return subClosedMsg{}
		}
		return wrap(ev)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.pager.SetWidth(msg.Width)
		m.input.SetWidth(msg.Width - 2)
		m.clampFocus()
		return m, nil

	case cacheEventMsg:
		// Cache churn only invalidates the render; state is read in View.
		return m, waitForEvent(m.cacheCh, func(ev pubsub.Event[string]) tea.Msg { return cacheEventMsg{ev} })

	case storeEventMsg:
		m.syncPager()
		return m, waitForEvent(m.storeCh, func(ev pubsub.Event[string]) tea.Msg { return storeEventMsg{ev} })

	case subClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Send):
		m.send()
		return m, nil

	case key.Matches(msg, m.keys.Cancel):
		for _, run := range m.activeRuns {
			run.Cancel()
		}
		m.activeRuns = nil
		return m, nil

	case key.Matches(msg, m.keys.NextPage):
		m.pager.NextPage()
		m.focusIdx, m.moduleCursor = 0, 0
		return m, nil

	case key.Matches(msg, m.keys.PrevPage):
		m.pager.PrevPage()
		m.focusIdx, m.moduleCursor = 0, 0
		return m, nil

	case key.Matches(msg, m.keys.NextColumn):
		m.focusIdx++
		m.moduleCursor = 0
		m.clampFocus()
		return m, nil

	case key.Matches(msg, m.keys.PrevColumn):
		m.focusIdx--
		m.moduleCursor = 0
		m.clampFocus()
		return m, nil

	case key.Matches(msg, m.keys.NewConfig):
		if sessionID := m.store.ActiveSessionID(); sessionID != "" {
			if _, err := m.store.AddThreadConfig(sessionID); err != nil {
				m.status = err.Error()
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Toggle):
		if cfg, ok := m.focusedConfig(); ok {
			err := m.store.SetEnabled(m.store.ActiveSessionID(), cfg.ID, !cfg.Enabled)
			if err != nil {
				m.status = err.Error()
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.LevelUp):
		m.adjustLevel(1)
		return m, nil

	case key.Matches(msg, m.keys.LevelDown):
		m.adjustLevel(-1)
		return m, nil

	case key.Matches(msg, m.keys.NextSession):
		m.cycleSession()
		return m, nil

	case key.Matches(msg, m.keys.NewSession):
		m.newSession()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send fans the composed message out across every enabled config of the
// active session. Bound threads continue their conversation; unbound ones
// start a new conversation under a placeholder id until the backend assigns
// a real one.
func (m *Model) send() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return
	}
	sess, ok := m.store.Session(m.store.ActiveSessionID())
	if !ok {
		m.status = "no active session"
		return
	}
	enabled := sess.EnabledConfigs()
	if len(enabled) == 0 {
		m.status = "no enabled thread configs"
		return
	}

	specs := make([]dispatch.RunSpec, 0, len(enabled))
	for _, cfg := range enabled {
		specs = append(specs, dispatch.SpecForConfig(cfg))
	}

	m.activeRuns = m.activeRuns[:0]
	failures := 0
	for _, res := range m.dispatcher.FanOut(m.sessCtx, text, specs) {
		if res.Err != nil {
			failures++
			continue
		}
		m.activeRuns = append(m.activeRuns, res.Run)
	}
	if failures > 0 {
		m.status = "some threads rejected the message"
	} else {
		m.status = ""
	}
	m.input.Reset()
}

func (m *Model) adjustLevel(delta int) {
	cfg, ok := m.focusedConfig()
	if !ok || len(cfg.Modules) == 0 {
		return
	}
	if m.moduleCursor >= len(cfg.Modules) {
		m.moduleCursor = len(cfg.Modules) - 1
	}
	mod := cfg.Modules[m.moduleCursor]
	err := m.store.SetModuleLevel(m.store.ActiveSessionID(), cfg.ID, mod.ModuleID, mod.Level+delta)
	if err != nil {
		m.status = err.Error()
	}
}

// abortSessionWork stops everything tied to the session being left: live
// run streams and any history fetches still in flight on sessCtx.
func (m *Model) abortSessionWork() {
	for _, run := range m.activeRuns {
		run.Cancel()
	}
	m.activeRuns = nil
	m.sessCancel()
	m.sessCtx, m.sessCancel = context.WithCancel(m.ctx)
}

func (m *Model) newSession() {
	m.abortSessionWork()
	sess := m.store.CreateSession("")
	if err := m.store.SetActiveSession(sess.ID); err != nil {
		m.status = err.Error()
	}
	m.syncPager()
}

func (m *Model) cycleSession() {
	sessions := m.store.Sessions()
	if len(sessions) < 2 {
		return
	}
	m.abortSessionWork()
	active := m.store.ActiveSessionID()
	for i, sess := range sessions {
		if sess.ID == active {
			next := sessions[(i+1)%len(sessions)]
			if err := m.store.SetActiveSession(next.ID); err != nil {
				m.status = err.Error()
			}
			m.syncPager()
			return
		}
	}
	if err := m.store.SetActiveSession(sessions[0].ID); err != nil {
		m.status = err.Error()
	}
	m.syncPager()
}

// syncPager mirrors the active session's config list into the pager. A
// session switch resets to the first page; same-session edits keep position.
func (m *Model) syncPager() {
	sessionID := m.store.ActiveSessionID()
	sess, ok := m.store.Session(sessionID)
	if !ok {
		m.pager.SetItems("", nil)
		m.clampFocus()
		return
	}
	m.pager.SetItems(sessionID, sess.OrderedConfigs())
	m.clampFocus()
}

func (m *Model) clampFocus() {
	visible := m.pager.Visible(m.sessCtx)
	if m.focusIdx >= len(visible) {
		m.focusIdx = len(visible) - 1
	}
	if m.focusIdx < 0 {
		m.focusIdx = 0
	}
}

func (m *Model) focusedConfig() (session.ThreadConfig, bool) {
	visible := m.pager.Visible(m.sessCtx)
	if m.focusIdx < 0 || m.focusIdx >= len(visible) {
		return session.ThreadConfig{}, false
	}
	return visible[m.focusIdx], true
}
