package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"concourse/internal/protocol"
	"concourse/internal/session"
	"concourse/internal/threadcache"
)

func (m *Model) View() string {
	if m.width == 0 {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.columnsView())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")

	if m.status != "" {
		b.WriteString(errorStyle.Render(m.status))
		b.WriteString("\n")
	}
	m.help.ShowAll = m.showHelp
	b.WriteString(statusStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func (m *Model) headerView() string {
	sess, ok := m.store.Session(m.store.ActiveSessionID())
	title := "no session"
	if ok {
		title = sess.Title
	}
	page := fmt.Sprintf("page %d/%d", m.pager.Page()+1, m.pager.TotalPages())
	left := headerStyle.Render(title)
	right := pageInfoStyle.Render(page)
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m *Model) columnsView() string {
	visible := m.pager.Visible(m.sessCtx)
	if len(visible) == 0 {
		return statusStyle.Render("No thread configs yet. ctrl+n adds one.")
	}

	perPage := m.pager.ItemsPerPage()
	colWidth := m.width/perPage - columnStyle.GetHorizontalFrameSize()
	if colWidth < MinColumnWidth-columnStyle.GetHorizontalFrameSize() {
		colWidth = MinColumnWidth - columnStyle.GetHorizontalFrameSize()
	}
	colHeight := m.height - m.input.Height() - 5
	if colHeight < 4 {
		colHeight = 4
	}

	cols := make([]string, 0, len(visible))
	for i, cfg := range visible {
		style := columnStyle
		if i == m.focusIdx {
			style = columnFocusStyle
		}
		cols = append(cols, style.Width(colWidth).Height(colHeight).Render(
			m.columnView(cfg, colWidth, colHeight, i == m.focusIdx)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (m *Model) columnView(cfg session.ThreadConfig, width, height int, focused bool) string {
	var b strings.Builder

	title := cfg.Name
	titleStyle := columnTitleStyle
	if !cfg.Enabled {
		titleStyle = disabledTitleStyle
		title += " (off)"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	for i, mod := range cfg.Modules {
		cursor := "  "
		if focused && i == m.moduleCursor {
			cursor = "> "
		}
		b.WriteString(moduleStyle.Render(fmt.Sprintf("%s%s L%d", cursor, mod.Title, mod.Level)))
		b.WriteString("\n")
	}
	if len(cfg.Modules) == 0 {
		b.WriteString(moduleStyle.Render("  no modules"))
		b.WriteString("\n")
	}
	b.WriteString(moduleStyle.Render(strings.Repeat("─", max(1, width))))
	b.WriteString("\n")

	entry, _ := m.threadEntry(cfg)
	b.WriteString(m.historyView(entry, width, height-len(cfg.Modules)-3))
	return b.String()
}

func (m *Model) threadEntry(cfg session.ThreadConfig) (threadcache.Entry, bool) {
	if cfg.BoundThreadID == "" {
		return threadcache.Entry{}, false
	}
	return m.cache.Get(cfg.BoundThreadID)
}

func (m *Model) historyView(entry threadcache.Entry, width, maxLines int) string {
	var lines []string

	for _, msg := range entry.History {
		text := msg.Text()
		if text == "" {
			continue
		}
		style := agentStyle
		prefix := "● "
		if msg.Role == protocol.Human {
			style = humanStyle
			prefix = "> "
		}
		wrapped := lipgloss.NewStyle().Width(width).Render(prefix + text)
		lines = append(lines, strings.Split(style.Render(wrapped), "\n")...)
	}

	if entry.Loading {
		lines = append(lines, m.spin.View()+" loading history")
	}
	if entry.Streaming {
		lines = append(lines, m.spin.View()+" thinking")
	}
	if entry.Err != "" {
		wrapped := lipgloss.NewStyle().Width(width).Render("✗ " + entry.Err)
		lines = append(lines, strings.Split(errorStyle.Render(wrapped), "\n")...)
	}
	if len(lines) == 0 {
		lines = append(lines, moduleStyle.Render("no messages yet"))
	}

	// Keep the tail: newest output stays on screen.
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}
