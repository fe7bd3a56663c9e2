package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Tool is the display view of one entry from the Tool Registry's visible
// tool definitions.
type Tool struct {
	Name        string
	Description string
}

// DispatchLogEntry is a single Tool Registry & Dispatcher call, as observed
// through the Run-Loop Driver's event stream.
type DispatchLogEntry struct {
	ToolCallID  string
	Timestamp   string
	ToolName    string
	Description string
	Status      string // "success", "running", "failed"
	Details     string
	Expanded    bool
}

type viewMode int

const (
	viewModeHistory viewMode = iota
	viewModeTools
	viewModeCapabilities
)

// toolActivity tracks live usage stats for a registered tool.
type toolActivity struct {
	CallCount  int
	LastStatus string // "success", "failed", "running", or ""
	LastCall   string // timestamp "15:04:05"
}

// AgentsModel renders the Tool Registry & Dispatcher activity page: a live
// log of dispatched tool calls, the registry's visible tool set, and a fixed
// description of the four capability tiers (read/write/execute/network).
type AgentsModel struct {
	scaffold       *Scaffold
	mode           viewMode
	cursor         int
	dispatches     []DispatchLogEntry
	availableTools []Tool
	toolStats      map[string]*toolActivity
	message        string
	width          int
	height         int
	scrollOffset   int
	detailsFocused bool
}

func NewAgentsModel(scaffold *Scaffold, tools []Tool) *AgentsModel {
	return &AgentsModel{
		scaffold:       scaffold,
		mode:           viewModeHistory,
		dispatches:     []DispatchLogEntry{},
		availableTools: tools,
		toolStats:      make(map[string]*toolActivity),
	}
}

func (m *AgentsModel) Init() tea.Cmd {
	return nil
}

func (m *AgentsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ChatToolUseMsg:
		// Prepend a running entry immediately
		desc := msg.ToolName
		if msg.Input != "" {
			truncInput := msg.Input
			if len(truncInput) > 60 {
				truncInput = truncInput[:57] + "..."
			}
			desc = msg.ToolName + " " + truncInput
		}
		entry := DispatchLogEntry{
			ToolCallID:  msg.ToolCallID,
			Timestamp:   time.Now().Format("15:04:05"),
			ToolName:    msg.ToolName,
			Description: desc,
			Status:      "running",
			Details:     "Input:\n" + msg.Input,
		}
		m.dispatches = append([]DispatchLogEntry{entry}, m.dispatches...)
		// Adjust cursor if needed (items shifted down)
		if m.cursor > 0 {
			m.cursor++
		}
		// Track tool activity
		stats := m.getOrCreateStats(msg.ToolName)
		stats.CallCount++
		stats.LastStatus = "running"
		stats.LastCall = time.Now().Format("15:04:05")
		return m, nil

	case ChatToolResultMsg:
		// Find matching running entry and update it
		for i := range m.dispatches {
			if m.dispatches[i].ToolCallID == msg.ToolCallID && m.dispatches[i].Status == "running" {
				if msg.IsError {
					m.dispatches[i].Status = "failed"
				} else {
					m.dispatches[i].Status = "success"
				}
				m.dispatches[i].Details += "\n\nOutput:\n" + msg.Result
				break
			}
		}
		// Track tool activity
		if stats, ok := m.toolStats[msg.ToolName]; ok {
			if msg.IsError {
				stats.LastStatus = "failed"
			} else {
				stats.LastStatus = "success"
			}
		}
		return m, nil

	case ToolExecutionMsg:
		// The ToolExecutionMsg carries complete data. If we already have a
		// matching entry (from ChatToolUseMsg + ChatToolResultMsg), update it
		// with the full details. Otherwise prepend a new completed entry.
		found := false
		for i := range m.dispatches {
			if m.dispatches[i].ToolCallID == msg.ToolCallID {
				if msg.IsError {
					m.dispatches[i].Status = "failed"
				} else {
					m.dispatches[i].Status = "success"
				}
				m.dispatches[i].Details = "Input:\n" + msg.Input + "\n\nOutput:\n" + msg.Output
				found = true
				break
			}
		}
		if !found {
			status := "success"
			if msg.IsError {
				status = "failed"
			}
			entry := DispatchLogEntry{
				ToolCallID:  msg.ToolCallID,
				Timestamp:   time.Now().Format("15:04:05"),
				ToolName:    msg.ToolName,
				Description: msg.ToolName,
				Status:      status,
				Details:     "Input:\n" + msg.Input + "\n\nOutput:\n" + msg.Output,
			}
			m.dispatches = append([]DispatchLogEntry{entry}, m.dispatches...)
		}
		// Track tool activity
		stats := m.getOrCreateStats(msg.ToolName)
		if msg.IsError {
			stats.LastStatus = "failed"
		} else {
			stats.LastStatus = "success"
		}
		if stats.LastCall == "" {
			stats.CallCount++
			stats.LastCall = time.Now().Format("15:04:05")
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "1":
			m.mode = viewModeHistory
			m.cursor = 0
			m.scrollOffset = 0
		case "2":
			m.mode = viewModeTools
			m.cursor = 0
			m.scrollOffset = 0
		case "3":
			m.mode = viewModeCapabilities
			m.cursor = 0
			m.scrollOffset = 0

		case "up":
			if m.mode == viewModeHistory {
				if m.detailsFocused {
					m.detailsFocused = false
				} else if m.cursor > 0 {
					m.cursor--
					m.adjustScroll()
				}
			} else if m.mode == viewModeTools {
				if m.cursor > 0 {
					m.cursor--
					m.adjustScroll()
				}
			}

		case "down":
			if m.mode == viewModeHistory {
				if len(m.dispatches) > 0 && m.dispatches[m.cursor].Expanded && !m.detailsFocused {
					m.detailsFocused = true
				} else {
					m.detailsFocused = false
					if m.cursor < len(m.dispatches)-1 {
						m.cursor++
						m.adjustScroll()
					}
				}
			} else if m.mode == viewModeTools {
				if m.cursor < len(m.availableTools)-1 {
					m.cursor++
					m.adjustScroll()
				}
			}

		case "enter":
			if m.mode == viewModeHistory && len(m.dispatches) > 0 {
				if m.detailsFocused {
					m.message = "✓ Dispatch details for " + m.dispatches[m.cursor].ToolName
					m.detailsFocused = false
				} else {
					m.dispatches[m.cursor].Expanded = !m.dispatches[m.cursor].Expanded
				}
			}
		}
	}
	return m, nil
}

func (m *AgentsModel) getOrCreateStats(toolName string) *toolActivity {
	stats, ok := m.toolStats[toolName]
	if !ok {
		stats = &toolActivity{}
		m.toolStats[toolName] = stats
	}
	return stats
}

func (m *AgentsModel) adjustScroll() {
	visibleLines := m.getVisibleLines()
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	} else if m.cursor >= m.scrollOffset+visibleLines {
		m.scrollOffset = m.cursor - visibleLines + 1
	}
}

func (m *AgentsModel) getVisibleLines() int {
	if m.height <= 0 {
		return 10
	}
	bodyHeight := m.height - mergedHeaderHeight
	if bodyHeight < 5 {
		return 5
	}
	return bodyHeight - 5 // Leave room for header and footer
}

func (m *AgentsModel) View() string {
	orangeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("93"))
	successStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	runningStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226"))

	var b strings.Builder

	// Navigation tabs
	tabs := []string{"[1] Dispatch Log", "[2] Tools", "[3] Capabilities"}
	var tabsRendered []string
	for i, tab := range tabs {
		if viewMode(i) == m.mode {
			tabsRendered = append(tabsRendered, orangeStyle.Render(tab))
		} else {
			tabsRendered = append(tabsRendered, dimStyle.Render(tab))
		}
	}
	b.WriteString(strings.Join(tabsRendered, "  "))
	b.WriteString("\n\n")

	switch m.mode {
	case viewModeHistory:
		b.WriteString(headerStyle.Render("Tool Dispatch History"))
		b.WriteString("\n\n")

		if len(m.dispatches) == 0 {
			b.WriteString(dimStyle.Render("  No tool calls yet."))
		} else {
			pipeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
			pipe := pipeStyle.Render("│")

			for i, entry := range m.dispatches {
				isCursor := i == m.cursor
				onHeader := isCursor && !m.detailsFocused

				arrow := "▸"
				if entry.Expanded {
					arrow = "▾"
				}

				prefix := "  "
				if onHeader {
					prefix = "> "
				}

				statusIcon := ""
				statusStyle := dimStyle
				switch entry.Status {
				case "success":
					statusIcon = "✓"
					statusStyle = successStyle
				case "failed":
					statusIcon = "✗"
					statusStyle = failStyle
				case "running":
					statusIcon = "◌"
					statusStyle = runningStyle
				}

				line := fmt.Sprintf("%s %s %s  %s", arrow, statusStyle.Render(statusIcon), entry.Timestamp, entry.Description)
				if onHeader {
					b.WriteString(orangeStyle.Render(prefix + line))
				} else {
					b.WriteString(dimStyle.Render(prefix + line))
				}
				b.WriteString("\n")

				if entry.Expanded {
					b.WriteString("  " + pipe + "  " + dimStyle.Render("Tool: "+entry.ToolName) + "\n")
					b.WriteString("  " + pipe + "  " + dimStyle.Render("Call ID: "+entry.ToolCallID) + "\n")
					b.WriteString("  " + pipe + "\n")
					for _, dl := range strings.Split(entry.Details, "\n") {
						b.WriteString("  " + pipe + "  " + dimStyle.Render(dl) + "\n")
					}
					b.WriteString("  " + pipe + "\n")
				}
			}

			b.WriteString("\n")
			b.WriteString(dimStyle.Render("  ↑↓ navigate   Enter expand/collapse"))
		}

	case viewModeTools:
		b.WriteString(headerStyle.Render("Registered Tools"))
		b.WriteString("\n\n")

		for i, tool := range m.availableTools {
			isCursor := i == m.cursor
			prefix := "  "
			if isCursor {
				prefix = "> "
			}

			stats := m.toolStats[tool.Name]
			bullet := dimStyle.Render("○")
			if stats != nil && stats.CallCount > 0 {
				bullet = orangeStyle.Render("●")
			}

			nameDesc := fmt.Sprintf("%-20s %s", tool.Name, tool.Description)
			if isCursor {
				b.WriteString(orangeStyle.Render(prefix) + bullet + " " + orangeStyle.Render(nameDesc))
			} else {
				b.WriteString(dimStyle.Render(prefix) + bullet + " " + dimStyle.Render(nameDesc))
			}
			b.WriteString("\n")

			// Activity line
			if stats != nil && stats.CallCount > 0 {
				callWord := "calls"
				if stats.CallCount == 1 {
					callWord = "call"
				}
				statusIcon := "✓"
				statusRender := successStyle.Render(statusIcon)
				switch stats.LastStatus {
				case "failed":
					statusRender = failStyle.Render("✗")
				case "running":
					statusRender = runningStyle.Render("◌")
				}
				activity := fmt.Sprintf("    %d %s · last: ", stats.CallCount, callWord)
				b.WriteString(dimStyle.Render(activity) + statusRender + " " + dimStyle.Render(stats.LastCall))
			} else {
				b.WriteString(dimStyle.Render("    No calls yet"))
			}
			b.WriteString("\n")
		}

		b.WriteString("\n")
		b.WriteString(dimStyle.Render("  ↑↓ navigate"))

	case viewModeCapabilities:
		b.WriteString(headerStyle.Render("Policy Gate Capability Tiers"))
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("Every tool is registered under one of four capability tiers."))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("The model only sees tools at or below the session's max tier,"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("and shell-invoking tools additionally pass the Policy Gate's"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("workspace-trust and allow/deny checks before they dispatch."))
		b.WriteString("\n\n")
		tiers := []struct {
			name string
			desc string
		}{
			{"read", "read_file, list_dir, pty_read — no Policy Gate consultation"},
			{"write", "write_file, apply_patch — snapshotted for rollback"},
			{"execute", "run_command, execute_code, pty_start, pty_write — gated by workspace trust + allow/deny lists"},
			{"network", "call_agent — crosses the Inter-Agent RPC boundary"},
		}
		for _, t := range tiers {
			b.WriteString(orangeStyle.Render("  " + t.name))
			b.WriteString(dimStyle.Render("  " + t.desc))
			b.WriteString("\n")
		}
	}

	if m.message != "" {
		b.WriteString("\n\n")
		b.WriteString(orangeStyle.Render("  " + m.message))
	}

	return b.String()
}
