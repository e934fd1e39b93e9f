package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"convo/config"
	"convo/ollama"
	"convo/provider"
	"convo/storage"
)

// command is a parsed slash command.
type command struct {
	Name string
	Arg  string
}

func parseCommand(input string) command {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, arg, _ := strings.Cut(input, " ")
	return command{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}
}

func (c ChatView) runCommand(input string) (tea.Model, tea.Cmd) {
	cmd := parseCommand(input)

	if config.DebugLog != nil {
		config.DebugLog.Printf("[UI] Command /%s %q", cmd.Name, cmd.Arg)
	}

	switch cmd.Name {
	case "help", "?":
		c.showHelp = true
		return c, nil

	case "quit", "exit", "q":
		return c, tea.Quit

	case "models":
		c.modelQuery = cmd.Arg
		c.status = "fetching models"
		return c, provider.FetchModels(c.session.Provider)

	case "model":
		if cmd.Arg == "" {
			c.addSystem(fmt.Sprintf("Current model: %s", c.session.Conv.Model()))
			return c, nil
		}
		name := c.resolveModel(cmd.Arg)
		c.session.SwitchModel(name)
		c.modelName = name
		c.addSystem(fmt.Sprintf("Switched to model %s", name))
		return c, nil

	case "copy":
		c.copyLastReply()
		return c, nil

	case "export":
		path := cmd.Arg
		if path == "" {
			path = storage.GenerateExportPath(c.session.Record.Name, "json")
		}
		path = config.ExpandPath(path)
		if err := c.session.Export(path); err != nil {
			c.addError(err)
			return c, nil
		}
		c.addSystem(fmt.Sprintf("Exported to %s", filepath.Clean(path)))
		return c, nil

	case "reset", "new":
		if err := c.session.Reset(); err != nil {
			c.addError(err)
		}
		c.rebuildEntries()
		c.addSystem("Started a new conversation")
		return c, nil

	case "rename":
		if cmd.Arg == "" {
			c.addSystem("Usage: /rename <name>")
			return c, nil
		}
		if err := c.session.Rename(cmd.Arg); err != nil {
			c.addError(err)
			return c, nil
		}
		c.addSystem(fmt.Sprintf("Renamed conversation to %q", cmd.Arg))
		return c, nil

	case "usage":
		totals, err := c.session.Usage()
		if err != nil {
			c.addError(err)
			return c, nil
		}
		c.addSystem(formatUsage(totals))
		return c, nil

	case "search":
		if cmd.Arg == "" {
			c.addSystem("Usage: /search <text>")
			return c, nil
		}
		return c, searchCmd(c, cmd.Arg)

	default:
		c.addSystem(fmt.Sprintf("Unknown command /%s, try /help", cmd.Name))
		return c, nil
	}
}

func searchCmd(c ChatView, query string) tea.Cmd {
	session := c.session
	return func() tea.Msg {
		matches, err := session.Search(query)
		return searchResultsMsg{Query: query, Matches: matches, Err: err}
	}
}

// resolveModel maps a name typed by the user to a listed model, so that
// OpenRouter display names resolve to their API names.
func (c ChatView) resolveModel(name string) string {
	for _, m := range c.modelList {
		if m.Name == name || m.InternalName == name {
			if m.InternalName != "" {
				return m.InternalName
			}
			return m.Name
		}
	}
	return name
}

func (c *ChatView) showModels(msg provider.ModelsMsg) {
	c.status = ""
	if msg.Err != nil {
		c.addError(fmt.Errorf("failed to list models: %w", msg.Err))
		return
	}
	c.modelList = msg.Models

	models := filterModels(msg.Models, c.modelQuery)
	if len(models) == 0 {
		c.addSystem(fmt.Sprintf("No models match %q", c.modelQuery))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d models (/model <name> to switch):", len(models), len(msg.Models))
	for _, m := range models {
		marker := "  "
		if m.InternalName == c.modelName || m.Name == c.modelName {
			marker = "* "
		}
		line := marker + m.Name
		if m.Size > 0 {
			line += DimStyle.Render(fmt.Sprintf("  %.1f GB", float64(m.Size)/1e9))
		}
		b.WriteString("\n" + fitWidth(line, max(c.width-10, 20)))
	}
	c.addSystem(b.String())
}

// filterModels fuzzy-matches query against model names, best match first.
func filterModels(models []ollama.ModelInfo, query string) []ollama.ModelInfo {
	if query == "" {
		return models
	}

	targets := make([]string, len(models))
	for i, m := range models {
		targets[i] = m.Name
	}

	matches := fuzzy.Find(query, targets)
	filtered := make([]ollama.ModelInfo, len(matches))
	for i, match := range matches {
		filtered[i] = models[match.Index]
	}
	return filtered
}

func (c *ChatView) showSearch(msg searchResultsMsg) {
	if msg.Err != nil {
		c.addError(fmt.Errorf("search failed: %w", msg.Err))
		return
	}
	if len(msg.Matches) == 0 {
		c.addSystem(fmt.Sprintf("No saved messages contain %q", msg.Query))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d matches for %q:", len(msg.Matches), msg.Query)
	for _, m := range msg.Matches {
		line := fmt.Sprintf("%s [%s #%d] %s", m.SessionName, m.Role, m.MessageIndex, m.Preview)
		b.WriteString("\n" + fitWidth(line, max(c.width-10, 20)))
	}
	c.addSystem(b.String())
}

func (c *ChatView) copyLastReply() {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].Role != "assistant" {
			continue
		}
		if err := clipboard.WriteAll(c.entries[i].Content); err != nil {
			c.addError(fmt.Errorf("failed to copy: %w", err))
			return
		}
		c.status = "copied"
		return
	}
	c.addSystem("Nothing to copy yet")
}

func formatUsage(t storage.UsageTotals) string {
	s := fmt.Sprintf("%d exchanges, %d prompt + %d completion = %d tokens",
		t.Exchanges, t.PromptTokens, t.CompletionTokens, t.TotalTokens)
	if t.Truncations > 0 {
		s += fmt.Sprintf(", up to %d messages truncated", t.Truncations)
	}
	return s
}

func renderHelp(width, height int) string {
	green := lipgloss.NewStyle().Bold(true).Foreground(successColor)
	blue := lipgloss.NewStyle().Foreground(accentColor)

	keys := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Keys"),
		"• Enter         Send message",
		"• Alt+Enter     New line",
		"• Esc           Cancel reply",
		"• PgUp/PgDn     Scroll",
		"• Alt+Y         Copy last reply",
		"• Ctrl+C        Quit",
	)

	commands := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Commands"),
		"• /models [q]   List models",
		"• /model NAME   Switch model",
		"• /search TEXT  Search saved chats",
		"• /export [F]   Export as JSON/YAML",
		"• /rename NAME  Rename conversation",
		"• /usage        Token usage",
		"• /reset        New conversation",
		"• /copy         Copy last reply",
		"• /quit         Quit",
	)

	columnStyle := lipgloss.NewStyle().Width(36).PaddingLeft(4)
	content := lipgloss.JoinVertical(
		lipgloss.Center,
		green.Render("Keyboard Shortcuts"),
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, columnStyle.Render(keys), columnStyle.Render(commands)),
		"",
		HelpStyle.Render("Press Esc to close this help"),
	)

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(1, 2)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box.Render(content))
}
