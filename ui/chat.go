// Package ui is the interactive terminal chat built on bubbletea.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"convo/app"
	"convo/config"
	"convo/conversation"
	"convo/model"
	"convo/ollama"
	"convo/provider"
)

// ChatView is the main chat screen. The conversation is only touched from
// Update while no exchange is in flight.
type ChatView struct {
	session *app.Session
	stream  bool // stream replies instead of waiting for them

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	entries []entry

	width  int
	height int
	ready  bool

	// Exchange state
	busy       bool
	cancelling bool
	active     *conversation.ResponseStream
	cancel     context.CancelFunc
	partial    *strings.Builder // Pointer to avoid copy panic
	status     string
	showHelp   bool

	// Read from the conversation while idle, shown while busy
	modelName   string
	truncations int

	// Model filter for the next /models result
	modelQuery string
	modelList  []ollama.ModelInfo
}

// NewChatView creates the chat screen for session.
func NewChatView(session *app.Session, stream bool) ChatView {
	ta := textarea.New()
	ta.Placeholder = "Send a message (/help for commands)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter")
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))

	c := ChatView{
		session:  session,
		stream:   stream,
		textarea: ta,
		spinner:  sp,
		partial:  &strings.Builder{},
	}
	c.rebuildEntries()
	return c
}

func (c ChatView) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, provider.PingProvider(c.session.Provider))
}

func (c ChatView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height
		c.textarea.SetWidth(msg.Width)
		vpHeight := max(msg.Height-c.textarea.Height()-3, 1)
		if !c.ready {
			c.viewport = viewport.New(msg.Width, vpHeight)
			c.ready = true
		} else {
			c.viewport.Width = msg.Width
			c.viewport.Height = vpHeight
		}
		c.updateViewport(true)
		return c, c.renderAll()

	case tea.KeyMsg:
		return c.handleKey(msg)

	case spinner.TickMsg:
		if !c.busy {
			return c, nil
		}
		var cmd tea.Cmd
		c.spinner, cmd = c.spinner.Update(msg)
		c.updateViewport(false)
		return c, cmd

	case streamFragmentMsg:
		if c.active == nil {
			return c, nil
		}
		if c.cancelling {
			_ = c.active.Close()
			c.finishExchange()
			c.restoreInput(c.session.DiscardInput())
			c.addSystem("Request cancelled")
			return c, nil
		}
		c.partial.WriteString(msg.Fragment)
		c.updateViewport(true)
		return c, nextFragment(c.active)

	case streamDoneMsg:
		c.finishExchange()
		if err := c.session.Commit(true); err != nil {
			c.addError(err)
		}
		c.rebuildEntries()
		c.updateViewport(true)
		return c, c.renderLast()

	case exchangeDoneMsg:
		c.finishExchange()
		if msg.Err != nil {
			c.restoreInput(msg.Input)
			c.addError(msg.Err)
			return c, nil
		}
		// Send has committed already
		c.rebuildEntries()
		c.updateViewport(true)
		return c, c.renderLast()

	case streamErrorMsg:
		c.finishExchange()
		c.restoreInput(c.session.DiscardInput())
		c.addError(msg.Err)
		return c, nil

	case markdownRenderedMsg:
		if msg.MessageIndex < len(c.entries) && c.entries[msg.MessageIndex].Content == msg.Content {
			c.entries[msg.MessageIndex].Rendered = msg.Rendered
			c.updateViewport(false)
		}
		return c, nil

	case provider.PingProviderMsg:
		if !msg.Valid {
			c.addSystem(fmt.Sprintf("Provider %s is not reachable: %v", msg.ProviderID, msg.Err))
		}
		return c, nil

	case provider.ModelsMsg:
		c.showModels(msg)
		return c, nil

	case searchResultsMsg:
		c.showSearch(msg)
		return c, nil
	}

	var cmd tea.Cmd
	c.textarea, cmd = c.textarea.Update(msg)
	return c, cmd
}

func (c ChatView) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		c.abort()
		return c, tea.Quit

	case "esc":
		if c.showHelp {
			c.showHelp = false
			return c, nil
		}
		// The exchange ends once the pending command returns
		c.abort()
		return c, nil

	case "pgup":
		c.viewport.HalfPageUp()
		return c, nil

	case "pgdown":
		c.viewport.HalfPageDown()
		return c, nil

	case "alt+y":
		c.copyLastReply()
		return c, nil
	}

	if msg.Type == tea.KeyEnter && !msg.Alt {
		if c.busy {
			return c, nil
		}
		input := strings.TrimSpace(c.textarea.Value())
		if input == "" {
			return c, nil
		}
		c.textarea.Reset()

		if strings.HasPrefix(input, "/") {
			return c.runCommand(input)
		}
		return c.send(input)
	}

	var cmd tea.Cmd
	c.textarea, cmd = c.textarea.Update(msg)
	return c, cmd
}

// send starts an exchange for input.
func (c ChatView) send(input string) (tea.Model, tea.Cmd) {
	if config.DebugLog != nil {
		config.DebugLog.Printf("[UI] Sending %d chars (stream=%v)", len(input), c.stream)
	}

	c.entries = append(c.entries, entry{
		Role:      "user",
		Content:   input,
		Rendered:  input,
		Timestamp: time.Now(),
	})
	userIdx := len(c.entries) - 1

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.busy = true
	c.cancelling = false
	c.partial.Reset()
	c.updateViewport(true)

	var run tea.Cmd
	if c.stream {
		c.active = c.session.Stream(ctx, input)
		run = nextFragment(c.active)
	} else {
		run = sendCmd(ctx, c.session, input)
	}

	return c, tea.Batch(run, c.spinner.Tick, renderMarkdownAsync(userIdx, input, c.width))
}

// nextFragment pulls one fragment from stream off the UI goroutine. Only
// one pull is in flight at a time.
func nextFragment(stream *conversation.ResponseStream) tea.Cmd {
	return func() tea.Msg {
		if stream.Next() {
			return streamFragmentMsg{Index: stream.Index(), Fragment: stream.Current()}
		}
		if err := stream.Err(); err != nil {
			return streamErrorMsg{Err: err}
		}
		return streamDoneMsg{Text: stream.Text()}
	}
}

func sendCmd(ctx context.Context, session *app.Session, input string) tea.Cmd {
	return func() tea.Msg {
		reply, err := session.Send(ctx, input)
		return exchangeDoneMsg{Input: input, Reply: reply, Err: err}
	}
}

func (c *ChatView) finishExchange() {
	c.busy = false
	c.cancelling = false
	c.active = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.partial.Reset()
}

// restoreInput redraws the transcript without the unanswered input and
// puts the input back in the editor so it can be retried.
func (c *ChatView) restoreInput(input string) {
	c.rebuildEntries()
	if input != "" && c.textarea.Value() == "" {
		c.textarea.SetValue(input)
	}
}

// abort cancels the exchange in flight. The conversation stays untouched
// until its pending command reports back.
func (c *ChatView) abort() {
	if !c.busy || c.cancelling {
		return
	}
	c.cancelling = true
	if c.cancel != nil {
		c.cancel()
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[UI] Exchange cancelled")
	}
}

// rebuildEntries reloads the displayed transcript from the conversation,
// which reflects any truncation.
func (c *ChatView) rebuildEntries() {
	msgs := c.session.Conv.Messages()
	entries := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleTool {
			continue
		}
		content := m.Content
		if m.Role == model.RoleSystem {
			content = "System: " + content
		}
		e := entry{Role: string(m.Role), Content: m.Content, Rendered: content, Timestamp: m.Timestamp}
		// Keep renders of unchanged messages
		for _, old := range c.entries {
			if old.Role == e.Role && old.Content == e.Content && old.Rendered != old.Content {
				e.Rendered = old.Rendered
				break
			}
		}
		entries = append(entries, e)
	}
	c.entries = entries
	c.modelName = c.session.Conv.Model()
	c.truncations = c.session.Conv.Truncations()
}

func (c ChatView) renderAll() tea.Cmd {
	if c.width == 0 {
		return nil
	}
	var cmds []tea.Cmd
	for i, e := range c.entries {
		if e.Role == "user" || e.Role == "assistant" {
			cmds = append(cmds, renderMarkdownAsync(i, e.Content, c.width))
		}
	}
	return tea.Batch(cmds...)
}

func (c ChatView) renderLast() tea.Cmd {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].Role == "assistant" {
			return renderMarkdownAsync(i, c.entries[i].Content, c.width)
		}
	}
	return nil
}

func (c *ChatView) addSystem(text string) {
	c.entries = append(c.entries, entry{Role: "notice", Content: text, Rendered: text, Timestamp: time.Now()})
	c.updateViewport(true)
}

func (c *ChatView) addError(err error) {
	text := fmt.Sprintf("Error: %v", err)
	switch {
	case errors.Is(err, context.Canceled):
		text = "Request cancelled"
	case errors.Is(err, conversation.ErrContextExhausted):
		text = "The conversation no longer fits the model's context, even after removing older messages. Use /reset to start over."
	case errors.Is(err, conversation.ErrAutoTruncateDisabled):
		text = "The conversation exceeds the model's context and automatic truncation is disabled."
	}
	rendered := text
	if c.width > 10 {
		rendered = lipgloss.NewStyle().Width(c.width - 10).Render(text)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[UI] Exchange error: %v", err)
	}

	c.entries = append(c.entries, entry{Role: "error", Content: text, Rendered: rendered, Timestamp: time.Now()})
	c.updateViewport(true)
}

func (c *ChatView) updateViewport(gotoBottom bool) {
	if !c.ready {
		return
	}

	var b strings.Builder
	for _, e := range c.entries {
		b.WriteString(formatEntry(e))
	}

	if c.busy {
		timestamp := DimStyle.Render(time.Now().Format("[15:04]"))
		if c.partial.Len() == 0 {
			b.WriteString(fmt.Sprintf("%s %s Waiting for response...\n", timestamp, c.spinner.View()))
		} else {
			b.WriteString(fmt.Sprintf("%s %s %s\n%s\n", timestamp, AssistantStyle.Render("Assistant"), c.spinner.View(), c.partial.String()))
		}
	}

	if b.Len() == 0 {
		b.WriteString(DimStyle.Render("No messages yet. Start chatting!"))
	}

	c.viewport.SetContent(b.String())
	if gotoBottom {
		c.viewport.GotoBottom()
	}
}

func (c ChatView) statusLine() string {
	left := fmt.Sprintf("%s · %s · %d messages", c.session.Provider.Name(), c.modelName, len(c.entries))
	if c.truncations > 0 {
		left += fmt.Sprintf(" · %d truncated", c.truncations)
	}
	if c.status != "" {
		left += " · " + c.status
	}

	var footer string
	if c.busy {
		footer = FormatFooter("Esc", "Cancel", "Ctrl+C", "Quit")
	} else {
		footer = FormatFooter("Enter", "Send", "Alt+Enter", "Newline", "/help", "Commands")
	}

	return StatusStyle.Render(fitWidth(left, c.width)) + "\n" + footer
}

func (c ChatView) View() string {
	if !c.ready {
		return "Loading..."
	}
	if c.showHelp {
		return renderHelp(c.width, c.height)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		c.viewport.View(),
		c.textarea.View(),
		c.statusLine(),
	)
}
