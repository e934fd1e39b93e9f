package ui

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	markdown "github.com/MichaelMure/go-term-markdown"
	tea "github.com/charmbracelet/bubbletea"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"

	"convo/config"
)

var (
	inlineCodeRegex = regexp.MustCompile(`(?s)\x1b\[44;3m(.*?)\x1b\[0m`)
	mdLinkRegex     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
	urlRegex        = regexp.MustCompile(`(https?://[^\s]+)`)
)

// renderMarkdown renders content for a terminal of the given width.
// Autolink is disabled so URLs stay plain text for the terminal to detect.
func renderMarkdown(content string, width int) string {
	if width < 20 {
		width = 20
	}

	content = mdLinkRegex.ReplaceAllString(content, "$2")

	ext := markdown.Extensions() &^ parser.Autolink
	p := parser.NewWithExtensions(ext)
	r := markdown.NewRenderer(width-4, 0)
	rendered := gomarkdown.Render(p.Parse([]byte(content)), r)

	return postProcessMarkdown(string(rendered))
}

func postProcessMarkdown(rendered string) string {
	// Inline code: blue background to red text
	rendered = inlineCodeRegex.ReplaceAllString(rendered, "\x1b[31m$1\x1b[0m")

	lines := strings.Split(rendered, "\n")
	for i, line := range lines {
		// Code block lines carry a ┃ prefix and are left alone
		if !strings.Contains(line, "┃") {
			lines[i] = urlRegex.ReplaceAllString(line, "\x1b[31m$1\x1b[0m")
		}
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func renderMarkdownAsync(messageIndex int, content string, width int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		rendered := renderMarkdown(content, width)

		if config.DebugLog != nil {
			config.DebugLog.Printf("[UI] Markdown for message %d (%d chars) rendered in %v", messageIndex, len(content), time.Since(start))
		}

		return markdownRenderedMsg{
			MessageIndex: messageIndex,
			Content:      content,
			Rendered:     rendered,
		}
	}
}

func formatEntry(e entry) string {
	timestamp := DimStyle.Render(e.Timestamp.Format("[15:04]"))

	switch e.Role {
	case "user":
		return fmt.Sprintf("%s %s\n%s\n\n", timestamp, UserStyle.Render("You"), indentBar(e.Rendered))
	case "assistant":
		return fmt.Sprintf("%s %s\n%s\n\n", timestamp, AssistantStyle.Render("Assistant"), e.Rendered)
	case "error":
		return fmt.Sprintf("%s %s\n\n", timestamp, ErrorStyle.Render(e.Rendered))
	default:
		return fmt.Sprintf("%s %s\n\n", timestamp, DimStyle.Render(e.Rendered))
	}
}

func indentBar(s string) string {
	bar := UserStyle.Render("│") + " "
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = bar + line
	}
	return strings.Join(lines, "\n")
}
