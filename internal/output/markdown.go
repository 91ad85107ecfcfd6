package output

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

// TerminalWidth reports the width of stdout, then $COLUMNS, then fallback
// (80 when fallback is not positive).
func TerminalWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	if w, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && w > 0 {
		return w
	}
	if fallback > 0 {
		return fallback
	}
	return defaultMarkdownWidth
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type rendererKey struct {
	width int
	style string
}

var (
	renderersMu sync.Mutex
	renderers   = map[rendererKey]*glamour.TermRenderer{}
)

// renderer returns a cached glamour renderer. An empty style detects a dark
// or light terminal background. renderersMu must be held: renderers are not
// safe for concurrent use.
func renderer(width int, style string) (*glamour.TermRenderer, error) {
	key := rendererKey{max(width, minMarkdownWidth), style}
	if r, ok := renderers[key]; ok {
		return r, nil
	}
	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(key.width))
	if err != nil {
		return nil, err
	}
	renderers[key] = r
	return r, nil
}

// RenderMarkdown renders a ticket description for the current terminal. When
// stdout is not a terminal the text comes back as written.
func RenderMarkdown(text string) (string, error) {
	if !IsTerminal() {
		return strings.TrimRight(text, "\n"), nil
	}
	return RenderMarkdownWithStyle(text, TerminalWidth(defaultMarkdownWidth), "")
}

// RenderMarkdownWithStyle renders text wrapped at width with a named glamour
// style. Blank input renders as "".
func RenderMarkdownWithStyle(text string, width int, style string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	renderersMu.Lock()
	defer renderersMu.Unlock()
	r, err := renderer(width, style)
	if err != nil {
		return "", err
	}
	out, err := r.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}
