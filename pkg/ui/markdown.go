package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/microcosm-cc/bluemonday"
)

// MarkdownRenderer wraps a glamour renderer and rebuilds it when the width
// changes. With a theme, document colors follow the theme instead of
// glamour's auto style.
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int
	useTheme bool
	theme    *Theme
}

// NewMarkdownRenderer creates a renderer that word-wraps at width.
func NewMarkdownRenderer(width int) *MarkdownRenderer {
	mr := &MarkdownRenderer{width: width}
	mr.rebuild()
	return mr
}

// NewMarkdownRendererWithTheme creates a renderer styled from theme.
func NewMarkdownRendererWithTheme(width int, theme Theme) *MarkdownRenderer {
	mr := &MarkdownRenderer{width: width, useTheme: true, theme: &theme}
	mr.rebuild()
	return mr
}

func (mr *MarkdownRenderer) rebuild() {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(mr.width)}
	if mr.useTheme && mr.theme != nil {
		opts = append(opts, glamour.WithStyles(buildStyleFromTheme(*mr.theme, mr.IsDarkMode())))
	} else if mr.IsDarkMode() {
		opts = append(opts, glamour.WithStandardStyle(styles.DarkStyle))
	} else {
		opts = append(opts, glamour.WithStandardStyle(styles.LightStyle))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		// Render falls back to the raw text
		mr.renderer = nil
		return
	}
	mr.renderer = r
}

// Render converts markdown to styled terminal output. Without a renderer
// the input is returned unchanged.
func (mr *MarkdownRenderer) Render(markdown string) (string, error) {
	if mr.renderer == nil {
		return markdown, nil
	}
	return mr.renderer.Render(markdown)
}

// SetWidth rebuilds the renderer for a new positive width.
func (mr *MarkdownRenderer) SetWidth(width int) {
	if width <= 0 || width == mr.width {
		return
	}
	mr.width = width
	mr.rebuild()
}

// SetWidthWithTheme switches to theme styling and applies width.
func (mr *MarkdownRenderer) SetWidthWithTheme(width int, theme Theme) {
	if width > 0 {
		mr.width = width
	}
	mr.useTheme = true
	mr.theme = &theme
	mr.rebuild()
}

// IsDarkMode reports whether the terminal has a dark background.
func (mr *MarkdownRenderer) IsDarkMode() bool {
	if mr.theme != nil && mr.theme.Renderer != nil {
		return mr.theme.Renderer.HasDarkBackground()
	}
	return lipgloss.HasDarkBackground()
}

func extractHex(c lipgloss.AdaptiveColor, dark bool) string {
	if dark {
		return c.Dark
	}
	return c.Light
}

func buildStyleFromTheme(theme Theme, dark bool) ansi.StyleConfig {
	cfg := styles.LightStyleConfig
	if dark {
		cfg = styles.DarkStyleConfig
	}
	str := func(c lipgloss.AdaptiveColor) *string {
		s := extractHex(c, dark)
		return &s
	}
	margin := uint(0)

	cfg.Document.Color = str(theme.Text)
	cfg.Document.Margin = &margin
	cfg.Heading.Color = str(theme.Primary)
	cfg.H1.Color = str(theme.Primary)
	cfg.H1.BackgroundColor = nil
	cfg.Link.Color = str(theme.Highlight)
	cfg.LinkText.Color = str(theme.Highlight)
	cfg.Code.Color = str(theme.Secondary)
	cfg.BlockQuote.Color = str(theme.Subtext)
	cfg.HorizontalRule.Color = str(theme.Border)
	return cfg
}

var (
	treeConverterOnce sync.Once
	treeConverter     *converter.Converter
	treePolicy        *bluemonday.Policy
)

// TreeHTMLToMarkdown sanitizes the behavior-tree HTML sent by the server
// and converts it to markdown suitable for glamour.
func TreeHTMLToMarkdown(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	treeConverterOnce.Do(func() {
		treePolicy = bluemonday.UGCPolicy()
		treeConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})
	clean := treePolicy.Sanitize(html)
	md, err := treeConverter.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("convert tree html: %w", err)
	}
	return strings.TrimSpace(md), nil
}
