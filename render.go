package main

import (
	"fmt"
	"strings"

	"codemerge/engine"
	"codemerge/text"

	"github.com/charmbracelet/lipgloss"
)

// colors of the terminal preview
var (
	colorAdded   = lipgloss.Color("#a6e3a1")
	colorRemoved = lipgloss.Color("#f38ba8")
	colorContext = lipgloss.Color("#cdd6f4")
	colorHeader  = lipgloss.Color("#89b4fa")
	colorMuted   = lipgloss.Color("#6c7086")
)

// styles holds the lipgloss styles for one renderer
type styles struct {
	Added        lipgloss.Style
	AddedSpan    lipgloss.Style // changed columns inside a paired added line
	Removed      lipgloss.Style
	RemovedSpan  lipgloss.Style
	Context      lipgloss.Style
	Header       lipgloss.Style
	RegionHeader lipgloss.Style
	Muted        lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		Added:        r.NewStyle().Foreground(colorAdded),
		AddedSpan:    r.NewStyle().Foreground(colorAdded).Bold(true).Underline(true),
		Removed:      r.NewStyle().Foreground(colorRemoved),
		RemovedSpan:  r.NewStyle().Foreground(colorRemoved).Bold(true).Strikethrough(true),
		Context:      r.NewStyle().Foreground(colorContext),
		Header:       r.NewStyle().Bold(true).Foreground(colorHeader),
		RegionHeader: r.NewStyle().Foreground(colorHeader),
		Muted:        r.NewStyle().Foreground(colorMuted),
	}
}

// renderPreview draws a preview the way the editor shows it: every line of the
// document with a +/- gutter, region headers, and the changed columns of
// paired lines emphasised.
func renderPreview(r *lipgloss.Renderer, p *engine.Preview) string {
	return renderDocument(r, previewTitle(p), p.Doc, p.Decorations, p.Decisions())
}

func renderDocument(r *lipgloss.Renderer, title string, doc *text.AnnotatedDocument, decorations []text.Decoration, decisions map[int]text.Decision) string {
	s := newStyles(r)

	byLine := make(map[int]text.Decoration, len(decorations))
	for _, d := range decorations {
		byLine[d.Line] = d
	}
	regionStarts := map[int]text.Region{}
	for _, region := range doc.Regions() {
		regionStarts[region.Start] = region
	}

	var b strings.Builder
	b.WriteString(s.Header.Render(title))
	b.WriteByte('\n')

	width := len(fmt.Sprint(len(doc.Lines)))
	for i, line := range doc.Lines {
		if region, ok := regionStarts[i]; ok {
			b.WriteString(s.RegionHeader.Render(regionTitle(region, decisions)))
			b.WriteByte('\n')
		}

		gutter := s.Muted.Render(fmt.Sprintf("%*d ", width, i+1))
		switch doc.Types[i] {
		case text.LineAdded:
			b.WriteString(gutter + s.Added.Render("+ ") + renderSpan(line, byLine[i], s.Added, s.AddedSpan))
		case text.LineRemoved:
			b.WriteString(gutter + s.Removed.Render("- ") + renderSpan(line, byLine[i], s.Removed, s.RemovedSpan))
		default:
			b.WriteString(gutter + s.Context.Render("  "+line))
		}
		b.WriteByte('\n')
	}

	if doc.Truncated() {
		b.WriteString(s.Muted.Render("… proposal ends inside an unterminated hunk"))
		b.WriteByte('\n')
	}
	return b.String()
}

func previewTitle(p *engine.Preview) string {
	added, removed := p.Doc.Counts()
	parts := []string{p.Mode.String(), fmt.Sprintf("+%d -%d", added, removed), fmt.Sprintf("%d regions", len(p.Regions()))}
	if !p.Anchored {
		parts = append(parts, "unanchored")
	}
	if p.FellBack {
		parts = append(parts, "reconcile failed, original kept")
	}
	return fmt.Sprintf("%s (%s)", p.Path, strings.Join(parts, ", "))
}

func regionTitle(region text.Region, decisions map[int]text.Decision) string {
	state := "pending"
	if d, ok := decisions[region.Index]; ok {
		state = d.String()
	}
	return fmt.Sprintf("@@ region %d: +%d -%d [%s] @@", region.Index, region.Added, region.Removed, state)
}

// renderSpan styles line with base, emphasising the decoration's column range
// when it covers only part of the line
func renderSpan(line string, d text.Decoration, base, span lipgloss.Style) string {
	if !d.Paired || d.ColStart < 0 || d.ColEnd > len(line) || d.ColStart >= d.ColEnd {
		return base.Render(line)
	}
	if d.ColStart == 0 && d.ColEnd == len(line) {
		return span.Render(line)
	}
	return base.Render(line[:d.ColStart]) + span.Render(line[d.ColStart:d.ColEnd]) + base.Render(line[d.ColEnd:])
}

// renderNotification formats an engine notification for stderr
func renderNotification(r *lipgloss.Renderer, n engine.Notification) string {
	s := newStyles(r)
	label := fmt.Sprintf("[%s]", n.Level)
	switch n.Level {
	case engine.LevelError:
		label = s.RemovedSpan.UnsetStrikethrough().Render(label)
	case engine.LevelWarn:
		label = s.Header.Render(label)
	default:
		label = s.Muted.Render(label)
	}
	return label + " " + n.String()
}
