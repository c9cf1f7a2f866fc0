package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"updateinfo/internal/update"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/termenv"
)

const (
	dateLayout = "2006-01-02"
	bodyIndent = 6
	minWidth   = 20
)

// Colors
var (
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#FF79C6")
	dimColor       = lipgloss.Color("#6272A4")
	successColor   = lipgloss.Color("#50FA7B")
	warnColor      = lipgloss.Color("#F1FA8C")
)

type printerStyles struct {
	channel lipgloss.Style
	active  lipgloss.Style
	dim     lipgloss.Style
	heading lipgloss.Style
	latest  lipgloss.Style
	current lipgloss.Style
	newTag  lipgloss.Style
	commit  lipgloss.Style
}

// printer writes channel listings, changelogs and commit lookups.
type printer struct {
	w        io.Writer
	width    int
	markdown func(string) string
	styles   printerStyles
}

// detectProfile picks the color profile for w. The plain format and
// non-terminal writers get no escape sequences.
func detectProfile(w io.Writer, format string) termenv.Profile {
	if normalizeFormat(format) == "plain" {
		return termenv.Ascii
	}
	return termenv.NewOutput(w).EnvColorProfile()
}

func newPrinter(w io.Writer, format string, width int, profile termenv.Profile) *printer {
	if width < minWidth {
		width = minWidth
	}
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)

	return &printer{
		w:        w,
		width:    width,
		markdown: buildMarkdownRenderer(format, width-bodyIndent, profile),
		styles: printerStyles{
			channel: r.NewStyle().Bold(true).Foreground(primaryColor),
			active:  r.NewStyle().Foreground(secondaryColor),
			dim:     r.NewStyle().Foreground(dimColor),
			heading: r.NewStyle().Bold(true),
			latest:  r.NewStyle().Foreground(successColor),
			current: r.NewStyle().Foreground(secondaryColor).Bold(true),
			newTag:  r.NewStyle().Foreground(warnColor),
			commit:  r.NewStyle().Foreground(dimColor),
		},
	}
}

func normalizeFormat(format string) string {
	switch style := strings.ToLower(strings.TrimSpace(format)); style {
	case "", "rich", "dark":
		return "rich"
	case "light", "plain":
		return style
	default:
		return "rich"
	}
}

// buildMarkdownRenderer returns nil for the plain format; callers then use the
// item's own wrap cache.
func buildMarkdownRenderer(format string, width int, profile termenv.Profile) func(string) string {
	var style string
	switch normalizeFormat(format) {
	case "plain":
		return nil
	case "light":
		style = "light"
	default:
		style = "dark"
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
		glamour.WithColorProfile(profile),
	)
	if err != nil {
		return nil
	}
	return func(input string) string {
		out, err := renderer.Render(input)
		if err != nil {
			return update.WrapText(input, width)
		}
		return strings.Trim(out, "\n")
	}
}

func (p *printer) println(s string) {
	_, _ = fmt.Fprintln(p.w, s)
}

// printChannels lists every channel. active names the followed channel.
func (p *printer) printChannels(channels []update.Channel, active string, showAll bool) {
	if len(channels) == 0 {
		p.println("No channels published.")
		return
	}
	for i, ch := range channels {
		if i > 0 {
			p.println("")
		}
		p.printChannel(ch, ch.Name == active, showAll)
	}
}

// printChannel writes the header, versions and changelog of ch. Without
// showAll only entries newer than the running build are listed.
func (p *printer) printChannel(ch update.Channel, active, showAll bool) {
	p.println(p.channelHeader(ch, active))

	if len(ch.Versions) == 0 {
		p.println(p.styles.dim.Render("  No published versions"))
	}
	latest, hasLatest := ch.Latest()
	latestMarked := false
	for _, v := range ch.Versions {
		line := fmt.Sprintf("  %-14s %s", v.Display, formatDate(v.Date))
		if hasLatest && !latestMarked && v.Display == latest.Display && v.Number.Equal(latest.Number) {
			latestMarked = true
			line += " " + p.styles.latest.Render("latest")
		}
		if v.IsCurrent {
			line += " " + p.styles.current.Render("current")
		}
		p.println(line)
	}

	entries := ch.NewEntries()
	title := "What's new"
	if showAll {
		entries = ch.Changelog
		title = "Changelog"
	}
	if len(entries) == 0 {
		if !showAll {
			p.println(p.styles.dim.Render("  No new changes."))
		}
		return
	}
	p.println("")
	p.println("  " + p.styles.heading.Render(title))
	for _, entry := range entries {
		p.printEntry(entry)
	}
}

func (p *printer) channelHeader(ch update.Channel, active bool) string {
	header := p.styles.channel.Render(ch.Name)
	used := ansi.StringWidth(ch.Name)
	if active {
		header += " " + p.styles.active.Render("(active)")
		used += len(" (active)")
	}
	desc := strings.TrimSpace(ch.Description)
	if room := p.width - used - 2; desc != "" && room >= 8 {
		header += "  " + p.styles.dim.Render(ansi.Truncate(desc, room, "…"))
	}
	return header
}

func (p *printer) printEntry(entry update.ChangelogEntry) {
	line := fmt.Sprintf("  %s  %s", entry.Number, p.styles.dim.Render(formatDate(entry.Date)))
	if entry.IsNew {
		line += " " + p.styles.newTag.Render("new")
	}
	p.println(line)
	for _, item := range entry.Items {
		p.printItem(item)
	}
}

func (p *printer) printItem(item update.ChangelogEntryItem) {
	meta := "    - "
	if item.Author != "" {
		meta += item.Author
	}
	if c := item.ShortCommit(); c != "" {
		meta += " " + p.styles.commit.Render(c)
	}
	p.println(strings.TrimRight(meta, " "))
	if body := p.body(item); body != "" {
		p.println(indent.String(body, bodyIndent))
	}
}

func (p *printer) body(item update.ChangelogEntryItem) string {
	if p.markdown != nil {
		return p.markdown(item.Body)
	}
	return item.Wrapped(p.width - bodyIndent)
}

// printCommits writes the result of a commit lookup.
func (p *printer) printCommits(prefix string, matches []update.CommitMatch) {
	if len(matches) == 0 {
		p.println(fmt.Sprintf("No changelog item matches commit %q.", prefix))
		return
	}
	for i, m := range matches {
		if i > 0 {
			p.println("")
		}
		line := fmt.Sprintf("%s  %s %s  %s",
			p.styles.commit.Render(m.Item.Commit),
			p.styles.channel.Render(m.Channel),
			m.Version,
			p.styles.dim.Render(formatDate(m.Date)))
		if m.Item.Author != "" {
			line += "  " + m.Item.Author
		}
		p.println(line)
		if body := p.body(m.Item); body != "" {
			p.println(indent.String(body, bodyIndent))
		}
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown date"
	}
	return t.UTC().Format(dateLayout)
}
