package update

import (
	"time"
)

// FetchError is the terminal outcome of a fetch. It is only meaningful once
// the fetch is done.
type FetchError int

const (
	// NoError indicates the store was populated.
	NoError FetchError = iota
	// ConnectionError indicates the manifest could not be retrieved.
	ConnectionError
	// DeserError indicates the manifest was retrieved but could not be read.
	DeserError
)

// String returns the string representation of a FetchError.
func (e FetchError) String() string {
	switch e {
	case NoError:
		return "none"
	case ConnectionError:
		return "connection"
	case DeserError:
		return "deserialize"
	default:
		return "unknown"
	}
}

// Version is a build published on a channel.
type Version struct {
	// Display is the version string exactly as published; it is what gets
	// handed to the installer.
	Display   string
	Number    Number
	Date      time.Time
	IsCurrent bool
}

// ChangelogEntryItem is a single contribution in a changelog entry.
// Items are values; copies share the wrap cache.
type ChangelogEntryItem struct {
	Author string
	Commit string
	Body   string

	wrap *wrapCache
}

// NewChangelogEntryItem builds an item with an empty wrap cache.
func NewChangelogEntryItem(author, commit, body string) ChangelogEntryItem {
	return ChangelogEntryItem{
		Author: author,
		Commit: commit,
		Body:   body,
		wrap:   newWrapCache(),
	}
}

// Wrapped returns Body wrapped to width columns. Results are memoized per
// width; items built without NewChangelogEntryItem recompute every time.
func (it ChangelogEntryItem) Wrapped(width int) string {
	if it.wrap == nil {
		return wrapBody(it.Body, width)
	}
	return it.wrap.get(it.Body, width)
}

// ShortCommit returns the first eight characters of the commit hash.
func (it ChangelogEntryItem) ShortCommit() string {
	if len(it.Commit) <= 8 {
		return it.Commit
	}
	return it.Commit[:8]
}

// ChangelogEntry lists the contributions that shipped in one version.
type ChangelogEntry struct {
	Number Number
	Date   time.Time
	// IsNew is set when Number is newer than the running build.
	IsNew bool
	Items []ChangelogEntryItem
}

// Channel is a named update track.
type Channel struct {
	Name        string
	Description string
	Versions    []Version
	Changelog   []ChangelogEntry
}

// Latest returns the highest-numbered version. Among equal numbers the one
// listed first wins.
func (c Channel) Latest() (Version, bool) {
	if len(c.Versions) == 0 {
		return Version{}, false
	}
	best := c.Versions[0]
	for _, v := range c.Versions[1:] {
		if v.Number.GreaterThan(best.Number) {
			best = v
		}
	}
	return best, true
}

// Current returns the version marked as the running build, if listed here.
func (c Channel) Current() (Version, bool) {
	for _, v := range c.Versions {
		if v.IsCurrent {
			return v, true
		}
	}
	return Version{}, false
}

// NewEntries returns the changelog entries newer than the running build, in
// published order.
func (c Channel) NewEntries() []ChangelogEntry {
	var out []ChangelogEntry
	for _, e := range c.Changelog {
		if e.IsNew {
			out = append(out, e)
		}
	}
	return out
}
