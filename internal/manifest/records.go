// Package manifest retrieves and decodes the raw update manifest.
//
// It owns the two collaborators the update fetcher calls into:
//   - a Source that returns the manifest bytes (HTTP, local file, or an
//     offline SQLite mirror)
//   - a Decoder that turns those bytes into ChannelRecord values
//
// Records are transport-shaped: strings and timestamps exactly as published.
// Interpreting them (version parsing, current/new flags) is the caller's job.
package manifest

import "time"

// Document is the top-level manifest shape.
type Document struct {
	Channels *[]ChannelRecord `json:"channels" yaml:"channels"`
}

// ChannelRecord describes one update track as published.
type ChannelRecord struct {
	Name        string            `json:"name"        yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Versions    []VersionRecord   `json:"versions"    yaml:"versions"`
	Changelog   []ChangelogRecord `json:"changelog"   yaml:"changelog"`
}

// VersionRecord is one downloadable build on a channel.
type VersionRecord struct {
	Version string    `json:"version" yaml:"version"`
	Date    time.Time `json:"date"    yaml:"date"`
}

// ChangelogRecord lists the contributions that shipped in one version.
type ChangelogRecord struct {
	Version string                `json:"version" yaml:"version"`
	Date    time.Time             `json:"date"    yaml:"date"`
	Items   []ChangelogItemRecord `json:"items"   yaml:"items"`
}

// ChangelogItemRecord is a single contribution.
type ChangelogItemRecord struct {
	Author string `json:"author" yaml:"author"`
	Commit string `json:"commit" yaml:"commit"`
	Body   string `json:"body"   yaml:"body"`
}
