package main

import (
	"fmt"
	"strings"

	"updateinfo/internal/update"

	"github.com/atotto/clipboard"
)

// clipboardWriter puts text on the system clipboard.
type clipboardWriter func(string) error

var defaultClipboard clipboardWriter = clipboard.WriteAll

// copyCommit copies the full hash when every match names the same commit.
func copyCommit(matches []update.CommitMatch, write clipboardWriter) (string, error) {
	if len(matches) == 0 {
		return "", fmt.Errorf("no commit to copy")
	}
	commit := matches[0].Item.Commit
	for _, m := range matches[1:] {
		if !strings.EqualFold(m.Item.Commit, commit) {
			return "", fmt.Errorf("prefix is ambiguous: matches %s and %s", commit, m.Item.Commit)
		}
	}
	if write == nil {
		write = defaultClipboard
	}
	if err := write(commit); err != nil {
		return "", fmt.Errorf("copy to clipboard: %w", err)
	}
	return commit, nil
}
