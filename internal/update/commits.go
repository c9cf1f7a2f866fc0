package update

import (
	"fmt"
	"strings"
	"time"
)

// MinCommitPrefix is the shortest prefix FindCommits accepts.
const MinCommitPrefix = 4

// CommitMatch locates a changelog item by commit.
type CommitMatch struct {
	Channel string
	Version Number
	Date    time.Time
	Item    ChangelogEntryItem
}

// FindCommits returns every changelog item whose commit hash starts with
// prefix (case-insensitive), across all fetched channels in published order.
// The same commit shipped on two channels yields two matches.
func (f *Fetcher) FindCommits(prefix string) ([]CommitMatch, error) {
	return findCommits(f.Channels(), prefix)
}

func findCommits(channels []Channel, prefix string) ([]CommitMatch, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if len(prefix) < MinCommitPrefix {
		return nil, fmt.Errorf("commit prefix %q is shorter than %d characters", prefix, MinCommitPrefix)
	}

	var matches []CommitMatch
	for _, ch := range channels {
		for _, entry := range ch.Changelog {
			for _, item := range entry.Items {
				if strings.HasPrefix(strings.ToLower(item.Commit), prefix) {
					matches = append(matches, CommitMatch{
						Channel: ch.Name,
						Version: entry.Number,
						Date:    entry.Date,
						Item:    item,
					})
				}
			}
		}
	}
	return matches, nil
}
