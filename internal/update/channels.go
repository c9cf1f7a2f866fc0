package update

import (
	"fmt"
	"strings"

	"updateinfo/internal/manifest"

	"github.com/hashicorp/go-multierror"
)

// buildChannels converts decoded records into Channels. It is all-or-nothing:
// any invalid record fails the whole set so the store is never half built.
//
// running marks the matching Version as current (first match in published
// order, across all channels) and flags newer changelog entries. A zero
// running number (development build) marks nothing.
func buildChannels(records []manifest.ChannelRecord, running Number) ([]Channel, error) {
	var problems *multierror.Error
	seen := make(map[string]struct{}, len(records))
	channels := make([]Channel, 0, len(records))
	currentMarked := false

	for _, rec := range records {
		name := strings.TrimSpace(rec.Name)
		if name == "" {
			problems = multierror.Append(problems, fmt.Errorf("channel without a name"))
			continue
		}
		if _, dup := seen[name]; dup {
			problems = multierror.Append(problems, fmt.Errorf("duplicate channel %q", name))
			continue
		}
		seen[name] = struct{}{}

		ch := Channel{
			Name:        name,
			Description: strings.TrimSpace(rec.Description),
			Versions:    make([]Version, 0, len(rec.Versions)),
			Changelog:   make([]ChangelogEntry, 0, len(rec.Changelog)),
		}

		for i, vr := range rec.Versions {
			num, err := ParseNumber(vr.Version)
			if err != nil {
				problems = multierror.Append(problems, fmt.Errorf("channel %q versions[%d]: %w", name, i, err))
				continue
			}
			v := Version{
				Display: strings.TrimSpace(vr.Version),
				Number:  num,
				Date:    vr.Date,
			}
			if !currentMarked && !running.IsZero() && num.Equal(running) {
				v.IsCurrent = true
				currentMarked = true
			}
			ch.Versions = append(ch.Versions, v)
		}

		for i, er := range rec.Changelog {
			num, err := ParseNumber(er.Version)
			if err != nil {
				problems = multierror.Append(problems, fmt.Errorf("channel %q changelog[%d]: %w", name, i, err))
				continue
			}
			entry := ChangelogEntry{
				Number: num,
				Date:   er.Date,
				IsNew:  !running.IsZero() && num.GreaterThan(running),
				Items:  make([]ChangelogEntryItem, 0, len(er.Items)),
			}
			for _, it := range er.Items {
				entry.Items = append(entry.Items, NewChangelogEntryItem(
					strings.TrimSpace(it.Author),
					strings.TrimSpace(it.Commit),
					it.Body,
				))
			}
			ch.Changelog = append(ch.Changelog, entry)
		}

		channels = append(channels, ch)
	}

	if err := problems.ErrorOrNil(); err != nil {
		return nil, err
	}
	return channels, nil
}
