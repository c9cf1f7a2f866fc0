package update

import (
	"strings"
	"sync"

	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

// wrapCache memoizes wrapped bodies per width. Concurrent misses may compute
// the same text twice; the first stored value wins and all are identical.
type wrapCache struct {
	mu      sync.Mutex
	byWidth map[int]string
}

func newWrapCache() *wrapCache {
	return &wrapCache{byWidth: make(map[int]string)}
}

func (c *wrapCache) get(body string, width int) string {
	c.mu.Lock()
	cached, ok := c.byWidth[width]
	c.mu.Unlock()
	if ok {
		return cached
	}

	wrapped := wrapBody(body, width)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byWidth[width]; ok {
		return existing
	}
	c.byWidth[width] = wrapped
	return wrapped
}

// WrapText wraps free text the same way changelog items are wrapped, without
// caching.
func WrapText(text string, width int) string {
	return wrapBody(text, width)
}

// wrapBody word-wraps body to width, then hard-breaks anything still too long
// (commit URLs, stack traces). A non-positive width only normalizes newlines.
func wrapBody(body string, width int) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.TrimRight(body, " \t\n")
	if width <= 0 {
		return body
	}
	out := wordwrap.String(body, width)
	out = wrap.String(out, width)
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.Join(lines, "\n")
}
