package update

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Number is a parsed dotted version number such as 4.1.5902 or v1.2.3-beta.1.
// It has at least one numeric segment; missing trailing segments compare as zero.
type Number struct {
	Segments   []int
	Prerelease string
	Raw        string
}

// numberRegex matches dotted versions with an optional 'v' prefix and prerelease tag.
var numberRegex = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)(?:-([a-zA-Z0-9.-]+))?$`)

// ParseNumber parses a version string.
// Accepts versions with or without 'v' prefix (e.g., "4.1.5902" or "v1.2.3").
func ParseNumber(s string) (Number, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}, fmt.Errorf("empty version string")
	}

	matches := numberRegex.FindStringSubmatch(s)
	if matches == nil {
		return Number{}, fmt.Errorf("invalid version format: %s", s)
	}

	parts := strings.Split(matches[1], ".")
	segments := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Number{}, fmt.Errorf("invalid version segment %q in %s", p, s)
		}
		segments[i] = n
	}

	return Number{
		Segments:   segments,
		Prerelease: matches[2],
		Raw:        s,
	}, nil
}

// MustParseNumber is ParseNumber for literals known to be valid.
func MustParseNumber(s string) Number {
	n, err := ParseNumber(s)
	if err != nil {
		panic(err)
	}
	return n
}

// IsZero reports whether n was never parsed.
func (n Number) IsZero() bool {
	return len(n.Segments) == 0
}

// Major returns the first segment.
func (n Number) Major() int { return n.segment(0) }

// Minor returns the second segment, or 0.
func (n Number) Minor() int { return n.segment(1) }

// Patch returns the third segment, or 0.
func (n Number) Patch() int { return n.segment(2) }

func (n Number) segment(i int) int {
	if i < len(n.Segments) {
		return n.Segments[i]
	}
	return 0
}

// String returns the dotted form without a 'v' prefix.
func (n Number) String() string {
	if n.IsZero() {
		return ""
	}
	parts := make([]string, len(n.Segments))
	for i, s := range n.Segments {
		parts[i] = strconv.Itoa(s)
	}
	base := strings.Join(parts, ".")
	if n.Prerelease != "" {
		return base + "-" + n.Prerelease
	}
	return base
}

// Compare compares two version numbers.
// Returns:
//
//	-1 if n < other
//	 0 if n == other
//	 1 if n > other
//
// Segments are compared pairwise, padding the shorter number with zeros, so
// 1.2 equals 1.2.0. Prerelease versions are considered less than release versions.
func (n Number) Compare(other Number) int {
	size := len(n.Segments)
	if len(other.Segments) > size {
		size = len(other.Segments)
	}
	for i := 0; i < size; i++ {
		if c := compareInt(n.segment(i), other.segment(i)); c != 0 {
			return c
		}
	}
	return comparePrerelease(n.Prerelease, other.Prerelease)
}

// LessThan returns true if n < other.
func (n Number) LessThan(other Number) bool {
	return n.Compare(other) < 0
}

// GreaterThan returns true if n > other.
func (n Number) GreaterThan(other Number) bool {
	return n.Compare(other) > 0
}

// Equal returns true if n == other.
func (n Number) Equal(other Number) bool {
	return n.Compare(other) == 0
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func comparePrerelease(a, b string) int {
	// No prerelease is greater than any prerelease
	if a == "" && b == "" {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}

	// Dot-separated identifiers: numeric ones compare as numbers and sort
	// below alphanumeric ones; a longer list wins when the shared part is equal.
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := comparePrereleaseIdent(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return compareInt(len(as), len(bs))
}

func comparePrereleaseIdent(a, b string) int {
	an, aErr := strconv.Atoi(a)
	bn, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return compareInt(an, bn)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
