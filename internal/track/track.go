// Package track defines the now-playing track value and its parsing rules.
package track

import "strings"

// Separator between the author and title parts of raw metadata text.
const Separator = " - "

// Info is one parsed now-playing entry. Immutable once constructed.
type Info struct {
	Author  string
	Title   string
	RawText string
}

// Parse splits raw metadata text into author and title on the first " - ".
// Text without a separator becomes the author with an empty title. Titles
// that themselves contain " - " misparse; that is a known limitation of the
// endpoint format and is kept as-is.
func Parse(raw string) Info {
	parts := strings.SplitN(raw, Separator, 2)
	info := Info{Author: parts[0], RawText: raw}
	if len(parts) > 1 {
		info.Title = parts[1]
	}
	return info
}

// Fingerprint returns the dedup key used to suppress redundant presence
// pushes. Entries with equal titles count as the same track.
func (i Info) Fingerprint() string {
	return i.Title
}

// IsZero reports whether no metadata has been received yet.
func (i Info) IsZero() bool {
	return i.RawText == ""
}
