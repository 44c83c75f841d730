package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// FilterListDescriptor names a filter list and where to get it.
type FilterListDescriptor struct {
	Name string
	URL  string
}

// Validate checks that the descriptor has a name and an http(s) or file URL.
func (d FilterListDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("filter list name must not be empty")
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return fmt.Errorf("filter list %q: bad url: %w", d.Name, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "file":
		return nil
	default:
		return fmt.Errorf("filter list %q: unsupported url scheme %q", d.Name, u.Scheme)
	}
}

// CacheFileName derives the on-disk cache file name from the display name:
// spaces, dashes and apostrophes become underscores, any other character that
// is not a letter, digit or underscore is dropped.
func (d FilterListDescriptor) CacheFileName() string {
	var b strings.Builder
	for _, r := range d.Name {
		switch {
		case r == ' ' || r == '-' || r == '\'':
			b.WriteByte('_')
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String() + ".txt"
}

// ParseFilterListDescriptor parses the "name|url" configuration form.
func ParseFilterListDescriptor(s string) (FilterListDescriptor, error) {
	name, rawURL, ok := strings.Cut(s, "|")
	if !ok {
		return FilterListDescriptor{}, fmt.Errorf("filter list %q: expected name|url", s)
	}
	d := FilterListDescriptor{Name: strings.TrimSpace(name), URL: strings.TrimSpace(rawURL)}
	if err := d.Validate(); err != nil {
		return FilterListDescriptor{}, err
	}
	return d, nil
}

// FilterListCacheEntry is one acquired copy of a list. It is replaced
// wholesale on refresh.
type FilterListCacheEntry struct {
	Name      string
	Text      string
	FetchedAt time.Time
	// Stale is set when the text came from an expired cache file because the
	// refresh failed.
	Stale bool
}
