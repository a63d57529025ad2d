package pipeline

import "strings"

// LinkFilter decides which discovered URLs enter the pipeline. A URL must
// contain at least one include keyword (empty list passes all) and none of
// the exclude keywords. Matching is case-insensitive substring.
type LinkFilter struct {
	include []string
	exclude []string
}

// NewLinkFilter returns a filter over URL substrings.
func NewLinkFilter(include, exclude []string) *LinkFilter {
	return &LinkFilter{include: include, exclude: exclude}
}

// Match reports whether the URL should be imported.
func (f *LinkFilter) Match(url string) bool {
	lower := strings.ToLower(url)

	for _, kw := range f.exclude {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, kw := range f.include {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
