package correlate

import (
	"strings"

	"stream-sentinel/internal/alert"
	"stream-sentinel/internal/registry"
)

// tokenize lower-cases s, strips any protocol prefix and query string, and
// splits on path, whitespace, hyphen, and underscore separators.
func tokenize(s string) []string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '/', '-', '_', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
}

// tokenSet folds the token lists of each value into one set.
func tokenSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, v := range values {
		for _, tok := range tokenize(v) {
			set[tok] = struct{}{}
		}
	}
	return set
}

func intersects(a, b map[string]struct{}) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for tok := range small {
		if _, ok := large[tok]; ok {
			return true
		}
	}
	return false
}

// MatchStream resolves an alert to a stream by token-set intersection over
// the alert's source, url, and location against each stream's id, url, and
// playlist. The first intersecting stream wins. This is a best-effort
// heuristic: source data carries no guaranteed identifying token, so some
// alerts never resolve by design.
func MatchStream(a alert.Alert, streams []registry.Stream) (registry.StreamID, bool) {
	alertTokens := tokenSet(a.Source, a.URL, a.Location)
	if len(alertTokens) == 0 {
		return "", false
	}
	for _, st := range streams {
		streamTokens := tokenSet(string(st.ID), st.URL, st.Playlist)
		if intersects(alertTokens, streamTokens) {
			return st.ID, true
		}
	}
	return "", false
}
