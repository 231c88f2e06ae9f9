package order

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatchOption is a functional option for configuring a [MenuMatcher].
type MatchOption func(*MenuMatcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched menu item to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatchOption {
	return func(m *MenuMatcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatchOption {
	return func(m *MenuMatcher) {
		m.fuzzyThreshold = threshold
	}
}

// MenuMatcher maps spoken or misspelled item names onto the canonical names
// of the current menu. Transcription often mangles dish names ("sole bowl"
// for "Soul Bowl"); the matcher filters candidates by Double Metaphone code
// overlap and ranks them by Jaro-Winkler similarity, falling back to pure
// string similarity at a stricter threshold.
//
// A MenuMatcher is read-only after construction and safe for concurrent use.
type MenuMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	items             []menuEntry
}

type menuEntry struct {
	name   string
	norm   string
	tokens []string
	codes  map[string]struct{}
}

// NewMenuMatcher returns a matcher over the canonical item names. Blank and
// duplicate names are ignored.
func NewMenuMatcher(items []string, opts ...MatchOption) *MenuMatcher {
	m := &MenuMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	seen := make(map[string]struct{}, len(items))
	for _, name := range items {
		name = strings.TrimSpace(name)
		tokens := normalize(name)
		if len(tokens) == 0 {
			continue
		}
		norm := strings.Join(tokens, " ")
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		m.items = append(m.items, menuEntry{
			name:   name,
			norm:   norm,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
	}
	return m
}

// Items returns the canonical names in menu order.
func (m *MenuMatcher) Items() []string {
	out := make([]string, len(m.items))
	for i, e := range m.items {
		out[i] = e.name
	}
	return out
}

// Match returns the canonical menu item closest to spoken. An exact match
// after normalisation (case, punctuation, plural "s") scores 1. When nothing
// clears the thresholds, ok is false and canonical equals spoken.
func (m *MenuMatcher) Match(spoken string) (canonical string, score float64, ok bool) {
	tokens := normalize(spoken)
	if len(tokens) == 0 || len(m.items) == 0 {
		return spoken, 0, false
	}
	norm := strings.Join(tokens, " ")
	inputCodes := codesForTokens(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range m.items {
		if e.norm == norm {
			return e.name, 1, true
		}
		s := similarity(tokens, e.tokens, norm, e.norm)
		if codesOverlap(inputCodes, e.codes) {
			if s >= m.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				best, bestScore, bestPhonetic = e.name, s, true
			}
		} else if !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore {
			best, bestScore = e.name, s
		}
	}
	if best == "" {
		return spoken, 0, false
	}
	return best, bestScore, true
}

// Canonicalize rewrites in.ItemName to the matched menu item. Confirm intents
// and unmatched names pass through unchanged.
func (m *MenuMatcher) Canonicalize(in Intent) Intent {
	if m == nil || in.Action == ActionConfirm || in.ItemName == "" {
		return in
	}
	if name, _, ok := m.Match(in.ItemName); ok {
		in.ItemName = name
	}
	return in
}

// ParseMenuItems extracts item names from a plain-text menu context. Each
// bulleted line ("- ", "* " or "• ") contributes the text before any price,
// parenthesis or description separator.
func ParseMenuItems(menuContext string) []string {
	var items []string
	for line := range strings.Lines(menuContext) {
		line = strings.TrimSpace(line)
		rest, ok := cutBullet(line)
		if !ok {
			continue
		}
		for _, sep := range []string{" - ", " – ", ":", "(", "$", "€", "£"} {
			if i := strings.Index(rest, sep); i >= 0 {
				rest = rest[:i]
			}
		}
		if rest = strings.TrimSpace(rest); rest != "" {
			items = append(items, rest)
		}
	}
	return items
}

func cutBullet(line string) (string, bool) {
	for _, b := range []string{"- ", "* ", "• "} {
		if after, ok := strings.CutPrefix(line, b); ok {
			return after, true
		}
	}
	return "", false
}

// normalize lowercases s, drops punctuation and strips a plural "s" from
// each token.
func normalize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f == "" {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = f[:len(f)-1]
		}
		out = append(out, f)
	}
	return out
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity scores input against a menu item as the best of: the full
// strings, the space-stripped strings, and the mean best-token score. The
// mean keeps a shared word like "bowl" from making every bowl equally close.
func similarity(inputTokens, itemTokens []string, inputFull, itemFull string) float64 {
	score := matchr.JaroWinkler(inputFull, itemFull, false)

	if len(inputTokens) > 1 || len(itemTokens) > 1 {
		s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(itemTokens, ""), false)
		score = max(score, s)
	}

	var sum float64
	for _, it := range itemTokens {
		var tok float64
		for _, in := range inputTokens {
			tok = max(tok, matchr.JaroWinkler(in, it, false))
		}
		sum += tok
	}
	return max(score, sum/float64(len(itemTokens)))
}
