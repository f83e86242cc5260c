// Package vocab snaps misheard words in a transcript to a known session
// vocabulary, such as the technologies and company names of an interview
// topic.
//
// Matching runs in two passes per candidate span. Spans whose Double Metaphone
// codes overlap a term's codes are accepted at a lower Jaro-Winkler score;
// spans without phonetic overlap must clear a higher, purely orthographic
// threshold. Multi-word terms are matched against n-gram windows of the same
// length, longest first.
package vocab

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.72
	defaultFuzzyThreshold    = 0.88

	// Tokens shorter than this are never replaced on their own.
	minTokenLen = 3
)

// Correction is one substitution applied by the Corrector.
type Correction struct {
	Original  string
	Corrected string
	Score     float64
	Phonetic  bool
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for spans that
// sound like a term.
func WithPhoneticThreshold(v float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = v }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for spans that only
// look like a term.
func WithFuzzyThreshold(v float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = v }
}

type term struct {
	display string
	lower   string
	tokens  []string
	codes   map[string]struct{}
}

// Corrector is read-only after New and safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	terms    []term
	maxWords int
}

// New prepares a Corrector for the given vocabulary. Blank terms are dropped.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		toks := strings.Fields(lower)
		c.terms = append(c.terms, term{
			display: v,
			lower:   lower,
			tokens:  toks,
			codes:   metaphoneCodes(toks),
		})
		c.maxWords = max(c.maxWords, len(toks))
	}
	return c
}

// Len returns the number of usable vocabulary terms.
func (c *Corrector) Len() int { return len(c.terms) }

// Correct returns text with matching spans replaced by their vocabulary term,
// and the list of substitutions. Exact matches (ignoring case) are left as
// spoken. Punctuation attached to a replaced span is preserved.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		consumed := 0
		for n := min(c.maxWords, len(tokens)-i); n >= 1; n-- {
			window := tokens[i : i+n]
			lead, core, trail := splitPunct(strings.Join(window, " "))
			if len(core) < minTokenLen {
				continue
			}
			t, score, phonetic, ok := c.match(core)
			if !ok {
				continue
			}
			if strings.EqualFold(core, t.display) {
				break
			}
			out = append(out, lead+t.display+trail)
			corrections = append(corrections, Correction{
				Original:  core,
				Corrected: t.display,
				Score:     score,
				Phonetic:  phonetic,
			})
			consumed = n
			break
		}
		if consumed == 0 {
			out = append(out, tokens[i])
			consumed = 1
		}
		i += consumed
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// match finds the best term for span. Phonetic candidates always win over
// purely fuzzy ones.
func (c *Corrector) match(span string) (best term, score float64, phonetic, ok bool) {
	lower := strings.ToLower(span)
	toks := strings.Fields(lower)
	codes := metaphoneCodes(toks)

	for _, t := range c.terms {
		if len(t.tokens) != len(toks) {
			continue
		}
		s := matchr.JaroWinkler(lower, t.lower, false)
		sounds := overlaps(codes, t.codes)
		switch {
		case sounds && s >= c.phoneticThreshold:
			if !phonetic || s > score {
				best, score, phonetic, ok = t, s, true, true
			}
		case !sounds && !phonetic && s >= c.fuzzyThreshold && s > score:
			best, score, ok = t, s, true
		}
	}
	return best, score, phonetic, ok
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, tok := range tokens {
		primary, secondary := matchr.DoubleMetaphone(tok)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// splitPunct separates leading and trailing punctuation from s.
func splitPunct(s string) (lead, core, trail string) {
	isPunct := func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }
	core = strings.TrimLeftFunc(s, isPunct)
	lead = s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, isPunct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}
