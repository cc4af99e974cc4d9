// Package phonetic matches misheard phrases against a vocabulary of known
// terms using Double Metaphone codes and Jaro-Winkler similarity.
//
// A term is a phonetic candidate for a phrase when any Double Metaphone code
// of the phrase tokens overlaps a code of the term tokens. Phonetic
// candidates are accepted above a lenient similarity threshold, all others
// only above the stricter fuzzy threshold.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMinRunes          = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// candidate. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinRunes sets the shortest phrase, in letters, considered for a match.
// Shorter phrases never match. Default: 3.
func WithMinRunes(n int) Option {
	return func(m *Matcher) {
		m.minRunes = n
	}
}

// Term is a vocabulary entry with its precomputed match keys.
type Term struct {
	// Text is the term as configured, in its canonical casing.
	Text string

	tokens  []string
	joined  string
	letters int
	codes   map[string]struct{}
}

// Vocabulary is an immutable, precomputed set of terms. It is safe for
// concurrent use.
type Vocabulary struct {
	terms    []Term
	maxWords int
}

// NewVocabulary precomputes the match keys for terms. Blank terms are
// skipped.
func NewVocabulary(terms []string) *Vocabulary {
	v := &Vocabulary{terms: make([]Term, 0, len(terms))}
	for _, text := range terms {
		lower := strings.ToLower(strings.TrimSpace(text))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		joined := strings.Join(tokens, "")
		v.terms = append(v.terms, Term{
			Text:    strings.TrimSpace(text),
			tokens:  tokens,
			joined:  joined,
			letters: utf8.RuneCountInString(joined),
			codes:   codesForTokens(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term, or 0 when empty.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Match is the outcome of a successful [Matcher.Match].
type Match struct {
	// Term is the canonical text of the matched term.
	Term string

	// Score is the Jaro-Winkler similarity in [0, 1].
	Score float64

	// Phonetic reports whether the term shared a Double Metaphone code with
	// the phrase.
	Phonetic bool
}

// Matcher is safe for concurrent use; it is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minRunes          int
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minRunes:          defaultMinRunes,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the vocabulary term closest to phrase. phrase may hold several
// space-separated words.
//
// A phrase with the same word count as a term is scored word by word and
// accepted at the phonetic threshold when the codes overlap. Otherwise the
// phrase and term are compared with spaces removed, so "rt scribe" can match
// "rtscribe", and only the fuzzy threshold applies. Letter counts must be
// within 80% of each other. A phonetic candidate always beats a fuzzy one.
func (m *Matcher) Match(phrase string, vocab *Vocabulary) (Match, bool) {
	tokens := strings.Fields(strings.ToLower(phrase))
	joined := strings.Join(tokens, "")
	letters := utf8.RuneCountInString(joined)
	if vocab == nil || vocab.Len() == 0 || letters < m.minRunes {
		return Match{}, false
	}
	codes := codesForTokens(tokens)

	var best Match
	for i := range vocab.terms {
		term := &vocab.terms[i]
		if !comparableLength(letters, term.letters) {
			continue
		}

		var cand Match
		if len(tokens) == len(term.tokens) {
			score := positionalScore(tokens, term.tokens)
			phonetic := codesOverlap(codes, term.codes)
			if !(phonetic && score >= m.phoneticThreshold) && score < m.fuzzyThreshold {
				continue
			}
			cand = Match{Term: term.Text, Score: score, Phonetic: phonetic && score >= m.phoneticThreshold}
		} else {
			score := matchr.JaroWinkler(joined, term.joined, false)
			if score < m.fuzzyThreshold {
				continue
			}
			cand = Match{Term: term.Text, Score: score}
		}

		if better(cand, best) {
			best = cand
		}
	}
	return best, best.Term != ""
}

func better(a, b Match) bool {
	if a.Phonetic != b.Phonetic {
		return a.Phonetic
	}
	return a.Score > b.Score
}

func comparableLength(a, b int) bool {
	return float64(min(a, b)) >= 0.8*float64(max(a, b))
}

// positionalScore is the mean Jaro-Winkler similarity of tokens at the same
// position. Both slices have the same length.
func positionalScore(a, b []string) float64 {
	var sum float64
	for i := range a {
		sum += matchr.JaroWinkler(a[i], b[i], false)
	}
	return sum / float64(len(a))
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
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
