package transcript

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/rtscribe/internal/observe"
	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/internal/transcript/phonetic"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// Corrector substitutes vocabulary terms in recognized text. The vocabulary
// can be swapped at runtime with [Corrector.SetVocabulary]. Corrector is safe
// for concurrent use.
type Corrector struct {
	matcher *phonetic.Matcher
	vocab   atomic.Pointer[phonetic.Vocabulary]
}

// NewCorrector returns a Corrector for terms. opts tune the matcher.
func NewCorrector(terms []string, opts ...phonetic.Option) *Corrector {
	c := &Corrector{matcher: phonetic.New(opts...)}
	c.SetVocabulary(terms)
	return c
}

// SetVocabulary replaces the vocabulary. Calls in flight keep using the
// previous one.
func (c *Corrector) SetVocabulary(terms []string) {
	c.vocab.Store(phonetic.NewVocabulary(terms))
}

// word is a whitespace-separated token split into its punctuation and core.
type word struct {
	lead, core, trail string
}

func splitWord(tok string) word {
	start := strings.IndexFunc(tok, isWordRune)
	if start < 0 {
		return word{lead: tok}
	}
	end := strings.LastIndexFunc(tok, isWordRune)
	_, size := utf8.DecodeRuneInString(tok[end:])
	end += size
	return word{lead: tok[:start], core: tok[start:end], trail: tok[end:]}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// candidate is a matched window of n words starting at word i.
type candidate struct {
	i, n  int
	match phonetic.Match
}

// Correct returns text with vocabulary terms substituted. Windows of up to
// one word more than the longest term are considered, so split spellings
// like "post gress" can match "PostgreSQL". Overlapping matches are resolved
// best score first. Whitespace is normalised to single spaces when any
// substitution is made.
func (c *Corrector) Correct(text string) (string, []Correction) {
	vocab := c.vocab.Load()
	if vocab == nil || vocab.Len() == 0 {
		return text, nil
	}
	toks := strings.Fields(text)
	words := make([]word, len(toks))
	for i, t := range toks {
		words[i] = splitWord(t)
	}

	var cands []candidate
	maxN := vocab.MaxWords() + 1
	for i := range words {
		for n := 1; n <= maxN && i+n <= len(words); n++ {
			phrase, ok := window(words[i : i+n])
			if !ok {
				break
			}
			if m, ok := c.matcher.Match(phrase, vocab); ok {
				cands = append(cands, candidate{i: i, n: n, match: m})
			}
		}
	}
	if len(cands) == 0 {
		return text, nil
	}

	slices.SortStableFunc(cands, func(a, b candidate) int {
		switch {
		case a.match.Score != b.match.Score:
			if a.match.Score > b.match.Score {
				return -1
			}
			return 1
		case a.n != b.n:
			return b.n - a.n
		}
		return a.i - b.i
	})

	used := make([]bool, len(words))
	accepted := make([]candidate, 0, len(cands))
	for _, cand := range cands {
		if slices.Contains(used[cand.i:cand.i+cand.n], true) {
			continue
		}
		for k := cand.i; k < cand.i+cand.n; k++ {
			used[k] = true
		}
		accepted = append(accepted, cand)
	}
	slices.SortFunc(accepted, func(a, b candidate) int { return a.i - b.i })

	var (
		out         []string
		corrections []Correction
		next        int
	)
	for _, cand := range accepted {
		for ; next < cand.i; next++ {
			out = append(out, toks[next])
		}
		first, last := words[cand.i], words[cand.i+cand.n-1]
		original, _ := window(words[cand.i : cand.i+cand.n])
		out = append(out, first.lead+cand.match.Term+last.trail)
		next = cand.i + cand.n
		if original == cand.match.Term {
			continue
		}
		corrections = append(corrections, Correction{
			Original:   original,
			Corrected:  cand.match.Term,
			Confidence: cand.match.Score,
			Phonetic:   cand.match.Phonetic,
		})
	}
	if len(corrections) == 0 {
		return text, nil
	}
	out = append(out, toks[next:]...)
	return strings.Join(out, " "), corrections
}

// window joins the cores of words. Punctuation inside the window, or a word
// without letters, ends it.
func window(words []word) (string, bool) {
	cores := make([]string, len(words))
	for i, w := range words {
		if w.core == "" || (i > 0 && w.lead != "") || (i < len(words)-1 && w.trail != "") {
			return "", false
		}
		cores[i] = w.core
	}
	return strings.Join(cores, " "), true
}

// CorrectSegment applies [Corrector.Correct] to seg.Text. Tokens and timing
// are left untouched.
func (c *Corrector) CorrectSegment(seg stt.Segment) (stt.Segment, []Correction) {
	text, corrections := c.Correct(seg.Text)
	seg.Text = text
	return seg, corrections
}

// Events corrects the segment of every recognized event in seq. Previews,
// other events and errors pass through unchanged.
func (c *Corrector) Events(ctx context.Context, seq iter.Seq2[realtime.Event, error]) iter.Seq2[realtime.Event, error] {
	return func(yield func(realtime.Event, error) bool) {
		log := observe.Logger(ctx)
		for ev, err := range seq {
			if err == nil && ev.Type == realtime.SegmentRecognized {
				var corrections []Correction
				ev.Segment, corrections = c.CorrectSegment(ev.Segment)
				for _, corr := range corrections {
					log.Debug("vocabulary correction",
						"session_id", ev.SessionID,
						"original", corr.Original,
						"corrected", corr.Corrected,
						"confidence", corr.Confidence,
					)
				}
			}
			if !yield(ev, err) {
				return
			}
		}
	}
}
