package phonetic_test

import (
	"testing"

	"github.com/MrWong99/rtscribe/internal/transcript/phonetic"
)

var vocabulary = []string{"Kubernetes", "Grafana", "PostgreSQL", "rtscribe", "Tower of Whispers"}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocab := phonetic.NewVocabulary(vocabulary)

	tests := []struct {
		phrase   string
		want     string // empty means no match
		minScore float64
	}{
		{phrase: "grafanna", want: "Grafana", minScore: 0.9},
		{phrase: "kubernetis", want: "Kubernetes", minScore: 0.9},
		{phrase: "KUBERNETES", want: "Kubernetes", minScore: 1},
		{phrase: "tower of wispers", want: "Tower of Whispers", minScore: 0.9},
		{phrase: "rt scribe", want: "rtscribe", minScore: 1},
		{phrase: "post gress", want: "PostgreSQL", minScore: 0.85},
		{phrase: "hello"},
		{phrase: "scribe"},
		{phrase: "tower"},
		{phrase: "of wispers while our"},
		{phrase: "on"},
		{phrase: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Match(tt.phrase, vocab)
			if tt.want == "" {
				if ok {
					t.Fatalf("Match(%q) = %+v, want no match", tt.phrase, got)
				}
				return
			}
			if !ok {
				t.Fatalf("Match(%q): no match, want %q", tt.phrase, tt.want)
			}
			if got.Term != tt.want {
				t.Errorf("Match(%q).Term = %q, want %q", tt.phrase, got.Term, tt.want)
			}
			if got.Score < tt.minScore {
				t.Errorf("Match(%q).Score = %f, want >= %f", tt.phrase, got.Score, tt.minScore)
			}
		})
	}
}

func TestMatcher_PhoneticFlag(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocab := phonetic.NewVocabulary(vocabulary)

	got, ok := m.Match("grafanna", vocab)
	if !ok || !got.Phonetic {
		t.Errorf("Match(grafanna) = %+v, want a phonetic match", got)
	}

	// Split spellings are compared letters only.
	got, ok = m.Match("rt scribe", vocab)
	if !ok || got.Phonetic {
		t.Errorf("Match(rt scribe) = %+v, want a non-phonetic match", got)
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	vocab := phonetic.NewVocabulary(vocabulary)

	if got, ok := m.Match("grafanna", vocab); ok {
		t.Errorf("Match with threshold 0.99 = %+v, want no match", got)
	}
	if _, ok := m.Match("grafana", vocab); !ok {
		t.Error("exact spelling should still match at threshold 0.99")
	}
}

func TestMatcher_MinRunes(t *testing.T) {
	t.Parallel()

	vocab := phonetic.NewVocabulary([]string{"Go"})
	if _, ok := phonetic.New().Match("go", vocab); ok {
		t.Error("two-letter phrase matched with the default minimum")
	}
	if _, ok := phonetic.New(phonetic.WithMinRunes(2)).Match("go", vocab); !ok {
		t.Error("two-letter phrase should match with WithMinRunes(2)")
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if _, ok := m.Match("grafana", nil); ok {
		t.Error("nil vocabulary matched")
	}
	if _, ok := m.Match("grafana", phonetic.NewVocabulary(nil)); ok {
		t.Error("empty vocabulary matched")
	}
}

func TestNewVocabulary(t *testing.T) {
	t.Parallel()

	v := phonetic.NewVocabulary([]string{"  ", "Grafana", "Tower of Whispers", ""})
	if v.Len() != 2 {
		t.Errorf("Len() = %d, want 2", v.Len())
	}
	if v.MaxWords() != 3 {
		t.Errorf("MaxWords() = %d, want 3", v.MaxWords())
	}
}
