// Package transcript rewrites recognized text so that domain vocabulary
// (product names, people, jargon) is spelled the way it was configured.
//
// Backends routinely mishear proper nouns: "rt scribe" for "rtscribe" or
// "grafanna" for "Grafana". A [Corrector] matches word windows of each
// recognized segment against the vocabulary with the [phonetic] matcher and
// substitutes the canonical spelling. Every substitution is reported as a
// [Correction] so callers can log or audit it.
package transcript

// Correction captures a single substitution.
type Correction struct {
	// Original is the text window as produced by the backend, without
	// surrounding punctuation.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the match similarity in [0, 1].
	Confidence float64

	// Phonetic reports whether the match was backed by a shared Double
	// Metaphone code rather than spelling similarity alone.
	Phonetic bool
}
