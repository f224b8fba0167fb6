// Package token provides text analysis for lexical indexing and querying.
// Indexing and querying must run the same chain so query terms hit the
// same postings the indexer wrote.
package token

import (
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	unicodetok "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"golang.org/x/text/unicode/norm"
)

// minTermRunes is the shortest non-CJK term kept by Analyze.
// Single latin letters carry no retrieval signal.
const minTermRunes = 2

// Analyzer normalizes and tokenizes text for the lexical index.
//
// The bleve chain handles word segmentation, CJK width folding,
// lowercasing and Han/Kana bigrams. Hangul needs extra care: the
// segmenter treats Hangul syllables as regular letters, so whole Korean
// eojeol arrive as single tokens. Those are expanded into overlapping
// syllable bigrams here, which approximates morpheme matching without a
// dictionary (the noun stem of an inflected word shares bigrams with the
// bare noun).
type Analyzer struct {
	chain *analysis.DefaultAnalyzer
}

// NewAnalyzer builds the analysis chain. The chain is immutable and safe
// for concurrent use.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		chain: &analysis.DefaultAnalyzer{
			Tokenizer: unicodetok.NewUnicodeTokenizer(),
			TokenFilters: []analysis.TokenFilter{
				cjk.NewCJKWidthFilter(),
				lowercase.NewLowerCaseFilter(),
				cjk.NewCJKBigramFilter(false),
			},
		},
	}
}

// Analyze returns the normalized terms of text in document order.
// Duplicate terms are preserved so callers can compute term frequencies.
//
// If the chain produces nothing for non-empty input (analysis must never
// make a document unsearchable), it falls back to plain whitespace and
// punctuation splitting.
func (a *Analyzer) Analyze(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	terms := a.run(text)
	if len(terms) == 0 {
		return fallbackSplit(text)
	}
	return terms
}

func (a *Analyzer) run(text string) (terms []string) {
	// A panic inside a filter must not fail indexing or a query.
	defer func() {
		if r := recover(); r != nil {
			terms = nil
		}
	}()

	stream := a.chain.Analyze([]byte(text))
	terms = make([]string, 0, len(stream))
	for _, tok := range stream {
		terms = append(terms, expandTerm(string(tok.Term))...)
	}
	return terms
}

// expandTerm turns one token into its final index terms: Hangul runs
// become syllable bigrams, everything else is diacritic-folded.
func expandTerm(term string) []string {
	if !strings.ContainsFunc(term, isHangul) {
		folded := foldDiacritics(term)
		if keepTerm(folded) {
			return []string{folded}
		}
		return nil
	}

	var out []string
	runes := []rune(term)
	for i := 0; i < len(runes); {
		if isHangul(runes[i]) {
			j := i
			for j < len(runes) && isHangul(runes[j]) {
				j++
			}
			out = append(out, hangulBigrams(runes[i:j])...)
			i = j
			continue
		}
		j := i
		for j < len(runes) && !isHangul(runes[j]) {
			j++
		}
		folded := foldDiacritics(string(runes[i:j]))
		if keepTerm(folded) {
			out = append(out, folded)
		}
		i = j
	}
	return out
}

// hangulBigrams emits overlapping syllable pairs; a lone syllable is
// kept whole since it can be a complete word.
func hangulBigrams(run []rune) []string {
	if len(run) == 1 {
		return []string{string(run)}
	}
	out := make([]string, 0, len(run)-1)
	for i := 0; i+1 < len(run); i++ {
		out = append(out, string(run[i:i+2]))
	}
	return out
}

// keepTerm drops terms too short to carry signal. Single CJK runes are
// kept since one Han character or Kana pair can be a full word.
func keepTerm(term string) bool {
	runes := []rune(term)
	if len(runes) == 0 {
		return false
	}
	if len(runes) >= minTermRunes {
		return true
	}
	return isCJK(runes[0])
}

func isHangul(r rune) bool {
	return unicode.Is(unicode.Hangul, r)
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Hangul, r) ||
		unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r)
}

// foldDiacritics strips combining marks after NFKD so accented and
// unaccented spellings share postings ("café" matches "cafe"). Callers
// keep Hangul away from this path: NFKD would decompose syllables into
// jamo and break bigram granularity.
func foldDiacritics(term string) string {
	decomposed := norm.NFKD.String(term)
	if !strings.ContainsFunc(decomposed, func(r rune) bool { return unicode.Is(unicode.Mn, r) }) {
		return decomposed
	}
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fallbackSplit is the degraded path when the analyzer chain yields
// nothing: lowercase, split on anything that is not a letter or digit.
func fallbackSplit(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		for _, t := range expandTerm(f) {
			terms = append(terms, t)
		}
	}
	return terms
}
