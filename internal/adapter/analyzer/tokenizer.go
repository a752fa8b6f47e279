package analyzer

import (
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
)

// Tokenizer segments text into index terms. Latin-script words are split on
// unicode boundaries, lowercased and optionally suffix-stripped; runs of Han
// characters go through gse word segmentation so that Chinese queries match
// on words rather than whole sentences.
type Tokenizer struct {
	stopwords map[string]struct{}
	lightStem bool
}

var (
	segOnce sync.Once
	seg     gse.Segmenter
)

func segmenter() *gse.Segmenter {
	segOnce.Do(func() {
		// Embedded default dictionary; loading is expensive, do it once.
		seg.LoadDict()
	})
	return &seg
}

// NewTokenizer creates a Tokenizer. With lightStem enabled, common English
// suffixes are stripped so "indexing" and "indexed" share a term.
func NewTokenizer(lightStem bool) *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
		lightStem: lightStem,
	}
}

// Tokenize splits text into terms.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, run := range splitRuns(text) {
		if run.han {
			for _, w := range segmenter().Cut(run.text, true) {
				w = strings.TrimSpace(w)
				if w != "" {
					tokens = append(tokens, w)
				}
			}
			continue
		}
		word := strings.ToLower(run.text)
		if len(word) < 2 {
			continue
		}
		if _, stop := t.stopwords[word]; stop {
			continue
		}
		if t.lightStem {
			word = stripSuffix(word)
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// CountTokens approximates generation-model token usage: CJK characters run
// close to one token each, Latin words to about 1.3 tokens.
func (t *Tokenizer) CountTokens(text string) int {
	words := 0
	han := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			han++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if !inWord {
				words++
				inWord = true
			}
		default:
			inWord = false
		}
	}
	return han + int(float64(words)*1.3)
}

type textRun struct {
	text string
	han  bool
}

// splitRuns cuts text into maximal runs of word characters, separating Han
// runs from Latin/digit runs so each can be segmented appropriately.
func splitRuns(text string) []textRun {
	var runs []textRun
	var current strings.Builder
	currentHan := false

	flush := func() {
		if current.Len() > 0 {
			runs = append(runs, textRun{text: current.String(), han: currentHan})
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			if !currentHan {
				flush()
				currentHan = true
			}
			current.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if currentHan {
				flush()
				currentHan = false
			}
			current.WriteRune(r)
		default:
			flush()
			currentHan = false
		}
	}
	flush()
	return runs
}

// stripSuffix removes the most common English inflection suffixes. It is a
// deliberately small normalizer, not a full stemmer.
func stripSuffix(word string) string {
	switch {
	case len(word) > 5 && strings.HasSuffix(word, "ing"):
		return word[:len(word)-3]
	case len(word) > 4 && strings.HasSuffix(word, "ied"):
		return word[:len(word)-3] + "y"
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 4 && strings.HasSuffix(word, "ed"):
		return word[:len(word)-2]
	case len(word) > 3 && strings.HasSuffix(word, "es"):
		return word[:len(word)-2]
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	}
	return word
}

func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
