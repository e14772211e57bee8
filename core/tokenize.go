package core

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
)

// Tokenization is shared by ingestion, QA indexing, and lexical search.
// All three must tokenize identically or posting lookups miss.

var (
	segOnce   sync.Once
	segmenter gse.Segmenter
	segReady  bool

	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

func loadSegmenter() {
	if err := segmenter.LoadDict(); err == nil {
		segReady = true
	}
}

// Tokenize splits text into lowercase search terms. Mixed-script text is
// segmented with a dictionary cut so CJK spans become words rather than
// single runes; punctuation and whitespace are dropped. Falls back to a
// plain word scan when the dictionary is unavailable.
func Tokenize(text string) []string {
	segOnce.Do(loadSegmenter)
	if !segReady {
		return fallbackTokenize(text)
	}
	cut := segmenter.Cut(text, true)
	tokens := make([]string, 0, len(cut))
	for _, tok := range cut {
		tok = strings.TrimSpace(tok)
		if tok == "" || !isWord(tok) {
			continue
		}
		tokens = append(tokens, strings.ToLower(tok))
	}
	return tokens
}

func fallbackTokenize(text string) []string {
	words := wordPattern.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, strings.ToLower(w))
	}
	return tokens
}

func isWord(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}
