// Package textutil holds the tokenizer and sentence splitter shared by the
// chunker, the TF-IDF embedder and the lexical fallback search.
package textutil

import (
	"math"
	"regexp"
	"strings"
)

var (
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Words returns the lower-cased words of s.
func Words(s string) []string {
	return wordRe.FindAllString(strings.ToLower(s), -1)
}

// ContentWords returns Words(s) without stopwords.
func ContentWords(s string) []string {
	raw := Words(s)
	out := raw[:0]
	for _, w := range raw {
		if !IsStopword(w) {
			out = append(out, w)
		}
	}
	return out
}

// IsStopword reports whether w (lower-case) is an English stopword.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// WordSet returns the distinct words of s.
func WordSet(s string) map[string]struct{} {
	words := Words(s)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Sentences splits text on terminal punctuation and trims each sentence.
// Text without any terminator comes back as a single sentence.
func Sentences(text string) []string {
	raw := sentenceRe.FindAllString(text, -1)
	if len(raw) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}
	for i := range raw {
		raw[i] = strings.TrimSpace(raw[i])
	}
	return raw
}

// Ochiai is |A∩B| / sqrt(|A||B|) between query words and the words of text.
func Ochiai(query map[string]struct{}, text string) float64 {
	set := WordSet(text)
	if len(query) == 0 || len(set) == 0 {
		return 0
	}
	inter := 0
	for w := range set {
		if _, ok := query[w]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(query))*float64(len(set)))
}
