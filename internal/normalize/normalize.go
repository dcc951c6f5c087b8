// Package normalize canonicalizes skill phrases.
//
// Phrase lowercases and trims text for comparison. Normalizer reduces each word of a
// canonical label to its base form: Cyrillic words are stemmed with the Snowball Russian
// stemmer, Latin words are lemmatized with an English dictionary, and words in any other
// script pass through unchanged.
package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
	"github.com/kljensen/snowball"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// Phrase lowercases and trims a skill phrase.
func Phrase(s string) string {
	return lower.String(strings.TrimSpace(s))
}

// Normalizer maps canonical labels to stemmed or lemmatized forms.
type Normalizer struct {
	lemmatizer *golem.Lemmatizer
}

// New loads the English lemma dictionary.
func New() (*Normalizer, error) {
	lem, err := golem.New(en.New())
	if err != nil {
		return nil, fmt.Errorf("load english lemmas: %w", err)
	}
	return &Normalizer{lemmatizer: lem}, nil
}

// Canonical normalizes every whitespace-separated word of phrase by its script.
func (n *Normalizer) Canonical(phrase string) string {
	words := strings.Fields(Phrase(phrase))
	for i, w := range words {
		switch scriptOf(w) {
		case unicode.Cyrillic:
			words[i] = stem(w)
		case unicode.Latin:
			words[i] = n.lemma(w)
		}
	}
	return strings.Join(words, " ")
}

func (n *Normalizer) lemma(word string) string {
	if n == nil || n.lemmatizer == nil {
		return word
	}
	// Lemmas only exist for plain words; "c++" or "node.js" stay as written.
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return word
		}
	}
	return n.lemmatizer.LemmaLower(word)
}

func stem(word string) string {
	stemmed, err := snowball.Stem(word, "russian", true)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}

// scriptOf reports the script of the first letter in word, or nil when it has none.
func scriptOf(word string) *unicode.RangeTable {
	for _, r := range word {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			return unicode.Cyrillic
		case unicode.Is(unicode.Latin, r):
			return unicode.Latin
		case unicode.IsLetter(r):
			return nil
		}
	}
	return nil
}
