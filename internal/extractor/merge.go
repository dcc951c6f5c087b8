package extractor

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/vacancy-ingest/internal/normalize"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

const subwordPrefix = "##"

// trimChars are stripped from the end of every reconstructed phrase. leadTrimChars are
// stripped from the start and keep the dot of names like ".net".
const (
	trimChars     = " \t\r\n.,;:!?()[]{}\"'«»•·|*/\\-–—"
	leadTrimChars = " \t\r\n,;:!?()[]{}\"'«»•·|*/\\-–—"
)

// MergeTokens rebuilds skill phrases from one labeled token sequence.
//
// Sub-word tokens ("##x") are glued onto the word they continue and the word takes the
// label of its first token. A B- word opens a phrase, an I- word continues the phrase
// opened by the previous word when both labels share a suffix, and O words are dropped.
// An I- word that continues nothing is reported through the returned inconsistencies.
func MergeTokens(tokens []vacancy.Token) ([]string, []vacancy.LabelingInconsistency) {
	m := merger{}
	for _, tok := range tokens {
		if strings.HasPrefix(tok.Text, subwordPrefix) {
			m.word.WriteString(strings.TrimPrefix(tok.Text, subwordPrefix))
			continue
		}
		m.flush()
		m.word.WriteString(tok.Text)
		m.lastLabel = m.label
		m.label = tok.Label
	}
	m.flush()
	return finalize(m.phrases), m.issues
}

type merger struct {
	phrases   []string
	issues    []vacancy.LabelingInconsistency
	word      strings.Builder
	label     string
	lastLabel string
	// open is true while the previous word was written into the last phrase.
	open     bool
	lastOpen bool
}

// flush dispatches the buffered word under its label.
func (m *merger) flush() {
	word := m.word.String()
	m.word.Reset()
	m.lastOpen = m.open
	m.open = false
	if word == "" || m.label == "" || m.label == vacancy.LabelOutside {
		return
	}

	if m.label[0] == 'I' {
		if !m.lastOpen || suffix(m.lastLabel) != suffix(m.label) {
			m.issues = append(m.issues, vacancy.LabelingInconsistency{
				Word:      word,
				Label:     m.label,
				PrevLabel: m.lastLabel,
			})
			return
		}
		last := len(m.phrases) - 1
		if isAlnum(word) {
			m.phrases[last] += word + " "
		} else {
			m.phrases[last] = strings.TrimSpace(m.phrases[last]) + word
		}
		m.open = true
		return
	}

	phrase := word
	if isAlnum(word) {
		phrase += " "
	}
	m.phrases = append(m.phrases, phrase)
	m.open = true
}

func suffix(label string) string {
	if label == "" {
		return ""
	}
	return label[1:]
}

// isAlnum reports whether every rune is a letter or a number.
func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

func trimPhrase(p string) string {
	return strings.TrimRight(strings.TrimLeft(p, leadTrimChars), trimChars)
}

// finalize trims phrases, drops lone symbols and dedupes case-insensitively.
func finalize(phrases []string) []string {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = normalize.Phrase(trimPhrase(p))
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) == 1 {
			r, _ := utf8.DecodeRuneInString(p)
			if !unicode.IsLetter(r) {
				continue
			}
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
