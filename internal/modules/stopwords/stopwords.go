// Package stopwords matches messages against an owner's block-list.
package stopwords

import "strings"

const (
	PrefixMessage = "стоп-слова"
	PrefixEdit    = "стоп-слова в редактировании"
)

// Match returns every stop word contained in text, in the order of words.
// Matching is case-insensitive substring containment.
func Match(text string, words []string) []string {
	if text == "" || len(words) == 0 {
		return nil
	}
	content := strings.ToLower(text)
	var found []string
	for _, word := range words {
		needle := strings.ToLower(strings.TrimSpace(word))
		if needle == "" {
			continue
		}
		if strings.Contains(content, needle) {
			found = append(found, word)
		}
	}
	return found
}

// Reason renders "prefix: a, b" using at most limit matches.
func Reason(prefix string, matches []string, limit int) string {
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return prefix + ": " + strings.Join(matches, ", ")
}
