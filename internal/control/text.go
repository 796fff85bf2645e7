package control

import "strings"

// Fold normalises whitespace and case so surface text can be compared with
// content regardless of how the destination reflowed it.
func Fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Snippet returns the first n runes of the folded text.
func Snippet(text string, n int) string {
	folded := []rune(Fold(text))
	if n > 0 && len(folded) > n {
		folded = folded[:n]
	}
	return strings.TrimSpace(string(folded))
}
