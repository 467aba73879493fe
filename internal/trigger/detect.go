// Package trigger finds "!termin <identifier>" commands in comment text.
package trigger

import "regexp"

// commandRe accepts "!termin" or "!termine" in any case, an optional "$"
// before the argument, and either a word of up to six letters, digits or
// underscores (any script, counted in runes) or an ISIN-shaped code. The
// argument must be followed by whitespace, including Unicode spaces such as
// NBSP, or the end of the input.
var commandRe = regexp.MustCompile(`(?im)!termine? \$?([\p{L}\p{N}_]{1,6}|[A-Za-z]{2}\p{Nd}{10})(?:[\s\p{Z}]|$)`)

// Detect returns the distinct identifiers requested in text, in the order
// they first appear. Identifiers keep the case they were written in.
func Detect(text string) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, m := range commandRe.FindAllStringSubmatch(text, -1) {
		tok := m[1]
		if seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	return tokens
}
