package validate

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	whitespaceRegexPattern = `\s+`
	maxEllipsisDots        = 3
)

// Normalizer applies language-agnostic cleanup to request text: whitespace
// collapse, typographic quotes and dashes, and repeated punctuation.
type Normalizer struct {
	whitespacePattern *regexp.Regexp
	typography        *strings.Replacer
}

// NewNormalizer creates a Normalizer with its patterns compiled up front.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		typography: strings.NewReplacer(
			"—", "-",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns the cleaned text. Blank input stays blank.
func (n *Normalizer) Normalize(text string) string {
	text = n.typography.Replace(text)
	text = squeezePunctuation(text)
	text = n.whitespacePattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// squeezePunctuation collapses runs of the same punctuation mark to one, except
// for dots which are kept up to an ellipsis.
func squeezePunctuation(text string) string {
	var (
		result   []rune
		previous rune
		run      int
	)

	for _, char := range text {
		if char == previous && unicode.IsPunct(char) {
			run++

			if char != '.' || run >= maxEllipsisDots {
				continue
			}
		} else {
			run = 0
		}

		result = append(result, char)
		previous = char
	}

	return string(result)
}
