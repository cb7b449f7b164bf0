package bounce

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiTransformer decomposes accented characters, strips the combining
// marks and drops whatever is still outside 7-bit ASCII. Transformers carry
// state so each call gets its own chain.
func asciiTransformer() transform.Transformer {
	return transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(func(r rune) bool {
			return r > unicode.MaxASCII || r == utf8.RuneError
		})),
	)
}

// ToASCII re-encodes text as ASCII on a best-effort basis
func ToASCII(text string) (string, error) {
	out, _, err := transform.String(asciiTransformer(), text)
	if err != nil {
		return "", fmt.Errorf("failed to re-encode message: %w", err)
	}
	return out, nil
}
