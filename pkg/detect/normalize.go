package detect

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// zeroWidthReplacer strips characters that render as nothing but break
// pattern matching when spliced into keywords.
// Built once at startup instead of on every call.
var zeroWidthReplacer = strings.NewReplacer(
	"​", "", // zero width space
	"‌", "", // zero width non-joiner
	"‍", "", // zero width joiner
	"⁠", "", // word joiner
	"\uFEFF", "", // BOM
	"­", "", // soft hyphen
)

// homoglyphMap folds common lookalike runes onto the ASCII shapes an
// attacker wants a human to read. Covers the Cyrillic and Greek letters
// that pass for Latin plus curly punctuation.
var homoglyphMap = map[rune]rune{
	// Cyrillic lowercase
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y',
	'і': 'i', 'ѕ': 's', 'ј': 'j',
	// Cyrillic uppercase
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O',
	'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X',
	// Greek
	'ο': 'o', 'ν': 'v', 'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H',
	'Ι': 'I', 'Κ': 'K', 'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T',
	'Υ': 'Y', 'Χ': 'X',
	// Curly punctuation
	'‘': '\'', '’': '\'', '“': '"', '”': '"',
}

// Normalize canonicalizes a message for pattern matching. The pipeline is
// NFKC compatibility folding, zero-width stripping, homoglyph folding,
// control character removal, and whitespace collapsing. The result is
// stable: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	out := norm.NFKC.String(s)
	out = zeroWidthReplacer.Replace(out)
	out = strings.Map(foldRune, out)
	return collapseWhitespace(out)
}

// foldRune maps homoglyphs to ASCII and drops non-whitespace control runes.
func foldRune(r rune) rune {
	if mapped, ok := homoglyphMap[r]; ok {
		return mapped
	}
	if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
		return -1
	}
	return r
}

// collapseWhitespace trims the string and squeezes any whitespace run,
// including newlines and tabs, into a single space.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
