// Package sanitize normalises raw text extracted from PDFs into clean,
// UTF-8 prose suitable for tokenisation.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// Page furniture: page numbers, "N of M", copyright and confidentiality lines.
	furniturePattern = regexp.MustCompile(`(?i)^(?:page\s*\d+|\d+\s*of\s*\d+|©.*|all rights reserved.*|confidential.*)$`)
	spaceRun         = regexp.MustCompile(`[ \t]+`)
	newlineRun       = regexp.MustCompile(`\n{3,}`)
	hyphenBreak      = regexp.MustCompile(`-[\s\p{Z}]*\n[\s\p{Z}]*`)

	quoteReplacer = strings.NewReplacer(
		"\u2018", "'", "\u2019", "'",
		"\u201c", `"`, "\u201d", `"`,
		"\u2013", "-", "\u2014", "-",
	)
)

// Clean normalises extracted text. It never fails and Clean(Clean(s)) == Clean(s).
//
// Steps, in order: repair surrogate pairs and drop invalid encodings, strip NUL,
// turn control characters into spaces, apply NFKC, unify line endings, blank
// page-furniture lines, collapse blank runs, trim lines and the whole text.
func Clean(raw string) string {
	return clean(raw, false)
}

// FullClean is Clean plus typographic normalisation and de-hyphenation of
// words broken across lines. Both run before line trimming and furniture
// removal so a joined word is cleaned like any other line, which keeps
// FullClean idempotent.
func FullClean(raw string) string {
	return clean(raw, true)
}

func clean(raw string, full bool) string {
	if raw == "" {
		return ""
	}

	s := repairEncoding(raw)
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.Map(func(r rune) rune {
		if r != '\n' && r != '\r' && r != '\t' && unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if full {
		s = RemoveHyphenation(NormalizeQuotes(s))
		// Joining can put a combining mark next to its base.
		s = norm.NFKC.String(s)
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = spaceRun.ReplaceAllString(line, " ")
		line = strings.TrimSpace(line)
		if furniturePattern.MatchString(line) {
			line = ""
		}
		lines[i] = line
	}
	s = strings.Join(lines, "\n")
	s = newlineRun.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// RemoveHyphenation drops soft hyphens and joins words split by a hyphen at a
// line break ("exam-\nple" becomes "example").
func RemoveHyphenation(s string) string {
	s = strings.ReplaceAll(s, "\u00ad", "")
	return hyphenBreak.ReplaceAllString(s, "")
}

// NormalizeQuotes maps curly quotes and en/em dashes to their ASCII forms.
func NormalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

// repairEncoding recombines surrogate halves that were encoded as separate
// 3-byte sequences (CESU-8) and drops lone halves and other invalid bytes.
func repairEncoding(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if hi, ok := surrogateAt(s, i); ok {
			if lo, ok := surrogateAt(s, i+3); ok && isHigh(hi) && !isHigh(lo) {
				b.WriteRune(0x10000 + (hi-0xD800)<<10 + (lo - 0xDC00))
				i += 6
				continue
			}
			i += 3
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			i++
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

// surrogateAt decodes a UTF-16 surrogate encoded as ED [A0-BF] [80-BF] at s[i:].
func surrogateAt(s string, i int) (rune, bool) {
	if i+3 > len(s) || s[i] != 0xED || s[i+1] < 0xA0 || s[i+1] > 0xBF || s[i+2] < 0x80 || s[i+2] > 0xBF {
		return 0, false
	}
	return rune(0xD000) | rune(s[i+1]&0x3F)<<6 | rune(s[i+2]&0x3F), true
}

func isHigh(r rune) bool {
	return r >= 0xD800 && r <= 0xDBFF
}
