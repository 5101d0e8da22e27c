package deck

import (
	"strings"
	"unicode"
)

// Normalize lowercases s, keeps only ASCII letters and digits, Latin-1
// accented letters, apostrophes and whitespace, collapses whitespace runs to
// a single space and trims the ends.
func Normalize(s string) string {
	return normalize(s, keepLatin)
}

// NormalizeScript is Normalize for non-Latin scripts: every Unicode letter
// and digit is kept.
func NormalizeScript(s string) string {
	return normalize(s, keepAnyLetter)
}

// MatchTyped reports whether typed input equals the expected answer after
// normalization.
func MatchTyped(input, answer string) bool {
	in, want := comparable(input, answer)
	return in == want
}

// MatchSpoken reports whether a recognized transcript contains the expected
// answer after normalization. Recognized speech is noisier than typed input,
// so containment is enough here.
func MatchSpoken(transcript, answer string) bool {
	in, want := comparable(transcript, answer)
	if want == "" {
		return false
	}
	return strings.Contains(in, want)
}

// comparable normalizes both sides. Answers that vanish under the Latin
// rule (Hangul, kana...) are compared with the script-aware rule instead.
func comparable(input, answer string) (string, string) {
	if want := Normalize(answer); want != "" {
		return Normalize(input), want
	}
	return NormalizeScript(input), NormalizeScript(answer)
}

func keepLatin(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 0x00C0 && r <= 0x00FF:
		return true
	case r == '\'' || r == '’':
		return true
	}
	return false
}

func keepAnyLetter(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '\'' || r == '’'
}

func normalize(s string, keep func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if !keep(r) {
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
