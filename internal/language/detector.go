// ABOUTME: Language detection for research questions
// ABOUTME: Distinguishes Korean from English via Hangul rune ratio

package language

import (
	"regexp"
	"strings"
	"unicode"
)

// Supported two-letter language codes.
const (
	Korean  = "ko"
	English = "en"
)

var (
	urlPattern   = regexp.MustCompile(`https?://\S+`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// Detect returns the primary language of the input text.
// Text with more than 10% Hangul characters is treated as Korean;
// everything else defaults to English.
func Detect(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return English
	}

	cleaned := cleanText(text)

	var hangul, total int
	for _, r := range cleaned {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.Is(unicode.Hangul, r) {
			hangul++
		}
	}

	if total > 0 && float64(hangul)/float64(total) > 0.1 {
		return Korean
	}
	return English
}

// Supported reports whether the given code is a language this system can
// generate prompts for.
func Supported(code string) bool {
	return code == Korean || code == English
}

// cleanText strips URLs and email addresses so their Latin characters don't
// skew the rune ratio.
func cleanText(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = emailPattern.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
