package worker

import (
	"regexp"
	"strings"
)

var (
	// [12], (3) and superscript footnote markers left over from page extraction.
	footnotePattern = regexp.MustCompile(`\[\d+\]|\(\d{1,3}\)|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`)
	// A word split across lines: "exam-\nple".
	hyphenBreakPattern = regexp.MustCompile(`(\p{L})-\s*\n\s*(\p{L})`)
	whitespacePattern  = regexp.MustCompile(`\s+`)

	typographyReplacer = strings.NewReplacer(
		"—", " - ",
		"–", "-",
		"‒", "-",
		"…", "...",
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
		"\u00ad", "",
	)
)

// cleanPageText prepares extracted page text for synthesis so that the
// backend does not read out footnote markers or broken words.
func cleanPageText(raw string) string {
	text := hyphenBreakPattern.ReplaceAllString(raw, "$1$2")
	text = footnotePattern.ReplaceAllString(text, "")
	text = typographyReplacer.Replace(text)
	text = whitespacePattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
