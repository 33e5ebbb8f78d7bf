package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)
var nonColumnRegex = regexp.MustCompile(`[^a-z0-9_]`)

// dotted capital İ lowercases to "i" + a combining dot in Go,
// so it has to be folded before ToLower runs.
var preFolder = strings.NewReplacer("İ", "i")

var asciiFolder = strings.NewReplacer(
	"ı", "i",
	"ğ", "g",
	"ü", "u",
	"ş", "s",
	"ö", "o",
	"ç", "c",
)

// NormalizeColumn turns a scraped table header into a stable snake_case
// identifier: lowercased, Turkish diacritics folded to ascii, inner
// whitespace collapsed into underscores, everything outside [a-z0-9_]
// stripped. The function is idempotent.
func NormalizeColumn(name string) string {
	name = preFolder.Replace(name)
	name = strings.ToLower(name)
	name = asciiFolder.Replace(name)
	name = strings.Trim(name, " \t\n")
	name = whitespaceRegex.ReplaceAllString(name, "_")
	name = nonColumnRegex.ReplaceAllString(name, "")
	return name
}
