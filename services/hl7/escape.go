package hl7

import "strings"

var escaper = strings.NewReplacer(
	`\`, `\E\`,
	"|", `\F\`,
	"^", `\S\`,
	"~", `\R\`,
	"&", `\T\`,
	"\r\n", `\.br\`,
	"\n", `\.br\`,
	"\r", `\.br\`,
)

var unescaper = strings.NewReplacer(
	`\F\`, "|",
	`\S\`, "^",
	`\R\`, "~",
	`\T\`, "&",
	`\.br\`, "\n",
	`\E\`, `\`,
)

// Escape protects free text so it can be placed inside a field
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape turns escape sequences of a received field back into text
func Unescape(s string) string {
	return unescaper.Replace(s)
}
