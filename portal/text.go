package portal

import (
	"strings"

	"golang.org/x/net/html"
)

// visibleText walks page with the tokenizer and returns its text content,
// one space between text nodes so adjacent cells never run together.
// Script, style and noscript bodies are skipped.
func visibleText(page string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(page))
	var parts []string
	skip := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return normalize(strings.Join(parts, " "))
		case html.StartTagToken:
			if hidden(tokenizer) {
				skip++
			}
		case html.EndTagToken:
			if hidden(tokenizer) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				parts = append(parts, string(tokenizer.Text()))
			}
		}
	}
}

func hidden(z *html.Tokenizer) bool {
	tn, _ := z.TagName()
	switch string(tn) {
	case "script", "style", "noscript":
		return true
	}
	return false
}
