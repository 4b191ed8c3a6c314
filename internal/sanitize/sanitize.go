// Package sanitize normalizes visitor utterances before classification.
//
// Webchat transports deliver rich text: pasted HTML fragments, markup from
// embedded widgets, zero-width junk from mobile keyboards. The classifier
// and the transcript both want plain text, so every utterance passes
// through [Utterance] exactly once at the API boundary.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxUtteranceLen caps utterance length after normalization. Longer input
// is truncated at a rune boundary; discovery questions never need more.
const MaxUtteranceLen = 2000

// skipElements are HTML elements whose content never contains visitor text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
}

// Utterance normalizes raw visitor input to plain text: markup is reduced
// to its visible text, whitespace runs collapse to single spaces, and the
// result is trimmed and length-capped. Plain input passes through with
// only whitespace normalization. The function is pure.
func Utterance(raw string) string {
	s := raw
	if strings.ContainsAny(s, "<>") && looksLikeMarkup(s) {
		s = extractText(s)
	}
	s = collapseWhitespace(s)
	return truncate(s, MaxUtteranceLen)
}

// looksLikeMarkup reports whether s contains something tag-shaped.
// A bare "3 < 5" comparison is not markup.
func looksLikeMarkup(s string) bool {
	open := strings.IndexByte(s, '<')
	if open < 0 || open+1 >= len(s) {
		return false
	}
	next := s[open+1]
	return next == '/' || next == '!' ||
		(next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z')
}

// extractText parses s as an HTML fragment and returns its visible text.
func extractText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// Fallback: strip tags with the tokenizer.
		return stripTags(s)
	}

	var b strings.Builder
	walk(doc, &b)
	return b.String()
}

// walk appends the visible text under n to b, skipping non-content
// elements and separating block-ish boundaries with spaces.
func walk(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Br && b.Len() > 0 {
			b.WriteByte(' ')
		}
	}

	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b)
	}
}

// stripTags removes tags with the tokenizer when full parsing fails.
func stripTags(s string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(tokenizer.Token().Data)
		}
	}
}

// collapseWhitespace reduces all whitespace runs (including newlines and
// tabs) to single spaces and trims the ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
