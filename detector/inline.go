package detector

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

var svgTagName = []byte("svg")

// inlineSpans returns the byte spans of complete svg elements appearing in
// text, one span per outermost element. Only an explicit closing tag
// completes a span: nested svg elements extend the enclosing span instead
// of producing their own, an element left open at end of input produces
// none, and a bare self-closed <svg/> in running text is not an inline
// fragment. The html tokenizer does the lexing, which keeps quoted ">"
// characters inside attribute values from truncating a tag the way a naive
// pattern would. Raw text elements (script, style, title, textarea) are
// lexed as ordinary markup so an unclosed mention of one cannot hide an
// svg element appearing later in the text.
func inlineSpans(text string, caseSensitive bool) []span {
	z := html.NewTokenizer(strings.NewReader(text))
	var (
		spans  []span
		depth  int
		start  int
		offset int
	)
	for {
		// After <script> and friends the tokenizer would treat
		// everything up to the closing tag as one raw text token.
		z.NextIsNotRawText()
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := z.Raw()
		tokStart := offset
		offset += len(raw)
		switch tt {
		case html.StartTagToken:
			if !isSVGTag(rawTagName(raw), caseSensitive) {
				continue
			}
			if depth == 0 {
				start = tokStart
			}
			depth++
		case html.EndTagToken:
			if !isSVGTag(rawTagName(raw), caseSensitive) {
				continue
			}
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, span{start, offset})
			}
		}
	}
	return spans
}

// rawTagName extracts the tag name from a raw start or end tag token,
// preserving the source casing.
func rawTagName(raw []byte) []byte {
	i := 1
	if i < len(raw) && raw[i] == '/' {
		i++
	}
	j := i
	for j < len(raw) {
		switch raw[j] {
		case ' ', '\t', '\n', '\r', '\f', '/', '>':
			return raw[i:j]
		}
		j++
	}
	return raw[i:j]
}

func isSVGTag(name []byte, caseSensitive bool) bool {
	if caseSensitive {
		return bytes.Equal(name, svgTagName)
	}
	return bytes.EqualFold(name, svgTagName)
}
