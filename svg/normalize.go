// Package svg prepares embedded SVG markup for rasterization.
//
// Normalization is textual on purpose: re-serializing untrusted SVG through
// an XML round-trip reorders attributes and drops vendor extensions, and the
// library guarantees byte-level fidelity for everything it does not have to
// touch. Only three repairs are performed, each skipped when the document
// already carries the information: the default namespace declaration, a
// font-family on text elements, and an explicit size.
package svg

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrEmptyContent rejects content that is empty or whitespace only.
var ErrEmptyContent = errors.New("svg: empty content")

// ErrNoRootElement rejects content with no recognizable svg root tag.
var ErrNoRootElement = errors.New("svg: no <svg> root element")

// DefaultSize is the square fallback edge length (pixels) injected when a
// document declares neither a width nor a viewBox. Zero-dimension documents
// rasterize to empty surfaces on every known backend.
const DefaultSize = 800

// Namespace is the SVG default namespace URI.
const Namespace = "http://www.w3.org/2000/svg"

var (
	rootOpenRe = regexp.MustCompile(`(?i)<svg[\s/>]`)
	rootTagRe  = regexp.MustCompile(`(?is)<svg[^>]*>`)
	textOpenRe = regexp.MustCompile(`(?i)<text([\s>])`)
)

// Options controls normalization.
type Options struct {
	// FontStack is the font-family list injected on text elements when the
	// document declares no font-family anywhere. Empty means
	// DefaultFontStack().
	FontStack []string

	// SizePx is the square edge injected when the document has neither a
	// width attribute nor a viewBox. Zero or negative means DefaultSize.
	SizePx int
}

// HasRootElement reports whether the content contains an svg opening tag.
// This is the library's whole notion of validity; rendering correctness is
// the backends' problem.
func HasRootElement(content string) bool {
	return rootTagRe.MatchString(content)
}

// Normalize returns content patched for reliable rasterization.
//
// Namespace: rasterizers reject namespace-less documents outright, so a
// missing xmlns declaration gets the default namespace added to the root
// tag. Fonts: text elements without any font-family silently drop CJK
// glyphs on most backends, so when no font-family appears anywhere the
// fallback stack is set on every <text> element. Size: with neither width
// nor viewBox the output surface is zero-sized, so a square default is
// added to the root tag.
func Normalize(content string, opts Options) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if !HasRootElement(content) {
		return "", ErrNoRootElement
	}

	out := content
	if !strings.Contains(out, "xmlns=") {
		out = injectRootAttrs(out, `xmlns="`+Namespace+`"`)
	}
	if !strings.Contains(out, "font-family") {
		stack := opts.FontStack
		if len(stack) == 0 {
			stack = DefaultFontStack()
		}
		out = textOpenRe.ReplaceAllString(out, `<text font-family="`+FontFamilyValue(stack)+`"$1`)
	}
	if !strings.Contains(out, "width=") && !strings.Contains(out, "viewBox=") {
		size := sizeAttr(opts.SizePx)
		out = injectRootAttrs(out, `width="`+size+`" height="`+size+`"`)
	}
	return out, nil
}

// injectRootAttrs inserts attributes immediately after the first svg opening
// tag name. Nested svg elements are left alone.
func injectRootAttrs(content, attrs string) string {
	loc := rootOpenRe.FindStringIndex(content)
	if loc == nil {
		return content
	}
	i := loc[0] + len("<svg")
	return content[:i] + " " + attrs + content[i:]
}

func sizeAttr(px int) string {
	if px <= 0 {
		px = DefaultSize
	}
	return strconv.Itoa(px)
}
