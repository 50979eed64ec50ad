// Package detector locates embeddable vector graphics fragments in document
// text.
//
// Two grammars are recognized: fenced code blocks tagged ```svg (or ```xml
// when the body carries an svg root element), and inline <svg>...</svg>
// elements appearing directly in the prose. A fenced block's span masks the
// inline scan so the same markup is never reported twice, and the returned
// fragments are non-overlapping and sorted by start offset. Detection never
// fails: malformed input degrades to zero fragments.
package detector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/wudi/svgkit/observability"
)

// Kind identifies how a fragment was embedded in the source text.
type Kind string

const (
	// KindFencedBlock marks a fragment found inside a fenced code block.
	KindFencedBlock Kind = "fenced-block"
	// KindInline marks a bare svg element found directly in the text.
	KindInline Kind = "inline-tag"
)

// Fragment is one embeddable vector graphics unit found in the text.
// Fragments are immutable snapshots of a single Detect call.
type Fragment struct {
	// Content is the markup to rasterize: the trimmed fence body for
	// fenced blocks, the element text itself for inline fragments.
	Content string
	// Start and End delimit the fragment in the source text as byte
	// offsets, End exclusive. The span covers the fence delimiters for
	// fenced blocks.
	Start int
	End   int
	// Kind records the embedding grammar that matched.
	Kind Kind
	// Original is the exact source slice [Start:End), kept verbatim so a
	// failed conversion can reproduce the input untouched.
	Original string
}

// Summary counts the fragments a Detect call would return, by origin.
type Summary struct {
	FencedSVG int
	FencedXML int
	Inline    int
	Total     int
}

// Detector scans text for vector graphics fragments. Construct with New;
// the zero value is not usable. A Detector is immutable after construction
// and safe for concurrent use.
type Detector struct {
	includeXML    bool
	caseSensitive bool
	validate      bool
	logger        observability.Logger

	svgFenceRe *regexp.Regexp
	xmlFenceRe *regexp.Regexp
	rootTagRe  *regexp.Regexp
}

// Option customizes a Detector.
type Option func(*Detector)

// WithXMLBlocks controls whether ```xml fences containing an svg root
// element are reported as fragments. Default true. Disabled, their spans
// still mask the inline scan so fenced markup is never double-counted.
func WithXMLBlocks(include bool) Option {
	return func(d *Detector) { d.includeXML = include }
}

// WithCaseSensitive makes fence tags and element names match exactly.
// Default false: SVG, Svg and svg are all recognized.
func WithCaseSensitive(sensitive bool) Option {
	return func(d *Detector) { d.caseSensitive = sensitive }
}

// WithContentValidation controls the structural check on ```svg fence
// bodies. Default true: a fence whose body has no svg opening tag is
// skipped. Disabled, every ```svg fence qualifies.
func WithContentValidation(validate bool) Option {
	return func(d *Detector) { d.validate = validate }
}

// WithLogger sets the logger for scan diagnostics. Nil keeps the default
// no-op logger.
func WithLogger(l observability.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// New returns a Detector with the given options applied. Patterns are
// compiled once here.
func New(opts ...Option) *Detector {
	d := &Detector{
		includeXML: true,
		validate:   true,
		logger:     observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	flags := "(?si)"
	if d.caseSensitive {
		flags = "(?s)"
	}
	d.svgFenceRe = regexp.MustCompile(flags + "```svg[ \\t]*\\r?\\n(.*?)\\r?\\n```")
	d.xmlFenceRe = regexp.MustCompile(flags + "```xml[ \\t]*\\r?\\n(.*?)\\r?\\n```")
	d.rootTagRe = regexp.MustCompile(flags + "<svg[^>]*>")
	return d
}

// HasVectorContent reports whether text contains any candidate marker for a
// vector graphics fragment. It is a cheap existence probe that may report
// false positives (a ```xml fence with no svg inside); Detect gives the
// definitive answer.
func (d *Detector) HasVectorContent(text string) bool {
	if text == "" {
		return false
	}
	probe := text
	if !d.caseSensitive {
		probe = strings.ToLower(text)
	}
	return strings.Contains(probe, "```svg") ||
		strings.Contains(probe, "```xml") ||
		strings.Contains(probe, "<svg")
}

// Detect returns every vector graphics fragment in text, sorted ascending
// by start offset, with no two spans intersecting. Empty text yields nil.
// Scan failures never propagate: any panic in the underlying matching is
// logged and reported as zero fragments.
func (d *Detector) Detect(text string) (frags []Fragment) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("fragment scan aborted", observability.String("cause", fmt.Sprint(r)))
			frags = nil
		}
	}()
	frags, _ = d.scan(text)
	return frags
}

// Statistics reports how many fragments Detect would return for text,
// broken down by origin. Like Detect it degrades to zero counts instead of
// failing.
func (d *Detector) Statistics(text string) (sum Summary) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("fragment scan aborted", observability.String("cause", fmt.Sprint(r)))
			sum = Summary{}
		}
	}()
	_, sum = d.scan(text)
	return sum
}

type span struct {
	start, end int
}

func (s span) intersects(o span) bool {
	return s.start < o.end && o.start < s.end
}

func intersectsAny(s span, masks []span) bool {
	for _, m := range masks {
		if s.intersects(m) {
			return true
		}
	}
	return false
}

// scan performs the full extraction: svg fences, qualifying xml fences,
// then inline elements with fence spans masked out.
func (d *Detector) scan(text string) ([]Fragment, Summary) {
	if text == "" {
		return nil, Summary{}
	}

	var (
		frags []Fragment
		sum   Summary
		masks []span
	)

	for _, loc := range d.svgFenceRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		body := text[loc[2]:loc[3]]
		if d.validate && !d.rootTagRe.MatchString(body) {
			continue
		}
		masks = append(masks, span{start, end})
		frags = append(frags, Fragment{
			Content:  strings.TrimSpace(body),
			Start:    start,
			End:      end,
			Kind:     KindFencedBlock,
			Original: text[start:end],
		})
		sum.FencedSVG++
	}

	for _, loc := range d.xmlFenceRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		body := text[loc[2]:loc[3]]
		if !d.rootTagRe.MatchString(body) {
			continue
		}
		// Pathological nesting can make an xml fence match begin inside
		// an svg fence already taken; the earlier match wins.
		if intersectsAny(span{start, end}, masks) {
			continue
		}
		masks = append(masks, span{start, end})
		if !d.includeXML {
			continue
		}
		frags = append(frags, Fragment{
			Content:  strings.TrimSpace(body),
			Start:    start,
			End:      end,
			Kind:     KindFencedBlock,
			Original: text[start:end],
		})
		sum.FencedXML++
	}

	for _, s := range inlineSpans(text, d.caseSensitive) {
		if intersectsAny(s, masks) {
			continue
		}
		frags = append(frags, Fragment{
			Content:  text[s.start:s.end],
			Start:    s.start,
			End:      s.end,
			Kind:     KindInline,
			Original: text[s.start:s.end],
		})
		sum.Inline++
	}

	sort.Slice(frags, func(i, j int) bool { return frags[i].Start < frags[j].Start })
	sum.Total = len(frags)
	return frags, sum
}
