package detector_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/wudi/svgkit/detector"
)

const fencedDoc = "Intro.\n\n```svg\n<svg viewBox=\"0 0 10 10\"><rect/></svg>\n```\n\nOutro.\n"

func TestHasVectorContent(t *testing.T) {
	d := detector.New()
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"Empty", "", false},
		{"PlainProse", "no graphics here", false},
		{"SVGFence", "```svg\n<svg/>\n```", true},
		{"XMLFence", "```xml\n<data/>\n```", true},
		{"InlineTag", "before <svg></svg> after", true},
		{"UppercaseInline", "before <SVG></SVG> after", true},
		{"MentionWithoutTag", "we like the svg format", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := d.HasVectorContent(tc.text); got != tc.want {
				t.Errorf("HasVectorContent(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestDetectFencedBlock(t *testing.T) {
	d := detector.New()
	frags := d.Detect(fencedDoc)
	if len(frags) != 1 {
		t.Fatalf("want 1 fragment, got %d: %+v", len(frags), frags)
	}
	f := frags[0]
	if f.Kind != detector.KindFencedBlock {
		t.Errorf("Kind = %q, want %q", f.Kind, detector.KindFencedBlock)
	}
	if f.Content != `<svg viewBox="0 0 10 10"><rect/></svg>` {
		t.Errorf("Content = %q", f.Content)
	}
	if f.Original != fencedDoc[f.Start:f.End] {
		t.Errorf("Original does not match source slice: %q", f.Original)
	}
	if !strings.HasPrefix(f.Original, "```svg") || !strings.HasSuffix(f.Original, "```") {
		t.Errorf("fenced span must cover the delimiters: %q", f.Original)
	}
}

func TestDetectFencedBlockWithCRLFEndings(t *testing.T) {
	d := detector.New()
	doc := "Intro.\r\n\r\n```svg\r\n<svg viewBox=\"0 0 10 10\"><rect/></svg>\r\n```\r\n\r\nAlso <svg id=\"solo\"></svg> inline.\r\n"
	frags := d.Detect(doc)
	if len(frags) != 2 {
		t.Fatalf("want fenced + inline fragment, got %d: %+v", len(frags), frags)
	}
	f := frags[0]
	if f.Kind != detector.KindFencedBlock {
		t.Errorf("Kind = %q, want %q (fence body must not resurface as inline)",
			f.Kind, detector.KindFencedBlock)
	}
	if f.Content != `<svg viewBox="0 0 10 10"><rect/></svg>` {
		t.Errorf("Content = %q", f.Content)
	}
	if f.Original != doc[f.Start:f.End] {
		t.Errorf("Original does not match source slice: %q", f.Original)
	}
	if frags[1].Kind != detector.KindInline || !strings.Contains(frags[1].Content, "solo") {
		t.Errorf("second fragment = %+v, want the standalone inline element", frags[1])
	}
}

func TestDetectInline(t *testing.T) {
	d := detector.New()

	t.Run("Simple", func(t *testing.T) {
		text := `Look: <svg width="4"><circle r="1"/></svg> done.`
		frags := d.Detect(text)
		if len(frags) != 1 {
			t.Fatalf("want 1 fragment, got %d", len(frags))
		}
		if frags[0].Kind != detector.KindInline {
			t.Errorf("Kind = %q, want %q", frags[0].Kind, detector.KindInline)
		}
		if frags[0].Content != `<svg width="4"><circle r="1"/></svg>` {
			t.Errorf("Content = %q", frags[0].Content)
		}
	})

	t.Run("QuotedAngleInAttribute", func(t *testing.T) {
		text := `<svg data-label="a>b"><rect/></svg>`
		frags := d.Detect(text)
		if len(frags) != 1 {
			t.Fatalf("want 1 fragment, got %d", len(frags))
		}
		if frags[0].Content != text {
			t.Errorf("span truncated at quoted '>': %q", frags[0].Content)
		}
	})

	t.Run("BareSelfClosingIgnored", func(t *testing.T) {
		frags := d.Detect(`The <svg width="8"/> element takes attributes.`)
		if len(frags) != 0 {
			t.Fatalf("self-closed element in prose must not be reported, got %+v", frags)
		}
	})

	t.Run("NestedElementsYieldOuterSpan", func(t *testing.T) {
		text := `<svg><svg width="1"/><svg></svg></svg>`
		frags := d.Detect(text)
		if len(frags) != 1 {
			t.Fatalf("want 1 outer fragment, got %d: %+v", len(frags), frags)
		}
		if frags[0].Content != text {
			t.Errorf("outer span truncated: %q", frags[0].Content)
		}
	})

	t.Run("UnterminatedElementIgnored", func(t *testing.T) {
		if frags := d.Detect(`start <svg width="2"> and never closed`); len(frags) != 0 {
			t.Fatalf("unterminated element must not be reported, got %+v", frags)
		}
	})

	t.Run("CommentedOutIgnored", func(t *testing.T) {
		if frags := d.Detect(`<!-- <svg></svg> -->`); len(frags) != 0 {
			t.Fatalf("commented element must not be reported, got %+v", frags)
		}
	})

	t.Run("RawTextMentionDoesNotHideLaterElement", func(t *testing.T) {
		text := `Add a <script> tag and a <style> block.` + "\n\n" +
			`<svg width="6"><rect/></svg>` + "\n"
		frags := d.Detect(text)
		if len(frags) != 1 {
			t.Fatalf("want 1 fragment after script mention, got %d: %+v", len(frags), frags)
		}
		if frags[0].Content != `<svg width="6"><rect/></svg>` {
			t.Errorf("Content = %q", frags[0].Content)
		}
	})
}

func TestDetectXMLFenceQualification(t *testing.T) {
	d := detector.New()

	t.Run("WithSVGRoot", func(t *testing.T) {
		frags := d.Detect("```xml\n<svg><text>hi</text></svg>\n```")
		if len(frags) != 1 {
			t.Fatalf("want 1 fragment, got %d", len(frags))
		}
		if frags[0].Kind != detector.KindFencedBlock {
			t.Errorf("Kind = %q", frags[0].Kind)
		}
	})

	t.Run("WithoutSVGRoot", func(t *testing.T) {
		if frags := d.Detect("```xml\n<config><port>80</port></config>\n```"); len(frags) != 0 {
			t.Fatalf("plain xml fence must not qualify, got %+v", frags)
		}
	})

	t.Run("ExcludedBlocksStillMaskInlineScan", func(t *testing.T) {
		noXML := detector.New(detector.WithXMLBlocks(false))
		frags := noXML.Detect("```xml\n<svg><rect/></svg>\n```")
		if len(frags) != 0 {
			t.Fatalf("masked fence content must not resurface as inline, got %+v", frags)
		}
	})
}

// A fenced block whose body also matches the inline pattern must be
// reported exactly once, as the fenced fragment.
func TestDetectNestedInlineSuppressed(t *testing.T) {
	d := detector.New()
	text := "before\n```xml\n<svg viewBox=\"0 0 1 1\"><rect/></svg>\n```\nafter <svg id=\"solo\"></svg>\n"
	frags := d.Detect(text)
	if len(frags) != 2 {
		t.Fatalf("want fenced + standalone inline, got %d: %+v", len(frags), frags)
	}
	if frags[0].Kind != detector.KindFencedBlock || frags[1].Kind != detector.KindInline {
		t.Errorf("kinds = %q, %q", frags[0].Kind, frags[1].Kind)
	}
	if !strings.Contains(frags[1].Content, "solo") {
		t.Errorf("surviving inline fragment should be the standalone one: %q", frags[1].Content)
	}
}

func TestDetectOrderingAndNonOverlap(t *testing.T) {
	d := detector.New()
	text := "a <svg id=\"1\"></svg> b\n```svg\n<svg id=\"2\"/>\n```\nc <svg id=\"3\"></svg> d\n"
	frags := d.Detect(text)
	if len(frags) != 3 {
		t.Fatalf("want 3 fragments, got %d", len(frags))
	}
	for i := range frags {
		if frags[i].Start >= frags[i].End {
			t.Errorf("fragment %d has empty span [%d,%d)", i, frags[i].Start, frags[i].End)
		}
		if i > 0 && frags[i].Start < frags[i-1].End {
			t.Errorf("fragments %d and %d overlap: [%d,%d) [%d,%d)",
				i-1, i, frags[i-1].Start, frags[i-1].End, frags[i].Start, frags[i].End)
		}
		if frags[i].Original != text[frags[i].Start:frags[i].End] {
			t.Errorf("fragment %d Original mismatch", i)
		}
	}
}

func TestDetectIdempotent(t *testing.T) {
	d := detector.New()
	text := fencedDoc + `and inline <svg height="2"></svg> too`
	first := d.Detect(text)
	second := d.Detect(text)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated detection differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestDetectDegradesToZeroFragments(t *testing.T) {
	d := detector.New()
	cases := []struct {
		name string
		text string
	}{
		{"Empty", ""},
		{"UnterminatedFence", "```svg\n<svg/>"},
		{"BareFenceMarkers", "``` ``` ```"},
		{"FenceWithEmptyBody", "```svg\n\n```"},
		{"ProseOnly", "nothing embeddable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if frags := d.Detect(tc.text); len(frags) != 0 {
				t.Errorf("Detect(%q) = %+v, want none", tc.text, frags)
			}
		})
	}
}

func TestDetectCaseSensitivity(t *testing.T) {
	text := "```SVG\n<SVG><rect/></SVG>\n```\nand <SVG id=\"x\"></SVG>"

	if frags := detector.New().Detect(text); len(frags) != 2 {
		t.Errorf("insensitive detector: want 2 fragments, got %d", len(frags))
	}
	strict := detector.New(detector.WithCaseSensitive(true))
	if frags := strict.Detect(text); len(frags) != 0 {
		t.Errorf("sensitive detector: want 0 fragments, got %+v", frags)
	}
}

func TestDetectValidationToggle(t *testing.T) {
	text := "```svg\njust a note, no markup\n```"
	if frags := detector.New().Detect(text); len(frags) != 0 {
		t.Errorf("validated: tagless fence must not qualify, got %+v", frags)
	}
	lax := detector.New(detector.WithContentValidation(false))
	frags := lax.Detect(text)
	if len(frags) != 1 {
		t.Fatalf("unvalidated: want 1 fragment, got %d", len(frags))
	}
	if frags[0].Content != "just a note, no markup" {
		t.Errorf("Content = %q", frags[0].Content)
	}
}

func TestStatistics(t *testing.T) {
	d := detector.New()
	text := "```svg\n<svg/>\n```\n```xml\n<svg><rect/></svg>\n```\ninline <svg></svg> here\n```xml\n<notsvg/>\n```\n"
	sum := d.Statistics(text)
	want := detector.Summary{FencedSVG: 1, FencedXML: 1, Inline: 1, Total: 3}
	if sum != want {
		t.Errorf("Statistics = %+v, want %+v", sum, want)
	}
	if got := len(d.Detect(text)); got != sum.Total {
		t.Errorf("Total (%d) must equal len(Detect) (%d)", sum.Total, got)
	}
}
