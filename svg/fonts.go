package svg

import (
	"io"
	"log"
	"strings"

	"github.com/go-text/typesetting/fontscan"

	"github.com/wudi/svgkit/observability"
)

// genericFamilies are CSS keyword families that never need to exist on disk.
var genericFamilies = map[string]bool{
	"sans-serif": true,
	"serif":      true,
	"monospace":  true,
	"cursive":    true,
	"fantasy":    true,
}

// DefaultFontStack returns the fallback font-family list injected into text
// elements. CJK families come first so ideographs resolve before Latin
// metrics do, ending in a generic keyword every renderer accepts.
func DefaultFontStack() []string {
	return []string{
		"Microsoft YaHei",
		"SimHei",
		"SimSun",
		"Noto Sans CJK SC",
		"Arial",
		"sans-serif",
	}
}

// FontFamilyValue renders a stack as a font-family attribute value.
func FontFamilyValue(stack []string) string {
	return strings.Join(stack, ", ")
}

// fontProbe reports which of the given families are installed on this
// machine. A variable so tests can substitute the system scan.
var fontProbe = scanSystemFonts

func scanSystemFonts(families []string) (map[string]bool, error) {
	fm := fontscan.NewFontMap(log.New(io.Discard, "", 0))
	if err := fm.UseSystemFonts(""); err != nil {
		return nil, err
	}
	installed := make(map[string]bool, len(families))
	for _, family := range families {
		if _, ok := fm.FindSystemFont(family); ok {
			installed[family] = true
		}
	}
	return installed, nil
}

// DetectFontStack filters DefaultFontStack down to the families actually
// installed on this machine, keeping generic keywords unconditionally. The
// first call scans system font directories, which fontscan caches on disk
// for subsequent runs. On scan failure, or when no concrete family is
// installed, the static default stack is returned unchanged so that the
// attribute value still names something renderers can substitute.
func DetectFontStack(logger observability.Logger) []string {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	installed, err := fontProbe(DefaultFontStack())
	if err != nil {
		logger.Debug("system font scan failed, using static font stack", observability.Error("error", err))
		return DefaultFontStack()
	}
	var stack []string
	concrete := 0
	for _, family := range DefaultFontStack() {
		if genericFamilies[family] {
			stack = append(stack, family)
			continue
		}
		if installed[family] {
			stack = append(stack, family)
			concrete++
		}
	}
	if concrete == 0 {
		return DefaultFontStack()
	}
	logger.Debug("detected installed fonts", observability.Int("families", concrete))
	return stack
}
