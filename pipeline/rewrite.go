package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/svgkit/detector"
)

// deriveSeed picks the output filename seed: the caller's seed, else the
// base directory name, else a neutral constant. Only the last path element
// is kept so a seed can never redirect output out of the output directory.
func deriveSeed(seed, baseDir string) string {
	seed = strings.TrimSpace(seed)
	if seed != "" {
		if b := filepath.Base(seed); b != "." && b != string(filepath.Separator) {
			return b
		}
	}
	if baseDir != "" {
		if b := filepath.Base(filepath.Clean(baseDir)); b != "." && b != string(filepath.Separator) {
			return b
		}
	}
	return "svg"
}

// outputName derives the deterministic filename for the fragment at the
// given original position. Identical input and seed always map to the same
// name, which is what lets re-runs reuse cached files.
func outputName(seed string, index int) string {
	return fmt.Sprintf("%s_%02d.png", seed, index+1)
}

// imageRef renders the replacement for a converted fragment. The path is
// made relative to baseDir when the file sits under it, otherwise it stays
// absolute.
func imageRef(figure int, path, baseDir string) string {
	ref := path
	if baseDir != "" {
		base, berr := filepath.Abs(baseDir)
		full, ferr := filepath.Abs(path)
		if berr == nil && ferr == nil {
			if rel, err := filepath.Rel(base, full); err == nil && !strings.HasPrefix(rel, "..") {
				ref = rel
			}
		}
	}
	return fmt.Sprintf("![Figure %d](%s)", figure, filepath.ToSlash(ref))
}

// absPath returns path absolute, or unchanged when that fails.
func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// fallbackText returns the replacement for a failed fragment under the
// given policy, and whether a splice is needed at all. An inline fragment
// is re-embedded as a literal fenced block so downstream consumers see
// plain text rather than markup they cannot render; a fenced fragment
// already is one and stays byte-identical.
func fallbackText(frag detector.Fragment, policy FallbackPolicy) (string, bool) {
	if policy != FallbackReembedLiteral {
		return "", false
	}
	if frag.Kind != detector.KindInline {
		return "", false
	}
	return "```svg\n" + frag.Original + "\n```", true
}

// rewriteText splices replacements into text strictly in descending start
// order, so offsets of the not-yet-spliced earlier fragments stay valid.
// use[i] false leaves fragment i untouched.
func rewriteText(text string, frags []detector.Fragment, repl []string, use []bool) string {
	out := text
	for i := len(frags) - 1; i >= 0; i-- {
		if !use[i] {
			continue
		}
		out = out[:frags[i].Start] + repl[i] + out[frags[i].End:]
	}
	return out
}

// copyBeside copies a rendered file into baseDir and returns the new path.
// Copying onto itself is a no-op.
func copyBeside(path, baseDir string) (string, error) {
	dst := filepath.Join(baseDir, filepath.Base(path))
	if filepath.Clean(dst) == filepath.Clean(path) {
		return path, nil
	}
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, nil
}
