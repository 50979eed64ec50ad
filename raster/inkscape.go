package raster

import (
	"context"
	"os"
	"os/exec"
	"strconv"
)

// inkscapeBackend shells out to the Inkscape 1.x command line. Inkscape
// reads the document from a file, so the normalized content is staged in a
// temp file that is removed on every exit path.
type inkscapeBackend struct {
	path string
}

func newInkscapeBackend() *inkscapeBackend {
	path, err := exec.LookPath("inkscape")
	if err != nil {
		return &inkscapeBackend{}
	}
	return &inkscapeBackend{path: path}
}

func (*inkscapeBackend) Name() string { return "inkscape" }

func (b *inkscapeBackend) Available() bool { return b.path != "" }

func (b *inkscapeBackend) Describe() (BackendKind, string) {
	if b.path == "" {
		return BackendKindExternalTool, "inkscape not found on PATH"
	}
	return BackendKindExternalTool, b.path
}

func (b *inkscapeBackend) Render(ctx context.Context, content, outputPath string, opts RenderOptions) error {
	if b.path == "" {
		return ErrBackendUnavailable
	}
	staged, err := stageContent(content)
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	return runTool(ctx, b.path, []string{
		staged,
		"--export-type=png",
		"--export-filename=" + outputPath,
		"--export-dpi=" + strconv.Itoa(opts.DPI),
	}, "")
}

// stageContent writes content to a temp .svg file and returns its path.
// The caller removes it.
func stageContent(content string) (string, error) {
	f, err := os.CreateTemp("", "svgkit-*.svg")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
