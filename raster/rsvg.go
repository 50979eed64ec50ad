package raster

import (
	"context"
	"os/exec"
	"strconv"
)

// rsvgBackend shells out to rsvg-convert from librsvg. The tool reads the
// document from stdin, so nothing is staged on disk.
type rsvgBackend struct {
	path string
}

func newRSVGBackend() *rsvgBackend {
	path, err := exec.LookPath("rsvg-convert")
	if err != nil {
		return &rsvgBackend{}
	}
	return &rsvgBackend{path: path}
}

func (*rsvgBackend) Name() string { return "rsvg-convert" }

func (b *rsvgBackend) Available() bool { return b.path != "" }

func (b *rsvgBackend) Describe() (BackendKind, string) {
	if b.path == "" {
		return BackendKindExternalTool, "rsvg-convert not found on PATH"
	}
	return BackendKindExternalTool, b.path
}

func (b *rsvgBackend) Render(ctx context.Context, content, outputPath string, opts RenderOptions) error {
	if b.path == "" {
		return ErrBackendUnavailable
	}
	dpi := strconv.Itoa(opts.DPI)
	return runTool(ctx, b.path, []string{
		"--format", "png",
		"--dpi-x", dpi,
		"--dpi-y", dpi,
		"--output", outputPath,
	}, content)
}
