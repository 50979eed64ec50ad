package raster

import (
	"context"
	"os"
	"os/exec"
	"strconv"
)

// batikBackend drives the Apache Batik rasterizer jar through a Java
// runtime. It joins the chain only when a jar path is configured, and is
// probed like any other backend: jar on disk plus java on PATH.
type batikBackend struct {
	jar    string
	java   string
	detail string
}

func newBatikBackend(jar string) *batikBackend {
	b := &batikBackend{jar: jar}
	if _, err := os.Stat(jar); err != nil {
		b.detail = "jar not found: " + jar
		return b
	}
	java, err := exec.LookPath("java")
	if err != nil {
		b.detail = "java not found on PATH"
		return b
	}
	b.java = java
	b.detail = jar + " via " + java
	return b
}

func (*batikBackend) Name() string { return "batik" }

func (b *batikBackend) Available() bool { return b.java != "" }

func (b *batikBackend) Describe() (BackendKind, string) {
	return BackendKindExternalTool, b.detail
}

func (b *batikBackend) Render(ctx context.Context, content, outputPath string, opts RenderOptions) error {
	if b.java == "" {
		return ErrBackendUnavailable
	}
	staged, err := stageContent(content)
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	return runTool(ctx, b.java, []string{
		"-Xmx1024m",
		"-Djava.awt.headless=true",
		"-jar", b.jar,
		"-m", "image/png",
		"-dpi", strconv.Itoa(opts.DPI),
		"-d", outputPath,
		staged,
	}, "")
}
