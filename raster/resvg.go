package raster

import (
	"context"
	"os"
	"time"

	resvg "github.com/kanrichan/resvg-go"
)

// resvgBackend renders through resvg compiled to WebAssembly, executed in
// process by wazero. It needs no cgo and no installed tool, which makes it
// the last resort when nothing else is present. A worker is single-use and
// single-threaded, so each render instantiates its own; the probe
// instantiates one at construction time to learn whether the module loads
// at all on this platform.
type resvgBackend struct {
	available bool
	detail    string
}

func newResvgBackend() *resvgBackend {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	wk, err := resvg.NewDefaultWorker(ctx)
	if err != nil {
		return &resvgBackend{detail: "wasm instantiation failed: " + err.Error()}
	}
	wk.Close()
	return &resvgBackend{available: true, detail: "resvg compiled to wasm, run with wazero"}
}

func (*resvgBackend) Name() string { return "resvg" }

func (b *resvgBackend) Available() bool { return b.available }

func (b *resvgBackend) Describe() (BackendKind, string) {
	return BackendKindInProcess, b.detail
}

func (b *resvgBackend) Render(ctx context.Context, content, outputPath string, opts RenderOptions) error {
	if !b.available {
		return ErrBackendUnavailable
	}
	type rendered struct {
		png []byte
		err error
	}
	done := make(chan rendered, 1)
	go func() {
		wk, err := resvg.NewDefaultWorker(ctx)
		if err != nil {
			done <- rendered{err: err}
			return
		}
		defer wk.Close()
		out, err := wk.Render([]byte(content))
		done <- rendered{png: out, err: err}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		return os.WriteFile(outputPath, r.png, 0o644)
	}
}
