// Package raster converts vector graphics markup to raster image files
// through an ordered chain of interchangeable backends.
//
// Backend availability is probed exactly once, when the chain is built, and
// the probe result is immutable for the chain's lifetime. A conversion walks
// the available backends in priority order until one produces a non-empty
// output file; per-attempt failures are recorded, never propagated, and the
// caller sees an error cause only when the whole chain is exhausted.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/wudi/svgkit/observability"
	"github.com/wudi/svgkit/svg"
)

// Defaults applied by NewChain for zero config fields.
const (
	DefaultDPI        = 300
	DefaultPixelWidth = 800
	DefaultTimeout    = 60 * time.Second
)

// Chain-level failure causes, reported in Outcome.Cause.
var (
	// ErrNoBackendAvailable means the probe found nothing to attempt.
	ErrNoBackendAvailable = errors.New("raster: no backend available")
	// ErrAllBackendsFailed means every available backend was attempted and failed.
	ErrAllBackendsFailed = errors.New("raster: all backends failed")
	// ErrInvalidContent means normalization rejected the input before any attempt.
	ErrInvalidContent = errors.New("raster: invalid content")
)

// Per-attempt failure causes, found wrapped inside Attempt.Err.
var (
	// ErrBackendUnavailable marks an attempt against a backend whose tool
	// or runtime is not present.
	ErrBackendUnavailable = errors.New("raster: backend unavailable")
	// ErrBackendTimeout marks an attempt that exceeded the per-attempt timeout.
	ErrBackendTimeout = errors.New("raster: backend timed out")
	// ErrEmptyOutput marks an attempt that reported success but produced a
	// missing or zero-byte output file.
	ErrEmptyOutput = errors.New("raster: backend produced empty output")
)

// BackendError wraps a backend failure with the backend name and the
// operation that failed.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// RenderOptions carries the sizing parameters a backend needs. DPI applies
// to the external tools; the in-process renderers are sized by PixelWidth.
type RenderOptions struct {
	DPI        int
	PixelWidth int
}

// Backend is one interchangeable rasterization strategy. Render must write
// a non-empty image file to outputPath or return an error, honor ctx
// cancellation, and leave no other artifacts behind. Implementations must
// be safe for concurrent use.
type Backend interface {
	Name() string
	Available() bool
	Render(ctx context.Context, content, outputPath string, opts RenderOptions) error
}

// Attempt records one backend try within a conversion.
type Attempt struct {
	Backend  string
	Duration time.Duration
	// Err is nil for the successful attempt, otherwise a *BackendError.
	Err error
}

// Outcome is the result of converting one fragment.
type Outcome struct {
	Success bool
	// Path is the produced image file. Set only on success.
	Path string
	// Cause is nil on success, otherwise ErrNoBackendAvailable,
	// ErrAllBackendsFailed or ErrInvalidContent (possibly wrapped).
	Cause error
	// Attempts lists every backend tried, in order.
	Attempts []Attempt
}

// Config parameterizes a Chain.
type Config struct {
	// DPI for the external tool backends. Default 300.
	DPI int
	// PixelWidth sizes in-process rendering and the square fallback
	// injected into dimensionless documents. Default 800.
	PixelWidth int
	// Timeout bounds each backend attempt. Default 60s.
	Timeout time.Duration
	// FontStack overrides the font-family list injected during
	// normalization. Empty means svg.DefaultFontStack().
	FontStack []string
	// PreferredBackend restricts the chain to the named backend only.
	PreferredBackend string
	// BatikJar enables the Batik backend when it points at the rasterizer
	// jar. Empty leaves Batik out of the chain entirely.
	BatikJar string
	// Logger receives attempt diagnostics. Nil means no logging.
	Logger observability.Logger
}

// Chain holds an immutable, priority-ordered list of probed backends.
type Chain struct {
	cfg    Config
	active []Backend
	report CapabilityReport
	logger observability.Logger
}

// NewChain probes the standard backends once and returns the chain.
//
// Priority order, first available wins: oksvg (in-process, no spawn cost),
// inkscape and rsvg-convert (external tools, better fidelity on gradients
// and filters), resvg (in-process wasm, last resort), then Batik when a jar
// is configured.
func NewChain(cfg Config) *Chain {
	candidates := []Backend{
		newOKSVGBackend(),
		newInkscapeBackend(),
		newRSVGBackend(),
		newResvgBackend(),
	}
	if cfg.BatikJar != "" {
		candidates = append(candidates, newBatikBackend(cfg.BatikJar))
	}
	return NewChainWith(cfg, candidates...)
}

// NewChainWith builds a chain over the given backends, keeping their order.
// Callers can use it to plug in their own Backend implementations; the
// standard probing still applies through each backend's Available method.
func NewChainWith(cfg Config, backends ...Backend) *Chain {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.PixelWidth <= 0 {
		cfg.PixelWidth = DefaultPixelWidth
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}

	c := &Chain{cfg: cfg, logger: logger}
	for _, b := range backends {
		probe := Capability{Name: b.Name(), Kind: BackendKindCustom, Available: b.Available()}
		if d, ok := b.(Describer); ok {
			probe.Kind, probe.Detail = d.Describe()
		}
		c.report.Backends = append(c.report.Backends, probe)
		if !probe.Available {
			continue
		}
		if cfg.PreferredBackend != "" && !strings.EqualFold(cfg.PreferredBackend, b.Name()) {
			continue
		}
		c.active = append(c.active, b)
	}
	c.report.Recommended = recommend(c.report.Backends)

	if cfg.PreferredBackend != "" && len(c.active) == 0 {
		logger.Warn("preferred backend not available",
			observability.String("backend", cfg.PreferredBackend))
	}
	logger.Debug("backend chain ready",
		observability.Int("available", len(c.active)),
		observability.String("recommended", c.report.Recommended))
	return c
}

// Backends returns the names of the backends the chain will attempt, in
// order.
func (c *Chain) Backends() []string {
	names := make([]string, len(c.active))
	for i, b := range c.active {
		names[i] = b.Name()
	}
	return names
}

// Convert rasterizes content into outputPath, walking the backend chain
// until one attempt produces a non-empty file. The outcome carries every
// attempt made; no per-attempt failure is returned as an error. Partial
// output files are removed when the chain fails.
func (c *Chain) Convert(ctx context.Context, content, outputPath string) Outcome {
	normalized, err := svg.Normalize(content, svg.Options{
		FontStack: c.cfg.FontStack,
		SizePx:    c.cfg.PixelWidth,
	})
	if err != nil {
		return Outcome{Cause: fmt.Errorf("%w: %w", ErrInvalidContent, err)}
	}
	if len(c.active) == 0 {
		return Outcome{Cause: ErrNoBackendAvailable}
	}

	opts := RenderOptions{DPI: c.cfg.DPI, PixelWidth: c.cfg.PixelWidth}
	attempts := make([]Attempt, 0, len(c.active))
	var ctxErr error

	for _, b := range c.active {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		start := time.Now()
		err := b.Render(attemptCtx, normalized, outputPath, opts)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			err = verifyOutput(outputPath)
		}
		if err == nil {
			attempts = append(attempts, Attempt{Backend: b.Name(), Duration: elapsed})
			c.logger.Debug("fragment rasterized",
				observability.String("backend", b.Name()),
				observability.Duration(observability.MetricConvertTime, elapsed),
				observability.Int(observability.MetricAttemptCount, len(attempts)),
				observability.String("path", outputPath))
			return Outcome{Success: true, Path: outputPath, Attempts: attempts}
		}

		// A deadline inherited from the parent context is the caller
		// giving up, not the backend running past its budget.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrBackendTimeout, c.cfg.Timeout)
		}
		aerr := &BackendError{Backend: b.Name(), Op: "render", Err: err}
		attempts = append(attempts, Attempt{Backend: b.Name(), Duration: elapsed, Err: aerr})
		c.logger.Warn("backend attempt failed",
			observability.String("backend", b.Name()),
			observability.Duration("duration", elapsed),
			observability.Error("error", aerr))
		// A failed attempt may have written a partial file; the next
		// backend and the final verification must not see it.
		os.Remove(outputPath)
	}

	cause := error(ErrAllBackendsFailed)
	if ctxErr != nil {
		cause = fmt.Errorf("%w: %w", ErrAllBackendsFailed, ctxErr)
	}
	c.logger.Error("backend chain exhausted",
		observability.Int(observability.MetricAttemptCount, len(attempts)),
		observability.Error("error", cause))
	return Outcome{Cause: cause, Attempts: attempts}
}

// verifyOutput treats a missing or zero-byte output file as a failed
// attempt regardless of what the backend reported.
func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmptyOutput, err)
	}
	if info.Size() == 0 {
		return ErrEmptyOutput
	}
	return nil
}

// commandError shapes an external tool failure, keeping the first stderr
// line for diagnostics.
func commandError(err error, stderr []byte) error {
	line := strings.TrimSpace(string(stderr))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) > 200 {
		line = line[:200]
	}
	if line == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, line)
}

// runTool executes an external rasterizer command, mapping its failure
// modes onto the attempt error taxonomy.
func runTool(ctx context.Context, name string, args []string, stdin string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return commandError(err, stderr.Bytes())
	}
	return nil
}
