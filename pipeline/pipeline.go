// Package pipeline drives the end-to-end conversion flow: detect vector
// fragments in a document, dedupe work through the content cache, dispatch
// conversions to a bounded worker pool, and reassemble the text
// deterministically regardless of completion order.
//
// A conversion failure never fails the call. Failed fragments fall back to
// the configured policy and the rest of the document is still rewritten,
// so a caller's document pipeline cannot be blocked by graphics problems.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/svgkit/cache"
	"github.com/wudi/svgkit/detector"
	"github.com/wudi/svgkit/observability"
	"github.com/wudi/svgkit/raster"
	"github.com/wudi/svgkit/svg"
)

// FallbackPolicy says what replaces a fragment when every backend failed.
type FallbackPolicy string

const (
	// FallbackReembedLiteral re-embeds the original markup as a literal
	// fenced block. The default.
	FallbackReembedLiteral FallbackPolicy = "reembed-literal"
	// FallbackLeaveUntouched keeps the original text byte-identical.
	FallbackLeaveUntouched FallbackPolicy = "leave-untouched"
)

// PathMode says where produced images end up.
type PathMode string

const (
	// PathCopyBesideSource copies each produced image into the document's
	// base directory so relative references resolve. The default.
	PathCopyBesideSource PathMode = "copy-beside-source"
	// PathKeepInTempDir leaves images in the pipeline's output directory.
	PathKeepInTempDir PathMode = "keep-in-temp-dir"
)

// Config parameterizes a Pipeline. The zero value is usable: every field
// falls back to a documented default.
type Config struct {
	// MaxWorkers bounds concurrent conversions. Default min(4, NumCPU),
	// floor 1.
	MaxWorkers int
	// CacheCapacity bounds the conversion cache. Default 100 entries.
	CacheCapacity int
	// PreferredBackend restricts the backend chain to one backend.
	PreferredBackend string
	// BackendTimeout bounds each backend attempt. Default 60s.
	BackendTimeout time.Duration
	// GlobalTimeout bounds a whole Process call. When it expires,
	// unfinished fragments are abandoned and treated as failures.
	// Zero means no bound.
	GlobalTimeout time.Duration
	// FallbackPolicy applies to fragments every backend failed on.
	// Default FallbackReembedLiteral.
	FallbackPolicy FallbackPolicy
	// PathMode places produced images. Default PathCopyBesideSource.
	PathMode PathMode
	// DPI for external tool backends. Default raster.DefaultDPI.
	DPI int
	// PixelWidth for in-process rendering and the size injected into
	// dimensionless documents. Default raster.DefaultPixelWidth.
	PixelWidth int
	// FontStack injected into text elements lacking one. Default
	// svg.DefaultFontStack().
	FontStack []string
	// OutputDir receives rendered images. Empty means a fresh temp
	// directory owned by the pipeline and removed by Close.
	OutputDir string
	// BatikJar enables the Batik backend. Empty leaves it out.
	BatikJar string
	// Backends overrides the standard probed backend set. Meant for
	// caller-supplied strategies; leaves probing to each backend's
	// Available method.
	Backends []raster.Backend

	// SkipXMLBlocks stops reporting ```xml fences as fragments.
	SkipXMLBlocks bool
	// CaseSensitiveDetection makes fence tags and element names match
	// exactly.
	CaseSensitiveDetection bool
	// SkipContentValidation accepts ```svg fences without a structural
	// check of the body.
	SkipContentValidation bool

	// Logger receives pipeline diagnostics. Nil disables logging.
	Logger observability.Logger
}

// Pipeline owns a detector, a backend chain, the conversion cache and the
// accumulated statistics. Safe for concurrent use; the cache and totals
// are the only shared mutable state and each is guarded by its own mutex.
type Pipeline struct {
	cfg     Config
	det     *detector.Detector
	chain   *raster.Chain
	cache   *cache.FileCache
	logger  observability.Logger
	outDir  string
	ownsDir bool

	mu     sync.Mutex
	totals RunStatistics
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// New builds a pipeline, probing backend availability once. The probe
// result is fixed for the pipeline's lifetime and visible via
// Capabilities.
func New(cfg Config) (*Pipeline, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultWorkers()
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = cache.DefaultCapacity
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = raster.DefaultTimeout
	}
	switch cfg.FallbackPolicy {
	case "":
		cfg.FallbackPolicy = FallbackReembedLiteral
	case FallbackReembedLiteral, FallbackLeaveUntouched:
	default:
		return nil, fmt.Errorf("pipeline: unknown fallback policy %q", cfg.FallbackPolicy)
	}
	switch cfg.PathMode {
	case "":
		cfg.PathMode = PathCopyBesideSource
	case PathCopyBesideSource, PathKeepInTempDir:
	default:
		return nil, fmt.Errorf("pipeline: unknown path mode %q", cfg.PathMode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}

	outDir := cfg.OutputDir
	ownsDir := false
	if outDir == "" {
		dir, err := os.MkdirTemp("", "svgkit-")
		if err != nil {
			return nil, fmt.Errorf("pipeline: create output dir: %w", err)
		}
		outDir = dir
		ownsDir = true
	} else if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create output dir: %w", err)
	}
	if abs, err := filepath.Abs(outDir); err == nil {
		outDir = abs
	}

	rcfg := raster.Config{
		DPI:              cfg.DPI,
		PixelWidth:       cfg.PixelWidth,
		Timeout:          cfg.BackendTimeout,
		FontStack:        cfg.FontStack,
		PreferredBackend: cfg.PreferredBackend,
		BatikJar:         cfg.BatikJar,
		Logger:           logger,
	}
	var chain *raster.Chain
	if len(cfg.Backends) > 0 {
		chain = raster.NewChainWith(rcfg, cfg.Backends...)
	} else {
		chain = raster.NewChain(rcfg)
	}

	return &Pipeline{
		cfg: cfg,
		det: detector.New(
			detector.WithXMLBlocks(!cfg.SkipXMLBlocks),
			detector.WithCaseSensitive(cfg.CaseSensitiveDetection),
			detector.WithContentValidation(!cfg.SkipContentValidation),
			detector.WithLogger(logger),
		),
		chain:   chain,
		cache:   cache.New(cfg.CacheCapacity),
		logger:  logger,
		outDir:  outDir,
		ownsDir: ownsDir,
	}, nil
}

// Close removes the output directory when the pipeline owns it. Images
// copied beside sources are never touched.
func (p *Pipeline) Close() error {
	if p.ownsDir {
		return os.RemoveAll(p.outDir)
	}
	return nil
}

// OutputDir returns the directory rendered images are written to.
func (p *Pipeline) OutputDir() string { return p.outDir }

// Capabilities returns the backend probe report taken at construction.
func (p *Pipeline) Capabilities() raster.CapabilityReport { return p.chain.Capabilities() }

// Stats returns the totals accumulated over every Process call.
func (p *Pipeline) Stats() RunStatistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totals
}

// ResetStats zeroes the accumulated totals.
func (p *Pipeline) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totals = RunStatistics{}
}

// ClearCache drops every cache entry. Produced files stay on disk.
func (p *Pipeline) ClearCache() { p.cache.Clear() }

// Process converts every vector fragment in text and returns the rewritten
// text, the produced image files as absolute paths, and this call's
// statistics. The call is synchronous and never fails: text without
// fragments comes back unchanged, and fragments that cannot be converted
// fall back per the configured policy.
//
// baseDir anchors relative image references and receives copies of the
// produced images under the default path mode. namingSeed makes output
// filenames deterministic; empty falls back to the base directory name.
func (p *Pipeline) Process(ctx context.Context, text, baseDir, namingSeed string) (string, []string, RunStatistics) {
	if !p.det.HasVectorContent(text) {
		return text, nil, RunStatistics{}
	}
	start := time.Now()
	heapIn := heapSample()

	frags := p.det.Detect(text)
	if len(frags) == 0 {
		return text, nil, RunStatistics{}
	}

	stats := RunStatistics{Processed: 1, Detected: len(frags)}
	seed := deriveSeed(namingSeed, baseDir)
	p.logger.Info("processing document",
		observability.Int(observability.MetricFragmentCount, len(frags)),
		observability.String("seed", seed))

	// Resolve each fragment against the cache in original order; misses
	// become conversion tasks with deterministic output names. A task's
	// output path depends only on seed and position, so any entry still
	// recording that path is evicted up front: the file is about to be
	// rewritten and those keys must miss rather than serve new bytes.
	type task struct {
		index int
		out   string
	}
	type convResult struct {
		done  bool
		ok    bool
		hit   bool
		path  string
		cause error
	}
	results := make([]convResult, len(frags))
	keys := make([]cache.Key, len(frags))
	var tasks []task

	for i, frag := range frags {
		normalized, err := svg.Normalize(frag.Content, svg.Options{
			FontStack: p.cfg.FontStack,
			SizePx:    p.cfg.PixelWidth,
		})
		if err != nil {
			results[i] = convResult{done: true, cause: fmt.Errorf("%w: %w", raster.ErrInvalidContent, err)}
			continue
		}
		keys[i] = cache.KeyFor(normalized)
		if path, ok := p.cache.Get(keys[i]); ok {
			stats.CacheHits++
			results[i] = convResult{done: true, ok: true, hit: true, path: path}
			continue
		}
		stats.CacheMisses++
		name := outputName(seed, i)
		out := filepath.Join(p.outDir, name)
		p.cache.EvictPath(out)
		if p.cfg.PathMode == PathCopyBesideSource && dirExists(baseDir) {
			p.cache.EvictPath(absPath(filepath.Join(baseDir, name)))
		}
		tasks = append(tasks, task{index: i, out: out})
	}

	final := results
	if len(tasks) > 0 {
		workCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.cfg.GlobalTimeout > 0 {
			workCtx, cancel = context.WithTimeout(ctx, p.cfg.GlobalTimeout)
		}
		defer cancel()

		var (
			resMu sync.Mutex
			g     errgroup.Group
		)
		g.SetLimit(p.cfg.MaxWorkers)
		waitDone := make(chan struct{})
		go func() {
			defer close(waitDone)
			for _, tk := range tasks {
				if workCtx.Err() != nil {
					break
				}
				tk := tk
				g.Go(func() error {
					out := p.chain.Convert(workCtx, frags[tk.index].Content, tk.out)
					resMu.Lock()
					results[tk.index] = convResult{
						done:  true,
						ok:    out.Success,
						path:  out.Path,
						cause: out.Cause,
					}
					resMu.Unlock()
					return nil
				})
			}
			g.Wait()
		}()

		select {
		case <-waitDone:
		case <-workCtx.Done():
			p.logger.Warn("abandoning unfinished conversions",
				observability.Error("error", workCtx.Err()))
		}

		// Snapshot under the workers' lock: after an abandon, stragglers
		// may still be writing into results, so the placement loop below
		// reads a private copy instead.
		resMu.Lock()
		for i := range results {
			if !results[i].done {
				results[i] = convResult{
					done:  true,
					cause: fmt.Errorf("%w: %w", raster.ErrAllBackendsFailed, workCtx.Err()),
				}
			}
		}
		final = make([]convResult, len(results))
		copy(final, results)
		resMu.Unlock()
	}

	// Place produced files and build the replacement for each fragment.
	repl := make([]string, len(frags))
	use := make([]bool, len(frags))
	var produced []string

	for i := range frags {
		r := final[i]
		if r.ok {
			finalPath := r.path
			if p.cfg.PathMode == PathCopyBesideSource && dirExists(baseDir) {
				copied, err := copyBeside(r.path, baseDir)
				if err != nil {
					p.logger.Warn("copy beside source failed",
						observability.String("path", r.path),
						observability.Error("error", err))
				} else {
					if copied != r.path {
						// The copy overwrote whatever was at the
						// destination; entries recording it are stale.
						p.cache.EvictPath(absPath(copied))
					}
					finalPath = copied
				}
			}
			finalPath = absPath(finalPath)
			// Cache the path the document references, not the temp-dir
			// render it was copied from.
			if !r.hit {
				p.cache.Put(keys[i], finalPath)
			}
			stats.Converted++
			produced = append(produced, finalPath)
			repl[i] = imageRef(i+1, finalPath, baseDir)
			use[i] = true
			continue
		}
		stats.Failed++
		p.logger.Warn("fragment conversion failed",
			observability.Int("fragment", i+1),
			observability.Int("offset", frags[i].Start),
			observability.Error("error", r.cause))
		repl[i], use[i] = fallbackText(frags[i], p.cfg.FallbackPolicy)
	}

	rewritten := rewriteText(text, frags, repl, use)

	stats.Duration = time.Since(start)
	stats.AvgPerFragment = stats.Duration / time.Duration(stats.Detected)
	stats.PeakHeapBytes = heapIn
	if h := heapSample(); h > stats.PeakHeapBytes {
		stats.PeakHeapBytes = h
	}

	p.mu.Lock()
	p.totals.add(stats)
	p.mu.Unlock()

	p.logger.Info("document processed",
		observability.Duration(observability.MetricPipelineTime, stats.Duration),
		observability.Int("converted", stats.Converted),
		observability.Int("failed", stats.Failed),
		observability.Int(observability.MetricCacheHits, stats.CacheHits),
		observability.Int(observability.MetricCacheMisses, stats.CacheMisses))

	return rewritten, produced, stats
}

// ProcessResult is ProcessFile's outcome for one document.
type ProcessResult struct {
	// Path is the source file.
	Path string
	// Text is the rewritten document.
	Text string
	// Files lists produced images as absolute paths.
	Files []string
	// Stats covers this document only.
	Stats RunStatistics
	// Err is the file-level error, if any. Conversion failures are not
	// errors; they show up in Stats.Failed.
	Err error
}

// ProcessFile reads a document, processes it with the file's directory as
// base and its stem as naming seed, and returns the result. Only read
// failures return an error.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (ProcessResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("pipeline: read %s: %w", path, err)
		return ProcessResult{Path: path, Err: err}, err
	}
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	text, files, stats := p.Process(ctx, string(data), filepath.Dir(path), stem)
	return ProcessResult{Path: path, Text: text, Files: files, Stats: stats}, nil
}

// ProcessFiles processes a batch, one result per input path. A failing
// file is recorded and never aborts the rest; a dead context marks the
// remaining files with its error. With outputDir set, each rewritten
// document is also written there under its original basename.
func (p *Pipeline) ProcessFiles(ctx context.Context, paths []string, outputDir string) map[string]ProcessResult {
	results := make(map[string]ProcessResult, len(paths))
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			err = fmt.Errorf("pipeline: create %s: %w", outputDir, err)
			for _, path := range paths {
				results[path] = ProcessResult{Path: path, Err: err}
			}
			return results
		}
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			results[path] = ProcessResult{Path: path, Err: err}
			continue
		}
		res, err := p.ProcessFile(ctx, path)
		if err != nil {
			results[path] = res
			continue
		}
		if outputDir != "" {
			dst := filepath.Join(outputDir, filepath.Base(path))
			if werr := os.WriteFile(dst, []byte(res.Text), 0o644); werr != nil {
				res.Err = fmt.Errorf("pipeline: write %s: %w", dst, werr)
			}
		}
		results[path] = res
	}
	return results
}

func dirExists(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
