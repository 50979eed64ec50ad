package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/wudi/svgkit/observability"
	"github.com/wudi/svgkit/pipeline"
	"github.com/wudi/svgkit/raster"
	"github.com/wudi/svgkit/svg"
)

type options struct {
	inputs        []string
	outDir        string
	workers       int
	timeout       time.Duration
	globalTimeout time.Duration
	backend       string
	fallback      string
	dpi           int
	width         int
	batikJar      string
	keepTemp      bool
	inPlace       bool
	emitHTML      bool
	showStats     bool
	check         bool
	verbose       bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "svgproc: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "svgproc: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/svgproc [flags] <markdown-file>...\n")
		flag.PrintDefaults()
	}
	outDir := flag.String("out", "svgproc_output", "Directory for rendered images and rewritten documents")
	workers := flag.Int("workers", 0, "Concurrent conversions (0 = min(4, CPUs))")
	timeout := flag.Duration("timeout", 0, "Per-backend attempt timeout (0 = 60s)")
	globalTimeout := flag.Duration("global-timeout", 0, "Whole-document timeout (0 = unbounded)")
	backend := flag.String("backend", "", "Restrict conversion to one backend (see -check)")
	fallback := flag.String("fallback", string(pipeline.FallbackReembedLiteral),
		"Policy for failed fragments: reembed-literal or leave-untouched")
	dpi := flag.Int("dpi", 0, "Raster DPI for external tools (0 = 300)")
	width := flag.Int("width", 0, "Pixel width for in-process rendering (0 = 800)")
	batikJar := flag.String("batik", os.Getenv("BATIK_JAR"), "Path to the Batik rasterizer jar (defaults to $BATIK_JAR)")
	keepTemp := flag.Bool("keep-temp", false, "Leave images in the output directory instead of copying them beside sources")
	inPlace := flag.Bool("in-place", false, "Overwrite sources instead of writing <stem>_processed.md beside them")
	emitHTML := flag.Bool("html", false, "Also render each rewritten document to HTML in the output directory")
	showStats := flag.Bool("stats", false, "Print accumulated statistics as JSON")
	check := flag.Bool("check", false, "Report backend availability and exit")
	verbose := flag.Bool("v", false, "Log pipeline activity to stderr")
	flag.Parse()

	opts.inputs = flag.Args()
	opts.outDir = *outDir
	opts.workers = *workers
	opts.timeout = *timeout
	opts.globalTimeout = *globalTimeout
	opts.backend = *backend
	opts.fallback = *fallback
	opts.dpi = *dpi
	opts.width = *width
	opts.batikJar = *batikJar
	opts.keepTemp = *keepTemp
	opts.inPlace = *inPlace
	opts.emitHTML = *emitHTML
	opts.showStats = *showStats
	opts.check = *check
	opts.verbose = *verbose

	if !opts.check && len(opts.inputs) == 0 {
		flag.Usage()
		return options{}, fmt.Errorf("missing markdown file")
	}
	return opts, nil
}

func run(opts options) error {
	logger := observability.Logger(observability.NopLogger{})
	if opts.verbose {
		logger = &stderrLogger{}
	}

	cfg := pipeline.Config{
		MaxWorkers:       opts.workers,
		BackendTimeout:   opts.timeout,
		GlobalTimeout:    opts.globalTimeout,
		PreferredBackend: opts.backend,
		FallbackPolicy:   pipeline.FallbackPolicy(opts.fallback),
		DPI:              opts.dpi,
		PixelWidth:       opts.width,
		FontStack:        svg.DetectFontStack(logger),
		OutputDir:        opts.outDir,
		BatikJar:         opts.batikJar,
		Logger:           logger,
	}
	if opts.keepTemp {
		cfg.PathMode = pipeline.PathKeepInTempDir
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	if opts.check {
		if err := emitSection("backends", capabilitySummary(p.Capabilities())); err != nil {
			return err
		}
		return emitSection("fonts", fontReport{
			Families:   cfg.FontStack,
			FontFamily: svg.FontFamilyValue(cfg.FontStack),
		})
	}

	results := p.ProcessFiles(context.Background(), opts.inputs, "")

	var failures int
	for _, path := range opts.inputs {
		res := results[path]
		if res.Err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "svgproc: %s: %v\n", path, res.Err)
			continue
		}
		dst := path
		if !opts.inPlace {
			dst = processedName(path)
		}
		if werr := os.WriteFile(dst, []byte(res.Text), 0o644); werr != nil {
			failures++
			fmt.Fprintf(os.Stderr, "svgproc: rewrite %s: %v\n", dst, werr)
			continue
		}
		if opts.emitHTML {
			if herr := writeHTML(opts.outDir, path, res.Text); herr != nil {
				failures++
				fmt.Fprintf(os.Stderr, "svgproc: %v\n", herr)
				continue
			}
		}
		fmt.Printf("%s -> %s: %d fragments, %d converted, %d failed, %d images\n",
			path, dst, res.Stats.Detected, res.Stats.Converted, res.Stats.Failed, len(res.Files))
	}

	if opts.showStats {
		if err := emitSection("statistics", p.Stats()); err != nil {
			return err
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d files failed", failures, len(opts.inputs))
	}
	return nil
}

type backendSummary struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

type checkReport struct {
	Recommended string           `json:"recommended,omitempty"`
	Backends    []backendSummary `json:"backends"`
}

type fontReport struct {
	Families   []string `json:"families"`
	FontFamily string   `json:"font_family"`
}

func capabilitySummary(report raster.CapabilityReport) checkReport {
	out := checkReport{Recommended: report.Recommended}
	for _, b := range report.Backends {
		s := backendSummary{
			Name:      b.Name,
			Kind:      string(b.Kind),
			Available: b.Available,
			Detail:    b.Detail,
		}
		if !b.Available {
			s.Hint = raster.InstallHint(b.Name)
		}
		out.Backends = append(out.Backends, s)
	}
	return out
}

// processedName places the rewritten document beside its source as
// <stem>_processed.md.
func processedName(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(path), stem+"_processed.md")
}

// writeHTML renders a rewritten document to HTML. GFM covers tables and
// task lists; math segments become MathML so formula-heavy documents keep
// their notation next to the converted figures.
func writeHTML(dir, srcPath, text string) error {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM, treeblood.MathML()))
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return fmt.Errorf("render html for %s: %w", srcPath, err)
	}
	base := filepath.Base(srcPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	path := filepath.Join(dir, stem+".html")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func emitSection(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	fmt.Printf("== %s ==\n%s\n\n", name, data)
	return nil
}

// stderrLogger adapts the library's logging interface to plain stderr
// lines for the -v flag.
type stderrLogger struct {
	fields []observability.Field
}

func (l *stderrLogger) log(level, msg string, fields []observability.Field) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", time.Now().Format("15:04:05.000"), level, msg)
	for _, f := range l.fields {
		fmt.Fprintf(&b, " %s=%v", f.Key(), f.Value())
	}
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key(), f.Value())
	}
	fmt.Fprintln(os.Stderr, b.String())
}

func (l *stderrLogger) Debug(msg string, fields ...observability.Field) { l.log("DEBUG", msg, fields) }
func (l *stderrLogger) Info(msg string, fields ...observability.Field)  { l.log("INFO", msg, fields) }
func (l *stderrLogger) Warn(msg string, fields ...observability.Field)  { l.log("WARN", msg, fields) }
func (l *stderrLogger) Error(msg string, fields ...observability.Field) { l.log("ERROR", msg, fields) }

func (l *stderrLogger) With(fields ...observability.Field) observability.Logger {
	merged := make([]observability.Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &stderrLogger{fields: merged}
}
