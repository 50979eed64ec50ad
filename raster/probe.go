package raster

// BackendKind classifies how a backend does its work.
type BackendKind string

const (
	// BackendKindInProcess renders inside this process, no tool needed.
	BackendKindInProcess BackendKind = "in-process"
	// BackendKindExternalTool shells out to an installed program.
	BackendKindExternalTool BackendKind = "external-tool"
	// BackendKindCustom marks caller-supplied backends.
	BackendKindCustom BackendKind = "custom"
)

// Describer lets a backend contribute probe metadata to the capability
// report. Backends without it are reported as custom with no detail.
type Describer interface {
	Describe() (BackendKind, string)
}

// Capability is one backend's probe result.
type Capability struct {
	Name      string      `json:"name"`
	Kind      BackendKind `json:"kind"`
	Available bool        `json:"available"`
	Detail    string      `json:"detail,omitempty"`
}

// CapabilityReport is the chain's probe result, fixed at construction.
type CapabilityReport struct {
	Backends    []Capability `json:"backends"`
	Recommended string       `json:"recommended,omitempty"`
}

// recommendPriority orders backends by output quality for the Recommended
// field. The external tools beat the in-process renderers on gradient,
// filter and text fidelity, so inkscape leads despite oksvg converting
// first in the chain.
var recommendPriority = []string{"inkscape", "oksvg", "rsvg-convert", "resvg", "batik"}

func recommend(backends []Capability) string {
	available := make(map[string]bool, len(backends))
	for _, b := range backends {
		if b.Available {
			available[b.Name] = true
		}
	}
	for _, name := range recommendPriority {
		if available[name] {
			return name
		}
	}
	for _, b := range backends {
		if b.Available {
			return b.Name
		}
	}
	return ""
}

// Capabilities returns the probe report taken when the chain was built.
// The report does not change for the chain's lifetime.
func (c *Chain) Capabilities() CapabilityReport {
	out := CapabilityReport{
		Backends:    make([]Capability, len(c.report.Backends)),
		Recommended: c.report.Recommended,
	}
	copy(out.Backends, c.report.Backends)
	return out
}

// Recommended names the best available backend, or "" when none is.
func (c *Chain) Recommended() string { return c.report.Recommended }

var installHints = map[string]string{
	"oksvg":        "built in, always available",
	"resvg":        "built in (wasm), instantiated at startup",
	"inkscape":     "install Inkscape 1.x: apt install inkscape, or brew install inkscape",
	"rsvg-convert": "install librsvg: apt install librsvg2-bin, or brew install librsvg",
	"batik":        "download batik-rasterizer.jar, set the jar path, and install a Java runtime",
}

// InstallHint returns a short instruction for making the named backend
// available, or "" for unknown backends.
func InstallHint(name string) string { return installHints[name] }
