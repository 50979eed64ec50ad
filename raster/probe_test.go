package raster_test

import (
	"testing"

	"github.com/wudi/svgkit/raster"
)

func TestCapabilitiesReport(t *testing.T) {
	chain := raster.NewChainWith(raster.Config{},
		&fakeBackend{name: "inkscape"},
		&fakeBackend{name: "resvg"},
		&fakeBackend{name: "gone", unavail: true})

	rep := chain.Capabilities()
	if len(rep.Backends) != 3 {
		t.Fatalf("report lists %d backends, want 3", len(rep.Backends))
	}
	byName := map[string]raster.Capability{}
	for _, c := range rep.Backends {
		byName[c.Name] = c
	}
	if !byName["inkscape"].Available || !byName["resvg"].Available {
		t.Error("available backends reported unavailable")
	}
	if byName["gone"].Available {
		t.Error("unavailable backend reported available")
	}
	if byName["inkscape"].Kind != raster.BackendKindCustom {
		t.Errorf("caller-supplied backend kind = %q, want custom", byName["inkscape"].Kind)
	}
	if rep.Recommended != "inkscape" {
		t.Errorf("Recommended = %q, want inkscape", rep.Recommended)
	}
}

func TestCapabilitiesImmutable(t *testing.T) {
	chain := raster.NewChainWith(raster.Config{}, &fakeBackend{name: "oksvg"})
	rep := chain.Capabilities()
	rep.Backends[0].Name = "tampered"
	if got := chain.Capabilities().Backends[0].Name; got != "oksvg" {
		t.Errorf("report mutated through returned copy: %q", got)
	}
}

func TestRecommended(t *testing.T) {
	cases := []struct {
		name     string
		backends []raster.Backend
		want     string
	}{
		{
			"PriorityOrder",
			[]raster.Backend{&fakeBackend{name: "rsvg-convert"}, &fakeBackend{name: "oksvg"}},
			"oksvg",
		},
		{
			"UnknownNamesStillRecommended",
			[]raster.Backend{&fakeBackend{name: "house-renderer"}},
			"house-renderer",
		},
		{
			"NoneAvailable",
			[]raster.Backend{&fakeBackend{name: "inkscape", unavail: true}},
			"",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chain := raster.NewChainWith(raster.Config{}, tc.backends...)
			if got := chain.Recommended(); got != tc.want {
				t.Errorf("Recommended = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestInstallHint(t *testing.T) {
	for _, name := range []string{"oksvg", "resvg", "inkscape", "rsvg-convert", "batik"} {
		if raster.InstallHint(name) == "" {
			t.Errorf("no install hint for %q", name)
		}
	}
	if hint := raster.InstallHint("nonesuch"); hint != "" {
		t.Errorf("InstallHint(nonesuch) = %q, want empty", hint)
	}
}
