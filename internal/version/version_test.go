package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestGetTrimsAndDefaults(t *testing.T) {
	orig := []string{Version, GitCommit, GitMessage, BuildDate}
	t.Cleanup(func() {
		Version, GitCommit, GitMessage, BuildDate = orig[0], orig[1], orig[2], orig[3]
	})

	Version = "  "
	GitCommit = " abc123 \n"
	GitMessage = ""
	BuildDate = "2026-01-15T10:30:00Z"

	info := Get()
	if info.Version != "dev" {
		t.Errorf("Version = %q, want dev", info.Version)
	}
	if info.GitCommit != "abc123" {
		t.Errorf("GitCommit = %q, want abc123", info.GitCommit)
	}
	if info.BuildDate != "2026-01-15T10:30:00Z" {
		t.Errorf("BuildDate = %q", info.BuildDate)
	}
}

func TestColoredPlain(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	cases := []struct{ in, want string }{
		{"0.1.0-dev", "0.1.0-dev"},
		{"1.2.3", "1.2.3"},
		{"dev", "dev"},
		{"1.2", "1.2"},
	}
	for _, tc := range cases {
		if got := Colored(tc.in); got != tc.want {
			t.Errorf("Colored(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestColoredAddsEscapes(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = prev })

	if got := Colored("1.2.3"); got == "1.2.3" {
		t.Errorf("Colored did not colour a dotted triple")
	}
}
