package buildpipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"
)

// ErrUnknownLanguage reports a toolchain language key with no variant.
var ErrUnknownLanguage = errors.New("unknown language")

// Language describes a .NET surface language. Variants differ only by data.
type Language struct {
	Key        string
	Name       string
	SourceExt  string
	ProjectExt string
}

var languages = map[string]Language{
	"csharp": {Key: "csharp", Name: "C#", SourceExt: ".cs", ProjectExt: ".csproj"},
	"fsharp": {Key: "fsharp", Name: "F#", SourceExt: ".fs", ProjectExt: ".fsproj"},
	"vb":     {Key: "vb", Name: "Visual Basic", SourceExt: ".vb", ProjectExt: ".vbproj"},
}

// LookupLanguage returns the variant registered for key.
func LookupLanguage(key string) (Language, error) {
	lang, ok := languages[key]
	if !ok {
		return Language{}, fmt.Errorf("%w %q (supported: %v)", ErrUnknownLanguage, key, LanguageKeys())
	}
	return lang, nil
}

// LanguageKeys lists the supported language keys in sorted order.
func LanguageKeys() []string {
	keys := make([]string, 0, len(languages))
	for k := range languages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Toolchain holds the per-instance settings of one .NET compiler.
type Toolchain struct {
	ID   string
	Lang string
	// Dotnet is the build tool binary; it also hosts crossgen2.dll.
	Dotnet string
	// CoreRoot is the shared reference-assembly root.
	CoreRoot string
	// TestAppSrc is the scaffold template project directory.
	TestAppSrc string
	// ProjectFile overrides <TestAppName><ProjectExt> when set.
	ProjectFile    string
	Timeout        time.Duration
	MaxOutputLines int
}

// TestAppName is the base name of the scaffold project.
func (t Toolchain) TestAppName() string {
	return filepath.Base(filepath.Clean(t.TestAppSrc))
}

// Crossgen2Path is the code generator location under the reference root.
func (t Toolchain) Crossgen2Path() string {
	return filepath.Join(t.CoreRoot, "crossgen2", "crossgen2.dll")
}

func (t Toolchain) validate() error {
	if t.CoreRoot == "" {
		return fmt.Errorf("toolchain %q: missing core root", t.ID)
	}
	if t.TestAppSrc == "" {
		return fmt.Errorf("toolchain %q: missing scaffold template path", t.ID)
	}
	return nil
}
