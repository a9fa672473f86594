// Package testconv provides in-tree sample converters used only by tests:
// Uppercase reproduces the literal fresh-build scenario from the core's
// end-to-end test suite, and Manifest reproduces the original engine's
// test_converter fixture (a source file listing dependency files tagged
// by extension), used to exercise secondary-dependency resolution and
// cycle detection.
package testconv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/v2v3v4/bw-asset-pipeline/internal/converter"
	"github.com/v2v3v4/bw-asset-pipeline/internal/dependency"
	"github.com/v2v3v4/bw-asset-pipeline/internal/hashutil"
)

// UppercaseVersion is the version string registered against
// UppercaseConverter's ConverterInfo; it participates in the primary
// input hash.
const UppercaseVersion = "1.0"

// Uppercase reads a source file's bytes and writes a single final output
// whose name keeps the source's base name but upper-cases its extension,
// with upper-cased content. Given "a.txt" containing "hello" it produces
// "a.TXT" containing "HELLO".
type Uppercase struct{}

// NewUppercase is the factory registered in a converter.Info.
func NewUppercase() converter.Converter { return &Uppercase{} }

func (u *Uppercase) CreateDependencies(sourcePath string, compiler converter.Compiler, deps *dependency.List) error {
	return nil
}

func (u *Uppercase) Convert(sourcePath string, compiler converter.Compiler) ([]converter.Output, []converter.Output, error) {
	resolved := compiler.ResolveSourcePath(sourcePath)
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, nil, fmt.Errorf("uppercase: reading %s: %w", resolved, err)
	}

	base, ext := splitExt(sourcePath)
	outName := base
	if ext != "" {
		outName = base + "." + strings.ToUpper(ext)
	}
	outPath := compiler.ResolveOutputPath(outName)
	content := strings.ToUpper(string(data))

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("uppercase: creating output dir for %s: %w", outPath, err)
	}
	if err := os.WriteFile(outPath, []byte(content), 0644); err != nil {
		return nil, nil, fmt.Errorf("uppercase: writing %s: %w", outPath, err)
	}

	final := []converter.Output{{Path: outPath, Hash: hashutil.Bytes([]byte(content))}}
	return nil, final, nil
}

func splitExt(path string) (base, ext string) {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+1:]
}

// InPlaceVersion is the version string registered against InPlace's
// ConverterInfo.
const InPlaceVersion = "1.0"

// InPlace rewrites its own source file, appending "!" to its content, and
// produces no outputs of its own. It stands in for an UPGRADE_CONVERSION
// converter (e.g. a legacy asset format migrated in place) so tests can
// exercise the processor's post-write rehash retry.
type InPlace struct{}

// NewInPlace is the factory registered in a converter.Info with the
// converter.UpgradeConversion flag set.
func NewInPlace() converter.Converter { return &InPlace{} }

func (u *InPlace) CreateDependencies(sourcePath string, compiler converter.Compiler, deps *dependency.List) error {
	return nil
}

func (u *InPlace) Convert(sourcePath string, compiler converter.Compiler) ([]converter.Output, []converter.Output, error) {
	resolved := compiler.ResolveSourcePath(sourcePath)
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, nil, fmt.Errorf("inplace: reading %s: %w", resolved, err)
	}
	if err := os.WriteFile(resolved, append(data, '!'), 0644); err != nil {
		return nil, nil, fmt.Errorf("inplace: rewriting %s: %w", resolved, err)
	}
	return nil, nil, nil
}
