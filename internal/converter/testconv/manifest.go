package testconv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/v2v3v4/bw-asset-pipeline/internal/converter"
	"github.com/v2v3v4/bw-asset-pipeline/internal/dependency"
	"github.com/v2v3v4/bw-asset-pipeline/internal/hashutil"
)

// ManifestVersion is the version string registered against Manifest's
// ConverterInfo.
const ManifestVersion = "2.6"

// Manifest reads a ".manifest" source file listing one dependency path per
// line, each tagged by the extension of the listed file, mirroring the
// original engine's test_converter fixture:
//
//   - ".compiled"   — secondary output-file dependency, critical
//   - ".dummy"      — secondary output-file dependency, non-critical
//   - ".asset"      — secondary source-file dependency, critical
//   - ".deperror"   — create_dependencies fails immediately
//   - ".converror"  — create_dependencies succeeds, convert fails
//
// On convert, it writes a single final output "<source without its
// extension>.compiled"
// containing the joined list of declared dependency lines.
type Manifest struct{}

func NewManifest() converter.Converter { return &Manifest{} }

func (m *Manifest) CreateDependencies(sourcePath string, compiler converter.Compiler, deps *dependency.List) error {
	dir, lines, err := readManifest(compiler, sourcePath)
	if err != nil {
		return err
	}

	for _, line := range lines {
		depPath := filepath.Join(dir, line)
		switch filepath.Ext(depPath) {
		case ".compiled":
			deps.AddSecondaryInput(dependency.Input{Dep: dependency.NewOutputFile(depPath, true)})
		case ".dummy":
			deps.AddSecondaryInput(dependency.Input{Dep: dependency.NewOutputFile(depPath, false)})
		case ".asset":
			deps.AddSecondaryInput(dependency.Input{Dep: dependency.NewSourceFile(depPath)})
		case ".deperror":
			return errors.New("manifest: dependency error")
		case ".converror":
			// recorded as a source dependency so the file participates in
			// the up-to-date check, but the failure only fires in Convert.
			deps.AddSecondaryInput(dependency.Input{Dep: dependency.NewSourceFile(depPath)})
		default:
			return fmt.Errorf("manifest: unknown dependency extension in %q", line)
		}
	}
	return nil
}

func (m *Manifest) Convert(sourcePath string, compiler converter.Compiler) ([]converter.Output, []converter.Output, error) {
	dir, lines, err := readManifest(compiler, sourcePath)
	if err != nil {
		return nil, nil, err
	}

	for _, line := range lines {
		if filepath.Ext(line) == ".converror" {
			return nil, nil, errors.New("manifest: conversion error")
		}
	}

	outPath := compiler.ResolveOutputPath(strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ".compiled")
	content := strings.Join(lines, "\n")
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("manifest: creating output dir for %s: %w", outPath, err)
	}
	if err := os.WriteFile(outPath, []byte(content), 0644); err != nil {
		return nil, nil, fmt.Errorf("manifest: writing %s: %w", outPath, err)
	}

	return nil, []converter.Output{{Path: outPath, Hash: hashutil.Bytes([]byte(content))}}, nil
}

func readManifest(compiler converter.Compiler, sourcePath string) (dir string, lines []string, err error) {
	resolved := compiler.ResolveSourcePath(sourcePath)
	f, err := os.Open(resolved)
	if err != nil {
		return "", nil, fmt.Errorf("manifest: opening %s: %w", resolved, err)
	}
	defer f.Close()

	dir = filepath.Dir(sourcePath)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("manifest: reading %s: %w", resolved, err)
	}
	return dir, lines, nil
}
