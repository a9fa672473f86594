// Package config loads and merges the compiler's settings: defaults, a
// `.assetpipe.kdl` file (spec §6.3's options, plus daemon/server wiring),
// and finally CLI flag overrides, in that ascending order of priority —
// the same layering the teacher's internal/config package uses for
// `.lci.kdl` plus flag overrides in cmd/lci/main.go.
package config

import (
	"fmt"
	"path/filepath"
)

// Config is the merged set of options the compiler host needs to start:
// every field here corresponds to one of spec §6.3's CLI options, plus the
// daemon/server fields this repo's JIT frontend adds.
type Config struct {
	ResRoots         []string
	IntermediatePath string
	OutputPath       string
	CachePath        string
	NumThreads       int
	Recursive        bool
	ForceRebuild     bool

	// Daemon selects the JIT frontend (fsnotify watcher + asset pipe
	// server) over the one-shot batch builder.
	Daemon bool

	// ServerExecutable and ServerArgs configure AssetClient's lazy
	// server-launch (spec §4.12); an empty ServerExecutable falls back to
	// this process's own executable.
	ServerExecutable string
	ServerArgs       []string
}

// Default returns a Config with the pipeline's baseline defaults: a single
// worker thread, Recursive off, and cache reads/writes left to the caller
// to enable. Recursive is passed on to the compiler, but the processor does
// not consult it: a task whose sub-builds are not ready is suspended either
// way.
func Default() Config {
	return Config{
		NumThreads: 1,
	}
}

// Validate checks the invariants the compiler host assumes hold before
// constructing a compiler.Config from this Config: at least one resource
// root, and an intermediate/output path configured.
func (c Config) Validate() error {
	if len(c.ResRoots) == 0 {
		return fmt.Errorf("config: at least one --res root is required")
	}
	if c.IntermediatePath == "" {
		return fmt.Errorf("config: --intermediatePath is required")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("config: --outputPath is required")
	}
	if c.NumThreads < 1 {
		return fmt.Errorf("config: numThreads must be >= 1, got %d", c.NumThreads)
	}
	return nil
}

// resolvePaths makes every configured path absolute relative to base (the
// directory containing the .assetpipe.kdl file, or the working directory
// when there is none), the way the teacher's LoadKDL resolves Project.Root
// relative to the config file's own directory.
func (c *Config) resolvePaths(base string) {
	for i, r := range c.ResRoots {
		c.ResRoots[i] = resolveOne(base, r)
	}
	c.IntermediatePath = resolveOne(base, c.IntermediatePath)
	c.OutputPath = resolveOne(base, c.OutputPath)
	if c.CachePath != "" {
		c.CachePath = resolveOne(base, c.CachePath)
	}
}

func resolveOne(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
