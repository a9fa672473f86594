// Package compiler implements the Compiler host: the orchestrator that
// owns conversion rules, converters, the interned task table, the task
// queue, and the worker thread pool, and implements the narrow Compiler
// contract converters call back into.
package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/v2v3v4/bw-asset-pipeline/internal/cache"
	"github.com/v2v3v4/bw-asset-pipeline/internal/converter"
	"github.com/v2v3v4/bw-asset-pipeline/internal/dependency"
	"github.com/v2v3v4/bw-asset-pipeline/internal/hashutil"
	"github.com/v2v3v4/bw-asset-pipeline/internal/rules"
	"github.com/v2v3v4/bw-asset-pipeline/internal/task"
)

// Rule is the contract a registered conversion rule satisfies: given a
// source-relative path, resolve which converter (if any) builds it.
// *rules.GenericConversionRule implements this directly.
type Rule interface {
	Resolve(relPath string) (rules.Resolved, bool)
	ResolveRoot(relPath string) (rules.Resolved, bool)
	ReverseLookup(outputRelPath string, exists func(string) bool) (string, bool)
}

// Config is the compiler's construction-time configuration, populated
// from CLI flags and/or the .assetpipe.kdl file (see internal/config).
type Config struct {
	ResRoots         []string
	IntermediatePath string
	OutputPath       string
	CachePath        string
	CacheReadEnabled bool
	CacheWriteEnabled bool
	NumThreads       int
	Recursive        bool
	ForceRebuild     bool
}

// Hooks are the observer callbacks fired around task lifecycle and I/O
// events, consumed by the JIT UI and by tests asserting on scenario
// behavior (on_output_generated, on_cache_read, etc).
type Hooks struct {
	OnTaskStarted         func(t *task.Task)
	OnTaskResumed         func(t *task.Task)
	OnTaskSuspended       func(t *task.Task)
	OnTaskCompleted       func(t *task.Task)
	OnPreCreateDependencies  func(t *task.Task)
	OnPostCreateDependencies func(t *task.Task)
	OnPreConvert          func(t *task.Task)
	OnPostConvert         func(t *task.Task)
	OnOutputGenerated     func(path string)
	OnCacheRead           func(path string)
	OnCacheReadMiss       func(path string)
	OnCacheWrite          func(path string)
	OnCacheWriteMiss      func(path string)
}

func (h *Hooks) fire(f func(*task.Task), t *task.Task) {
	if f != nil {
		f(t)
	}
}

// Compiler is the service locator every converter talks to, and the home
// of the task intern table, queue, rule/converter registries, and
// per-thread state.
type Compiler struct {
	cfg   Config
	hooks Hooks

	fileHashes *hashutil.FileHashCache
	cacheStore *cache.Cache
	guard      *ConverterGuard
	sem        *Semaphore

	mu               sync.RWMutex
	rulesInOrder     []Rule
	convertersByID   map[uint64]converter.Info
	convertersByName map[string]converter.Info

	tasks *task.Table
	queue *task.Queue

	threadsMu sync.Mutex
	threads   map[uint64]*threadState

	terminated bool
}

type threadState struct {
	errorFlag   bool
	warningFlag bool
	current     *task.Task
}

// New constructs a Compiler ready to register rules/converters.
func New(cfg Config, hooks Hooks) *Compiler {
	if cfg.NumThreads < 1 {
		cfg.NumThreads = 1
	}
	return &Compiler{
		cfg:              cfg,
		hooks:            hooks,
		fileHashes:       hashutil.NewFileHashCache(),
		cacheStore:       cache.New(cfg.CachePath, cfg.CacheReadEnabled, cfg.CacheWriteEnabled),
		guard:            NewConverterGuard(),
		sem:              NewSemaphore(cfg.NumThreads),
		convertersByID:   make(map[uint64]converter.Info),
		convertersByName: make(map[string]converter.Info),
		tasks:            task.NewTable(),
		queue:            task.NewQueue(),
		threads:          make(map[uint64]*threadState),
	}
}

// RegisterConverter adds a converter kind; TypeID must be unique.
func (c *Compiler) RegisterConverter(info converter.Info) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.convertersByID[info.TypeID]; exists {
		return fmt.Errorf("compiler: converter id %016x (name %q) already registered", info.TypeID, info.Name)
	}
	c.convertersByID[info.TypeID] = info
	c.convertersByName[info.Name] = info
	return nil
}

// Lookup implements rules.ConverterLookup.
func (c *Compiler) Lookup(name string) (typeID uint64, version string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, exists := c.convertersByName[name]
	if !exists {
		return 0, "", false
	}
	return info.TypeID, info.Version, true
}

func (c *Compiler) converterByID(id uint64) (converter.Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.convertersByID[id]
	return info, ok
}

// ConverterFor exposes the registered Info for a task's converter id, used
// by the task processor to instantiate a fresh Converter per attempt.
func (c *Compiler) ConverterFor(id uint64) (converter.Info, bool) {
	return c.converterByID(id)
}

// RegisterConversionRule appends r to the registered rule chain. Rules are
// tried in LIFO order: the most recently registered rule is consulted
// first, so a project-specific rule set registered after built-in
// defaults can override them.
func (c *Compiler) RegisterConversionRule(r Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rulesInOrder = append(c.rulesInOrder, r)
}

// Cache exposes the content-addressable cache façade.
func (c *Compiler) Cache() *cache.Cache { return c.cacheStore }

// FileHashes exposes the shared file-content hash cache.
func (c *Compiler) FileHashes() *hashutil.FileHashCache { return c.fileHashes }

// Guard exposes the converter guard.
func (c *Compiler) Guard() *ConverterGuard { return c.guard }

// Semaphore exposes the pause/resume counting semaphore.
func (c *Compiler) Semaphore() *Semaphore { return c.sem }

// Tasks exposes the intern table.
func (c *Compiler) Tasks() *task.Table { return c.tasks }

// Queue exposes the pending-task queue.
func (c *Compiler) Queue() *task.Queue { return c.queue }

// ForceRebuild reports whether --forceRebuild was set.
func (c *Compiler) ForceRebuild() bool { return c.cfg.ForceRebuild }

// Recursive reports whether --recursive was set.
func (c *Compiler) Recursive() bool { return c.cfg.Recursive }

// Terminate flips the compiler-wide termination flag. Discovery and the
// scheduler loop observe it between tasks; no in-flight converter call is
// interrupted.
func (c *Compiler) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
}

func (c *Compiler) Terminated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terminated
}

// --- path resolution -------------------------------------------------

// ResolveSourcePath maps a possibly-relative path to its canonical
// absolute form under the first search root that contains it, or under
// the first configured root if path is already relative and not found.
func (c *Compiler) ResolveSourcePath(p string) string {
	return c.resolveUnderRoots(p, c.cfg.ResRoots)
}

// ResolveIntermediatePath maps a path to its canonical absolute form under
// the intermediate tree.
func (c *Compiler) ResolveIntermediatePath(p string) string {
	return c.resolveUnderRoot(p, c.cfg.IntermediatePath)
}

// ResolveOutputPath maps a path to its canonical absolute form under the
// output tree.
func (c *Compiler) ResolveOutputPath(p string) string {
	return c.resolveUnderRoot(p, c.cfg.OutputPath)
}

// relativeToTrees strips any of the three known tree roots from an
// absolute path, used to make the three resolve* helpers commutative:
// converting a relative path to intermediate and then to output must
// produce the same path the output tree would for that same relative.
func (c *Compiler) relativeToTrees(p string) string {
	if !filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	for _, root := range append([]string{c.cfg.IntermediatePath, c.cfg.OutputPath}, c.cfg.ResRoots...) {
		if root == "" {
			continue
		}
		if rel, err := filepath.Rel(root, p); err == nil && !filepath.IsAbs(rel) && rel != ".." && !isOutsideRel(rel) {
			return rel
		}
	}
	return filepath.Base(p)
}

func isOutsideRel(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".."
}

func (c *Compiler) resolveUnderRoot(p, root string) string {
	rel := c.relativeToTrees(p)
	if root == "" {
		return filepath.Clean(rel)
	}
	return filepath.Join(root, rel)
}

func (c *Compiler) resolveUnderRoots(p string, roots []string) string {
	rel := c.relativeToTrees(p)
	for _, root := range roots {
		candidate := filepath.Join(root, rel)
		if fileExists(candidate) {
			return candidate
		}
	}
	if len(roots) > 0 {
		return filepath.Join(roots[0], rel)
	}
	return filepath.Clean(rel)
}

// --- hashing -----------------------------------------------------------

// GetFileHash returns the content hash of an absolute or resolvable path.
func (c *Compiler) GetFileHash(path string, force bool) uint64 {
	return c.fileHashes.FileHash(path, force)
}

// GetDirectoryHash returns the combined hash of a directory's matching
// files.
func (c *Compiler) GetDirectoryHash(dir, pattern string, isRegex, recursive bool) uint64 {
	return hashutil.DirectoryHash(c.fileHashes, dir, pattern, isRegex, recursive)
}

// GetHash computes dep's current hash under the compiler's hashing rules.
func (c *Compiler) GetHash(dep dependency.Dependency) uint64 {
	switch dep.Type() {
	case dependency.KindSourceFile:
		return c.fileHashes.FileHash(c.ResolveSourcePath(dep.Path()), false)
	case dependency.KindIntermediateFile:
		return c.fileHashes.FileHash(c.ResolveIntermediatePath(dep.Path()), false)
	case dependency.KindOutputFile:
		return c.fileHashes.FileHash(c.ResolveOutputPath(dep.Path()), false)
	case dependency.KindConverter:
		id, version := dep.Converter()
		return hashutil.CombineValues(id, hashutil.String(version))
	case dependency.KindConverterParams:
		return hashutil.String(dep.Params())
	case dependency.KindDirectory:
		dir, pattern, isRegex, recursive := dep.Directory()
		return hashutil.DirectoryHash(c.fileHashes, c.ResolveSourcePath(dir), pattern, isRegex, recursive)
	default:
		return 0
	}
}

// GetSourceFile reports whether path resolves to an existing source file.
func (c *Compiler) GetSourceFile(path string) (string, bool) {
	resolved := c.ResolveSourcePath(path)
	if fileExists(resolved) {
		return resolved, true
	}
	return "", false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
