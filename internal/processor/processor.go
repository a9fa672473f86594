// Package processor implements the task processor: the three-stage state
// machine (primary dependencies, secondary dependencies, conversion) that
// drives one ConversionTask from PROCESSING to DONE or FAILED, plus the
// scheduler driver that spins worker goroutines up and down to match queue
// depth.
package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/v2v3v4/bw-asset-pipeline/internal/compiler"
	"github.com/v2v3v4/bw-asset-pipeline/internal/converter"
	"github.com/v2v3v4/bw-asset-pipeline/internal/debug"
	"github.com/v2v3v4/bw-asset-pipeline/internal/dependency"
	pipeerrors "github.com/v2v3v4/bw-asset-pipeline/internal/errors"
	"github.com/v2v3v4/bw-asset-pipeline/internal/hashutil"
	"github.com/v2v3v4/bw-asset-pipeline/internal/task"
)

// upgradeRehashAttempts and upgradeRehashInterval bound the retry of an
// UPGRADE_CONVERSION converter's post-write rehash: the converter closes
// its write handle on resolvedSource just before returning, and another
// thread (or this same process's own file-hash cache reader) racing to
// open it for read can transiently fail if the filesystem hasn't settled
// the close yet.
const (
	upgradeRehashAttempts = 5
	upgradeRehashInterval = time.Second
)

// Processor drives tasks to completion against one Compiler host. It holds
// no per-task state of its own; every piece of in-flight state lives on the
// Task or in the Compiler's per-thread tables, so one Processor is safely
// shared by every worker goroutine.
type Processor struct {
	c *compiler.Compiler
}

// New returns a Processor bound to c.
func New(c *compiler.Compiler) *Processor { return &Processor{c: c} }

func (p *Processor) depsPath(relPath string) string {
	return p.c.ResolveIntermediatePath(relPath) + ".deps"
}

// ProcessTask drives t through whichever stages remain, entirely on the
// calling goroutine. threadID identifies the calling worker for the
// cycle-detection and per-thread error-flag bookkeeping the Compiler host
// keys by it.
func (p *Processor) ProcessTask(threadID uint64, t *task.Task) {
	resuming := t.Status() == task.StatusNeedsConversion

	p.c.ResetErrorFlags(threadID)
	p.c.SetCurrentTask(threadID, t)
	t.SetOwningThread(threadID)
	defer func() {
		t.SetOwningThread(0)
		p.c.SetCurrentTask(threadID, nil)
	}()

	if resuming {
		p.c.OnTaskResumed(t)
	} else {
		p.c.OnTaskStarted(t)
	}

	info, found := p.c.ConverterFor(t.ConverterID())
	if !found || t.IsUnknownConverter() {
		t.SetStatus(task.StatusFailed)
		p.c.SetError(threadID, (&pipeerrors.UnknownConverterError{SourcePath: t.SourcePath()}).Error())
		p.c.OnTaskCompleted(t)
		return
	}

	if !resuming {
		if !p.stageA(threadID, t, info) {
			p.c.OnTaskCompleted(t)
			return
		}
	}

	ready := p.stageB(threadID, t)
	if t.Status() == task.StatusFailed {
		p.c.OnTaskCompleted(t)
		return
	}
	if !ready {
		p.c.OnTaskSuspended(t)
		return
	}

	p.stageC(threadID, t, info)
	p.c.OnTaskCompleted(t)
}

// runGuarded executes fn under the compiler's converter guard, recovering a
// panic inside fn (an uncaught assertion in converter code) into an error
// rather than taking the whole process down with it.
func (p *Processor) runGuarded(threadSafe bool, fn func() error) (err error) {
	p.c.Guard().Run(threadSafe, func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("converter panic: %v", r)
			}
		}()
		err = fn()
	})
	return err
}

// --- Stage A: primary dependencies --------------------------------------

func (p *Processor) stageA(threadID uint64, t *task.Task, info converter.Info) bool {
	t.SetStatus(task.StatusNeedsPrimaryDeps)

	deps := t.DepList()
	sourcePath := t.SourcePath()

	if p.primaryUpToDate(t, deps) {
		t.SetStatus(task.StatusNeedsSecondaryDeps)
		return true
	}

	primary := dependency.CanonicalPrimaryInputs(sourcePath, t.ConverterID(), t.ConverterVersion(), t.Params())
	for i := range primary {
		primary[i].Hash = p.c.GetHash(primary[i].Dep)
	}
	deps.Initialise(primary)

	depsFile := p.depsPath(sourcePath)
	primaryHash := deps.InputHash(false)

	if p.tryRestorePrimaryFromCache(t, deps, depsFile, primaryHash) {
		t.SetStatus(task.StatusNeedsSecondaryDeps)
		return true
	}

	conv := info.New()
	handle := p.c.ForThread(threadID)

	p.c.OnPreCreateDependencies(t)
	err := p.runGuarded(info.Flags.Has(converter.ThreadSafe), func() error {
		return conv.CreateDependencies(p.c.ResolveSourcePath(sourcePath), handle, deps)
	})
	p.c.OnPostCreateDependencies(t)

	if err != nil || p.c.HasError(threadID) {
		t.SetStatus(task.StatusFailed)
		msg := "create_dependencies failed"
		if err != nil {
			msg = err.Error()
		}
		p.c.SetError(threadID, (&pipeerrors.ConverterError{
			SourcePath:  sourcePath,
			ConverterID: t.ConverterID(),
			Stage:       "create_dependencies",
			Underlying:  fmt.Errorf("%s", msg),
		}).Error())
		return false
	}

	for i := range deps.PrimaryInputs {
		if deps.PrimaryInputs[i].Hash == 0 {
			deps.PrimaryInputs[i].Hash = p.c.GetHash(deps.PrimaryInputs[i].Dep)
		}
	}

	p.persistDeps(deps, depsFile)

	if info.Flags.Has(converter.CacheDependencies) {
		if p.c.Cache().Write(depsFile, deps.InputHash(false)) {
			p.c.OnCacheWrite(depsFile)
		} else {
			p.c.OnCacheWriteMiss(depsFile)
		}
	}

	t.SetStatus(task.StatusNeedsSecondaryDeps)
	return true
}

func (p *Processor) primaryUpToDate(t *task.Task, deps *dependency.List) bool {
	if !deps.HasCanonicalPrimaryPrefix(t.SourcePath(), t.ConverterID(), t.ConverterVersion(), t.Params()) {
		return false
	}
	for i := 0; i < 3; i++ {
		in := deps.PrimaryInputs[i]
		if p.c.GetHash(in.Dep) != in.Hash {
			return false
		}
	}
	return true
}

func (p *Processor) tryRestorePrimaryFromCache(t *task.Task, deps *dependency.List, depsFile string, primaryHash uint64) bool {
	if !p.c.Cache().Read(depsFile, primaryHash) {
		p.c.OnCacheReadMiss(depsFile)
		return false
	}
	restored, ok := p.loadDeps(depsFile)
	if !ok {
		return false
	}
	if !restored.HasCanonicalPrimaryPrefix(t.SourcePath(), t.ConverterID(), t.ConverterVersion(), t.Params()) {
		return false
	}
	for i := 0; i < 3; i++ {
		if p.c.GetHash(restored.PrimaryInputs[i].Dep) != restored.PrimaryInputs[i].Hash {
			return false
		}
	}
	for _, in := range restored.SecondaryInputs {
		if in.Hash != 0 {
			return false
		}
	}
	*deps = *restored
	p.c.OnCacheRead(depsFile)
	return true
}

func (p *Processor) loadDeps(path string) (*dependency.List, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	restored, err := dependency.Unmarshal(data)
	if err != nil || restored.HasInvalid() {
		return nil, false
	}
	return restored, true
}

func (p *Processor) persistDeps(deps *dependency.List, path string) {
	data, err := deps.Marshal()
	if err != nil {
		debug.LogCompiler("failed to marshal dependency list for %s: %v", path, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		debug.LogCompiler("failed to create deps directory for %s: %v", path, err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		debug.LogCompiler("failed to write deps file %s: %v", path, err)
	}
}

// --- Stage B: secondary dependencies -------------------------------------

func (p *Processor) stageB(threadID uint64, t *task.Task) bool {
	t.SetStatus(task.StatusNeedsSecondaryDeps)
	t.ResetSubTasks()

	deps := t.DepList()
	allReady := true

	for _, in := range deps.SecondaryInputs {
		ready, sub := p.c.EnsureUpToDate(in.Dep, threadID)
		failed := !ready

		if sub != nil {
			t.AddSubTask(sub)
			if sub.Status() == task.StatusFailed {
				// A failed sub-task can't be waited on any further; treat it
				// as up to date so the loop moves on to judge criticality.
				ready = true
			} else {
				// Still in flight: not failed, just not ready yet.
				failed = false
			}
		}

		if failed {
			if in.Dep.IsCritical() {
				t.SetStatus(task.StatusFailed)
				p.c.SetError(threadID, (&pipeerrors.DependencyFailureError{
					SourcePath: t.SourcePath(),
					DepKind:    in.Dep.Type().String(),
					Critical:   true,
					Underlying: fmt.Errorf("dependency %s failed", in.Dep),
				}).Error())
				return false
			}
			// A non-critical dependency that failed (or, with no sub-task,
			// simply doesn't exist) doesn't block conversion.
			ready = true
		}

		if !ready {
			allReady = false
		}
	}

	t.SetStatus(task.StatusNeedsConversion)
	return allReady
}

// --- Stage C: conversion --------------------------------------------------

func (p *Processor) stageC(threadID uint64, t *task.Task, info converter.Info) {
	deps := t.DepList()
	sourcePath := t.SourcePath()
	resolvedSource := p.c.ResolveSourcePath(sourcePath)
	depsFile := p.depsPath(sourcePath)

	// secondaryStale must be decided against the hashes recorded on the
	// previous run, before anything overwrites them: a changed secondary
	// input forces reconversion exactly like a changed primary input, but
	// only once conversion actually proceeds do the stored hashes move to
	// the fresh values (see refreshSecondaryInputHashes below).
	secondaryStale := p.c.ForceRebuild() || !p.secondaryInputsUpToDate(deps)

	if !secondaryStale {
		hasOutputs := len(deps.Outputs) > 0 || len(deps.IntermediateOutputs) > 0
		if hasOutputs && p.outputsUpToDate(deps) {
			t.SetStatus(task.StatusDone)
			return
		}

		combinedHash := deps.InputHash(true)
		if p.tryRestoreOutputsFromCache(deps, depsFile, combinedHash) {
			t.SetStatus(task.StatusDone)
			return
		}
	}

	if info.Flags.Has(converter.UpgradeConversion) {
		p.c.FileHashes().Invalidate(resolvedSource)
	}

	conv := info.New()
	handle := p.c.ForThread(threadID)

	p.c.OnPreConvert(t)
	var intermediate, final []converter.Output
	err := p.runGuarded(info.Flags.Has(converter.ThreadSafe), func() error {
		var cerr error
		intermediate, final, cerr = conv.Convert(resolvedSource, handle)
		return cerr
	})
	p.c.OnPostConvert(t)

	if err != nil || p.c.HasError(threadID) {
		t.SetStatus(task.StatusFailed)
		msg := "convert failed"
		if err != nil {
			msg = err.Error()
		}
		p.c.SetError(threadID, (&pipeerrors.ConverterError{
			SourcePath:  sourcePath,
			ConverterID: t.ConverterID(),
			Stage:       "convert",
			Underlying:  fmt.Errorf("%s", msg),
		}).Error())
		return
	}

	if info.Flags.Has(converter.UpgradeConversion) {
		p.rehashUpgradedSource(resolvedSource)
	}

	p.refreshSecondaryInputHashes(deps)

	deps.IntermediateOutputs = nil
	deps.Outputs = nil
	for _, o := range intermediate {
		deps.AddIntermediateOutput(dependency.Output{Path: o.Path, Hash: o.Hash})
		p.c.OnOutputGenerated(o.Path)
	}
	for _, o := range final {
		deps.AddOutput(dependency.Output{Path: o.Path, Hash: o.Hash})
		p.c.OnOutputGenerated(o.Path)
	}

	p.persistDeps(deps, depsFile)

	if info.Flags.Has(converter.CacheConversion) {
		for _, o := range intermediate {
			p.writeOutputToCache(o)
		}
		for _, o := range final {
			p.writeOutputToCache(o)
		}
		if p.c.Cache().Write(depsFile, deps.InputHash(true)) {
			p.c.OnCacheWrite(depsFile)
		} else {
			p.c.OnCacheWriteMiss(depsFile)
		}
	}

	t.SetStatus(task.StatusDone)
}

// rehashUpgradedSource re-reads an UPGRADE_CONVERSION converter's rewritten
// source file, retrying up to upgradeRehashAttempts times (spaced
// upgradeRehashInterval apart) if the read comes back empty because
// something else still holds the file. A source that legitimately
// disappeared mid-run settles to hash 0 after exhausting the retries, the
// same outcome FileHash already gives for a missing file.
func (p *Processor) rehashUpgradedSource(resolvedSource string) {
	for attempt := 0; ; attempt++ {
		p.c.FileHashes().Invalidate(resolvedSource)
		if h := p.c.FileHashes().FileHash(resolvedSource, true); h != 0 {
			return
		}
		if attempt+1 >= upgradeRehashAttempts {
			return
		}
		time.Sleep(upgradeRehashInterval)
	}
}

func (p *Processor) writeOutputToCache(o converter.Output) {
	if p.c.Cache().Write(o.Path, o.Hash) {
		p.c.OnCacheWrite(o.Path)
	} else {
		p.c.OnCacheWriteMiss(o.Path)
	}
}

// secondaryInputsUpToDate reports whether every secondary input recorded on
// the previous run still matches its current hash. It only reads; the
// stored hashes are refreshed separately by refreshSecondaryInputHashes,
// and only once a rebuild has actually happened.
func (p *Processor) secondaryInputsUpToDate(deps *dependency.List) bool {
	for _, in := range deps.SecondaryInputs {
		if p.c.GetHash(in.Dep) != in.Hash {
			return false
		}
	}
	return true
}

// refreshSecondaryInputHashes overwrites every secondary input's stored
// hash with its current value. Called only after a rebuild has completed,
// so a task that turned out to be up to date never clobbers the hashes a
// staleness check is about to compare against next time.
func (p *Processor) refreshSecondaryInputHashes(deps *dependency.List) {
	for i := range deps.SecondaryInputs {
		deps.SecondaryInputs[i].Hash = p.c.GetHash(deps.SecondaryInputs[i].Dep)
	}
}

// outputsUpToDate reports whether every recorded output still matches disk
// (or, for intermediate outputs, can be pulled from the cache by its
// recorded hash), letting stage C publish DONE without re-running the
// converter.
func (p *Processor) outputsUpToDate(deps *dependency.List) bool {
	for _, o := range deps.Outputs {
		if p.c.FileHashes().FileHash(o.Path, true) != o.Hash {
			return false
		}
	}
	for _, o := range deps.IntermediateOutputs {
		if p.c.FileHashes().FileHash(o.Path, true) == o.Hash {
			continue
		}
		if !p.c.Cache().ReadVerified(o.Path, o.Hash, func(b []byte) uint64 { return hashutil.Bytes(b) }) {
			return false
		}
		p.c.FileHashes().Invalidate(o.Path)
	}
	return true
}

func (p *Processor) tryRestoreOutputsFromCache(deps *dependency.List, depsFile string, combinedHash uint64) bool {
	if !p.c.Cache().Read(depsFile, combinedHash) {
		p.c.OnCacheReadMiss(depsFile)
		return false
	}
	restored, ok := p.loadDeps(depsFile)
	if !ok {
		return false
	}

	for _, o := range restored.Outputs {
		if !p.c.Cache().ReadVerified(o.Path, o.Hash, func(b []byte) uint64 { return hashutil.Bytes(b) }) {
			return false
		}
		p.c.FileHashes().Invalidate(o.Path)
	}
	for _, o := range restored.IntermediateOutputs {
		if !p.c.Cache().ReadVerified(o.Path, o.Hash, func(b []byte) uint64 { return hashutil.Bytes(b) }) {
			return false
		}
		p.c.FileHashes().Invalidate(o.Path)
	}

	*deps = *restored
	p.c.OnCacheRead(depsFile)
	return true
}
