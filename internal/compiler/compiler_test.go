package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/v2v3v4/bw-asset-pipeline/internal/converter"
	"github.com/v2v3v4/bw-asset-pipeline/internal/dependency"
	"github.com/v2v3v4/bw-asset-pipeline/internal/rules"
	"github.com/v2v3v4/bw-asset-pipeline/internal/task"
)

func newTestCompiler(t *testing.T) (*Compiler, string) {
	t.Helper()
	root := t.TempDir()
	res := filepath.Join(root, "res")
	inter := filepath.Join(root, "intermediate")
	out := filepath.Join(root, "output")
	for _, d := range []string{res, inter, out} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	c := New(Config{
		ResRoots:         []string{res},
		IntermediatePath: inter,
		OutputPath:       out,
		NumThreads:       2,
	}, Hooks{})
	return c, res
}

func TestResolvePathsAreCommutative(t *testing.T) {
	c, _ := newTestCompiler(t)

	rel := "models/hero.model"
	inter := c.ResolveIntermediatePath(rel)
	out := c.ResolveOutputPath(rel)

	backToInter := c.ResolveIntermediatePath(out)
	if backToInter != inter {
		t.Fatalf("resolving an output path back to intermediate was not commutative: got %q want %q", backToInter, inter)
	}
}

func TestRegisterConverterRejectsDuplicateID(t *testing.T) {
	c, _ := newTestCompiler(t)
	info := converter.NewInfo("model_converter", "1.0", 0, nil)
	if err := c.RegisterConverter(info); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := c.RegisterConverter(info); err == nil {
		t.Fatalf("expected duplicate converter id to be rejected")
	}
}

func TestGetTaskUsesMostRecentlyRegisteredRule(t *testing.T) {
	c, _ := newTestCompiler(t)
	c.RegisterConverter(converter.NewInfo("old_conv", "1.0", 0, nil))
	c.RegisterConverter(converter.NewInfo("new_conv", "1.0", 0, nil))

	c.RegisterConversionRule(Load(t, `rule "*.model" { converter "old_conv" }`))
	c.RegisterConversionRule(Load(t, `rule "*.model" { converter "new_conv" }`))

	tk := c.GetTask("hero.model", true)
	if tk == nil {
		t.Fatalf("expected a task to be created")
	}
	name, _ := lookupName(c, tk.ConverterID())
	if name != "new_conv" {
		t.Fatalf("expected the most recently registered rule to win, got %q", name)
	}
}

func lookupName(c *Compiler, id uint64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.convertersByID[id]
	return info.Name, ok
}

func TestGetTaskUnmatchedNonRootPathIsFailedSentinel(t *testing.T) {
	c, _ := newTestCompiler(t)
	tk := c.GetTask("readme.txt", false)
	if tk == nil {
		t.Fatalf("expected a sentinel task, got nil")
	}
	if !tk.IsUnknownConverter() {
		t.Fatalf("expected unknown-converter sentinel")
	}
	if tk.Status() != task.StatusFailed {
		t.Fatalf("expected sentinel task to be pre-failed, got %s", tk.Status())
	}
}

func TestGetTaskUnmatchedRootPathReturnsNil(t *testing.T) {
	c, _ := newTestCompiler(t)
	if tk := c.GetTask("readme.txt", true); tk != nil {
		t.Fatalf("expected discovery to skip an unclaimed root path, got %v", tk)
	}
}

// reverseLookupRule gives EnsureUpToDate's Intermediate/OutputFile path
// something to reverse-substitute back to "hero.model", the way a real
// rule's source_pattern/source_format pair does.
const reverseLookupRule = `
rule "*.model" {
    converter "model_converter"
    source_pattern "(.+)\\.model\\.intermediate$"
    source_format "$1.model"
}
`

func TestEnsureUpToDateQueuesUnresolvedDependency(t *testing.T) {
	c, _ := newTestCompiler(t)
	c.RegisterConverter(converter.NewInfo("model_converter", "1.0", 0, nil))
	c.RegisterConversionRule(Load(t, reverseLookupRule))

	dep := dependency.NewIntermediateFile("hero.model.intermediate", false)
	ready, sub := c.EnsureUpToDate(dep, 7)
	if ready {
		t.Fatalf("expected a freshly interned dependency to not be ready yet")
	}
	if sub == nil {
		t.Fatalf("expected a sub-task to wait on")
	}
	if sub.Status() != task.StatusQueued {
		t.Fatalf("expected EnsureUpToDate to queue the new sub-task, got %s", sub.Status())
	}
}

func TestEnsureUpToDateOwnCycleIsTreatedAsSatisfied(t *testing.T) {
	c, _ := newTestCompiler(t)
	c.RegisterConverter(converter.NewInfo("model_converter", "1.0", 0, nil))
	c.RegisterConversionRule(Load(t, reverseLookupRule))

	tk := c.GetTask("hero.model", true)
	tk.SetOwningThread(42)

	ready, _ := c.EnsureUpToDate(dependency.NewIntermediateFile("hero.model.intermediate", false), 42)
	if !ready {
		t.Fatalf("expected a dependency owned by the requesting thread to be treated as satisfied")
	}
}

func TestEnsureUpToDateDoneDependencyIsSatisfied(t *testing.T) {
	c, _ := newTestCompiler(t)
	c.RegisterConverter(converter.NewInfo("model_converter", "1.0", 0, nil))
	c.RegisterConversionRule(Load(t, reverseLookupRule))

	tk := c.GetTask("hero.model", true)
	tk.SetStatus(task.StatusQueued)
	tk.SetStatus(task.StatusProcessing)
	tk.SetStatus(task.StatusDone)

	ready, sub := c.EnsureUpToDate(dependency.NewIntermediateFile("hero.model.intermediate", false), 1)
	if !ready || sub != nil {
		t.Fatalf("expected a Done dependency to be satisfied, got ready=%v sub=%v", ready, sub)
	}
}

func TestEnsureUpToDateSourceFileSatisfiedByExistenceOnly(t *testing.T) {
	c, res := newTestCompiler(t)

	dep := dependency.NewSourceFile("hero.model")
	if ready, sub := c.EnsureUpToDate(dep, 1); ready || sub != nil {
		t.Fatalf("expected a missing source file to be unsatisfied with no sub-task, got ready=%v sub=%v", ready, sub)
	}

	if err := os.WriteFile(filepath.Join(res, "hero.model"), []byte("data"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if ready, sub := c.EnsureUpToDate(dep, 1); !ready || sub != nil {
		t.Fatalf("expected an existing source file to be satisfied with no sub-task, got ready=%v sub=%v", ready, sub)
	}
}

func TestThreadHandleErrorFlagsAreIsolatedPerThread(t *testing.T) {
	c, _ := newTestCompiler(t)
	a := c.ForThread(1)
	b := c.ForThread(2)

	a.SetError("boom")
	if !a.HasError() {
		t.Fatalf("expected thread 1 to observe its own error")
	}
	if b.HasError() {
		t.Fatalf("thread 2 must not observe thread 1's error")
	}
}

func TestSemaphorePauseBlocksUntilSlotsIdle(t *testing.T) {
	c, _ := newTestCompiler(t)
	sem := c.Semaphore()
	sem.Acquire()

	done := make(chan struct{})
	go func() {
		sem.Pause()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Pause returned before the acquired slot was released")
	default:
	}

	sem.Release()
	<-done
	sem.Resume()
}

// Load is a test helper that parses a KDL conversion-rule document and fails
// the test on error, so call sites above stay single-line.
func Load(t *testing.T, kdl string) *rules.GenericConversionRule {
	t.Helper()
	r, err := rules.Load([]byte(kdl))
	if err != nil {
		t.Fatalf("rules.Load: %v", err)
	}
	return r
}
