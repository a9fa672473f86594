package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/v2v3v4/bw-asset-pipeline/internal/compiler"
	"github.com/v2v3v4/bw-asset-pipeline/internal/converter"
	"github.com/v2v3v4/bw-asset-pipeline/internal/converter/testconv"
	"github.com/v2v3v4/bw-asset-pipeline/internal/dependency"
	"github.com/v2v3v4/bw-asset-pipeline/internal/rules"
	"github.com/v2v3v4/bw-asset-pipeline/internal/task"
)

func newTestCompiler(t *testing.T, res, inter, out string) *compiler.Compiler {
	t.Helper()
	c := compiler.New(compiler.Config{
		ResRoots:         []string{res},
		IntermediatePath: inter,
		OutputPath:       out,
		NumThreads:       1,
		Recursive:        true,
	}, compiler.Hooks{})
	c.RegisterConverter(converter.NewInfo("uppercase", testconv.UppercaseVersion, 0, testconv.NewUppercase))
	r, err := rules.Load([]byte(`rule "*.txt" { converter "uppercase" }`))
	if err != nil {
		t.Fatalf("rules.Load: %v", err)
	}
	c.RegisterConversionRule(r)
	return c
}

func TestReverseMapRecordTracksPrimaryInputAndPrunesOnRerecord(t *testing.T) {
	root := t.TempDir()
	inter := t.TempDir()
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("world"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestCompiler(t, root, inter, out)
	tk := c.GetTask("a.txt", true)
	tk.DepList().Initialise([]dependency.Input{
		{Dep: dependency.NewSourceFile("a.txt")},
	})

	rm := NewReverseMap()
	rm.Record(tk)

	affected := rm.Affected("a.txt")
	if len(affected) != 1 || affected[0] != tk {
		t.Fatalf("expected a.txt's recorded input to map back to its task, got %v", affected)
	}
	if len(rm.Affected("b.txt")) != 0 {
		t.Fatalf("b.txt was never recorded as a dependency, should have no affected tasks")
	}

	// Re-record with a different primary input: the old a.txt edge must be
	// pruned, not accumulated alongside the new one.
	tk.DepList().Initialise([]dependency.Input{
		{Dep: dependency.NewSourceFile("b.txt")},
	})
	rm.Record(tk)

	if len(rm.Affected("a.txt")) != 0 {
		t.Fatalf("stale a.txt edge should have been pruned on re-record")
	}
	if len(rm.Affected("b.txt")) != 1 {
		t.Fatalf("expected b.txt edge installed after re-record")
	}
}

func TestReverseMapDirectoryDependencyMatchesGlob(t *testing.T) {
	root := t.TempDir()
	inter := t.TempDir()
	out := t.TempDir()
	c := newTestCompiler(t, root, inter, out)
	tk := c.GetTask("manifest.txt", true)
	if tk == nil {
		t.Fatal("expected manifest.txt to be interned")
	}
	tk.DepList().Initialise(nil)
	tk.DepList().AddSecondaryInput(dependency.Input{
		Dep: dependency.NewDirectory(".", "*.asset", false, true, true),
	})

	rm := NewReverseMap()
	rm.Record(tk)

	if got := rm.Affected("models/hero.asset"); len(got) != 1 {
		t.Fatalf("expected recursive glob to match nested .asset file, got %v", got)
	}
	if got := rm.Affected("models/hero.txt"); len(got) != 0 {
		t.Fatalf("non-matching extension should not be affected, got %v", got)
	}
}

func TestResetAndRequeuePutsTaskBackOnQueue(t *testing.T) {
	root := t.TempDir()
	inter := t.TempDir()
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestCompiler(t, root, inter, out)
	tk := c.GetTask("a.txt", true)
	tk.SetStatus(task.StatusQueued)
	tk.SetStatus(task.StatusDone)

	resetAndRequeue(c, tk)

	if tk.Status() != task.StatusQueued {
		t.Fatalf("expected task reset+requeued to be StatusQueued, got %s", tk.Status())
	}
	next := c.GetNextTask()
	if next == nil || next.SourcePath() != "a.txt" {
		t.Fatalf("expected a.txt back on the queue after reset")
	}
}

func TestWatcherInvalidatesOnWrite(t *testing.T) {
	root := t.TempDir()
	inter := t.TempDir()
	out := t.TempDir()
	srcPath := filepath.Join(root, "a.txt")
	if err := os.WriteFile(srcPath, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestCompiler(t, root, inter, out)
	tk := c.GetTask("a.txt", true)
	tk.SetStatus(task.StatusQueued)
	tk.SetStatus(task.StatusDone)

	rm := NewReverseMap()
	tk.DepList().Initialise([]dependency.Input{
		{Dep: dependency.NewSourceFile("a.txt")},
	})
	rm.Record(tk)

	w := NewWatcher(c, rm, []string{root})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(srcPath, []byte("hello again"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.Wake:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher to wake after file write")
	}

	if tk.Status() != task.StatusQueued {
		t.Fatalf("expected a.txt requeued after write, got status %s", tk.Status())
	}
}
