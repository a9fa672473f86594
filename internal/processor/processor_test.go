package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/v2v3v4/bw-asset-pipeline/internal/compiler"
	"github.com/v2v3v4/bw-asset-pipeline/internal/converter"
	"github.com/v2v3v4/bw-asset-pipeline/internal/converter/testconv"
	"github.com/v2v3v4/bw-asset-pipeline/internal/rules"
	"github.com/v2v3v4/bw-asset-pipeline/internal/task"
)

type harness struct {
	c            *compiler.Compiler
	p            *Processor
	res          string
	inter        string
	out          string
	events       []string
	convertCount int
}

func newHarness(t *testing.T) *harness {
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

	h := &harness{res: res, inter: inter, out: out}
	h.c = compiler.New(compiler.Config{
		ResRoots:         []string{res},
		IntermediatePath: inter,
		OutputPath:       out,
		NumThreads:       2,
	}, compiler.Hooks{
		OnTaskCompleted: func(tk *task.Task) { h.events = append(h.events, "completed:"+tk.SourcePath()) },
		OnPreConvert:    func(tk *task.Task) { h.convertCount++ },
	})
	h.p = New(h.c)
	return h
}

func (h *harness) writeSource(rel, content string) {
	path := filepath.Join(h.res, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		panic(err)
	}
}

func TestProcessTaskUppercaseFreshBuild(t *testing.T) {
	h := newHarness(t)
	h.c.RegisterConverter(converter.NewInfo("uppercase", testconv.UppercaseVersion, 0, testconv.NewUppercase))
	r, err := rules.Load([]byte(`rule "*.txt" { converter "uppercase" }`))
	if err != nil {
		t.Fatalf("rules.Load: %v", err)
	}
	h.c.RegisterConversionRule(r)

	h.writeSource("a.txt", "hello")

	tk := h.c.GetTask("a.txt", true)
	if tk == nil {
		t.Fatalf("expected discovery to create a task for a.txt")
	}
	h.c.QueueTask(tk)

	next := h.c.GetNextTask()
	h.p.ProcessTask(1, next)

	if tk.Status() != task.StatusDone {
		t.Fatalf("expected task to finish DONE, got %s", tk.Status())
	}

	outPath := filepath.Join(h.out, "a.TXT")
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("expected output file at %s: %v", outPath, err)
	}
	if string(data) != "HELLO" {
		t.Fatalf("got output %q", string(data))
	}
}

func TestProcessTaskSecondFreshBuildIsNoopFastPath(t *testing.T) {
	h := newHarness(t)
	h.c.RegisterConverter(converter.NewInfo("uppercase", testconv.UppercaseVersion, 0, testconv.NewUppercase))
	r, _ := rules.Load([]byte(`rule "*.txt" { converter "uppercase" }`))
	h.c.RegisterConversionRule(r)
	h.writeSource("a.txt", "hello")

	tk := h.c.GetTask("a.txt", true)
	h.c.QueueTask(tk)
	h.p.ProcessTask(1, h.c.GetNextTask())
	if tk.Status() != task.StatusDone {
		t.Fatalf("first build did not finish DONE: %s", tk.Status())
	}

	tk.SetStatus(task.StatusNew)
	h.c.QueueTask(tk)
	h.p.ProcessTask(2, h.c.GetNextTask())
	if tk.Status() != task.StatusDone {
		t.Fatalf("re-run did not finish DONE: %s", tk.Status())
	}
}

func TestProcessTaskUnknownConverterFailsImmediately(t *testing.T) {
	h := newHarness(t)
	h.writeSource("readme.txt", "n/a")
	tk := h.c.GetTask("readme.txt", false)
	h.p.ProcessTask(1, tk)
	if tk.Status() != task.StatusFailed {
		t.Fatalf("expected FAILED, got %s", tk.Status())
	}
}

func TestProcessTaskManifestCriticalDependencyFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.c.RegisterConverter(converter.NewInfo("manifest", testconv.ManifestVersion, 0, testconv.NewManifest))
	h.c.RegisterConverter(converter.NewInfo("uppercase", testconv.UppercaseVersion, 0, testconv.NewUppercase))
	r, _ := rules.Load([]byte(`
rule "*.manifest" { converter "manifest" }
rule "*.txt" { converter "uppercase" }
`))
	h.c.RegisterConversionRule(r)

	h.writeSource("bad.asset", "gone")
	h.writeSource("root.manifest", "bad.asset\n")
	os.Remove(filepath.Join(h.res, "bad.asset"))

	// bad.asset is deleted before conversion runs, so its source-file
	// secondary dependency fails the plain existence check; it is a
	// critical secondary dependency of root.manifest.
	tk := h.c.GetTask("root.manifest", true)
	h.c.QueueTask(tk)
	h.p.ProcessTask(1, h.c.GetNextTask())

	if tk.Status() != task.StatusFailed {
		t.Fatalf("expected manifest task to fail when a critical dependency fails, got %s", tk.Status())
	}
}

func TestProcessTaskUpgradeConversionRehashesRewrittenSource(t *testing.T) {
	h := newHarness(t)
	h.c.RegisterConverter(converter.NewInfo("inplace", testconv.InPlaceVersion, converter.UpgradeConversion, testconv.NewInPlace))
	r, _ := rules.Load([]byte(`rule "*.raw" { converter "inplace" }`))
	h.c.RegisterConversionRule(r)

	h.writeSource("a.raw", "hello")

	tk := h.c.GetTask("a.raw", true)
	h.c.QueueTask(tk)
	h.p.ProcessTask(1, h.c.GetNextTask())

	if tk.Status() != task.StatusDone {
		t.Fatalf("expected task to finish DONE, got %s", tk.Status())
	}

	data, err := os.ReadFile(filepath.Join(h.res, "a.raw"))
	if err != nil {
		t.Fatalf("reading rewritten source: %v", err)
	}
	if string(data) != "hello!" {
		t.Fatalf("expected converter to rewrite source in place, got %q", string(data))
	}

	if got := h.c.FileHashes().FileHash(filepath.Join(h.res, "a.raw"), false); got == 0 {
		t.Fatalf("expected a non-zero cached hash for the rewritten source")
	}
}

// TestProcessTaskSecondaryInputEditForcesReconversion exercises the fresh
// build / no-op rebuild / stale secondary rebuild progression described for
// the task processor: the first run converts the manifest once, the no-op
// rebuild does not convert it again, and once the referenced asset file
// changes on disk its recorded secondary-input hash goes stale, which alone
// forces a second conversion even though the manifest's own primary inputs
// never change.
func TestProcessTaskSecondaryInputEditForcesReconversion(t *testing.T) {
	h := newHarness(t)
	h.c.RegisterConverter(converter.NewInfo("manifest", testconv.ManifestVersion, 0, testconv.NewManifest))
	r, _ := rules.Load([]byte(`rule "*.manifest" { converter "manifest" }`))
	h.c.RegisterConversionRule(r)

	h.writeSource("dep.asset", "v1")
	h.writeSource("root.manifest", "dep.asset\n")

	tk := h.c.GetTask("root.manifest", true)
	h.c.QueueTask(tk)
	h.p.ProcessTask(1, h.c.GetNextTask())
	if tk.Status() != task.StatusDone {
		t.Fatalf("expected fresh build to finish DONE, got %s", tk.Status())
	}
	if h.convertCount != 1 {
		t.Fatalf("expected exactly one conversion on the fresh build, got %d", h.convertCount)
	}

	// Re-running with nothing changed must hit the up-to-date fast path:
	// no secondary hash has moved, so the converter must not run again.
	tk.SetStatus(task.StatusNew)
	h.c.QueueTask(tk)
	h.p.ProcessTask(2, h.c.GetNextTask())
	if tk.Status() != task.StatusDone {
		t.Fatalf("expected no-op rebuild to finish DONE, got %s", tk.Status())
	}
	if h.convertCount != 1 {
		t.Fatalf("expected no reconversion when nothing changed, got %d total conversions", h.convertCount)
	}

	// Editing the secondary dependency (not the manifest itself) must still
	// force a reconversion: the recorded secondary hash no longer matches.
	h.writeSource("dep.asset", "v2")
	h.c.FileHashes().Invalidate(filepath.Join(h.res, "dep.asset"))

	tk.SetStatus(task.StatusNew)
	h.c.QueueTask(tk)
	h.p.ProcessTask(3, h.c.GetNextTask())
	if tk.Status() != task.StatusDone {
		t.Fatalf("expected secondary-edit rebuild to finish DONE, got %s", tk.Status())
	}
	if h.convertCount != 2 {
		t.Fatalf("expected a secondary input edit to force exactly one more conversion, got %d total conversions", h.convertCount)
	}
}

func TestSchedulerDrainsQueueAcrossWorkers(t *testing.T) {
	h := newHarness(t)
	h.c.RegisterConverter(converter.NewInfo("uppercase", testconv.UppercaseVersion, 0, testconv.NewUppercase))
	r, _ := rules.Load([]byte(`rule "*.txt" { converter "uppercase" }`))
	h.c.RegisterConversionRule(r)

	for i := 0; i < 5; i++ {
		h.writeSource(filepath.Join("batch", string(rune('a'+i))+".txt"), "x")
	}
	for i := 0; i < 5; i++ {
		rel := filepath.Join("batch", string(rune('a'+i))+".txt")
		tk := h.c.GetTask(rel, true)
		h.c.QueueTask(tk)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sched := NewScheduler(h.p, 3)
	if err := sched.Run(ctx); err != nil && err != context.DeadlineExceeded {
		t.Fatalf("scheduler run: %v", err)
	}

	if len(h.events) != 5 {
		t.Fatalf("expected 5 completed tasks, got %d: %v", len(h.events), h.events)
	}
}
