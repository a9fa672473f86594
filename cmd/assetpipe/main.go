// Command assetpipe is the compiler CLI of spec §6.3: by default a
// one-shot batch builder that discovers and converts every asset under
// the configured resource roots then exits; with --daemon/-d it instead
// runs the JIT frontend (fsnotify watcher plus AssetServer pipe) until
// signaled to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/v2v3v4/bw-asset-pipeline/internal/assetpipe"
	"github.com/v2v3v4/bw-asset-pipeline/internal/compiler"
	"github.com/v2v3v4/bw-asset-pipeline/internal/config"
	"github.com/v2v3v4/bw-asset-pipeline/internal/debug"
	"github.com/v2v3v4/bw-asset-pipeline/internal/discovery"
	"github.com/v2v3v4/bw-asset-pipeline/internal/pluginhost"
	"github.com/v2v3v4/bw-asset-pipeline/internal/processor"
	"github.com/v2v3v4/bw-asset-pipeline/internal/rules"
	"github.com/v2v3v4/bw-asset-pipeline/internal/task"
	"github.com/v2v3v4/bw-asset-pipeline/internal/version"
	"github.com/v2v3v4/bw-asset-pipeline/internal/watch"
)

// pluginFlag is not one of spec §6.3's options (the core itself ignores
// it); it is this frontend's own way of loading converter plug-ins (spec
// §6.4), which the core specifies as a contract but never as a CLI flag.
var pluginFlag = &cli.StringSliceFlag{
	Name:  "plugin",
	Usage: "Path to a converter plug-in shared object (repeatable)",
}

func main() {
	app := &cli.App{
		Name:                   "assetpipe",
		Usage:                  "Dependency-driven asset conversion pipeline",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags:                  append(config.Flags(), pluginFlag),
		Action:                 run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Daemon {
		return runDaemon(ctx, c, cfg)
	}
	return runBatch(ctx, c, cfg)
}

// newCompilerConfig translates the CLI-layer config into the compiler
// package's own Config, enabling the cache whenever a cache path was
// configured.
func newCompilerConfig(cfg config.Config) compiler.Config {
	return compiler.Config{
		ResRoots:          cfg.ResRoots,
		IntermediatePath:  cfg.IntermediatePath,
		OutputPath:        cfg.OutputPath,
		CachePath:         cfg.CachePath,
		CacheReadEnabled:  cfg.CachePath != "",
		CacheWriteEnabled: cfg.CachePath != "",
		NumThreads:        cfg.NumThreads,
		Recursive:         cfg.Recursive,
		ForceRebuild:      cfg.ForceRebuild,
	}
}

// loggingHooks wires every compiler lifecycle event to the AssetPipeline
// debug category; onCompleted, if non-nil, fires after the debug log line
// for every other OnTaskCompleted observer (the daemon frontend uses it to
// index the reverse-dependency map and broadcast completions).
func loggingHooks(onCompleted func(*task.Task)) compiler.Hooks {
	return compiler.Hooks{
		OnTaskStarted:   func(t *task.Task) { debug.LogCompiler("started %s", t.SourcePath()) },
		OnTaskSuspended: func(t *task.Task) { debug.LogCompiler("suspended %s", t.SourcePath()) },
		OnTaskResumed:   func(t *task.Task) { debug.LogCompiler("resumed %s", t.SourcePath()) },
		OnTaskCompleted: func(t *task.Task) {
			debug.LogCompiler("completed %s: %s", t.SourcePath(), t.Status())
			if onCompleted != nil {
				onCompleted(t)
			}
		},
		OnOutputGenerated: func(path string) { debug.LogCompiler("output generated: %s", path) },
	}
}

// registerRules attaches the generic conversion rule from rules.kdl beside
// the --config directory's .assetpipe.kdl file, if present. A project with
// no rules.kdl still runs: discovery finds no rule claiming any file and
// queues nothing, while a path looked up outside discovery is interned as
// an unknown-converter task per spec §7 kind 9.
func registerRules(comp *compiler.Compiler, configDir string) error {
	rulesPath := filepath.Join(configDir, "rules.kdl")
	if _, err := os.Stat(rulesPath); err != nil {
		return nil
	}
	rule, err := rules.LoadFile(rulesPath)
	if err != nil {
		return fmt.Errorf("assetpipe: loading %s: %w", rulesPath, err)
	}
	comp.RegisterConversionRule(rule)
	return nil
}

// loadPlugins opens every --plugin shared object against comp's registrar
// surface. The returned Host's Close must be called (in reverse load
// order, calling each plug-in's PluginFini) before the process exits.
func loadPlugins(c *cli.Context, comp *compiler.Compiler) (*pluginhost.Host, error) {
	host := pluginhost.New()
	for _, path := range c.StringSlice("plugin") {
		if err := host.Load(path, comp); err != nil {
			return nil, fmt.Errorf("assetpipe: loading plug-in %s: %w", path, err)
		}
	}
	return host, nil
}

func configDir(c *cli.Context) (string, error) {
	abs, err := filepath.Abs(c.String("config"))
	if err != nil {
		return "", fmt.Errorf("assetpipe: resolving --config %q: %w", c.String("config"), err)
	}
	return abs, nil
}

// runBatch is the fixed-input-list frontend: discover once, drain the
// queue once, report a summary, and exit.
func runBatch(ctx context.Context, c *cli.Context, cfg config.Config) error {
	comp := compiler.New(newCompilerConfig(cfg), loggingHooks(nil))

	dir, err := configDir(c)
	if err != nil {
		return err
	}
	if err := registerRules(comp, dir); err != nil {
		return err
	}

	plugins, err := loadPlugins(c, comp)
	if err != nil {
		return err
	}
	defer plugins.Close()

	stats, err := discovery.New(comp).Run(cfg.ResRoots)
	if err != nil {
		return fmt.Errorf("assetpipe: discovery: %w", err)
	}
	debug.LogCompiler("discovery considered %d files, queued %d tasks", stats.FilesConsidered, stats.TasksQueued)

	if err := processor.New(comp).Run(ctx, cfg.NumThreads); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("assetpipe: processing: %w", err)
	}

	printSummary(comp)
	return nil
}

// runDaemon is the JIT frontend: an fsnotify watcher keeps the reverse
// dependency map current and re-queues tasks on change, an AssetServer
// answers asset requests and lock/unlock snapshots from running clients,
// and the processor runs indefinitely until ctx is canceled.
func runDaemon(ctx context.Context, c *cli.Context, cfg config.Config) error {
	rmap := watch.NewReverseMap()

	executable := cfg.ServerExecutable
	if executable == "" {
		if exe, err := os.Executable(); err == nil {
			executable = exe
		}
	}
	addr := assetpipe.NewAddr(executable)

	// srv is forward-declared and captured by the compiler's
	// OnTaskCompleted hook: the server itself needs comp to answer asset
	// requests, so it can only be constructed after comp is, but comp's
	// hooks need to broadcast through srv. By the time a task actually
	// completes, srv has been assigned below.
	var srv *assetpipe.Server
	comp := compiler.New(newCompilerConfig(cfg), compiler.Hooks{
		OnTaskStarted:   func(t *task.Task) { debug.LogCompiler("started %s", t.SourcePath()) },
		OnTaskSuspended: func(t *task.Task) { debug.LogCompiler("suspended %s", t.SourcePath()) },
		OnTaskResumed:   func(t *task.Task) { debug.LogCompiler("resumed %s", t.SourcePath()) },
		OnTaskCompleted: func(t *task.Task) {
			debug.LogCompiler("completed %s: %s", t.SourcePath(), t.Status())
			rmap.Record(t)
			if t.Status() == task.StatusDone && srv != nil {
				srv.Broadcast(t.SourcePath())
			}
		},
		OnOutputGenerated: func(path string) { debug.LogCompiler("output generated: %s", path) },
	})

	dir, err := configDir(c)
	if err != nil {
		return err
	}
	if err := registerRules(comp, dir); err != nil {
		return err
	}

	plugins, err := loadPlugins(c, comp)
	if err != nil {
		return err
	}
	defer plugins.Close()

	srv = assetpipe.NewServer(addr, assetpipe.Hooks{
		OnLock:   comp.Semaphore().Pause,
		OnUnlock: comp.Semaphore().Resume,
		OnAssetRequested: func(assetPath string) {
			// rootOnly=false: an explicit client request always gets a
			// task, even one pre-marked failed with an unknown converter,
			// rather than being silently dropped the way an unclaimed
			// path during a discovery tree walk is.
			t := comp.GetTask(assetPath, false)
			comp.RequestTask(t)
		},
	})

	w := watch.NewWatcher(comp, rmap, cfg.ResRoots)
	if err := w.Start(); err != nil {
		return fmt.Errorf("assetpipe: starting watcher: %w", err)
	}
	defer w.Stop()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("assetpipe: starting server: %w", err)
	}
	defer srv.Stop()

	stats, err := discovery.New(comp).Run(cfg.ResRoots)
	if err != nil {
		return fmt.Errorf("assetpipe: discovery: %w", err)
	}
	debug.LogCompiler("discovery considered %d files, queued %d tasks", stats.FilesConsidered, stats.TasksQueued)

	err = processor.New(comp).RunDaemon(ctx, cfg.NumThreads)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printSummary(comp *compiler.Compiler) {
	var done, failed int
	for _, t := range comp.Tasks().All() {
		switch t.Status() {
		case task.StatusDone:
			done++
		case task.StatusFailed:
			failed++
			fmt.Printf("FAILED %s\n", t.SourcePath())
		}
	}
	fmt.Printf("assetpipe: %d done, %d failed\n", done, failed)
}

// signalContext returns a context canceled on SIGINT/SIGTERM, matching the
// teacher's graceful-shutdown pattern in cmd/lci/main.go's mcpCommand.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			debug.LogCompiler("received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		cancel()
		signal.Stop(sigCh)
	}
}
