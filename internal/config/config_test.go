package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestLoadFileMissingKDLYieldsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFile(dir)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.NumThreads != 1 {
		t.Fatalf("expected default NumThreads=1, got %d", cfg.NumThreads)
	}
	if len(cfg.ResRoots) != 0 {
		t.Fatalf("expected no resource roots by default, got %v", cfg.ResRoots)
	}
}

func TestLoadFileParsesKDLAndResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	kdl := `
res "assets"
intermediatePath "build/intermediate"
outputPath "build/output"
numThreads 4
recursive true
server {
    executable "assetserverd"
    args "--quiet"
}
`
	if err := os.WriteFile(filepath.Join(dir, ".assetpipe.kdl"), []byte(kdl), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(dir)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	wantRes := filepath.Join(dir, "assets")
	if len(cfg.ResRoots) != 1 || cfg.ResRoots[0] != wantRes {
		t.Fatalf("expected resolved res root %q, got %v", wantRes, cfg.ResRoots)
	}
	if cfg.IntermediatePath != filepath.Join(dir, "build/intermediate") {
		t.Fatalf("unexpected intermediate path: %s", cfg.IntermediatePath)
	}
	if cfg.NumThreads != 4 {
		t.Fatalf("expected numThreads=4, got %d", cfg.NumThreads)
	}
	if !cfg.Recursive {
		t.Fatal("expected recursive=true")
	}
	if cfg.ServerExecutable != "assetserverd" || len(cfg.ServerArgs) != 1 || cfg.ServerArgs[0] != "--quiet" {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a config with no resource roots")
	}

	cfg.ResRoots = []string{"res"}
	cfg.IntermediatePath = "intermediate"
	cfg.OutputPath = "output"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a fully-populated config to validate, got %v", err)
	}
}

func TestFromContextFlagsOverrideKDLDefaults(t *testing.T) {
	dir := t.TempDir()
	kdl := `
res "assets"
intermediatePath "intermediate"
outputPath "output"
numThreads 2
`
	if err := os.WriteFile(filepath.Join(dir, ".assetpipe.kdl"), []byte(kdl), 0644); err != nil {
		t.Fatal(err)
	}

	var got Config
	app := &cli.App{
		Flags: Flags(),
		Action: func(c *cli.Context) error {
			var err error
			got, err = FromContext(c)
			return err
		},
	}

	if err := app.Run([]string{"assetpipe", "--config", dir, "-j", "8"}); err != nil {
		t.Fatalf("app.Run: %v", err)
	}

	if got.NumThreads != 8 {
		t.Fatalf("expected -j to override KDL numThreads, got %d", got.NumThreads)
	}
	if got.IntermediatePath != filepath.Join(dir, "intermediate") {
		t.Fatalf("unexpected intermediate path: %s", got.IntermediatePath)
	}
}
