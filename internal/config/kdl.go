package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadFile attempts to load a .assetpipe.kdl file from dir. A missing file
// is not an error: it yields the default Config so a bare CLI invocation
// with only flags still works, the same contract as the teacher's
// LoadKDL("no KDL config found, use defaults").
func LoadFile(dir string) (Config, error) {
	path := filepath.Join(dir, ".assetpipe.kdl")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg, err := parseKDL(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.resolvePaths(dir)
	return cfg, nil
}

func parseKDL(data []byte) (Config, error) {
	cfg := Default()

	doc, err := kdl.Parse(strings.NewReader(string(data)))
	if err != nil {
		return cfg, err
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "res":
			cfg.ResRoots = append(cfg.ResRoots, collectStringArgs(n)...)
		case "intermediatePath":
			if s, ok := firstStringArg(n); ok {
				cfg.IntermediatePath = s
			}
		case "outputPath":
			if s, ok := firstStringArg(n); ok {
				cfg.OutputPath = s
			}
		case "cachePath":
			if s, ok := firstStringArg(n); ok {
				cfg.CachePath = s
			}
		case "numThreads":
			if v, ok := firstIntArg(n); ok {
				cfg.NumThreads = v
			}
		case "recursive":
			if b, ok := firstBoolArg(n); ok {
				cfg.Recursive = b
			}
		case "forceRebuild":
			if b, ok := firstBoolArg(n); ok {
				cfg.ForceRebuild = b
			}
		case "daemon":
			if b, ok := firstBoolArg(n); ok {
				cfg.Daemon = b
			}
		case "server":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "executable":
					if s, ok := firstStringArg(cn); ok {
						cfg.ServerExecutable = s
					}
				case "args":
					cfg.ServerArgs = collectStringArgs(cn)
				}
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
