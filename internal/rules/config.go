// Package rules implements the generic, data-driven conversion rule: a
// hierarchical config (composed by directory overrides) that picks a
// converter and its parameters for a given source path, and can reverse a
// compiled output's filename back into a candidate source path via regex
// substitution.
package rules

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/bmatcuk/doublestar/v4"
)

// entry is one "rule" node's merged fields.
type entry struct {
	pattern         string
	converter       string
	converterParams string
	noConversion    bool
	secondaryOnly   bool
	sourcePattern   string
	sourceFormat    string
}

// dirNode is one directory level of the hierarchical rule tree.
type dirNode struct {
	rules   []entry
	subdirs map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{subdirs: make(map[string]*dirNode)}
}

// loadConfig parses a rules.kdl document into a directory tree. Top-level
// "rule" nodes belong to the root; "directory" nodes recurse, carrying
// their own "rule" children plus nested "directory" children.
func loadConfig(data []byte) (*dirNode, error) {
	doc, err := kdl.Parse(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("rules: parsing config: %w", err)
	}

	root := newDirNode()
	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "rule":
			root.rules = append(root.rules, parseRuleNode(n))
		case "directory":
			name, sub := parseDirectoryNode(n)
			if name != "" {
				root.subdirs[name] = sub
			}
		}
	}
	return root, nil
}

// loadConfigFile reads and parses a rules.kdl file from disk.
func loadConfigFile(path string) (*dirNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: reading %s: %w", path, err)
	}
	return loadConfig(data)
}

func parseDirectoryNode(n *document.Node) (string, *dirNode) {
	name, _ := firstStringArg(n)
	if name == "" {
		return "", nil
	}
	sub := newDirNode()
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "rule":
			sub.rules = append(sub.rules, parseRuleNode(cn))
		case "directory":
			subName, subDir := parseDirectoryNode(cn)
			if subName != "" {
				sub.subdirs[subName] = subDir
			}
		}
	}
	return name, sub
}

func parseRuleNode(n *document.Node) entry {
	e := entry{}
	e.pattern, _ = firstStringArg(n)
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "converter":
			e.converter, _ = firstStringArg(cn)
		case "converter_params":
			e.converterParams, _ = firstStringArg(cn)
		case "no_conversion":
			e.noConversion, _ = firstBoolArg(cn)
		case "secondary_only":
			e.secondaryOnly, _ = firstBoolArg(cn)
		case "source_pattern":
			e.sourcePattern, _ = firstStringArg(cn)
		case "source_format":
			e.sourceFormat, _ = firstStringArg(cn)
		}
	}
	return e
}

// collect walks relPath's directory components from root to leaf,
// returning every matching rule entry ordered nearest-directory-first, so
// a more specific directory override is checked before a shallower one.
func (d *dirNode) collect(relPath string) []entry {
	segments := strings.Split(path.Clean(filepath.ToSlash(relPath)), "/")
	dirs := segments[:len(segments)-1]

	chain := []*dirNode{d}
	cur := d
	for _, seg := range dirs {
		sub, ok := cur.subdirs[seg]
		if !ok {
			break
		}
		chain = append(chain, sub)
		cur = sub
	}

	var out []entry
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].rules...)
	}
	return out
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

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func matchPattern(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
