package rules

import (
	"path/filepath"
	"regexp"
	"sort"

	"github.com/hbollon/go-edlib"
)

// Resolved is the merged outcome of walking the rule tree for one source
// path: either "do not convert this file", or a converter name plus the
// literal parameter string to pass it.
type Resolved struct {
	NoConversion    bool
	ConverterName   string
	ConverterParams string
}

// ConverterLookup resolves a rule's converter name to the registered
// converter's (typeId, version), so the caller can build the mandatory
// primary-input triple. Implemented by internal/compiler's registry.
type ConverterLookup interface {
	Lookup(name string) (typeID uint64, version string, ok bool)
}

// GenericConversionRule is the data-driven rule described in the design:
// it loads a hierarchical rules.kdl file, composed by directory overrides,
// and uses it both to pick a converter for a source path and to reverse
// an output filename back into a candidate source path.
type GenericConversionRule struct {
	root *dirNode
}

// LoadFile constructs a GenericConversionRule from a rules.kdl file path.
func LoadFile(path string) (*GenericConversionRule, error) {
	root, err := loadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return &GenericConversionRule{root: root}, nil
}

// Load constructs a GenericConversionRule directly from KDL source bytes,
// used by tests that don't want a file on disk.
func Load(data []byte) (*GenericConversionRule, error) {
	root, err := loadConfig(data)
	if err != nil {
		return nil, err
	}
	return &GenericConversionRule{root: root}, nil
}

// Resolve walks the rule chain for relPath, nearest-directory-first, and
// returns the first pattern match. ok is false if no rule claims the path.
func (r *GenericConversionRule) Resolve(relPath string) (Resolved, bool) {
	name := filepath.Base(relPath)
	for _, e := range r.root.collect(relPath) {
		if !matchPattern(e.pattern, name) {
			continue
		}
		return Resolved{
			NoConversion:    e.noConversion,
			ConverterName:   e.converter,
			ConverterParams: e.converterParams,
		}, true
	}
	return Resolved{}, false
}

// ResolveRoot is Resolve restricted to rules not marked secondary_only,
// used by discovery when creating root tasks so rules meant only to
// recognize dependency-discovered secondary files don't spuriously claim
// files during a tree walk.
func (r *GenericConversionRule) ResolveRoot(relPath string) (Resolved, bool) {
	name := filepath.Base(relPath)
	for _, e := range r.root.collect(relPath) {
		if e.secondaryOnly {
			continue
		}
		if !matchPattern(e.pattern, name) {
			continue
		}
		return Resolved{
			NoConversion:    e.noConversion,
			ConverterName:   e.converter,
			ConverterParams: e.converterParams,
		}, true
	}
	return Resolved{}, false
}

// ReverseLookup substitutes outputRelPath through every rule carrying a
// sourcePattern/sourceFormat pair, collecting candidate source filenames.
// The first candidate that exists on disk (checked via exists) wins. If
// none exist, candidates are ranked by Levenshtein similarity to
// outputRelPath and the closest match wins; ties resolve to the last
// matching rule, mirroring the documented "else take the last matching
// name" fallback.
func (r *GenericConversionRule) ReverseLookup(outputRelPath string, exists func(string) bool) (string, bool) {
	type candidate struct {
		path string
	}
	var candidates []candidate

	for _, e := range allEntries(r.root) {
		if e.sourcePattern == "" || e.sourceFormat == "" {
			continue
		}
		re, err := regexp.Compile(e.sourcePattern)
		if err != nil || !re.MatchString(outputRelPath) {
			continue
		}
		candidatePath := re.ReplaceAllString(outputRelPath, e.sourceFormat)
		candidates = append(candidates, candidate{path: candidatePath})
	}

	if len(candidates) == 0 {
		return "", false
	}

	for _, c := range candidates {
		if exists(c.path) {
			return c.path, true
		}
	}

	// Stable ascending sort so the highest-similarity candidate ends up
	// last, and among equal-similarity candidates the one that appeared
	// last in rule order (the documented fallback) still wins.
	sort.SliceStable(candidates, func(i, j int) bool {
		simI, _ := edlib.StringsSimilarity(candidates[i].path, outputRelPath, edlib.Levenshtein)
		simJ, _ := edlib.StringsSimilarity(candidates[j].path, outputRelPath, edlib.Levenshtein)
		return simI < simJ
	})
	return candidates[len(candidates)-1].path, true
}

func allEntries(d *dirNode) []entry {
	out := append([]entry(nil), d.rules...)
	for _, sub := range d.subdirs {
		out = append(out, allEntries(sub)...)
	}
	return out
}
