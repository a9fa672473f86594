// Package converter defines the plug-in contract every asset converter
// implements, and the narrow Compiler surface a converter is allowed to
// call back into. Concrete converters (texture, shader, mesh, ...) are
// out of scope here; this package only fixes the interface real plug-ins
// bind to and the in-tree test converter used by package tests.
package converter

import (
	"github.com/v2v3v4/bw-asset-pipeline/internal/dependency"
	"github.com/v2v3v4/bw-asset-pipeline/internal/hashutil"
)

// Flags is a bitmask of ConverterInfo capability flags.
type Flags uint8

const (
	// ThreadSafe converters may run concurrently with other thread-safe
	// converters; see the ConverterGuard (internal/compiler).
	ThreadSafe Flags = 1 << iota
	// CacheDependencies uploads the dependency list to the
	// content-addressable cache under the primary-only input hash after
	// create_dependencies succeeds.
	CacheDependencies
	// CacheConversion uploads each produced output, and the complete
	// dependency list under the combined-input hash, after a successful
	// convert.
	CacheConversion
	// UpgradeConversion converters rewrite their own source file in place;
	// the task processor releases its read handle on the source before
	// calling Convert.
	UpgradeConversion
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Info is the process-lifetime registration record for one converter kind.
// TypeID is the FNV-1a hash of Name, matching the hash service's
// contractual algorithm so typeIds are stable across processes and runs.
type Info struct {
	Name    string
	TypeID  uint64
	Version string
	Flags   Flags
	New     func() Converter
}

// NewInfo builds an Info record, deriving TypeID from name via the
// pipeline's FNV-1a hash.
func NewInfo(name, version string, flags Flags, factory func() Converter) Info {
	return Info{
		Name:    name,
		TypeID:  hashutil.String(name),
		Version: version,
		Flags:   flags,
		New:     factory,
	}
}

// Output is one file a converter reports having written, in either the
// intermediate or final output vector.
type Output struct {
	Path string
	Hash uint64
}

// Converter is a stateful instance created fresh for one conversion
// attempt and discarded afterward. Implementations must only observe the
// filesystem through Compiler and must record every secondary dependency
// they read via Compiler.EnsureUpToDate or the dependency-list append
// methods, never by touching the list directly.
type Converter interface {
	// CreateDependencies may only call Compiler methods; it must leave
	// every secondary input it reads recorded in deps via
	// deps.AddSecondaryInput. Returning an error fails the owning task.
	CreateDependencies(sourcePath string, compiler Compiler, deps *dependency.List) error

	// Convert writes the converted bytes and returns the intermediate and
	// final outputs it produced, in that order. Returning an error fails
	// the owning task.
	Convert(sourcePath string, compiler Compiler) (intermediate, final []Output, err error)
}

// Compiler is the subset of the compiler host a converter is allowed to
// call back into. The concrete implementation lives in internal/compiler;
// defining the interface here (at the consumer) keeps converters
// decoupled from the host's internals.
type Compiler interface {
	// EnsureUpToDate resolves dep to either "already satisfied" or a
	// sub-task the scheduler must finish first.
	EnsureUpToDate(dep dependency.Dependency) (ready bool, subTaskSourcePath string)

	GetSourceFile(path string) (string, bool)
	GetHash(dep dependency.Dependency) uint64
	GetFileHash(path string, force bool) uint64
	GetDirectoryHash(dir, pattern string, isRegex, recursive bool) uint64

	SetError(msg string)
	SetWarning(msg string)
	HasError() bool
	HasWarning() bool

	ResolveSourcePath(path string) string
	ResolveIntermediatePath(path string) string
	ResolveOutputPath(path string) string

	ForceRebuild() bool
}
