// Package errors defines the typed error values the asset pipeline core
// distinguishes between, per the error kinds enumerated in the design
// (discovery-invisible, task-stale, cache-miss, cache-corrupt, dependency
// failure, converter runtime error, cycle, unknown converter).
package errors

import (
	"fmt"
	"time"
)

// Kind classifies an error for observers that need to branch on it
// (e.g. the JIT UI, or a test asserting a specific failure mode).
type Kind string

const (
	KindTaskStale        Kind = "task_stale"
	KindCacheMiss        Kind = "cache_miss"
	KindCacheCorrupt     Kind = "cache_corrupt"
	KindDependency       Kind = "dependency_failure"
	KindConverter        Kind = "converter_error"
	KindCycle            Kind = "cycle"
	KindUnknownConverter Kind = "unknown_converter"
	KindConfig           Kind = "config"
)

// TaskStaleError indicates a task's persisted .deps file could not be
// trusted and must be regenerated. It is not fatal to the build.
type TaskStaleError struct {
	SourcePath string
	Reason     string
}

func (e *TaskStaleError) Error() string {
	return fmt.Sprintf("task %s: stale dependency list (%s)", e.SourcePath, e.Reason)
}

// CacheMissError indicates the content-addressable cache was disabled or the
// key was absent; callers proceed with local work.
type CacheMissError struct {
	Path string
	Hash uint64
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf("cache miss for %s (hash %016x)", e.Path, e.Hash)
}

// CacheCorruptError indicates bytes were returned by the cache but the
// post-download hash did not match the requested key.
type CacheCorruptError struct {
	Path         string
	WantHash     uint64
	GotHash      uint64
	CacheAddress string
}

func (e *CacheCorruptError) Error() string {
	return fmt.Sprintf("cache entry %s corrupt: want hash %016x, got %016x (address %s)",
		e.Path, e.WantHash, e.GotHash, e.CacheAddress)
}

// DependencyFailureError wraps a failed dependency, critical or not.
type DependencyFailureError struct {
	SourcePath string
	DepKind    string
	Critical   bool
	Underlying error
}

func (e *DependencyFailureError) Error() string {
	crit := "non-critical"
	if e.Critical {
		crit = "critical"
	}
	return fmt.Sprintf("task %s: %s dependency %s failed: %v", e.SourcePath, crit, e.DepKind, e.Underlying)
}

func (e *DependencyFailureError) Unwrap() error { return e.Underlying }

// ConverterError wraps a converter-reported failure: a false return, a
// captured assertion, or an ERROR/CRITICAL log observed during the call.
type ConverterError struct {
	SourcePath  string
	ConverterID uint64
	Stage       string // "create_dependencies" or "convert"
	Underlying  error
	Timestamp   time.Time
}

func NewConverterError(sourcePath string, converterID uint64, stage string, err error) *ConverterError {
	return &ConverterError{
		SourcePath:  sourcePath,
		ConverterID: converterID,
		Stage:       stage,
		Underlying:  err,
		Timestamp:   time.Now(),
	}
}

func (e *ConverterError) Error() string {
	return fmt.Sprintf("converter %016x failed during %s for %s: %v", e.ConverterID, e.Stage, e.SourcePath, e.Underlying)
}

func (e *ConverterError) Unwrap() error { return e.Underlying }

// CycleError records a detected dependency cycle. Cycles are not themselves
// fatal to the outer task; they are logged and the cyclic edge is treated as
// satisfied so the scheduler can make progress.
type CycleError struct {
	SourcePath string
	ThreadID   uint64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency involving %s on thread %d", e.SourcePath, e.ThreadID)
}

// UnknownConverterError indicates a task was created for a source path whose
// conversion rule could not resolve a converter; the task is pre-marked
// FAILED and no conversion is attempted.
type UnknownConverterError struct {
	SourcePath string
}

func (e *UnknownConverterError) Error() string {
	return fmt.Sprintf("no converter registered for %s", e.SourcePath)
}

// ConfigError wraps a configuration-loading or validation failure.
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
}

func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Underlying: err}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %q): %v", e.Field, e.Value, e.Underlying)
}

func (e *ConfigError) Unwrap() error { return e.Underlying }

// MultiError aggregates multiple errors, e.g. the per-thread error/warning
// flags collected at the end of a compiler run.
type MultiError struct {
	Errors []error
}

func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
	}
}

func (e *MultiError) Unwrap() []error { return e.Errors }
