// Package debug provides structured, category-tagged logging for the asset
// pipeline core. Output is suppressed unless debug mode is enabled, either at
// build time or via the DEBUG environment variable.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EnableDebug is a build flag that can be overridden at build time, e.g.
// go build -ldflags "-X .../internal/debug.EnableDebug=true"
var EnableDebug = "false"

var (
	debugOutput io.Writer
	debugFile   *os.File
	debugMutex  sync.Mutex
)

// SetDebugOutput sets a custom writer for debug output. Pass nil to disable.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile initializes debug logging to a timestamped file under the
// OS temp directory and returns its path.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "assetpipe-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

// IsDebugEnabled reports whether debug output should be produced.
func IsDebugEnabled() bool {
	if EnableDebug == "true" {
		return true
	}
	if v := os.Getenv("DEBUG"); v == "1" || v == "true" {
		return true
	}
	return false
}

func getDebugWriter() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return debugOutput
}

// Log writes a category-tagged debug line, e.g. Log("Cache", "miss for %s", path).
func Log(category, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG:%s] "+format+"\n", append([]interface{}{category}, args...)...)
}

// LogCompiler logs compiler-host lifecycle events (task start/resume/suspend/complete).
func LogCompiler(format string, args ...interface{}) { Log("AssetPipeline", format, args...) }

// LogDiscovery logs discovery-worker tree-walking events.
func LogDiscovery(format string, args ...interface{}) { Log("Discovery", format, args...) }

// LogCache logs content-addressable cache reads/writes/misses.
func LogCache(format string, args ...interface{}) { Log("Cache", format, args...) }

// LogConverterGuard logs converter-guard lock acquisition/contention.
func LogConverterGuard(format string, args ...interface{}) { Log("ConverterGuard", format, args...) }

// LogAssetPipe logs AssetServer/AssetClient pipe protocol traffic.
func LogAssetPipe(format string, args ...interface{}) { Log("AssetPipe", format, args...) }

// LogWatch logs file-system watcher and reverse-dependency requeue events.
func LogWatch(format string, args ...interface{}) { Log("Watch", format, args...) }
