// Package assetpipe implements the AssetServer/AssetClient pipe protocol of
// spec §6.2: a lazily-launched background process that brokers asset
// conversion requests over a local IPC channel, with a lock/unlock
// handshake that pauses the compiler for a consistent snapshot.
//
// The original engine names its pipe after the server executable's path
// and talks to it over a Windows named pipe guarded by two named mutexes.
// This repo targets Linux, so the channel is realized as a Unix domain
// socket (grounded on the teacher's internal/server/server.go and
// client.go, which make the same substitution for their own HTTP
// transport) and the two named mutexes (`Command`, `Process`) are realized
// as flock-style advisory file locks beside the socket, since Go has no
// portable named-mutex primitive.
package assetpipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// identity computes the 16-hex-digit pipe id from a server executable
// path: normalized (absolute, case already canonical on Linux), extension
// stripped, hashed with xxhash — a fast, non-contractual hash, distinct
// from the FNV-1a hashutil package used for dependency-list hashing.
func identity(executablePath string) string {
	abs, err := filepath.Abs(executablePath)
	if err != nil {
		abs = executablePath
	}
	abs = strings.TrimSuffix(abs, filepath.Ext(abs))
	sum := xxhash.Sum64String(abs)
	return fmt.Sprintf("%016x", sum)
}

// Addr bundles the socket path and the two advisory lock file paths derived
// from a server executable's identity.
type Addr struct {
	ID         string
	SocketPath string
	CommandLockPath string
	ProcessLockPath string
}

// NewAddr derives an Addr from executablePath, rooted under the OS temp
// directory the way the teacher's GetSocketPath derives a per-project
// socket name under os.TempDir().
func NewAddr(executablePath string) Addr {
	id := identity(executablePath)
	base := filepath.Join(os.TempDir(), "AssetPipeline"+id)
	return Addr{
		ID:              id,
		SocketPath:      base + ".sock",
		CommandLockPath: base + ".command.lock",
		ProcessLockPath: base + ".process.lock",
	}
}
