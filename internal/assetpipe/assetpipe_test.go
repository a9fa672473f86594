package assetpipe

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testAddr(t *testing.T) Addr {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "testpipe")
	return Addr{
		ID:              "test",
		SocketPath:      base + ".sock",
		CommandLockPath: base + ".command.lock",
		ProcessLockPath: base + ".process.lock",
	}
}

func TestIdentityIsStableAndStripsExtension(t *testing.T) {
	a := identity("/usr/bin/assetpipe.exe")
	b := identity("/usr/bin/assetpipe")
	if a != b {
		t.Fatalf("identity should ignore extension: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex digits, got %q", a)
	}
}

func TestServerEchoesCommandAndDeliversAssetRequest(t *testing.T) {
	addr := testAddr(t)

	var mu sync.Mutex
	var requested []string
	lockCalls, unlockCalls := 0, 0

	srv := NewServer(addr, Hooks{
		OnAssetRequested: func(path string) {
			mu.Lock()
			requested = append(requested, path)
			mu.Unlock()
		},
		OnLock:   func() { lockCalls++ },
		OnUnlock: func() { unlockCalls++ },
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	client := NewClient(addr, ClientConfig{Timeout: 2 * time.Second}, nil)
	defer client.Close()

	if err := client.RequestAsset("models/hero.model", false); err != nil {
		t.Fatalf("RequestAsset: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(requested)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never observed the asset request")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := client.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if lockCalls != 1 {
		t.Fatalf("expected exactly one OnLock call, got %d", lockCalls)
	}

	if err := client.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if unlockCalls != 1 {
		t.Fatalf("expected exactly one OnUnlock call, got %d", unlockCalls)
	}
}

func TestClientRequestAssetWaitResolvesOnBroadcast(t *testing.T) {
	addr := testAddr(t)
	var srv *Server
	srv = NewServer(addr, Hooks{
		OnAssetRequested: func(path string) {
			// Simulate a build completing shortly after the request.
			go func() {
				time.Sleep(20 * time.Millisecond)
				srv.Broadcast(path)
			}()
		},
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	client := NewClient(addr, ClientConfig{Timeout: 2 * time.Second}, nil)
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- client.RequestAsset("textures/wall.texture", true) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RequestAsset(wait=true): %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast to resolve the waiter")
	}
}

func TestClientLaunchesServerWhenNotRunning(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available to use as a stand-in launch target")
	}

	addr := testAddr(t)
	srv := NewServer(addr, Hooks{})

	// The client is configured to "launch" a no-op shell; the real
	// server is started directly afterward by the test to simulate a
	// slow-starting daemon the client must poll for.
	client := NewClient(addr, ClientConfig{
		Executable: "/bin/sh",
		Args:       []string{"-c", "true"},
		Timeout:    2 * time.Second,
	}, nil)
	defer client.Close()

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = srv.Start()
	}()
	defer srv.Stop()

	if err := client.Connect(); err != nil {
		t.Fatalf("expected Connect to succeed once the server starts, got: %v", err)
	}
}
