package assetpipe

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/v2v3v4/bw-asset-pipeline/internal/debug"
)

// DefaultTimeout is ASSET_PIPE_TIMEOUT from spec §5: how long Connect waits
// for a freshly-launched server to start accepting connections before
// giving up.
const DefaultTimeout = 10 * time.Second

// ClientConfig describes how to reach and, if necessary, launch the asset
// server this client talks to.
type ClientConfig struct {
	Executable string
	Args       []string
	Timeout    time.Duration
}

func (c ClientConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// ackWaiter is a ref-counted event: every caller waiting on the same
// in-flight request (or the same lock/unlock round-trip) shares one
// channel, closed exactly once when the result arrives.
type ackWaiter struct {
	refs int
	ch   chan struct{}
}

// Client is the AssetClient side of the pipe protocol (spec §4.12, §6.2):
// it lazily connects to the server's Unix domain socket, launching the
// server once on a "not found" failure and retrying until Timeout, then
// maintains a single-writer send queue and a map of in-flight requests to
// ref-counted completion events so concurrent callers waiting on the same
// asset share one wakeup.
type Client struct {
	addr Addr
	cfg  ClientConfig

	onBroadcast func(assetPath string)

	mu       sync.Mutex
	conn     net.Conn
	waiters  map[string]*ackWaiter
	pending  []string // requests sent but not yet acked, for resend on reconnect
	writes   chan []byte
	readDone chan struct{}
}

// NewClient returns a Client bound to addr. onBroadcast, if non-nil, is
// invoked for every unsolicited completed-build notification the server
// sends (including ones for assets nobody on this client is waiting on).
func NewClient(addr Addr, cfg ClientConfig, onBroadcast func(assetPath string)) *Client {
	return &Client{
		addr:        addr,
		cfg:         cfg,
		onBroadcast: onBroadcast,
		waiters:     make(map[string]*ackWaiter),
	}
}

// Connect establishes the underlying connection, launching the server if
// it isn't already listening. It is safe to call when already connected
// (a no-op) and is called implicitly by RequestAsset/Lock/Unlock.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.conn != nil {
		return nil
	}

	conn, err := net.Dial("unix", c.addr.SocketPath)
	if err == nil {
		c.conn = conn
		c.writes = make(chan []byte, 64)
		c.readDone = make(chan struct{})
		go c.writeLoop(conn, c.writes)
		go c.readLoop(conn, c.readDone)
		return nil
	}

	// Any dial failure (missing socket file, connection refused against a
	// stale one) is read as "not found": launch the server and retry.
	if err := c.ensureServerRunning(); err != nil {
		return err
	}

	conn, err = c.waitForReady(c.cfg.timeout())
	if err != nil {
		return err
	}
	c.conn = conn
	c.writes = make(chan []byte, 64)
	c.readDone = make(chan struct{})
	go c.writeLoop(conn, c.writes)
	go c.readLoop(conn, c.readDone)
	return nil
}

// ensureServerRunning launches the configured server executable, detached,
// guarded by the Process advisory lock so two racing clients don't both
// spawn one — grounded on the teacher's cmd/lci/main_server.go
// ensureServerRunning, which checks IsServerRunning, then Starts+Releases
// a detached child process.
func (c *Client) ensureServerRunning() error {
	procLock, err := openNamedMutex(c.addr.ProcessLockPath)
	if err != nil {
		return fmt.Errorf("assetpipe: opening process lock: %w", err)
	}
	defer procLock.Close()

	if err := procLock.Lock(); err != nil {
		return fmt.Errorf("assetpipe: acquiring process lock: %w", err)
	}
	defer procLock.Unlock()

	if conn, err := net.Dial("unix", c.addr.SocketPath); err == nil {
		conn.Close()
		return nil
	}

	if c.cfg.Executable == "" {
		return fmt.Errorf("assetpipe: server not running and no executable configured")
	}

	cmd := exec.Command(c.cfg.Executable, c.cfg.Args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("assetpipe: launching server: %w", err)
	}
	debug.LogAssetPipe("launched server pid %d", cmd.Process.Pid)
	return cmd.Process.Release()
}

// waitForReady polls Dial until it succeeds or timeout elapses.
func (c *Client) waitForReady(timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if conn, err := net.Dial("unix", c.addr.SocketPath); err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("assetpipe: server did not become ready within %s", timeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) writeLoop(conn net.Conn, writes chan []byte) {
	for msg := range writes {
		if _, err := conn.Write(msg); err != nil {
			debug.LogAssetPipe("write error, will reconnect: %v", err)
			c.handleDisconnect(conn)
			return
		}
	}
}

func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	fr := newFrameReader(conn)
	for {
		msg, err := fr.ReadMessage()
		if err != nil {
			debug.LogAssetPipe("read error, will reconnect: %v", err)
			c.handleDisconnect(conn)
			return
		}
		c.dispatch(msg)
	}
}

// dispatch routes an incoming message: a command echo acks the matching
// lock/unlock waiter, anything else is a completed-build broadcast that
// resolves a matching in-flight asset waiter (if any) and is always
// forwarded to onBroadcast.
func (c *Client) dispatch(msg string) {
	c.mu.Lock()
	w, ok := c.waiters[msg]
	if ok {
		delete(c.waiters, msg)
		removePending(&c.pending, msg)
	}
	c.mu.Unlock()

	if ok {
		close(w.ch)
	}
	if !isCommand(msg) && c.onBroadcast != nil {
		c.onBroadcast(msg)
	}
}

// handleDisconnect drops the stale connection and clears it so the next
// call reconnects; pending requests are resent once reconnected, per
// spec §4.12's "pending requests are re-sent".
func (c *Client) handleDisconnect(stale net.Conn) {
	c.mu.Lock()
	if c.conn != stale {
		c.mu.Unlock()
		return
	}
	stale.Close()
	pending := append([]string(nil), c.pending...)
	c.conn = nil
	c.mu.Unlock()

	for _, msg := range pending {
		_ = c.send(msg, false)
	}
}

func removePending(pending *[]string, msg string) {
	out := (*pending)[:0]
	for _, p := range *pending {
		if p != msg {
			out = append(out, p)
		}
	}
	*pending = out
}

// send writes msg to the connection, connecting (and launching the server)
// first if necessary. track registers msg in the pending-resend list.
func (c *Client) send(msg string, track bool) error {
	c.mu.Lock()
	if err := c.connectLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if track {
		c.pending = append(c.pending, msg)
	}
	writes := c.writes
	c.mu.Unlock()

	writes <- encodeMessage(msg)
	return nil
}

// RequestAsset asks the server to build assetPath. When wait is false it
// returns as soon as the request is sent. When wait is true it blocks
// until the server broadcasts that asset's completion, sharing a single
// wait event with any other concurrent caller requesting the same path.
func (c *Client) RequestAsset(assetPath string, wait bool) error {
	if !wait {
		return c.send(assetPath, false)
	}

	c.mu.Lock()
	w, ok := c.waiters[assetPath]
	if !ok {
		w = &ackWaiter{ch: make(chan struct{})}
		c.waiters[assetPath] = w
	}
	w.refs++
	c.mu.Unlock()

	if err := c.send(assetPath, true); err != nil {
		c.releaseWaiter(assetPath, w)
		return err
	}

	<-w.ch
	return nil
}

func (c *Client) releaseWaiter(key string, w *ackWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.refs--
	if w.refs <= 0 {
		if c.waiters[key] == w {
			delete(c.waiters, key)
		}
	}
}

// Lock sends :LOCK and blocks until the server acknowledges it, pausing
// server-side processing for the duration of a consistent snapshot.
func (c *Client) Lock() error {
	return c.sendCommand(lockCommand)
}

// Unlock sends :UNLOCK and blocks until acknowledged.
func (c *Client) Unlock() error {
	return c.sendCommand(unlockCommand)
}

func (c *Client) sendCommand(cmd string) error {
	c.mu.Lock()
	w, ok := c.waiters[cmd]
	if !ok {
		w = &ackWaiter{ch: make(chan struct{})}
		c.waiters[cmd] = w
	}
	w.refs++
	c.mu.Unlock()

	if err := c.send(cmd, true); err != nil {
		c.releaseWaiter(cmd, w)
		return err
	}
	<-w.ch
	return nil
}

// Close shuts down the client's connection without stopping the server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	close(c.writes)
	err := c.conn.Close()
	c.conn = nil
	return err
}
