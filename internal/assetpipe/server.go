package assetpipe

import (
	"net"
	"os"
	"sync"

	"github.com/v2v3v4/bw-asset-pipeline/internal/debug"
)

// Hooks are the server-side callbacks a compiler host wires in: asset
// requests are delivered one at a time, lock/unlock transitions fire only
// on the first lock / last unlock across every connected pipe.
type Hooks struct {
	OnAssetRequested func(assetPath string)
	OnLock           func()
	OnUnlock         func()
}

// Server is the AssetServer side of the pipe protocol (spec §6.2): it
// accepts any number of client connections on a single Unix domain socket,
// treats ":LOCK"/":UNLOCK" as control commands it echoes back to their
// sender, and broadcasts completed-build notifications to every connected
// client unsolicited.
type Server struct {
	addr  Addr
	hooks Hooks

	ln net.Listener

	mu      sync.Mutex
	conns   map[*serverConn]struct{}
	lockers map[*serverConn]struct{}

	wg sync.WaitGroup
}

type serverConn struct {
	conn   net.Conn
	writes chan []byte
	done   chan struct{}
}

// NewServer returns a Server bound to addr.SocketPath, not yet listening.
func NewServer(addr Addr, hooks Hooks) *Server {
	return &Server{
		addr:    addr,
		hooks:   hooks,
		conns:   make(map[*serverConn]struct{}),
		lockers: make(map[*serverConn]struct{}),
	}
}

// Start removes any stale socket file, binds the Unix domain socket, and
// begins accepting connections in a background goroutine.
func (s *Server) Start() error {
	_ = os.Remove(s.addr.SocketPath)
	ln, err := net.Listen("unix", s.addr.SocketPath)
	if err != nil {
		return err
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection, waiting for the
// accept loop and all connection goroutines to exit.
func (s *Server) Stop() {
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	_ = os.Remove(s.addr.SocketPath)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn, writes: make(chan []byte, 16), done: make(chan struct{})}
		s.mu.Lock()
		s.conns[sc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(2)
		go s.writeLoop(sc)
		go s.readLoop(sc)
	}
}

func (s *Server) writeLoop(sc *serverConn) {
	defer s.wg.Done()
	for {
		select {
		case msg, ok := <-sc.writes:
			if !ok {
				return
			}
			if _, err := sc.conn.Write(msg); err != nil {
				debug.LogAssetPipe("write error on connection: %v", err)
				return
			}
		case <-sc.done:
			return
		}
	}
}

func (s *Server) readLoop(sc *serverConn) {
	defer s.wg.Done()
	defer s.dropConn(sc)

	fr := newFrameReader(sc.conn)
	for {
		msg, err := fr.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(sc, msg)
	}
}

func (s *Server) handleMessage(sc *serverConn, msg string) {
	if !isCommand(msg) {
		debug.LogAssetPipe("asset requested: %s", msg)
		if s.hooks.OnAssetRequested != nil {
			s.hooks.OnAssetRequested(msg)
		}
		return
	}

	switch msg {
	case lockCommand:
		s.mu.Lock()
		first := len(s.lockers) == 0
		s.lockers[sc] = struct{}{}
		s.mu.Unlock()
		if first && s.hooks.OnLock != nil {
			s.hooks.OnLock()
		}
	case unlockCommand:
		s.mu.Lock()
		delete(s.lockers, sc)
		last := len(s.lockers) == 0
		s.mu.Unlock()
		if last && s.hooks.OnUnlock != nil {
			s.hooks.OnUnlock()
		}
	default:
		debug.LogAssetPipe("unrecognized command %q", msg)
		return
	}

	// The server always echoes a recognized command back on the
	// originating pipe so the client can acknowledge it.
	s.send(sc, msg)
}

func (s *Server) send(sc *serverConn, msg string) {
	select {
	case sc.writes <- encodeMessage(msg):
	case <-sc.done:
	}
}

// Broadcast announces a completed build's asset path, unsolicited, on
// every currently connected pipe.
func (s *Server) Broadcast(assetPath string) {
	s.mu.Lock()
	targets := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.send(c, assetPath)
	}
}

func (s *Server) dropConn(sc *serverConn) {
	s.mu.Lock()
	delete(s.conns, sc)
	_, wasLocker := s.lockers[sc]
	delete(s.lockers, sc)
	last := wasLocker && len(s.lockers) == 0
	s.mu.Unlock()

	close(sc.done)
	sc.conn.Close()

	if last && s.hooks.OnUnlock != nil {
		s.hooks.OnUnlock()
	}
}
