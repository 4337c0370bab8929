package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nativestorage/nativestorage/internal/nativestorage"
)

// ServerVersion is the bridge version reported to clients and used for
// compatibility checks. The CLI overrides it with its own version.
var ServerVersion = "0.4.0"

// ErrAlreadyRunning is returned by Start when another bridge answers on the
// socket
var ErrAlreadyRunning = errors.New("bridge already running")

// Server serves a nativestorage.Service on a Unix socket
type Server struct {
	socketPath string
	svc        *nativestorage.Service
	storeDir   string
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup

	readyCh    chan struct{}
	readyOnce  sync.Once
	shutdownCh chan struct{}
	stopOnce   sync.Once

	startTime        time.Time
	lastActivityTime atomic.Value
	activeConns      int32
	requests         atomic.Int64
	failures         atomic.Int64
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the server logger
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a bridge for svc. storeDir is only reported by status.
func NewServer(socketPath string, svc *nativestorage.Service, storeDir string, opts ...ServerOption) *Server {
	s := &Server{
		socketPath: socketPath,
		svc:        svc,
		storeDir:   storeDir,
		logger:     zap.NewNop(),
		conns:      make(map[net.Conn]struct{}),
		readyCh:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
		startTime:  time.Now(),
	}
	s.lastActivityTime.Store(time.Now())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SocketPath returns the path the server listens on
func (s *Server) SocketPath() string { return s.socketPath }

// Ready is closed once the server accepts connections
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Start listens on the socket and serves connections until Stop is called,
// a client sends shutdown, or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o750); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := removeStaleSocket(s.socketPath); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("bridge listening", zap.String("socket", s.socketPath))

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.shutdownCh:
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				return nil
			default:
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener and every open connection, waits for their
// handlers and removes the socket file. It is safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.shutdownCh)

		s.mu.Lock()
		if s.listener != nil {
			if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		if rerr := os.Remove(s.socketPath); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
		s.logger.Info("bridge stopped", zap.String("socket", s.socketPath))
	})
	return err
}

// removeStaleSocket deletes a socket file left by a crashed server. A socket
// that still accepts connections belongs to a live server.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w on %s", ErrAlreadyRunning, path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

// track registers conn so Stop can close it. A connection accepted while
// stopping is closed right away.
func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.conns, conn)
		return
	}
	select {
	case <-s.shutdownCh:
		_ = conn.Close()
	default:
		s.conns[conn] = struct{}{}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	s.track(conn, true)
	defer s.track(conn, false)
	atomic.AddInt32(&s.activeConns, 1)
	defer atomic.AddInt32(&s.activeConns, -1)
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var req Request
			var resp Response
			if err := json.Unmarshal(line, &req); err != nil {
				resp = Response{Error: fmt.Sprintf("invalid request: %v", err), Code: nativestorage.CodeWrongParameter}
			} else {
				resp = s.handleRequest(&req)
				resp.RequestID = req.RequestID
			}
			if err := writeResponse(writer, resp); err != nil {
				s.logger.Debug("failed to write response", zap.Error(err))
				return
			}
			if req.Operation == OpShutdown && resp.Success {
				go func() { _ = s.Stop() }()
				return
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, net.ErrClosed) {
				s.logger.Debug("connection read failed", zap.Error(readErr))
			}
			return
		}
	}
}

func writeResponse(w *bufio.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
