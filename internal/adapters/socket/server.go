package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/corey/bakewatch/internal/ports"
)

// Queries provides access to app state for server handlers.
// Thread safety is the implementor's responsibility.
type Queries interface {
	Health() HealthResult
	RequestRebuild(reinit bool) bool
	History(limit int) ([]ports.BuildRecord, error)
	SetLogLevel(level string) error
}

// Server listens on a Unix socket and answers control requests.
type Server struct {
	queries  Queries
	logger   *slog.Logger
	listener net.Listener
	sockPath string
	started  time.Time

	done         chan struct{}
	shutdownCh   chan struct{} // closed when a remote shutdown request is received
	shutdownOnce sync.Once
	stopOnce     sync.Once
	wg           sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{} // nil once Stop ran
}

// NewServer creates a control server answering from queries.
func NewServer(sockPath string, queries Queries, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		queries:    queries,
		logger:     logger.With("component", "socket"),
		sockPath:   sockPath,
		done:       make(chan struct{}),
		shutdownCh: make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start begins listening on the Unix socket. A stale socket file left by a
// crashed process is detected by dialing it and removed before binding.
func (s *Server) Start() error {
	if _, err := os.Stat(s.sockPath); err == nil {
		conn, err := net.DialTimeout("unix", s.sockPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return fmt.Errorf("watcher already running at %s", s.sockPath)
		}
		s.logger.Debug("removing stale socket", "path", s.sockPath)
		os.Remove(s.sockPath)
	}

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.started = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection, waits for their
// handlers and removes the socket file. Idempotent.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.conns = nil
		s.connMu.Unlock()
		s.wg.Wait()
		os.Remove(s.sockPath)
	})
	return nil
}

// ShutdownCh is closed when a remote shutdown request is received. The main
// goroutine selects on it alongside OS signals.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// Addr returns the socket path the server is listening on.
func (s *Server) Addr() string {
	return s.sockPath
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// track registers conn so Stop can close it. It reports false after Stop.
func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.untrack(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, Response{Error: "invalid request JSON"})
			continue
		}

		s.writeResponse(conn, s.handleRequest(req))

		if req.Method == MethodShutdown {
			s.shutdownOnce.Do(func() { close(s.shutdownCh) })
			return
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	switch req.Method {
	case MethodHealth:
		h := s.queries.Health()
		h.Status = "ok"
		h.Uptime = time.Since(s.started).Round(time.Second).String()
		return result(req.ID, h)
	case MethodRebuild:
		var p RebuildParams
		if err := decodeParams(req.Params, &p); err != nil {
			return Response{ID: req.ID, Error: "invalid rebuild params"}
		}
		return result(req.ID, RebuildResult{Queued: s.queries.RequestRebuild(p.Reinit)})
	case MethodHistory:
		p := HistoryParams{Limit: 10}
		if err := decodeParams(req.Params, &p); err != nil {
			return Response{ID: req.ID, Error: "invalid history params"}
		}
		recs, err := s.queries.History(p.Limit)
		if err != nil {
			return Response{ID: req.ID, Error: err.Error()}
		}
		return result(req.ID, HistoryResult{Builds: recs, Count: len(recs)})
	case MethodLogLevel:
		var p LogLevelParams
		if err := decodeParams(req.Params, &p); err != nil {
			return Response{ID: req.ID, Error: "invalid log_level params"}
		}
		if err := s.queries.SetLogLevel(p.Level); err != nil {
			return Response{ID: req.ID, Error: err.Error()}
		}
		s.logger.Info("log level changed", "level", p.Level)
		return result(req.ID, struct{}{})
	case MethodShutdown:
		return result(req.ID, struct{}{})
	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func result(id string, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{ID: id, Error: fmt.Sprintf("marshal result: %v", err)}
	}
	return Response{ID: id, Result: data}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logger.Debug("write response", "err", err)
	}
}
