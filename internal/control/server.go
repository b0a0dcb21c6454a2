package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
)

// Handler answers one Request's params and returns a value to marshal
// into Response.Result.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server accepts connections on a unix socket and dispatches each
// newline-delimited Request to a registered Handler by method name.
type Server struct {
	socketPath string
	handlers   map[string]Handler
	logger     *slog.Logger
}

// NewServer builds a Server listening at socketPath once Run is called.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{socketPath: socketPath, handlers: make(map[string]Handler), logger: logger}
}

// Register binds method to handler. Call before Run.
func (s *Server) Register(method string, handler Handler) {
	s.handlers[method] = handler
}

// Run listens on the unix socket and serves connections until ctx is
// canceled. A stale socket file left behind by a prior unclean exit is
// removed before binding, matching how the corpus's unix-socket servers
// treat AF_UNIX address reuse.
func (s *Server) Run(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("control: clearing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control: listening on %s: %w", s.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(Response{Error: fmt.Sprintf("control: malformed request: %v", err)})
			continue
		}

		handler, ok := s.handlers[req.Method]
		if !ok {
			enc.Encode(Response{ID: req.ID, Error: fmt.Sprintf("control: unknown method %q", req.Method)})
			continue
		}

		result, err := handler(ctx, req.Params)
		if err != nil {
			enc.Encode(Response{ID: req.ID, Error: err.Error()})
			continue
		}

		raw, err := json.Marshal(result)
		if err != nil {
			enc.Encode(Response{ID: req.ID, Error: fmt.Sprintf("control: marshaling result: %v", err)})
			continue
		}
		enc.Encode(Response{ID: req.ID, Result: raw})
	}

	if err := scanner.Err(); err != nil {
		s.logger.Warn("control: connection read error", "error", err)
	}
}
