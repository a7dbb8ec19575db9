// Package server implements the TCP front-end: one goroutine per
// connection, newline-delimited JSON framing, dispatching each decoded
// Request straight to the storage engine.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"caskdb/internal/engine"
	"caskdb/internal/logging"
	"caskdb/internal/wire"
)

// DefaultAddr is the address the front-end binds when none is given.
const DefaultAddr = "127.0.0.1:2958"

const (
	requestsPerSecond = 200
	burstSize         = 400
)

// Server accepts connections on addr and dispatches their requests to
// an *engine.Engine.
type Server struct {
	addr   string
	engine *engine.Engine
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New returns a Server bound to addr (DefaultAddr if empty), serving eng.
func New(addr string, eng *engine.Engine, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		addr:   addr,
		engine: eng,
		logger: logging.Default(logger).With("component", "server"),
	}
}

// Addr reports the bound address, valid once Serve has started
// listening. Empty before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve listens on s.addr and accepts connections until ctx is
// cancelled or Accept fails. Each connection is handled in its own
// goroutine under an errgroup, so one connection's panic-free failure
// never brings down the others.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return g.Wait()
			default:
				return err
			}
		}

		connID := uuid.NewString()
		g.Go(func() error {
			s.handleConn(ctx, conn, connID)
			return nil
		})
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, connID string) {
	defer conn.Close()

	logger := s.logger.With("conn", connID, "remote", conn.RemoteAddr().String())
	logger.Info("accepted")
	defer logger.Info("closed")

	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req wire.Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(wire.Response{Err: fmt.Sprintf("serde_json: %v", err)}); encErr != nil {
				return
			}
			continue
		}

		resp := s.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			logger.Warn("write response failed", "err", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("read failed", "err", err)
	}
}

func (s *Server) dispatch(req wire.Request) wire.Response {
	switch req.Op {
	case wire.OpGet:
		v, ok, err := s.engine.Get(req.Key)
		if err != nil {
			return wire.Response{Err: err.Error()}
		}
		if !ok {
			return wire.Response{}
		}
		return wire.Response{Value: &v}

	case wire.OpSet:
		if err := s.engine.Set(req.Key, req.Value); err != nil {
			return wire.Response{Err: err.Error()}
		}
		return wire.Response{}

	case wire.OpRemove:
		if err := s.engine.Remove(req.Key); err != nil {
			return wire.Response{Err: err.Error()}
		}
		return wire.Response{}

	case wire.OpScan:
		values, err := s.engine.Scan(req.Begin, req.End)
		if err != nil {
			return wire.Response{Err: err.Error()}
		}
		return wire.Response{Values: values}

	default:
		return wire.Response{Err: fmt.Sprintf("unknown op %q", req.Op)}
	}
}
