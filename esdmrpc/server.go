package esdmrpc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/esdm-project/esdm/esdm"
	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// Default socket paths, §6.
const (
	UnprivSocketPath = "/var/run/esdm-rpc-unpriv"
	PrivSocketPath   = "/var/run/esdm-rpc-priv"
	testModeSuffix   = "-testmode"
)

// SocketPath returns the configured path for service, appending the
// test-mode suffix spec.md §6 requires for test daemons.
func SocketPath(path string, testMode bool) string {
	if testMode {
		return path + testModeSuffix
	}
	return path
}

// Service is one of the two independent request/response services of
// §4.H, each bound to its own Unix socket and its own bounded worker
// pool (the "process-wide thread pool of configured size" of §5).
type Service struct {
	name     string
	path     string
	perm     os.FileMode
	methods  map[string]Handler
	workers  int
	logger   hclog.Logger

	listener net.Listener
	pool     *workerpool.WorkerPool
	wg       sync.WaitGroup
}

// NewService builds a service bound to path with the given dispatch
// table and worker-pool size.
func NewService(name, path string, perm os.FileMode, methods map[string]Handler, workers int, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		name:    name,
		path:    path,
		perm:    perm,
		methods: methods,
		workers: workers,
		logger:  logger.Named("rpc." + name),
	}
}

// Serve listens on s.path and dispatches connections until ctx is
// cancelled or Close is called.
func (s *Service) Serve(ctx context.Context) error {
	_ = os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return esdm.NewError("rpc.listen", esdm.KindFatal, err)
	}
	if err := os.Chmod(s.path, s.perm); err != nil {
		ln.Close()
		return esdm.NewError("rpc.chmod", esdm.KindFatal, err)
	}
	s.listener = ln
	s.pool = workerpool.New(s.workers)

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.pool.StopWait()
				s.wg.Wait()
				return nil
			default:
				s.logger.Warn("accept failed", "error", err)
				return esdm.NewError("rpc.accept", esdm.KindTransient, err)
			}
		}

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting and removes the socket file.
func (s *Service) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.pool != nil {
		s.pool.StopWait()
	}
	s.wg.Wait()
	_ = os.Remove(s.path)
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		env, err := ReadFrame(r)
		if err != nil {
			return
		}

		// Each call is dispatched into the bounded worker pool so one
		// slow (suspended) call cannot block other workers on this or
		// any other connection (§4.H, §5).
		s.pool.Submit(func() {
			resp := s.dispatch(ctx, env)
			if err := WriteFrame(conn, resp); err != nil {
				s.logger.Debug("write response failed", "error", err)
			}
		})
	}
}

func (s *Service) dispatch(ctx context.Context, req *Envelope) *Envelope {
	resp := &Envelope{CallID: req.CallID, Service: s.name, Method: req.Method}

	handler, ok := s.methods[req.Method]
	if !ok {
		resp.Err = fmt.Sprintf("unknown method %q", req.Method)
		return resp
	}

	payload, err := handler(ctx, req.Payload)
	if err != nil {
		resp.Err = err.Error()
		return resp
	}
	resp.Payload = payload
	return resp
}

// NewCallID generates a fresh call-id token for a client-side request,
// matching the go-uuid-generated CallID contract of §4.H.
func NewCallID() (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", esdm.NewError("rpc.call_id", esdm.KindFatal, err)
	}
	return id, nil
}
