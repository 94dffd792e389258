package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
)

type Server struct {
	addr string
	srv  *grpc.Server
}

func New(addr string, srv *grpc.Server) *Server {
	return &Server{addr: addr, srv: srv}
}

// Run слушает addr и блокирует до завершения ctx, затем GracefulStop.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("grpc listen", "addr", lis.Addr().String())
		errCh <- s.srv.Serve(lis)
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			s.srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			s.srv.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}
