package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwrk-planet/consult-service/config"
	"github.com/cwrk-planet/consult-service/internal/domain"
	grpcserver "github.com/cwrk-planet/consult-service/internal/server/grpc"
	httpserver "github.com/cwrk-planet/consult-service/internal/server/http"
	"github.com/cwrk-planet/consult-service/internal/security"
	"github.com/cwrk-planet/consult-service/internal/service"
	grpcx "github.com/cwrk-planet/consult-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/consult-service/internal/transport/http"
	"github.com/cwrk-planet/consult-service/internal/transport/ws"
	"github.com/cwrk-planet/consult-service/pkg/logger"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting consult-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("consult-service stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("consult-service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- message store ---
	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- identity ---
	auth, err := newAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}
	if auth.DevMode() {
		slog.Warn("auth.publicKeyPath is empty: trusting X-User-ID / X-User-Role headers")
	}

	// --- hub, services ---
	hub := ws.NewHub()
	chatSvc := service.NewChatService(repo, ws.NewBroadcaster(hub), cfg.Storage.AppendTimeout)

	// --- WS ---
	wsServer := ws.NewServer(hub, chatSvc, auth, ws.Config{
		PingEvery:      cfg.WS.PingEvery,
		WriteWait:      cfg.WS.WriteWait,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendQueue:      cfg.WS.SendQueue,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	// --- HTTP ---
	router := httpx.NewRouter(httpx.Deps{
		Handler:        httpx.NewHandler(chatSvc),
		WS:             wsServer.HandleWS,
		Auth:           auth,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	httpSrv := httpserver.New(httpserver.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, router)
	httpSrv.OnShutdown(func() {
		n := wsServer.CloseAll(domain.ErrTransport)
		slog.Info("ws connections closed", "count", n)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(gctx) })

	// --- gRPC (история только на чтение) ---
	if cfg.GRPC.Addr != "" {
		grpcServer := grpc.NewServer(
			grpc.ChainUnaryInterceptor(grpcx.UnaryServerInterceptor(cfg.GRPC.CallTimeout)),
		)
		grpcx.Register(grpcServer, grpcx.NewServer(chatSvc))
		g.Go(func() error { return grpcserver.New(cfg.GRPC.Addr, grpcServer).Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newAuthenticator(cfg config.Auth) (*security.Authenticator, error) {
	if cfg.PublicKeyPath == "" {
		return security.NewAuthenticator(nil), nil
	}
	pub, err := security.LoadRSAPublicKeyFromPEM(cfg.PublicKeyPath)
	if err != nil {
		return nil, err
	}
	return security.NewAuthenticator(security.NewJWTVerifier(pub, cfg.Issuer, cfg.Audience, cfg.ClockSkew)), nil
}
