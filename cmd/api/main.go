package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/events"
	"gatehouse.dev/internal/httpapi"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/memory"
	"gatehouse.dev/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what the core needs from a store plus its lifecycle.
type backend interface {
	auth.Store
	Ping(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", os.Getenv("GATEHOUSE_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := obs.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var store backend
	if cfg.Database.DSN != "" {
		pgStore, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		log.Warn("no database DSN configured, using in-memory store")
		store = memory.NewSeeded()
	}

	auditLog := audit.New(log)
	publishers := events.Fanout{auditLog}
	if cfg.MQTT.Enabled {
		mqttPub, err := events.Connect(cfg.MQTT, log.Named("mqtt"))
		if err != nil {
			// Security events still reach the audit log.
			log.Error("mqtt unavailable", zap.Error(err))
		} else {
			defer mqttPub.Close()
			publishers = append(publishers, mqttPub)
		}
	}

	hasher, err := auth.NewHasher(cfg.Auth.HashCost)
	if err != nil {
		return err
	}
	codec, err := auth.NewTokenCodec(cfg.Auth.Secret, auth.WithCodecIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}
	resolver, err := auth.NewResolver(store.Roles(), store.Services(),
		auth.WithResolverEvents(publishers),
		auth.WithResolverLogger(log.Named("rbac")),
	)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, resolver, codec, hasher,
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithLockout(cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutDuration),
		auth.WithLogger(log.Named("auth")),
		auth.WithEvents(publishers),
	)
	if err != nil {
		return err
	}
	roles, err := auth.NewRoleService(store.Roles(), resolver)
	if err != nil {
		return err
	}

	var limiter *httpapi.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = httpapi.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	api, err := httpapi.New(httpapi.Deps{
		Auth:         svc,
		Codec:        codec,
		Resolver:     resolver,
		Roles:        roles,
		Audit:        auditLog,
		Ready:        store,
		Logger:       log.Named("http"),
		Version:      version,
		LoginLimiter: limiter,
		CORSOrigins:  cfg.CORS.AllowedOrigins,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	grpcSrv := grpc.NewServer()
	httpapi.NewHealthServer(store).Register(grpcSrv)
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("grpc listening", zap.String("addr", grpcLis.Addr().String()))
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server failed", zap.Error(runErr))
	}

	obs.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	log.Info("stopped")
	return runErr
}
