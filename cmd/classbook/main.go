package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-classbook/internal/auth"
	"github.com/pribylovaa/go-classbook/internal/client"
	"github.com/pribylovaa/go-classbook/internal/clients"
	"github.com/pribylovaa/go-classbook/internal/config"
	"github.com/pribylovaa/go-classbook/internal/devapi"
	"github.com/pribylovaa/go-classbook/internal/health"
	portalhttp "github.com/pribylovaa/go-classbook/internal/http"
	"github.com/pribylovaa/go-classbook/internal/http/handlers"
	"github.com/pribylovaa/go-classbook/internal/http/middleware"
	"github.com/pribylovaa/go-classbook/internal/metrics"
	"github.com/pribylovaa/go-classbook/internal/session"
	"github.com/pribylovaa/go-classbook/internal/storage"
	"github.com/pribylovaa/go-classbook/internal/storage/file"
	"github.com/pribylovaa/go-classbook/internal/storage/memory"
	redisstorage "github.com/pribylovaa/go-classbook/internal/storage/redis"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting classbook", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	var bg sync.WaitGroup
	var servers []*http.Server

	// Встроенный бэкенд поднимается первым: портал ходит в него по api.base_url.
	if cfg.Dev.Enabled {
		dev := devapi.New(devapi.Options{
			JWTSecret:  cfg.Dev.JWTSecret,
			TokenTTL:   cfg.Dev.TokenTTL,
			AuthPrefix: cfg.API.AuthPrefix,
			Logger:     log,
		})

		srv, err := serve(log, "dev_api", cfg.Dev.Addr(), dev.Handler())
		if err != nil {
			os.Exit(1)
		}
		servers = append(servers, srv)
	}

	st, err := openStorage(rootCtx, cfg.Storage)
	if err != nil {
		log.Error("storage_init_failed", slog.String("driver", cfg.Storage.Driver), slog.String("err", err.Error()))
		os.Exit(1)
	}

	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Warn("storage_close_failed", slog.String("err", cerr.Error()))
		}
	}()

	rec := metrics.NewCollector(prometheus.DefaultRegisterer)
	tokens := auth.NewTokenStore(st)

	sc, err := client.New(tokens, client.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		RetryMax:  cfg.API.RetryMax,
		UserAgent: cfg.API.UserAgent,
		Metrics:   rec,
		Logger:    log,
	})
	if err != nil {
		log.Error("client_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	cl := clients.New(sc)

	sess := session.New(sc, tokens, session.Options{
		AuthPrefix:    cfg.API.AuthPrefix,
		ProfilePath:   cfg.API.ProfilePath,
		RefreshWindow: cfg.Session.RefreshWindow,
		Metrics:       rec,
		Logger:        log,
		OnChange: func(s session.Snapshot) {
			if s.Initialized && !s.Loading && !s.Authenticated() {
				cl.Reset()
			}
		},
	})
	sc.OnUnauthorized(sess.HandleUnauthorized)

	snap := sess.Init(rootCtx)
	log.Info("session_initialized", slog.String("state", string(snap.State)))

	bg.Add(1)
	go func() {
		defer bg.Done()
		sess.Watch(rootCtx, cfg.Session.WatchInterval)
	}()

	var monitor *health.Monitor
	if cfg.Health.Enabled {
		monitor = health.New(sc, health.Options{
			Path:       cfg.Health.Path,
			Interval:   cfg.Health.Interval,
			MaxRetries: cfg.Health.MaxRetries,
			RetryDelay: cfg.Health.RetryDelay,
			Metrics:    rec,
			Logger:     log,
			OnCritical: func(f health.Failure) {
				log.Error("backend_critical",
					slog.String("status", string(f.Status)),
					slog.Int("retry_count", f.RetryCount),
				)
			},
		})

		if err := monitor.Start(rootCtx); err != nil {
			log.Warn("health_monitor_start_failed", slog.String("err", err.Error()))
		}
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		PerMinute: cfg.RateLimit.AuthPerMinute,
		Burst:     cfg.RateLimit.AuthBurst,
	})
	defer limiter.Stop()

	var hs handlers.HealthSource
	if monitor != nil {
		hs = monitor
	}

	portal := portalhttp.NewRouter(handlers.New(sess, cl, hs), sess, portalhttp.Options{
		Logger:  log,
		Timeout: cfg.HTTP.Timeout,
		Limiter: limiter,
	})

	var ready int32 // 0 — not ready; 1 — ready

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&ready) == 1 && sess.Snapshot().Initialized {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}

		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", portal)

	srv, err := serve(log, "portal", cfg.HTTP.Addr(), mux)
	if err != nil {
		os.Exit(1)
	}
	servers = append(servers, srv)

	atomic.StoreInt32(&ready, 1)
	log.Info("portal_ready", slog.String("url", "http://"+cfg.HTTP.Addr()))

	<-rootCtx.Done()
	log.Info("shutdown_requested")

	atomic.StoreInt32(&ready, 0)

	if monitor != nil {
		if err := monitor.Stop(); err != nil && !errors.Is(err, health.ErrNotRunning) {
			log.Warn("health_monitor_stop_failed", slog.String("err", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(servers) - 1; i >= 0; i-- {
		if err := servers[i].Shutdown(shutdownCtx); err != nil {
			log.Warn("http_shutdown_incomplete", slog.String("addr", servers[i].Addr), slog.String("err", err.Error()))
		}
	}
	log.Info("http_stopped")

	bg.Wait()
	log.Info("service_stopped")
}

// serve слушает addr и обслуживает h в отдельной горутине.
// Ошибка Serve после старта только логируется.
func serve(log *slog.Logger, name, addr string, h http.Handler) (*http.Server, error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("server", name), slog.String("addr", addr), slog.String("err", err.Error()))
		return nil, err
	}

	log.Info("http_listen_start", slog.String("server", name), slog.String("addr", addr))

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_serve_failed", slog.String("server", name), slog.String("err", err.Error()))
		}
	}()

	return srv, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "file":
		return file.New(cfg.Path)
	case "redis":
		return redisstorage.New(ctx, cfg.RedisURL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
