package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/FleetBox/config"
	"github.com/BearBump/FleetBox/internal/api/vehicles_api"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/BearBump/FleetBox/internal/services/health"
	"github.com/BearBump/FleetBox/internal/services/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	scheduler *scheduler.Scheduler
	reporter  *health.Reporter
	storage   Storage
	cfg       *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8000"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newWorkerRouter(opts)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	log.Info("worker http server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newWorkerRouter(opts workerHTTPOpts) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		rep := opts.reporter.Report()
		if !opts.reporter.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(rep)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := opts.storage.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"database unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(opts.scheduler.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// без секретов: только рабочие настройки
		out := map[string]any{
			"fleetApiBaseUrl":          opts.cfg.FleetAPI.BaseURL,
			"fleetApiMode":             opts.cfg.FleetAPI.Mode,
			"timezone":                 opts.cfg.FleetAPI.Timezone,
			"fetchIntervalSeconds":     scheduler.FetchInterval(opts.cfg.Worker.FetchIntervalSeconds).Seconds(),
			"maxAttempts":              opts.cfg.Worker.MaxAttempts,
			"backoffBaseSeconds":       opts.cfg.Worker.BackoffBaseSeconds,
			"rateLimitPerMinute":       opts.cfg.Worker.RateLimitPerMinute,
			"minRequestGapSeconds":     opts.cfg.Worker.MinRequestGapSeconds,
			"partitionIntervalHours":   opts.cfg.Worker.PartitionIntervalHours,
			"maintenanceIntervalHours": opts.cfg.Worker.MaintenanceIntervalHours,
			"backupEnabled":            opts.cfg.Backup.Enabled,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	// POST /trigger?job=<name>, default job is ingest.
	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		name := r.URL.Query().Get("job")
		if name == "" {
			name = jobIngest
		}
		if !opts.scheduler.Trigger(name) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unknown job", "job": name})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"triggered": true, "job": name})
	})

	r.Handle("/metrics", promhttp.Handler())

	vehicles_api.New(opts.storage).Mount(r)

	if opts.swaggerPath != "" {
		fi, err := os.Stat(opts.swaggerPath)
		if err != nil {
			log.Warn("swagger file not found, docs disabled", "path", opts.swaggerPath)
			return r
		}
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}
	return r
}
