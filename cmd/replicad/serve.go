package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	replica "github.com/goliatone/go-replica"
	"github.com/goliatone/go-replica/pkg/background"
	"github.com/goliatone/go-replica/pkg/bus/wsbus"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/pkg/refresh"
	"github.com/goliatone/go-replica/settings"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background role and the websocket hub",
		Long: `Run the background replica. It loads the durable snapshot, accepts ui and
page endpoints on /bus, refreshes remote selectors on the configured
policy and serves /state, /healthz and /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Hub.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					logger.Warn("store close failed", "error", err)
				}
			}()

			hub := wsbus.NewHub(
				wsbus.WithHubLogger(logger),
				wsbus.WithHubRequestTimeout(cfg.Hub.RequestTimeout),
				wsbus.WithCheckOrigin(originChecker(cfg.Hub.AllowedOrigins)),
			)
			defer hub.Close()

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			opts := []replica.Option{
				replica.WithStore(st),
				replica.WithBus(hub.Local()),
				replica.WithDefaults(settings.DefaultSnapshot()),
				replica.WithNamespace(cfg.Namespace),
				replica.WithLogger(logger),
				replica.WithActivity(activityLog(logger, message.RoleBackground)),
			}
			if cfg.Metrics.Enabled {
				opts = append(opts, replica.WithMetrics(replica.NewMetrics(
					replica.WithMetricsNamespace(cfg.Metrics.Namespace),
					replica.WithRegistry(registry),
				)))
			}
			r, err := replica.New(ctx, message.RoleBackground, opts...)
			if err != nil {
				return err
			}
			defer r.Close()

			service, err := background.New(r, background.Config{
				Fetcher: refresh.NewHTTPFetcher(
					refresh.WithHTTPClient(&http.Client{Timeout: cfg.Refresh.Timeout}),
					refresh.WithURLTemplate(cfg.Refresh.URLTemplate),
				),
				OpenOptions: func(_ context.Context, highlight string) error {
					logger.Info("options surface requested", "highlight", highlight)
					return nil
				},
				Logger:          logger,
				RefreshOptions:  []refresh.Option{refresh.WithManualLimit(cfg.Refresh.ManualEvery, cfg.Refresh.ManualBurst)},
				DisableSchedule: cfg.Refresh.Disabled,
			})
			if err != nil {
				return err
			}
			if err := service.Start(ctx); err != nil {
				return err
			}
			defer service.Stop()

			router := chi.NewRouter()
			router.Use(middleware.Recoverer)
			router.Get("/state", stateHandler(r))
			if cfg.Metrics.Enabled {
				router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			}
			router.Mount("/", hub.Handler())

			server := &http.Server{
				Addr:              cfg.Hub.Listen,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("replicad listening", "addr", cfg.Hub.Listen, "store", cfg.Store.Backend)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("replicad shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = hub.Close()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides hub.listen)")

	return cmd
}

func stateHandler(r *replica.Replica) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stamp := r.Version()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"namespace": r.Namespace(),
			"version":   stamp.Version,
			"origin":    stamp.Origin,
			"state":     r.State(),
		})
	}
}

// originChecker allows the listed origins. An empty list keeps the
// websocket same-origin default.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Scheme+"://"+u.Host]
		return ok
	}
}
