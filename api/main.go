package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netflow-console/api/internal/handlers"
	"netflow-console/api/internal/storage"
	"netflow-console/internal/client"
	"netflow-console/internal/filters"
	"netflow-console/internal/metrics"
	"netflow-console/internal/pipeline"
	"netflow-console/internal/utils"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path (YAML)")
		listen     = flag.String("listen", "", "Listen address, overrides the configuration")
	)
	flag.Parse()

	// Load configuration
	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listen != "" {
		config.Application.ListenAddress = *listen
	}

	logger := utils.NewLogger(config.Logging.Level, config.Logging.Format)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	consoleMetrics := client.NewConsoleMetrics(reg)

	source, err := newTopologySource(config, logger, consoleMetrics)
	if err != nil {
		logger.Fatalf("Failed to create %s backend: %v", config.Backend, err)
	}
	logger.Infof("Metrics backend: %s", source.Name())

	// Hubble is optional: without it only metrics queries are served
	var flowSource pipeline.FlowSource
	if config.Hubble.Enabled {
		hubbleClient, err := client.NewHubbleGRPCClient(config.Hubble.Server, logger, consoleMetrics)
		if err != nil {
			logger.Warnf("Failed to create Hubble client: %v", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := hubbleClient.TestConnection(ctx); err != nil {
				logger.Warnf("Hubble connection test failed: %v", err)
				logger.Warn("Flow records will not be available")
				hubbleClient.Close()
			} else {
				defer hubbleClient.Close()
				flowSource = hubbleClient
			}
			cancel()
		}
	}

	aggregator := metrics.NewAggregator(config.Metrics.StepPolicy(), config.Metrics.Percentiles)
	processor := pipeline.NewProcessor(filters.DefaultRegistry(), source, flowSource, aggregator,
		config.Application.QueryTimeout(), logger, consoleMetrics)

	var store *storage.Storage
	if config.Cache.Enabled {
		store = storage.NewStorage(config.Cache.TTL(), config.Cache.RelativeTTL(), config.Cache.CleanupInterval(), logger, consoleMetrics)
	}

	h := handlers.NewHandlers(processor, store, config.Metrics.Limit, logger, consoleMetrics)

	// Setup router
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Filters endpoints
	api.HandleFunc("/filters/definitions", h.GetFilterDefinitions).Methods("GET")
	api.HandleFunc("/filters/query", h.GetFilterQuery).Methods("GET")

	// Flow endpoints
	api.HandleFunc("/flow/metrics", h.GetFlowMetrics).Methods("GET")
	api.HandleFunc("/flow/records", h.GetFlowRecords).Methods("GET")
	api.HandleFunc("/stream/flows", h.StreamFlows).Methods("GET")

	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	srv := &http.Server{
		Addr:              config.Application.ListenAddress,
		Handler:           router,
		ReadTimeout:       time.Duration(config.Application.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(config.Application.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Infof("API server starting on %s", config.Application.ListenAddress)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down API server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}

func newTopologySource(config *utils.Config, logger *logrus.Logger, m *client.ConsoleMetrics) (pipeline.TopologySource, error) {
	if config.Backend == utils.BackendConsole {
		return client.NewConsoleClient(config.Console.URL, config.ConsoleTimeout(), logger, m), nil
	}
	return client.NewPrometheusClient(client.PrometheusOptions{
		URL:     config.Prometheus.URL,
		Metric:  config.Prometheus.Metric,
		GroupBy: config.Prometheus.GroupBy,
		Timeout: config.PrometheusTimeout(),
		Policy:  config.Metrics.StepPolicy(),
	}, logger, m)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowedOrigins := []string{
			"http://localhost:9000",
			"http://localhost:3000",
			"http://127.0.0.1:9000",
			"http://127.0.0.1:3000",
		}

		allowOrigin := "*"
		if origin != "" {
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					allowOrigin = origin
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if allowOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
