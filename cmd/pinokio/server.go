// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/internal/api"
	"github.com/pinokiocloud/pinokio-cloud/internal/appstate"
	"github.com/pinokiocloud/pinokio-cloud/internal/cache"
	"github.com/pinokiocloud/pinokio-cloud/internal/catalog"
	"github.com/pinokiocloud/pinokio-cloud/internal/controller"
	"github.com/pinokiocloud/pinokio-cloud/internal/deps"
	"github.com/pinokiocloud/pinokio-cloud/internal/env"
	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/health"
	"github.com/pinokiocloud/pinokio-cloud/internal/install"
	"github.com/pinokiocloud/pinokio-cloud/internal/metrics"
	"github.com/pinokiocloud/pinokio-cloud/internal/perf"
	"github.com/pinokiocloud/pinokio-cloud/internal/platform"
	"github.com/pinokiocloud/pinokio-cloud/internal/store"
	"github.com/pinokiocloud/pinokio-cloud/internal/supervisor"
	"github.com/pinokiocloud/pinokio-cloud/internal/tunnel"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

const defaultLocalServerAPI = "http://localhost:8075"

type serverFlags struct {
	listen           string
	basePath         string
	platformOverride string
	catalogPath      string
	database         string
	machineLogs      bool
	portFirst        int
	portLast         int
	cacheMemoryCapMB int64
	cacheDiskCapGB   int64
	perfInterval     time.Duration
	cleanupInterval  time.Duration
}

func (flags *serverFlags) addFlags(command *cobra.Command) {
	command.Flags().StringVar(&flags.listen, "listen", ":8075", "The interface and port on which to listen.")
	command.Flags().StringVar(&flags.basePath, "base-path", "", "Override the detected platform base path.")
	command.Flags().StringVar(&flags.platformOverride, "platform-override", "", "Skip detection and assume this platform kind.")
	command.Flags().StringVar(&flags.catalogPath, "catalog", "", "Path to the app catalog JSON artifact.")
	command.Flags().StringVar(&flags.database, "database", "", "The sqlite dsn of the metadata index; defaults to <base>/cache/memory.idx.")
	command.Flags().BoolVar(&flags.machineLogs, "machine-logs", false, "Output the logs in machine readable format.")
	command.Flags().IntVar(&flags.portFirst, "port-first", 7860, "First local port in the supervisor's pool.")
	command.Flags().IntVar(&flags.portLast, "port-last", 7999, "Last local port in the supervisor's pool.")
	command.Flags().Int64Var(&flags.cacheMemoryCapMB, "cache-memory-cap", 256, "Memory cache layer cap in MiB.")
	command.Flags().Int64Var(&flags.cacheDiskCapGB, "cache-disk-cap", 10, "Disk cache layer cap in GiB.")
	command.Flags().DurationVar(&flags.perfInterval, "perf-interval", 10*time.Second, "Performance sampling cadence.")
	command.Flags().DurationVar(&flags.cleanupInterval, "cleanup-interval", 15*time.Minute, "Cache cleanup cadence.")
}

func newCmdServer() *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the control plane server.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			return executeServerCmd(flags)
		},
	}
	flags.addFlags(cmd)

	return cmd
}

func executeServerCmd(flags serverFlags) error {
	if flags.machineLogs {
		enableMachineLogs()
	}

	logger := logger.WithField("instance", instanceID)

	// Platform detection runs once and is published to every component.
	detector := platform.NewDetector(logger, model.PlatformKind(flags.platformOverride), flags.basePath)
	detected := detector.Detect()
	paths := platform.NewPathMap(detected)

	logger.WithField("platform", detected.Kind).
		WithField("confidence", detected.Confidence).
		WithField("base", detected.BasePath).
		Info("Starting pinokio control plane")

	// Metadata index store.
	dsn := flags.database
	if dsn == "" {
		cacheDir := paths.MustMap(model.PathCache, "")
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create cache directory")
		}
		dsn = "sqlite3://" + filepath.Join(cacheDir, "memory.idx")
	}
	sqlStore, err := store.New(dsn, logger)
	if err != nil {
		return errors.Wrap(err, "failed to connect to metadata index")
	}
	defer sqlStore.Close()

	if err = sqlStore.Migrate(); err != nil {
		return errors.Wrap(err, "failed to migrate metadata index")
	}

	cloudMetrics := metrics.New()
	broker := events.NewBroker(logger)
	producer := events.NewProducer(sqlStore, broker, logger)

	// App catalog.
	var cat *catalog.Catalog
	if flags.catalogPath != "" {
		cat, err = catalog.Load(flags.catalogPath, logger)
		if err != nil {
			return errors.Wrap(err, "failed to load catalog")
		}
	} else {
		cat = catalog.NewEmpty(logger)
	}

	// Cache layers.
	caches, err := cache.NewManager(sqlStore, broker, filepath.Join(paths.MustMap(model.PathCache, ""), "disk"), cache.Options{
		MemoryCap: flags.cacheMemoryCapMB << 20,
		DiskCap:   flags.cacheDiskCapGB << 30,
	}, logger)
	if err != nil {
		return errors.Wrap(err, "failed to build cache manager")
	}

	analyzer := catalog.NewAnalyzer(newProfileCache(caches, logger), logger)
	resolver := deps.NewResolver(logger)
	envs := env.NewManager(paths.MustMap(model.PathEnvs, ""), logger)

	states, err := appstate.NewStore(paths.MustMap(model.PathState, ""), producer, logger)
	if err != nil {
		return errors.Wrap(err, "failed to build app state store")
	}

	engine := install.NewEngine(
		detected,
		paths.MustMap(model.PathApps, ""),
		cat, analyzer, resolver, envs, states, broker, nil, logger,
	)

	// Process supervision.
	ports := supervisor.NewPortPool(flags.portFirst, flags.portLast)
	snapshotPath := filepath.Join(paths.MustMap(model.PathState, ""), "processes.json")
	procs := supervisor.NewProcessSupervisor(ports, broker, producer, snapshotPath, logger)
	defer procs.Shutdown()

	monitor := health.NewMonitor(procs, broker, health.MonitorOptions{}, logger)
	defer monitor.Shutdown()

	// Tunnels.
	bookPath, err := paths.URLBookFile()
	if err != nil {
		return errors.Wrap(err, "failed to resolve url book path")
	}
	tunnels := tunnel.NewManager(bookPath, producer, logger,
		tunnel.NewNgrokProvider(logger),
		tunnel.NewCloudflareProvider(logger),
		tunnel.NewLocaltunnelProvider(logger),
		tunnel.NewServeoProvider(logger),
	)
	defer tunnels.Shutdown()

	ctrl := controller.New(
		detected, engine, analyzer, cat, states, procs, monitor, tunnels, caches, envs,
		paths.MustMap(model.PathLogs, ""), logger,
	)
	defer ctrl.Shutdown()
	cancelWatch := ctrl.WatchProcessEvents()
	defer cancelWatch()

	// Performance sampling and periodic cache cleanup run on schedulers.
	perfMonitor := perf.NewMonitor(broker, ctrl, detected.BasePath, logger)
	perfScheduler := supervisor.NewScheduler(perfMonitor, flags.perfInterval)
	defer perfScheduler.Close()

	cleanupScheduler := supervisor.NewScheduler(caches, flags.cleanupInterval)
	defer cleanupScheduler.Close()

	// Error recovery.
	recoveryEngine := buildRecoveryEngine(broker, sqlStore, ctrl, logger)
	recoveryEngine.Start()
	defer recoveryEngine.Shutdown()

	router := mux.NewRouter()
	api.Register(router, &api.Context{
		States:     states,
		Controller: ctrl,
		Engine:     engine,
		Supervisor: procs,
		Health:     monitor,
		Tunnels:    tunnels,
		Cache:      caches,
		Perf:       perfMonitor,
		Recovery:   recoveryEngine,
		EventStore: sqlStore,
		Platform:   detector,
		Broker:     broker,
		Metrics:    cloudMetrics,
		Logger:     logger,
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:           flags.listen,
		Handler:        router,
		ReadTimeout:    180 * time.Second,
		WriteTimeout:   180 * time.Second,
		IdleTimeout:    time.Second * 180,
		MaxHeaderBytes: 1 << 20,
		ErrorLog:       nil,
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("Listening")
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Failed to listen and serve")
		}
	}()

	c := make(chan os.Signal, 1)
	// Shutdown on SIGINT and SIGTERM.
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	logger.WithField("shutdown-signal", sig.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(ctx)
}
