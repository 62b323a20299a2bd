package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/corectl/internal/config"
	"github.com/cuemby/corectl/pkg/api"
	"github.com/cuemby/corectl/pkg/events"
	"github.com/cuemby/corectl/pkg/log"
	"github.com/cuemby/corectl/pkg/metrics"
	"github.com/cuemby/corectl/pkg/nodeclient"
	"github.com/cuemby/corectl/pkg/reconciler"
	"github.com/cuemby/corectl/pkg/registry"
	"github.com/cuemby/corectl/pkg/scheduler"
	"github.com/cuemby/corectl/pkg/store"
	"github.com/cuemby/corectl/pkg/volume"
	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "corectl",
	Short:   "corectl - distributed block-storage control plane",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to corectl.yaml")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane: REST + CSI front ends, reconciler, and event notifier",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := log.Level(cfg.LogLevel)
	log.Init(log.Config{Level: logLevel, JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	psc, err := store.NewEtcdStore(store.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: cfg.Etcd.DialTimeout,
		LeaseTTLSec: cfg.Etcd.LeaseTTLSec,
	})
	if err != nil {
		return fmt.Errorf("connect etcd: %w", err)
	}
	defer psc.Close()

	logger.Info().Msg("acquiring leader lock")
	lease, err := psc.LeaseLock(ctx, "corectl")
	if err != nil {
		return fmt.Errorf("acquire leader lock: %w", err)
	}
	defer lease.Release(context.Background())
	go func() {
		<-lease.Lost()
		logger.Fatal().Msg("lost leader lock; shutting down")
	}()

	if _, err := store.Migrate(ctx, psc, false); err != nil {
		return fmt.Errorf("migrate store keys: %w", err)
	}

	rr := registry.NewRegistries()
	if err := registry.Populate(ctx, psc, rr); err != nil {
		return fmt.Errorf("populate registries: %w", err)
	}

	dispatcher := nodeclient.NewDispatcher(func(nodeID string) (string, []string, bool) {
		entry, ok := rr.Nodes.Get(nodeID)
		if !ok {
			return "", nil, false
		}
		node := entry.Clone()
		return node.Endpoint, nil, true
	})

	sched := scheduler.New(rr)
	broker := events.NewBroker()
	watches := events.NewWatchStore()
	notifier := events.NewNotifier(broker, watches)
	notifier.Start()
	defer notifier.Stop()

	svc := volume.NewService(volume.Config{
		Registries:    rr,
		Store:         psc,
		Dispatcher:    dispatcher,
		Scheduler:     sched,
		Broker:        broker,
		CreatePermits: cfg.CreatePermits,
	})

	recon := reconciler.New(rr, psc, dispatcher)
	recon.Start()
	defer recon.Stop()

	restSrv := &http.Server{Addr: cfg.Listen.REST, Handler: buildMux(svc, watches)}
	go func() {
		logger.Info().Str("addr", cfg.Listen.REST).Msg("REST listener starting")
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("REST listener exited")
		}
	}()
	defer restSrv.Shutdown(context.Background())

	grpcSrv, csiListener, err := buildCSIServer(cfg, svc)
	if err != nil {
		return fmt.Errorf("build CSI server: %w", err)
	}
	go func() {
		logger.Info().Str("socket", cfg.Listen.CSISocket).Msg("CSI listener starting")
		if err := grpcSrv.Serve(csiListener); err != nil {
			logger.Error().Err(err).Msg("CSI listener exited")
		}
	}()
	defer grpcSrv.GracefulStop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")
	return nil
}

func buildMux(svc *volume.Service, watches *events.WatchStore) http.Handler {
	mux := http.NewServeMux()
	rest := api.NewREST(svc, watches)
	mux.Handle("/v1/", rest.Handler())
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func buildCSIServer(cfg config.Config, svc *volume.Service) (*grpc.Server, net.Listener, error) {
	_ = os.Remove(cfg.Listen.CSISocket)
	listener, err := net.Listen("unix", cfg.Listen.CSISocket)
	if err != nil {
		return nil, nil, err
	}

	srv := grpc.NewServer()
	csi.RegisterIdentityServer(srv, api.NewIdentityServer(Version))
	csi.RegisterControllerServer(srv, api.NewControllerServer(svc))
	return srv, listener, nil
}
