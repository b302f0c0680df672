package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devblac/watch-tower/internal/clientpool"
	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/filter"
	"github.com/devblac/watch-tower/internal/health"
	"github.com/devblac/watch-tower/internal/logging"
	"github.com/devblac/watch-tower/internal/metrics"
	"github.com/devblac/watch-tower/internal/notify"
	"github.com/devblac/watch-tower/internal/source"
	"github.com/devblac/watch-tower/internal/source/algorand"
	"github.com/devblac/watch-tower/internal/source/evm"
	"github.com/devblac/watch-tower/internal/source/stellar"
	"github.com/devblac/watch-tower/internal/storage"
	"github.com/devblac/watch-tower/internal/storage/rediskv"
	"github.com/devblac/watch-tower/internal/watcher"
)

var (
	flagDBPath    string
	flagHealth    string
	flagMetrics   string
	flagRedisAddr string
	flagRedisUser string
	flagRedisPass string
	flagRedisDB   int
)

func init() {
	runCmd.Flags().StringVar(&flagDBPath, "db", "watch-tower.db", "Path to the cursor/dedupe/alert sqlite database")
	runCmd.Flags().StringVar(&flagHealth, "health", ":8082", "Health check HTTP address (empty to disable)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", ":8081", "Metrics HTTP address (empty to disable)")
	runCmd.Flags().StringVar(&flagRedisAddr, "cursor-redis-addr", "", "Redis address for Processing Cursor storage (empty keeps cursors in the sqlite db)")
	runCmd.Flags().StringVar(&flagRedisUser, "cursor-redis-username", "", "Redis username, if ACLs are enabled")
	runCmd.Flags().StringVar(&flagRedisPass, "cursor-redis-password", "", "Redis password")
	runCmd.Flags().IntVar(&flagRedisDB, "cursor-redis-db", 0, "Redis logical database index")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the block watcher for every configured network",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}

		store, err := storage.Open(flagDBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		var cursors storage.CursorStore = store
		if flagRedisAddr != "" {
			redisCursors, err := rediskv.Open(ctx, flagRedisAddr, flagRedisUser, flagRedisPass, flagRedisDB)
			if err != nil {
				return fmt.Errorf("open redis cursor store: %w", err)
			}
			defer redisCursors.Close()
			cursors = redisCursors
			log.Info("cursor storage backed by redis", "addr", flagRedisAddr)
		}

		metrics.Init()
		dispatcher := notify.New(log, store)

		sources := make(map[string]source.BlockSource, len(cfg.Networks))
		watchers := make([]*watcher.Watcher, 0, len(cfg.Networks))

		for _, network := range cfg.Networks {
			monitorConfigs := cfg.MonitorsForNetwork(network.Slug)
			if len(monitorConfigs) == 0 {
				log.Info("no active monitors target network, skipping", "network", network.Slug)
				continue
			}

			pool, err := buildPool(network)
			if err != nil {
				return fmt.Errorf("network %s: %w", network.Slug, err)
			}
			sources[network.Slug] = pool

			decoder, err := buildDecoder(network, monitorConfigs)
			if err != nil {
				return fmt.Errorf("network %s: build decoder: %w", network.Slug, err)
			}

			compiled := make([]*filter.CompiledMonitor, 0, len(monitorConfigs))
			for _, m := range monitorConfigs {
				cm, err := filter.Compile(m)
				if err != nil {
					return fmt.Errorf("monitor %s: %w", m.Name, err)
				}
				compiled = append(compiled, cm)
			}

			w := watcher.New(watcher.Config{
				Network:    network,
				Pool:       pool,
				Decoder:    decoder,
				Monitors:   compiled,
				Triggers:   cfg.TriggersByName(),
				Cursor:     cursors,
				Dedupe:     store,
				Dispatcher: dispatcher,
				Log:        log,
			})
			watchers = append(watchers, w)
		}

		if len(watchers) == 0 {
			return fmt.Errorf("no network has an active monitor, nothing to run")
		}

		if flagHealth != "" {
			rpcChecker := health.NewRPCChecker(sources)
			healthSrv := health.Serve(flagHealth, health.Checker{
				DBPing:  store.Ping,
				RPCPing: rpcChecker.Ping,
			})
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			metricsSrv := &http.Server{Addr: flagMetrics, Handler: mux}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
			log.Info("metrics enabled", "addr", flagMetrics)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}()
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for _, w := range watchers {
			w := w
			group.Go(func() error {
				err := w.Run(groupCtx)
				if err != nil && groupCtx.Err() != nil {
					return nil
				}
				return err
			})
		}

		log.Info("watch-tower running", "networks", len(watchers))
		return group.Wait()
	},
}

// buildPool dials every configured RPC endpoint for network's chain
// family and wraps them in a clientpool.Pool, per spec §4.1's "Client
// Pool owns one or more clients per network".
func buildPool(network config.Network) (*clientpool.Pool, error) {
	timeout := time.Duration(network.RequestTimeoutMs) * time.Millisecond

	endpoints := make([]clientpool.Endpoint, 0, len(network.Endpoints))
	for _, ep := range network.Endpoints {
		var src source.BlockSource
		switch network.ChainFamily {
		case "evm":
			rpc, err := evm.Dial(ep.URL)
			if err != nil {
				return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
			}
			src = evm.NewClient(rpc, network.Slug)
		case "algorand":
			algod, err := algorand.NewAlgodClient(ep.URL, "")
			if err != nil {
				return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
			}
			src = algorand.NewClient(algod, network.Slug)
		case "stellar":
			src = stellar.NewClient(ep.URL, network.Slug, timeout)
		default:
			return nil, fmt.Errorf("unsupported chain family %q", network.ChainFamily)
		}
		endpoints = append(endpoints, clientpool.Endpoint{Label: ep.URL, Client: src, Weight: ep.Weight})
	}

	return clientpool.New(network.Slug, endpoints, clientpool.WithRetryPolicy(3, 250*time.Millisecond, 30*time.Second))
}

// buildDecoder aggregates every watched address across the monitors
// targeting network, since decoding is address-keyed and chain-agnostic
// to which individual monitor is asking.
func buildDecoder(network config.Network, monitors []config.Monitor) (source.Decoder, error) {
	switch network.ChainFamily {
	case "evm":
		var addrs []config.WatchedAddress
		for _, m := range monitors {
			addrs = append(addrs, m.Addresses...)
		}
		return evm.NewDecoder(addrs)
	case "algorand":
		var addrs []string
		for _, m := range monitors {
			for _, a := range m.Addresses {
				addrs = append(addrs, a.Address)
			}
		}
		return algorand.NewDecoder(addrs)
	case "stellar":
		var addrs []string
		for _, m := range monitors {
			for _, a := range m.Addresses {
				addrs = append(addrs, a.Address)
			}
		}
		return stellar.NewDecoder(addrs), nil
	default:
		return nil, fmt.Errorf("unsupported chain family %q", network.ChainFamily)
	}
}
