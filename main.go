package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"yam-indexer/internal/api"
	"yam-indexer/internal/catalog"
	"yam-indexer/internal/config"
	"yam-indexer/internal/indexer"
	"yam-indexer/internal/rpc"
	"yam-indexer/internal/store"
	"yam-indexer/internal/subgraph"
)

// restartDelay is how long the supervisor waits before relaunching the
// indexing loop after a fatal error.
const restartDelay = 30 * time.Second

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "main")
	log.Infof("starting YAM indexer (%s)", BuildCommit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	contracts, err := config.LoadContracts(cfg.ContractsPath)
	if err != nil {
		log.Fatalf("failed to load contract reference file: %v", err)
	}
	log.Infof("indexing YAM contract %s with %d payment token(s)", contracts.YAMAddress, len(contracts.Tokens))

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", cfg.DBPath, err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.New(ctx, cfg.RealtokensAPIURL)
	if err != nil {
		log.Fatalf("failed to load RealTokens catalogue: %v", err)
	}
	cat.Start(ctx)

	pool := rpc.NewPool(cfg.W3URLs, common.HexToAddress(contracts.YAMAddress))
	defer pool.Close()

	graph := subgraph.NewClient(cfg.SubgraphURL, cfg.TheGraphAPIKey)

	server := api.NewServer(st, contracts, cat)
	go func() {
		if err := server.Start(cfg.APIPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("report API failed: %v", err)
		}
	}()

	// The indexing loop runs under a supervisor: any fatal error inside a
	// run tears the loop down, and a fresh run starts after the backoff.
	// The database watermark makes restarts safe.
	for {
		ix := indexer.New(pool, st, graph, cfg.StartBlock)
		err := ix.Run(ctx)
		if ctx.Err() != nil {
			log.Info("shutting down")
			return
		}
		log.Errorf("indexing loop stopped: %v - restarting in %s", err, restartDelay)

		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-time.After(restartDelay):
		}
	}
}
