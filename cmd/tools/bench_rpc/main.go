package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"yam-indexer/internal/config"
)

// Probes every configured JSON-RPC endpoint: dial time, head latency,
// and a getLogs over a recent window of the marketplace contract. Useful
// for ordering w3_urls so the pool starts on the fastest provider.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	window := flag.Uint64("window", 120, "block window for the getLogs probe")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Unable to load configuration: %v", err)
	}
	contracts, err := config.LoadContracts(cfg.ContractsPath)
	if err != nil {
		log.Fatalf("Unable to load contracts file: %v", err)
	}
	contract := common.HexToAddress(contracts.YAMAddress)

	ctx := context.Background()
	for i, url := range cfg.W3URLs {
		fmt.Printf("\n========== endpoint %d/%d (%s) ==========\n", i+1, len(cfg.W3URLs), url)
		probe(ctx, url, contract, *window)
	}
}

func probe(ctx context.Context, url string, contract common.Address, window uint64) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	t0 := time.Now()
	client, err := ethclient.DialContext(ctx, url)
	d0 := time.Since(t0)
	if err != nil {
		fmt.Printf("  Dial: FAIL (%v) [%v]\n", err, d0)
		return
	}
	defer client.Close()
	fmt.Printf("  Dial: OK [%v]\n", d0)

	t0 = time.Now()
	head, err := client.BlockNumber(ctx)
	d1 := time.Since(t0)
	if err != nil {
		fmt.Printf("  BlockNumber: FAIL (%v) [%v]\n", err, d1)
		return
	}
	fmt.Printf("  BlockNumber: OK [%v] head=%d\n", d1, head)

	from := head - window
	t0 = time.Now()
	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{contract},
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
	})
	d2 := time.Since(t0)
	if err != nil {
		fmt.Printf("  FilterLogs[%d-%d]: FAIL (%v) [%v]\n", from, head, err, d2)
		return
	}
	fmt.Printf("  FilterLogs[%d-%d]: OK [%v] logs=%d\n", from, head, d2, len(logs))

	// 5 consecutive head reads approximate steady-state loop latency.
	t0 = time.Now()
	for i := 0; i < 5; i++ {
		if _, err := client.BlockNumber(ctx); err != nil {
			fmt.Printf("  Multi-head fetch: FAIL: %v\n", err)
			return
		}
	}
	d3 := time.Since(t0)
	fmt.Printf("  5 consecutive BlockNumber: [%v] avg=%v\n", d3, d3/5)
}
