// Package rpc maintains a pool of EVM JSON-RPC endpoints and fetches
// contract logs with bounded retries. When one endpoint keeps failing the
// pool rotates a single step and surrenders to the caller, which decides
// whether to try again on the next iteration.
package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const (
	// MaxRetries is how many times one endpoint is tried before rotating.
	MaxRetries = 6
	// RetryDelay separates consecutive attempts against the same endpoint.
	RetryDelay = 1500 * time.Millisecond
)

// Backend is the slice of the Ethereum client the pool needs. ethclient
// satisfies it; tests inject fakes.
type Backend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// DialFunc opens a Backend for an endpoint URL.
type DialFunc func(ctx context.Context, url string) (Backend, error)

func dialEthclient(ctx context.Context, url string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Pool holds an ordered list of endpoint URLs, the current index, and the
// active client. It is mutated only by the indexing loop; it is not safe
// for concurrent use.
type Pool struct {
	urls     []string
	index    int
	client   Backend
	dial     DialFunc
	contract common.Address
	log      *logrus.Entry

	retryDelay time.Duration
}

// NewPool builds a pool over the configured endpoints. The client for the
// first endpoint is dialed lazily on first use.
func NewPool(urls []string, contract common.Address) *Pool {
	return &Pool{
		urls:       urls,
		dial:       dialEthclient,
		contract:   contract,
		log:        logrus.WithField("component", "rpc"),
		retryDelay: RetryDelay,
	}
}

// NewPoolWithDialer is NewPool with an injected dialer, for tests.
func NewPoolWithDialer(urls []string, contract common.Address, dial DialFunc) *Pool {
	p := NewPool(urls, contract)
	p.dial = dial
	return p
}

// Endpoint returns the URL of the currently selected endpoint.
func (p *Pool) Endpoint() string {
	return p.urls[p.index]
}

// GetLogs fetches the contract's logs in [fromBlock, toBlock]. Each
// endpoint gets MaxRetries attempts separated by the retry delay; on
// exhaustion the pool rotates one step and reports failure so the caller
// can reissue against the fresh endpoint next tick.
func (p *Pool) GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{p.contract},
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
	}

	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		client, err := p.ensureClient(ctx)
		if err != nil {
			lastErr = err
		} else {
			logs, err := client.FilterLogs(ctx, query)
			if err == nil {
				return logs, nil
			}
			lastErr = err
		}

		p.log.Infof("blocks %d-%d retrieval failed on endpoint %d/%d (attempt %d/%d): %v",
			fromBlock, toBlock, p.index+1, len(p.urls), attempt, MaxRetries, lastErr)

		if attempt < MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}
	}

	old := p.urls[p.index]
	p.log.Infof("blocks retrieval failed too many times on [%s]", old)
	p.Rotate(ctx)
	return nil, fmt.Errorf("all %d attempts against %s failed: %w", MaxRetries, old, lastErr)
}

// HeadBlock returns the current chain head as seen by the active endpoint.
func (p *Pool) HeadBlock(ctx context.Context) (uint64, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return 0, err
	}
	return client.BlockNumber(ctx)
}

func (p *Pool) ensureClient(ctx context.Context) (Backend, error) {
	if p.client != nil {
		return p.client, nil
	}
	client, err := p.dial(ctx, p.urls[p.index])
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", p.urls[p.index], err)
	}
	p.client = client
	return client, nil
}

// Rotate advances to the next endpoint and instantiates a fresh client.
// GetLogs calls it after exhausting its retries; the indexing loop calls
// it when an endpoint answers but serves payloads that fail to decode.
// A dial failure leaves the client unset; the next call re-dials.
func (p *Pool) Rotate(ctx context.Context) {
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	old := p.index
	p.index = (p.index + 1) % len(p.urls)
	p.log.Infof("changing from RPC n°%d to RPC n°%d [%s]", old+1, p.index+1, p.Endpoint())
	client, err := p.dial(ctx, p.urls[p.index])
	if err != nil {
		p.log.Warnf("failed to dial rotated endpoint %s: %v", p.urls[p.index], err)
		return
	}
	p.client = client
}

// Close releases the active client, if any.
func (p *Pool) Close() {
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}
