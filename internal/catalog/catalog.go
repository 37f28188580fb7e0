// Package catalog maintains the RealToken reference data used by the
// report path: a periodically refreshed, read-through lookup keyed by the
// token's on-chain address.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// refreshInterval is the cadence of the background updater.
const refreshInterval = 24 * time.Hour

// RealToken is the subset of the catalogue entry the reports need.
type RealToken struct {
	FullName       string `json:"fullName"`
	ShortName      string `json:"shortName"`
	GnosisContract string `json:"gnosisContract"`
}

type Catalog struct {
	apiURL     string
	httpClient *http.Client
	log        *logrus.Entry

	mu     sync.RWMutex
	tokens map[string]RealToken
}

// New fetches the catalogue once, synchronously. The process cannot
// serve reports without it, so a failed initial load is an error.
func New(ctx context.Context, apiURL string) (*Catalog, error) {
	c := &Catalog{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        logrus.WithField("component", "catalog"),
	}
	tokens, err := c.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial RealTokens data: %w", err)
	}
	c.tokens = tokens
	c.log.Infof("RealTokens data fetched successfully - %d tokens processed", len(tokens))
	return c, nil
}

// Start launches the 24-hour refresh loop. A failed refresh keeps the
// previous snapshot.
func (c *Catalog) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tokens, err := c.fetch(ctx)
				if err != nil {
					c.log.Errorf("failed to update RealTokens data (24h periodic update): %v", err)
					continue
				}
				c.mu.Lock()
				c.tokens = tokens
				c.mu.Unlock()
				c.log.Info("RealTokens data updated successfully (24h periodic update)")
			}
		}
	}()
}

func (c *Catalog) fetch(ctx context.Context) (map[string]RealToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalogue API returned %s", resp.Status)
	}

	var raw []RealToken
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	tokens := make(map[string]RealToken, len(raw))
	for _, token := range raw {
		if !common.IsHexAddress(token.GnosisContract) {
			continue
		}
		tokens[common.HexToAddress(token.GnosisContract).Hex()] = token
	}
	return tokens, nil
}

// Lookup returns the catalogue entry for a checksum address.
func (c *Catalog) Lookup(address string) (RealToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.tokens[address]
	return token, ok
}

// Contains reports whether the address is a catalogued RealToken.
func (c *Catalog) Contains(address string) bool {
	_, ok := c.Lookup(address)
	return ok
}

// Len returns the number of catalogued tokens.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}
