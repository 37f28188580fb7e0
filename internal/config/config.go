package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultStartBlock is the block the YAM contract was deployed at. A fresh
// database is seeded from here when the config does not say otherwise.
const DefaultStartBlock uint64 = 25530394

type Config struct {
	DBPath           string   `yaml:"db_path"`
	W3URLs           []string `yaml:"w3_urls"`
	SubgraphURL      string   `yaml:"subgraph_url"`
	TheGraphAPIKey   string   `yaml:"the_graph_api_key"`
	RealtokensAPIURL string   `yaml:"realtokens_api_url"`
	APIPort          int      `yaml:"api_port"`
	StartBlock       uint64   `yaml:"start_block"`
	ContractsPath    string   `yaml:"contracts_path"`
}

// Load reads and validates the configuration file. Any missing required
// key is fatal for the process, so errors here are returned verbatim.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db_path is required")
	}
	if len(cfg.W3URLs) == 0 {
		return nil, fmt.Errorf("at least one entry in w3_urls is required")
	}
	if cfg.SubgraphURL == "" {
		return nil, fmt.Errorf("subgraph_url is required")
	}
	if cfg.ContractsPath == "" {
		return nil, fmt.Errorf("contracts_path is required")
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.StartBlock == 0 {
		cfg.StartBlock = DefaultStartBlock
	}

	return &cfg, nil
}
