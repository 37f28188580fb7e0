package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

const validConfig = `
db_path: yam.db
w3_urls:
  - https://rpc.gnosischain.com
  - https://rpc.ankr.com/gnosis
subgraph_url: https://gateway.thegraph.com/api/subgraphs/id/abc
the_graph_api_key: secret
realtokens_api_url: https://api.realtoken.community/v1/token
contracts_path: contracts.json
`

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeFile(t, "config.yaml", validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBPath != "yam.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if len(cfg.W3URLs) != 2 {
		t.Errorf("W3URLs = %v, want 2 entries", cfg.W3URLs)
	}
	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want default 8080", cfg.APIPort)
	}
	if cfg.StartBlock != DefaultStartBlock {
		t.Errorf("StartBlock = %d, want default %d", cfg.StartBlock, DefaultStartBlock)
	}
}

func TestLoadMissingKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		drop    string
		wantErr string
	}{
		{"no db path", "db_path", "db_path"},
		{"no endpoints", "w3_urls", "w3_urls"},
		{"no subgraph", "subgraph_url", "subgraph_url"},
		{"no contracts", "contracts_path", "contracts_path"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var kept []string
			for _, line := range strings.Split(validConfig, "\n") {
				if strings.HasPrefix(line, tc.drop) || (tc.drop == "w3_urls" && strings.HasPrefix(line, "  -")) {
					continue
				}
				kept = append(kept, line)
			}

			_, err := Load(writeFile(t, "config.yaml", strings.Join(kept, "\n")))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Load() error = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() error = nil for a missing file")
	}
}

func TestLoadContracts(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "contracts.json", `{
		"contracts": {
			"yamv1": {"address": "0xc759aa7f9dd9720a1502c104dae4f9c8a3027c9e", "decimals": 0},
			"USDC":  {"address": "0xddafbb505ad214d7b80b1f830fccc89b60fb7a83", "decimals": 6},
			"WXDAI": {"address": "0xe91d153e0b41518a2ce8dd3d7944fa863463a97d", "decimals": 18}
		}
	}`)

	contracts, err := LoadContracts(path)
	if err != nil {
		t.Fatalf("LoadContracts() error = %v", err)
	}
	if contracts.YAMAddress != "0xC759AA7f9dd9720A1502c104DaE4F9C8a3027C9e" {
		t.Errorf("YAMAddress = %s, want checksum-cased", contracts.YAMAddress)
	}
	if len(contracts.Tokens) != 2 {
		t.Errorf("Tokens = %d entries, want 2 (yamv1 excluded)", len(contracts.Tokens))
	}

	name, ref, ok := contracts.TokenByAddress("0xDDAFbb505ad214D7b80b1f830fcCc89B60fb7A83")
	if !ok || name != "USDC" || ref.Decimals != 6 {
		t.Errorf("TokenByAddress() = (%s, %+v, %v), want USDC with 6 decimals", name, ref, ok)
	}
	if !contracts.IsPaymentToken("0xe91D153E0b41518A2Ce8Dd3D7944Fa863463a97d") {
		t.Error("IsPaymentToken(WXDAI) = false")
	}
	if contracts.IsPaymentToken("0x9999999999999999999999999999999999999999") {
		t.Error("IsPaymentToken(unknown) = true")
	}
}

func TestLoadContractsMissingYAM(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "contracts.json", `{
		"contracts": {
			"USDC": {"address": "0xddafbb505ad214d7b80b1f830fccc89b60fb7a83", "decimals": 6}
		}
	}`)

	if _, err := LoadContracts(path); err == nil || !strings.Contains(err.Error(), "yamv1") {
		t.Errorf("LoadContracts() error = %v, want missing yamv1", err)
	}
}

func TestLoadContractsBadAddress(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "contracts.json", `{
		"contracts": {
			"yamv1": {"address": "not-an-address", "decimals": 0}
		}
	}`)

	if _, err := LoadContracts(path); err == nil {
		t.Error("LoadContracts() error = nil for an invalid address")
	}
}
