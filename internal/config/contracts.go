package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// ContractRef is one entry of the contract reference file: a symbolic
// token (or contract) name mapped to its on-chain address and decimals.
type ContractRef struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// Contracts holds the reference file content. YAMAddress is the
// marketplace contract the indexer filters logs on; Tokens are the
// payment tokens the report path uses to translate addresses to names
// and scale raw integer amounts.
type Contracts struct {
	YAMAddress string
	Tokens     map[string]ContractRef
}

type contractsFile struct {
	Contracts map[string]ContractRef `json:"contracts"`
}

// LoadContracts reads the contract reference file. The "yamv1" entry is
// mandatory; every other entry is treated as a payment token.
func LoadContracts(path string) (*Contracts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contracts file: %w", err)
	}

	var file contractsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse contracts file: %w", err)
	}

	yam, ok := file.Contracts["yamv1"]
	if !ok {
		return nil, fmt.Errorf("contracts file is missing the yamv1 entry")
	}
	if !common.IsHexAddress(yam.Address) {
		return nil, fmt.Errorf("yamv1 address %q is not a valid address", yam.Address)
	}

	tokens := make(map[string]ContractRef, len(file.Contracts)-1)
	for name, ref := range file.Contracts {
		if name == "yamv1" {
			continue
		}
		if !common.IsHexAddress(ref.Address) {
			return nil, fmt.Errorf("contract %q address %q is not a valid address", name, ref.Address)
		}
		// Store checksum-cased so lookups match persisted rows.
		ref.Address = common.HexToAddress(ref.Address).Hex()
		tokens[name] = ref
	}

	return &Contracts{
		YAMAddress: common.HexToAddress(yam.Address).Hex(),
		Tokens:     tokens,
	}, nil
}

// TokenByAddress returns the symbolic name and reference for a payment
// token address, or ok=false when the address is not referenced.
func (c *Contracts) TokenByAddress(address string) (string, ContractRef, bool) {
	for name, ref := range c.Tokens {
		if ref.Address == address {
			return name, ref, true
		}
	}
	return "", ContractRef{}, false
}

// IsPaymentToken reports whether the address belongs to the contract
// reference file (i.e. is a known payment token).
func (c *Contracts) IsPaymentToken(address string) bool {
	_, _, ok := c.TokenByAddress(address)
	return ok
}
