package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IsValidAddress reports whether s looks like a checksummable hex address.
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// Normalize returns the EIP-55 checksum form of an address.
func Normalize(s string) string {
	return common.HexToAddress(s).Hex()
}

// SettlementHash derives a deterministic pseudo transaction hash for a
// simulated broadcast. There is no real chain behind the pipeline, but
// downstream consumers still expect a 32-byte tx reference.
func SettlementHash(parts ...string) string {
	data := make([]byte, 0, 64)
	for _, p := range parts {
		data = append(data, []byte(p)...)
	}
	return crypto.Keccak256Hash(data).Hex()
}

// ShortRef formats a settlement hash the way the dashboard renders it.
func ShortRef(hash string) string {
	if len(hash) < 12 {
		return hash
	}
	return fmt.Sprintf("%s…%s", hash[:8], hash[len(hash)-4:])
}
