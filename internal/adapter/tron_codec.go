package adapter

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
)

// decodeTronMessage decodes the hex-encoded message field TronGrid returns
// on rejected broadcasts and failed executions
func decodeTronMessage(message string) string {
	if message == "" {
		return ""
	}
	decoded, err := hex.DecodeString(message)
	if err != nil {
		return message
	}
	return string(decoded)
}

// tronABIAddress encodes a base58 TRON address as a 32-byte ABI parameter
// for triggerconstantcontract calls. The base58check payload is the 0x41
// prefix byte, the 20-byte address, and a 4-byte checksum.
func tronABIAddress(address string) string {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 25 {
		return ""
	}
	addr := raw[1:21]

	padded := make([]byte, 32)
	copy(padded[32-len(addr):], addr)
	return hex.EncodeToString(padded)
}

// parseHexUint parses a hex-encoded uint256 constant result
func parseHexUint(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, false
	}
	value, ok := new(big.Int).SetString(s, 16)
	return value, ok
}
