package types

import "testing"

func TestNetworkForChainID(t *testing.T) {
	cases := map[int64]Network{
		1:     NetworkEthereum,
		137:   NetworkPolygon,
		80002: NetworkPolygonAmoy,
		8453:  NetworkBase,
		56:    NetworkBSC,
		97:    NetworkBSCTestnet,
		1284:  NetworkMoonbeam,
		1287:  NetworkMoonbase,
		99999: NetworkEthereum, // unknown ids fall back to ethereum
	}
	for chainID, want := range cases {
		if got := NetworkForChainID(chainID); got != want {
			t.Errorf("NetworkForChainID(%d) = %s, want %s", chainID, got, want)
		}
	}
}
