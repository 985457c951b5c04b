// Package chains defines the closed set of chains the settler can mint on.
package chains

import "fmt"

// ChainID identifies a supported settlement chain.
type ChainID string

const (
	// ArcTestnet is Circle's Arc testnet, the default merchant settlement chain.
	ArcTestnet ChainID = "ARC_TESTNET"
	// EthereumSepolia is the Ethereum Sepolia testnet.
	EthereumSepolia ChainID = "ETHEREUM_SEPOLIA"
	// PolygonAmoy is the Polygon Amoy testnet.
	PolygonAmoy ChainID = "POLYGON_AMOY"
)

// ChainList contains the list of supported chain identifiers
var ChainList = []ChainID{
	ArcTestnet,
	EthereumSepolia,
	PolygonAmoy,
}

// chainNames maps chain identifiers to their display names
var chainNames = map[ChainID]string{
	ArcTestnet:      "ARC",
	EthereumSepolia: "SEPOLIA",
	PolygonAmoy:     "AMOY",
}

// evmChainIDs maps chain identifiers to their numeric EVM chain ids
var evmChainIDs = map[ChainID]int64{
	ArcTestnet:      5042,
	EthereumSepolia: 11155111,
	PolygonAmoy:     80002,
}

// Valid reports whether the chain identifier is part of the supported set.
func (c ChainID) Valid() bool {
	_, exists := chainNames[c]
	return exists
}

// Name returns the display name of the chain, or "" for an unknown chain.
func (c ChainID) Name() string {
	return chainNames[c]
}

// EVMChainID returns the numeric EVM chain id used for transaction signing.
func (c ChainID) EVMChainID() int64 {
	return evmChainIDs[c]
}

// Parse converts a string into a ChainID, rejecting anything outside the
// supported set so an unsupported chain can never fall through silently.
func Parse(s string) (ChainID, error) {
	c := ChainID(s)
	if !c.Valid() {
		return "", fmt.Errorf("unsupported chain: %q", s)
	}
	return c, nil
}
