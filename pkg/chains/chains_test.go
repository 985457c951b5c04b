package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ChainID
		wantErr bool
	}{
		{
			name:  "arc testnet",
			input: "ARC_TESTNET",
			want:  ArcTestnet,
		},
		{
			name:  "ethereum sepolia",
			input: "ETHEREUM_SEPOLIA",
			want:  EthereumSepolia,
		},
		{
			name:  "polygon amoy",
			input: "POLYGON_AMOY",
			want:  PolygonAmoy,
		},
		{
			name:    "unknown chain",
			input:   "BASE_SEPOLIA",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "lowercase is rejected",
			input:   "arc_testnet",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEVMChainIDs(t *testing.T) {
	// Every supported chain must have a non-zero EVM chain id and a name,
	// otherwise transaction signing would silently target chain 0.
	for _, chain := range ChainList {
		assert.True(t, chain.Valid(), "chain %s should be valid", chain)
		assert.NotZero(t, chain.EVMChainID(), "chain %s has no EVM chain id", chain)
		assert.NotEmpty(t, chain.Name(), "chain %s has no name", chain)
	}

	assert.Equal(t, int64(11155111), EthereumSepolia.EVMChainID())
	assert.Equal(t, int64(80002), PolygonAmoy.EVMChainID())
}
