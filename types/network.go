package types

import "math/big"

// Network represents a supported EVM network. One process serves one network.
type Network string

const (
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy" // testnet
	NetworkLocal       Network = "localhost"    // anvil / hardhat
)

type networkInfo struct {
	chainID int64
	testnet bool
	faucet  string
}

var networks = map[Network]networkInfo{
	NetworkBase:        {chainID: 8453},
	NetworkBaseSepolia: {chainID: 84532, testnet: true, faucet: "https://www.coinbase.com/faucets/base-ethereum-sepolia-faucet"},
	NetworkPolygon:     {chainID: 137},
	NetworkPolygonAmoy: {chainID: 80002, testnet: true, faucet: "https://faucet.polygon.technology"},
	NetworkLocal:       {chainID: 31337, testnet: true},
}

// IsKnown reports whether the network is in the chain table.
func (n Network) IsKnown() bool {
	_, ok := networks[n]
	return ok
}

func (n Network) IsTestnet() bool {
	return networks[n].testnet
}

// ChainID returns the EIP-155 chain id, or nil for an unknown network.
func (n Network) ChainID() *big.Int {
	info, ok := networks[n]
	if !ok {
		return nil
	}
	return big.NewInt(info.chainID)
}

// Faucet returns a testnet faucet URL, if one is known.
func (n Network) Faucet() string {
	return networks[n].faucet
}

func (n Network) String() string {
	return string(n)
}

// NetworkForChainID maps a chain id back to its network name.
func NetworkForChainID(id *big.Int) (Network, bool) {
	if id == nil {
		return "", false
	}
	for n, info := range networks {
		if info.chainID == id.Int64() {
			return n, true
		}
	}
	return "", false
}
