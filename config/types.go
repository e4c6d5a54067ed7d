package config

import "time"

// NodeConfig describes one node of the network.
type NodeConfig struct {
	PubKey      string `yaml:"pubkey"`
	PrivKeyPath string `yaml:"privkey_path"`
	GRPCAddr    string `yaml:"grpc_addr"`
}

// ValidatorEntry is one member of the confirming validator set. Stake is a
// decimal string; empty means 1.
type ValidatorEntry struct {
	PubKey string `yaml:"pubkey"`
	Stake  string `yaml:"stake"`
}

type GenesisBlock struct {
	Producer  string    `yaml:"producer"`
	Timestamp time.Time `yaml:"timestamp"`
}

// GenesisConfig holds the configuration from genesis.yml
type GenesisConfig struct {
	SelfNode   NodeConfig       `yaml:"self_node"`
	PeerNodes  []NodeConfig     `yaml:"peer_nodes"`
	Validators []ValidatorEntry `yaml:"validators"`
	Genesis    GenesisBlock     `yaml:"genesis"`
}

// ConfigFile is the top-level structure for genesis.yml
type ConfigFile struct {
	Config GenesisConfig `yaml:"config"`
}
