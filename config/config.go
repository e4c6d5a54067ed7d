package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/consensus"
	"github.com/mezonai/chainfork/db"
	"github.com/mezonai/chainfork/logx"
	"github.com/mezonai/chainfork/repair"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadGenesisConfig reads and parses the genesis.yml file
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfgFile ConfigFile
	if err := yaml.NewDecoder(file).Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded genesis config: self=%s peers=%d validators=%d",
		cfgFile.Config.SelfNode.PubKey, len(cfgFile.Config.PeerNodes), len(cfgFile.Config.Validators)))
	return &cfgFile.Config, nil
}

// LoadEd25519PrivKey loads a hex encoded Ed25519 private key.
func LoadEd25519PrivKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key in %s has %d bytes, want %d", path, len(key), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(key), nil
}

// ValidatorSet converts the validators section.
func (g *GenesisConfig) ValidatorSet() (*consensus.ValidatorSet, error) {
	validators := make([]consensus.Validator, 0, len(g.Validators))
	for _, v := range g.Validators {
		stake := uint256.NewInt(1)
		if v.Stake != "" {
			parsed, err := uint256.FromDecimal(v.Stake)
			if err != nil {
				return nil, fmt.Errorf("validator %s stake %q: %w", v.PubKey, v.Stake, err)
			}
			stake = parsed
		}
		validators = append(validators, consensus.Validator{ID: v.PubKey, Stake: stake})
	}
	if len(validators) == 0 {
		return nil, fmt.Errorf("genesis config lists no validators")
	}
	return consensus.NewValidatorSet(validators)
}

// GenesisBlock builds the deterministic block every node starts from.
func (g *GenesisConfig) GenesisBlock() *block.Block {
	producer := g.Genesis.Producer
	if producer == "" {
		producer = "genesis"
	}
	return block.NewGenesis(producer, g.Genesis.Timestamp)
}

// PeerAddrs returns the gRPC addresses of the other nodes.
func (g *GenesisConfig) PeerAddrs() []string {
	addrs := make([]string, 0, len(g.PeerNodes))
	for _, p := range g.PeerNodes {
		if p.GRPCAddr != "" && p.GRPCAddr != g.SelfNode.GRPCAddr {
			addrs = append(addrs, p.GRPCAddr)
		}
	}
	return addrs
}

type ChainConfig struct {
	VerifySignatures  bool `ini:"verify_signatures"`
	MaxOrphans        int  `ini:"max_orphans"`
	ValidationWorkers int  `ini:"validation_workers"`
}

type RepairConfig struct {
	MaxAttempts      int     `ini:"max_attempts"`
	BaseDelayMs      int     `ini:"base_delay_ms"`
	MaxDelayMs       int     `ini:"max_delay_ms"`
	RequestTimeoutMs int     `ini:"request_timeout_ms"`
	PeerRate         float64 `ini:"peer_rate"`
	PeerBurst        int     `ini:"peer_burst"`
	ServeRate        float64 `ini:"serve_rate"`
	ServeBurst       int     `ini:"serve_burst"`
}

type StoreConfig struct {
	Type     string `ini:"type"`
	Location string `ini:"location"`
}

type SinkConfig struct {
	Enabled         bool   `ini:"enabled"`
	DSN             string `ini:"dsn"`
	BlocksPerCommit int    `ini:"blocks_per_commit"`
}

type RPCConfig struct {
	JSONRPCAddr       string `ini:"jsonrpc_addr"`
	MetricsAddr       string `ini:"metrics_addr"`
	GRPCAddr          string `ini:"grpc_addr"`
	SubmitMaxRequests int    `ini:"submit_max_requests"`
	SubmitWindowMs    int    `ini:"submit_window_ms"`
}

func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{VerifySignatures: true, MaxOrphans: 1024, ValidationWorkers: 4}
}

func DefaultRepairConfig() *RepairConfig {
	d := repair.DefaultConfig()
	return &RepairConfig{
		MaxAttempts:      d.MaxAttempts,
		BaseDelayMs:      int(d.BaseDelay / time.Millisecond),
		MaxDelayMs:       int(d.MaxDelay / time.Millisecond),
		RequestTimeoutMs: int(d.RequestTimeout / time.Millisecond),
		PeerRate:         d.PeerRate,
		PeerBurst:        d.PeerBurst,
		ServeRate:        50,
		ServeBurst:       20,
	}
}

func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{Type: string(db.ProviderLevelDB), Location: "data/chain"}
}

func DefaultSinkConfig() *SinkConfig {
	return &SinkConfig{BlocksPerCommit: 1000}
}

func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{
		JSONRPCAddr:       ":8080",
		MetricsAddr:       ":9100",
		GRPCAddr:          ":9001",
		SubmitMaxRequests: 20,
		SubmitWindowMs:    1000,
	}
}

// ToFetcherConfig converts the millisecond fields.
func (r *RepairConfig) ToFetcherConfig() repair.Config {
	return repair.Config{
		MaxAttempts:    r.MaxAttempts,
		BaseDelay:      time.Duration(r.BaseDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(r.MaxDelayMs) * time.Millisecond,
		RequestTimeout: time.Duration(r.RequestTimeoutMs) * time.Millisecond,
		PeerRate:       r.PeerRate,
		PeerBurst:      r.PeerBurst,
	}
}

// loadSection maps section name of the ini file at path onto out. Keys that
// are absent keep the value out already holds.
func loadSection(path, name string, out interface{}) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Section(name).MapTo(out); err != nil {
		return fmt.Errorf("section [%s]: %w", name, err)
	}
	return nil
}

func LoadChainConfig(path string) (*ChainConfig, error) {
	c := DefaultChainConfig()
	if err := loadSection(path, "chain", c); err != nil {
		return nil, err
	}
	return c, nil
}

func LoadRepairConfig(path string) (*RepairConfig, error) {
	c := DefaultRepairConfig()
	if err := loadSection(path, "repair", c); err != nil {
		return nil, err
	}
	if c.MaxAttempts <= 0 {
		return nil, fmt.Errorf("section [repair]: max_attempts must be positive")
	}
	return c, nil
}

func LoadStoreConfig(path string) (*StoreConfig, error) {
	c := DefaultStoreConfig()
	if err := loadSection(path, "store", c); err != nil {
		return nil, err
	}
	return c, nil
}

func LoadSinkConfig(path string) (*SinkConfig, error) {
	c := DefaultSinkConfig()
	if err := loadSection(path, "sink", c); err != nil {
		return nil, err
	}
	if c.Enabled && c.DSN == "" {
		return nil, fmt.Errorf("section [sink]: dsn required when enabled")
	}
	return c, nil
}

func LoadRPCConfig(path string) (*RPCConfig, error) {
	c := DefaultRPCConfig()
	if err := loadSection(path, "rpc", c); err != nil {
		return nil, err
	}
	return c, nil
}
