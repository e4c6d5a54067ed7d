package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mezonai/chainfork/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genesisYAML = `config:
  self_node:
    pubkey: node-a
    privkey_path: ./node-a.key
    grpc_addr: 127.0.0.1:9001
  peer_nodes:
    - pubkey: node-a
      grpc_addr: 127.0.0.1:9001
    - pubkey: node-b
      grpc_addr: 127.0.0.1:9002
    - pubkey: node-c
  validators:
    - pubkey: v1
      stake: "100"
    - pubkey: v2
      stake: "50"
    - pubkey: v3
  genesis:
    producer: founder
    timestamp: 2024-01-01T00:00:00Z
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadGenesisConfig(t *testing.T) {
	cfg, err := LoadGenesisConfig(writeFile(t, "genesis.yml", genesisYAML))
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.SelfNode.PubKey)
	assert.Equal(t, []string{"127.0.0.1:9002"}, cfg.PeerAddrs())

	vs, err := cfg.ValidatorSet()
	require.NoError(t, err)
	assert.Equal(t, 3, vs.Len())
	assert.Equal(t, uint64(100), vs.Stake("v1").Uint64())
	assert.Equal(t, uint64(1), vs.Stake("v3").Uint64())
	assert.Equal(t, uint64(151), vs.TotalStake().Uint64())

	g1 := cfg.GenesisBlock()
	g2 := cfg.GenesisBlock()
	assert.Equal(t, g1.ID, g2.ID)
	assert.Equal(t, uint64(0), g1.Number)
	assert.Equal(t, "founder", g1.Producer)
	assert.True(t, g1.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestGenesisConfig_BadStake(t *testing.T) {
	cfg := &GenesisConfig{Validators: []ValidatorEntry{{PubKey: "v1", Stake: "lots"}}}
	_, err := cfg.ValidatorSet()
	assert.Error(t, err)

	_, err = (&GenesisConfig{}).ValidatorSet()
	assert.Error(t, err)
}

func TestLoadGenesisConfig_Missing(t *testing.T) {
	_, err := LoadGenesisConfig(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestLoadEd25519PrivKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	loaded, err := LoadEd25519PrivKey(writeFile(t, "node.key", hex.EncodeToString(priv)+"\n"))
	require.NoError(t, err)
	assert.Equal(t, priv, loaded)

	_, err = LoadEd25519PrivKey(writeFile(t, "short.key", "abcd"))
	assert.Error(t, err)
}

func TestLoadSections(t *testing.T) {
	path := writeFile(t, "node.ini", `
[chain]
verify_signatures = false
max_orphans = 64

[repair]
max_attempts = 3
base_delay_ms = 50

[store]
type = bolt
location = /var/lib/chainfork/chain.db

[sink]
enabled = true
dsn = postgres://localhost/chain?sslmode=disable

[rpc]
jsonrpc_addr = :18080
`)

	chainCfg, err := LoadChainConfig(path)
	require.NoError(t, err)
	assert.False(t, chainCfg.VerifySignatures)
	assert.Equal(t, 64, chainCfg.MaxOrphans)
	assert.Equal(t, 4, chainCfg.ValidationWorkers)

	repairCfg, err := LoadRepairConfig(path)
	require.NoError(t, err)
	fc := repairCfg.ToFetcherConfig()
	assert.Equal(t, 3, fc.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, fc.BaseDelay)
	assert.Equal(t, 5*time.Second, fc.MaxDelay)

	storeCfg, err := LoadStoreConfig(path)
	require.NoError(t, err)
	assert.Equal(t, string(db.ProviderBolt), storeCfg.Type)

	sinkCfg, err := LoadSinkConfig(path)
	require.NoError(t, err)
	assert.True(t, sinkCfg.Enabled)
	assert.Equal(t, 1000, sinkCfg.BlocksPerCommit)

	rpcCfg, err := LoadRPCConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":18080", rpcCfg.JSONRPCAddr)
	assert.Equal(t, ":9001", rpcCfg.GRPCAddr)
	assert.Equal(t, 20, rpcCfg.SubmitMaxRequests)
}

func TestLoadSinkConfig_RequiresDSN(t *testing.T) {
	_, err := LoadSinkConfig(writeFile(t, "node.ini", "[sink]\nenabled = true\n"))
	assert.Error(t, err)
}

func TestLoadRepairConfig_RejectsZeroAttempts(t *testing.T) {
	_, err := LoadRepairConfig(writeFile(t, "node.ini", "[repair]\nmax_attempts = 0\n"))
	assert.Error(t, err)
}
