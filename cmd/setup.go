package cmd

import (
	"fmt"

	"github.com/mezonai/chainfork/blockstore"
	"github.com/mezonai/chainfork/chain"
	"github.com/mezonai/chainfork/config"
	"github.com/mezonai/chainfork/consensus"
	"github.com/mezonai/chainfork/db"
	"github.com/mezonai/chainfork/events"
	"github.com/mezonai/chainfork/logx"
	"github.com/mezonai/chainfork/mempool"
	"github.com/mezonai/chainfork/peerscore"
	"github.com/mezonai/chainfork/sink"
)

// components are the pieces every command wires the same way.
type components struct {
	genesis    *config.GenesisConfig
	store      *blockstore.Store
	bus        *events.EventBus
	mempool    *mempool.Mempool
	scores     *peerscore.PeerScoringManager
	controller *chain.Controller
	sink       *sink.PostgresSink
}

func openStore(iniPath string) (*blockstore.Store, error) {
	storeCfg, err := config.LoadStoreConfig(iniPath)
	if err != nil {
		return nil, fmt.Errorf("load store config: %w", err)
	}
	provider, err := db.NewProvider(db.ProviderType(storeCfg.Type), storeCfg.Location)
	if err != nil {
		return nil, fmt.Errorf("open %s store at %s: %w", storeCfg.Type, storeCfg.Location, err)
	}
	store, err := blockstore.NewStore(provider)
	if err != nil {
		provider.Close()
		return nil, err
	}
	logx.Info("CMD", fmt.Sprintf("Using %s block store at %s", storeCfg.Type, storeCfg.Location))
	return store, nil
}

func openSink(iniPath string, bus *events.EventBus) (*sink.PostgresSink, error) {
	sinkCfg, err := config.LoadSinkConfig(iniPath)
	if err != nil {
		return nil, fmt.Errorf("load sink config: %w", err)
	}
	if !sinkCfg.Enabled {
		return nil, nil
	}
	conn, err := sink.Open(sinkCfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := sink.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	s := sink.NewPostgresSink(conn, sinkCfg.BlocksPerCommit)
	s.Attach(bus)
	return s, nil
}

// buildComponents opens storage, the optional sink and an initialized
// controller. scores and repairer may be nil.
func buildComponents(genesisPath, iniPath string, scores *peerscore.PeerScoringManager, repairer chain.Repairer) (*components, error) {
	genesis, err := config.LoadGenesisConfig(genesisPath)
	if err != nil {
		return nil, fmt.Errorf("load genesis config: %w", err)
	}
	validators, err := genesis.ValidatorSet()
	if err != nil {
		return nil, err
	}
	chainCfg, err := config.LoadChainConfig(iniPath)
	if err != nil {
		return nil, fmt.Errorf("load chain config: %w", err)
	}

	store, err := openStore(iniPath)
	if err != nil {
		return nil, err
	}

	c := &components{
		genesis: genesis,
		store:   store,
		bus:     events.NewEventBus(),
		mempool: mempool.NewMempool(),
		scores:  scores,
	}
	if c.scores == nil {
		c.scores = peerscore.NewPeerScoringManager(peerscore.DefaultPeerScoringConfig())
	}
	if c.sink, err = openSink(iniPath, c.bus); err != nil {
		store.Close()
		return nil, err
	}

	c.controller, err = chain.NewController(store, consensus.NewTracker(validators), chain.Options{
		Mempool:           c.mempool,
		Events:            c.bus,
		Repairer:          repairer,
		Peers:             c.scores,
		RepairPeers:       genesis.PeerAddrs(),
		MaxOrphans:        chainCfg.MaxOrphans,
		VerifySignatures:  chainCfg.VerifySignatures,
		ValidationWorkers: chainCfg.ValidationWorkers,
	})
	if err != nil {
		c.close()
		return nil, err
	}
	if err := c.controller.Init(genesis.GenesisBlock()); err != nil {
		c.close()
		return nil, fmt.Errorf("init chain: %w", err)
	}
	return c, nil
}

func (c *components) close() {
	if c.controller != nil {
		c.controller.Close()
	}
	if c.sink != nil {
		if err := c.sink.Close(); err != nil {
			logx.Error("CMD", "Failed to close sink: ", err)
		}
	}
	if err := c.store.Close(); err != nil {
		logx.Error("CMD", "Failed to close block store: ", err)
	}
}
