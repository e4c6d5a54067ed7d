package cmd

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezonai/chainfork/chain"
	"github.com/mezonai/chainfork/config"
	"github.com/mezonai/chainfork/consensus"
	"github.com/mezonai/chainfork/jsonrpc"
	"github.com/mezonai/chainfork/logx"
	"github.com/mezonai/chainfork/monitoring"
	"github.com/mezonai/chainfork/network"
	"github.com/mezonai/chainfork/peerscore"
	"github.com/mezonai/chainfork/ratelimit"
	"github.com/mezonai/chainfork/repair"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	genesisPath string
	configPath  string
	feedPath    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(genesisPath, configPath, feedPath)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&genesisPath, "genesis", "g", "config/genesis.yml", "genesis config file")
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config/config.ini", "node config file")
	runCmd.Flags().StringVarP(&feedPath, "feed", "f", "", "optional JSONL feed consumed at startup")
}

// checkNodeKey loads the node key, when configured, and makes sure it
// belongs to the configured public key.
func checkNodeKey(self config.NodeConfig) error {
	if self.PrivKeyPath == "" {
		return nil
	}
	priv, err := config.LoadEd25519PrivKey(self.PrivKeyPath)
	if err != nil {
		return fmt.Errorf("load private key: %w", err)
	}
	pub := base58.Encode(priv.Public().(ed25519.PublicKey))
	if self.PubKey != "" && self.PubKey != pub {
		return fmt.Errorf("private key %s does not match pubkey %s", self.PrivKeyPath, self.PubKey)
	}
	logx.Info("CMD", "Node identity ", pub)
	return nil
}

func runNode(genesisPath, iniPath, feed string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitoring.InitMetrics()

	repairCfg, err := config.LoadRepairConfig(iniPath)
	if err != nil {
		return fmt.Errorf("load repair config: %w", err)
	}
	rpcCfg, err := config.LoadRPCConfig(iniPath)
	if err != nil {
		return fmt.Errorf("load rpc config: %w", err)
	}

	var feedReader io.ReadCloser
	if feed != "" {
		if feedReader, err = openFeed(feed); err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		defer feedReader.Close()
	}

	scores := peerscore.NewPeerScoringManager(peerscore.DefaultPeerScoringConfig())
	repairClient := network.NewRepairClient(scores)
	defer repairClient.Close()
	fetcher := repair.NewFetcher(repairClient, repairCfg.ToFetcherConfig())

	comps, err := buildComponents(genesisPath, iniPath, scores, fetcher)
	if err != nil {
		return err
	}
	defer comps.close()
	if err := checkNodeKey(comps.genesis.SelfNode); err != nil {
		return err
	}

	grpcAddr := rpcCfg.GRPCAddr
	if comps.genesis.SelfNode.GRPCAddr != "" {
		grpcAddr = comps.genesis.SelfNode.GRPCAddr
	}
	grpcSrv := network.NewServer(comps.controller, network.ServerConfig{
		RequestsPerSecond: repairCfg.ServeRate,
		Burst:             repairCfg.ServeBurst,
	})
	if _, err := network.Serve(grpcSrv, grpcAddr); err != nil {
		return err
	}
	defer grpcSrv.GracefulStop()

	rpcSrv := jsonrpc.NewServer(rpcCfg.JSONRPCAddr, comps.controller)
	if cors, ok := jsonrpc.CORSFromEnv(); ok {
		rpcSrv.SetCORSConfig(cors)
	}
	if rpcCfg.SubmitMaxRequests > 0 {
		limiter := ratelimit.NewSlidingWindow(ratelimit.Config{
			MaxRequests: rpcCfg.SubmitMaxRequests,
			Window:      time.Duration(rpcCfg.SubmitWindowMs) * time.Millisecond,
		})
		limiter.RunCleanup(ctx)
		rpcSrv.SetSubmitLimiter(limiter)
	}
	rpcSrv.Start()

	mux := http.NewServeMux()
	monitoring.RegisterMetrics(mux)
	metricsSrv := &http.Server{Addr: rpcCfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		comps.scores.Run(gctx)
		return nil
	})

	blocks := make(chan chain.InboundBlock, 64)
	confs := make(chan *consensus.Confirmation, 256)
	if feedReader != nil {
		r := feedReader
		g.Go(func() error {
			if err := pumpFeed(gctx, r, "feed", blocks, confs); err != nil && gctx.Err() == nil {
				logx.Error("CMD", "Feed stopped: ", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := comps.controller.Run(gctx, blocks, confs)
		if feedReader != nil && err == nil {
			logx.Info("CMD", "Feed drained, serving queries until shutdown")
			<-gctx.Done()
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rpcSrv.Shutdown(shutdownCtx); err != nil {
			logx.Warn("CMD", "JSON-RPC shutdown: ", err)
		}
		return metricsSrv.Shutdown(shutdownCtx)
	})

	head := comps.controller.Head()
	logx.Info("CMD", fmt.Sprintf("Node started: head=%d lib=%d grpc=%s jsonrpc=%s metrics=%s",
		head.Number, comps.controller.LastIrreversible(), grpcAddr, rpcCfg.JSONRPCAddr, rpcCfg.MetricsAddr))

	err = g.Wait()
	comps.controller.Close()
	logx.Info("CMD", "Node stopped")
	return err
}
