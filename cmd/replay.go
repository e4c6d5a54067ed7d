package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezonai/chainfork/events"
	"github.com/mezonai/chainfork/logx"
	"github.com/spf13/cobra"
)

type ReplayConfig struct {
	GenesisPath string
	ConfigPath  string
	FeedPath    string
	BatchSize   int
}

var replayConfig ReplayConfig

var replayCmd = &cobra.Command{
	Use:   "replay [flags]",
	Short: "Replay a JSONL block and confirmation feed",
	Long: `This command streams a feed of {"block":...} and {"confirmation":...}
lines through fork choice and irreversibility. With the sink enabled the
events are committed in blocks_per_commit batches until the feed ends.
Examples:
  # Replay a feed into the configured store
  replay -g config/genesis.yml -c config/config.ini -f blocks.jsonl
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(replayConfig)
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayConfig.GenesisPath, "genesis", "g", "config/genesis.yml", "genesis config file")
	replayCmd.Flags().StringVarP(&replayConfig.ConfigPath, "config", "c", "config/config.ini", "node config file")
	replayCmd.Flags().StringVarP(&replayConfig.FeedPath, "feed", "f", "-", "JSONL feed file, - for stdin")
	replayCmd.Flags().IntVarP(&replayConfig.BatchSize, "batch", "b", 256, "blocks validated together")
}

func openFeed(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func runReplay(cfg ReplayConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(cfg.GenesisPath, cfg.ConfigPath, nil, nil)
	if err != nil {
		return err
	}
	defer comps.close()

	feed, err := openFeed(cfg.FeedPath)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer feed.Close()

	if comps.sink != nil {
		comps.sink.BeginMassiveSync()
	}

	start := time.Now()
	stats, err := replayFeed(ctx, comps.controller, feed, cfg.BatchSize)
	comps.bus.Publish(events.NewMassiveSync(stats.Head))
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	logx.Info("REPLAY", fmt.Sprintf("Replayed %d blocks and %d confirmations in %s: head=%d lib=%d rejected=%d halted=%v",
		stats.Blocks, stats.Confirmations, time.Since(start).Round(time.Millisecond), stats.Head, stats.LIB, stats.Rejected, comps.controller.Halted()))
	return nil
}
