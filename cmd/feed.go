package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/chain"
	"github.com/mezonai/chainfork/consensus"
	"github.com/mezonai/chainfork/jsonx"
	"github.com/mezonai/chainfork/logx"
)

const maxFeedLine = 16 << 20

// feedRecord is one JSONL line: exactly one of the fields is set.
type feedRecord struct {
	Block        *block.Block            `json:"block,omitempty"`
	Confirmation *consensus.Confirmation `json:"confirmation,omitempty"`
}

// readFeed decodes r line by line. Blank lines are skipped.
func readFeed(r io.Reader, fn func(rec feedRecord) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFeedLine)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec feedRecord
		if err := jsonx.Unmarshal([]byte(text), &rec); err != nil {
			return fmt.Errorf("feed line %d: %w", line, err)
		}
		if (rec.Block == nil) == (rec.Confirmation == nil) {
			return fmt.Errorf("feed line %d: want exactly one of block or confirmation", line)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// pumpFeed forwards feed records into the controller's inbound channels and
// closes both when r is exhausted.
func pumpFeed(ctx context.Context, r io.Reader, peer string, blocks chan<- chain.InboundBlock, confs chan<- *consensus.Confirmation) error {
	defer close(blocks)
	defer close(confs)
	return readFeed(r, func(rec feedRecord) error {
		if rec.Block != nil {
			select {
			case blocks <- chain.InboundBlock{Peer: peer, Block: rec.Block}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
		select {
		case confs <- rec.Confirmation:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

type replayStats struct {
	Blocks        int
	Confirmations int
	Rejected      int
	Head          uint64
	LIB           uint64
}

// replayFeed drives r through c in order. Consecutive blocks are validated
// together in batches of up to batchSize before being applied one by one.
func replayFeed(ctx context.Context, c *chain.Controller, r io.Reader, batchSize int) (replayStats, error) {
	if batchSize <= 0 {
		batchSize = 256
	}
	var stats replayStats
	pending := make([]*block.Block, 0, batchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		errs := c.ValidateParallel(ctx, pending)
		for i, b := range pending {
			if errs[i] != nil {
				stats.Rejected++
				logx.Warn("REPLAY", fmt.Sprintf("Skipping invalid block %s: %v", b, errs[i]))
				continue
			}
			res, err := c.ProcessBlock(ctx, "replay", b)
			if err != nil && ctx.Err() != nil {
				return err
			}
			if err != nil {
				logx.Error("REPLAY", fmt.Sprintf("Block %s: %v", b, err))
			}
			if res.Outcome == chain.Rejected {
				stats.Rejected++
			}
			stats.Blocks++
		}
		pending = pending[:0]
		return nil
	}

	err := readFeed(r, func(rec feedRecord) error {
		if rec.Block != nil {
			pending = append(pending, rec.Block)
			if len(pending) >= batchSize {
				return flush()
			}
			return nil
		}
		if err := flush(); err != nil {
			return err
		}
		stats.Confirmations++
		if _, err := c.ProcessConfirmation(ctx, rec.Confirmation); err != nil {
			logx.Warn("REPLAY", "Confirmation rejected: ", err)
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	c.WaitForRepairs()

	if head := c.Head(); head != nil {
		stats.Head = head.Number
	}
	stats.LIB = c.LastIrreversible()
	return stats, err
}
