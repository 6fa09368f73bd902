package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/zigzag/pkg/abci"
	"github.com/uhyunpark/zigzag/pkg/util"
)

// Chain is an application that knows its own height
type Chain interface {
	abci.Application
	Height() int64
}

// Producer drives a Chain as the sole block proposer. Transaction
// ordering is whatever the mempool hands out; there is no voting.
type Producer struct {
	Chain         Chain
	Clock         util.Clock
	MinBlockTime  time.Duration // pause between blocks
	MaxBlockBytes int64
	Logger        *zap.SugaredLogger
}

// Run produces blocks until ctx is done. Empty blocks are skipped.
func (p *Producer) Run(ctx context.Context) error {
	if p.Logger == nil {
		p.Logger = zap.NewNop().Sugar()
	}
	p.Logger.Infow("producer_started", "min_block_time_ms", p.MinBlockTime.Milliseconds(), "height", p.Chain.Height())

	for {
		select {
		case <-ctx.Done():
			p.Logger.Infow("producer_stopped", "height", p.Chain.Height())
			return ctx.Err()
		case <-p.Clock.After(p.MinBlockTime):
			p.ProduceBlock()
		}
	}
}

// ProduceBlock proposes, checks and finalizes one block. It reports false
// when there was nothing to include.
func (p *Producer) ProduceBlock() (abci.ResponseFinalizeBlock, bool) {
	height := p.Chain.Height() + 1

	prop := p.Chain.PrepareProposal(abci.RequestPrepareProposal{Height: height, MaxTxBytes: p.MaxBlockBytes})
	if len(prop.Txs) == 0 {
		return abci.ResponseFinalizeBlock{}, false
	}

	if !p.Chain.ProcessProposal(abci.RequestProcessProposal{Height: height, Txs: prop.Txs}).Accept {
		if p.Logger != nil {
			p.Logger.Warnw("proposal_rejected", "height", height, "txs", len(prop.Txs))
		}
		return abci.ResponseFinalizeBlock{}, false
	}

	resp := p.Chain.FinalizeBlock(abci.RequestFinalizeBlock{
		Height:    height,
		Timestamp: p.Clock.Now().Unix(),
		Txs:       prop.Txs,
	})
	return resp, true
}
