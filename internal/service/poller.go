package service

import (
	"context"
	"sync/atomic"
	"time"

	"bencheth/internal/ethereum"
	"bencheth/internal/metrics"
	"bencheth/internal/models"
	"bencheth/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// ChainReader is the block-level view of the monitored endpoint.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*models.Block, error)
}

// TransactionFetcher resolves all transactions of a block.
type TransactionFetcher interface {
	FetchTransactions(ctx context.Context, hashes []common.Hash) ethereum.FetchResult
}

// BlockPublisher receives a summary of every processed block.
// Implementations must not block the poll loop for long.
type BlockPublisher interface {
	PublishBlock(ctx context.Context, summary *models.BlockSummary)
}

// State is the poller's position in its height-tracking state machine.
type State int

const (
	StateAwaitingFirstHeight State = iota
	StateWatching
	StateCatchingUp
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirstHeight:
		return "awaiting_first_height"
	case StateWatching:
		return "watching"
	case StateCatchingUp:
		return "catching_up"
	default:
		return "unknown"
	}
}

// Poller tracks the endpoint's chain tip and fetches every new block and its transactions.
// The poll loop is the only writer of the cursor and of the block_number gauge.
type Poller struct {
	chain      ChainReader
	fetcher    TransactionFetcher
	metrics    *metrics.Registry
	logger     *logger.Logger
	interval   time.Duration
	publishers []BlockPublisher
	now        func() time.Time

	state   State
	current uint64
	target  uint64

	gauge    uint64
	gaugeSet bool

	// snapshot for readers outside the poll loop
	lastHeight    atomic.Uint64
	lastProcessed atomic.Int64
}

// Status is a point-in-time view of the poller, safe to read from any goroutine.
type Status struct {
	Height        uint64    `json:"height"`
	LastProcessed time.Time `json:"last_processed,omitempty"`
}

// NewPoller creates a poller in the AwaitingFirstHeight state.
func NewPoller(
	chain ChainReader,
	fetcher TransactionFetcher,
	m *metrics.Registry,
	log *logger.Logger,
	interval time.Duration,
	publishers ...BlockPublisher,
) *Poller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	return &Poller{
		chain:      chain,
		fetcher:    fetcher,
		metrics:    m,
		logger:     log,
		interval:   interval,
		publishers: publishers,
		now:        time.Now,
		state:      StateAwaitingFirstHeight,
	}
}

// Start runs the poll loop until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("Polling for new blocks every %s", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped at block %d", p.current)
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// State returns the current state.
func (p *Poller) State() State {
	return p.state
}

// Height returns the polling cursor.
func (p *Poller) Height() uint64 {
	return p.current
}

// Status reports the highest height seen and when a block was last processed.
func (p *Poller) Status() Status {
	st := Status{Height: p.lastHeight.Load()}
	if ns := p.lastProcessed.Load(); ns > 0 {
		st.LastProcessed = time.Unix(0, ns).UTC()
	}
	return st
}

// Tick performs one height query and any catch-up it triggers.
func (p *Poller) Tick(ctx context.Context) {
	height, err := p.chain.BlockNumber(ctx)
	if err != nil {
		p.logger.Warn("Failed to get block number: %v", err)
		return
	}

	switch p.state {
	case StateAwaitingFirstHeight:
		if height == 0 {
			p.logger.Debug("Endpoint reported block height 0, waiting")
			return
		}
		p.current = height
		p.state = StateWatching
		p.setGauge(height)
		p.logger.Info("Current block height: %d", height)

	case StateWatching:
		if height == p.current {
			return
		}
		if height < p.current {
			p.logger.Warn("Latest block height %d is lower than current block height %d", height, p.current)
			return
		}
		p.logger.Info("Current block height: %d (%d new blocks)", height, height-p.current)
		p.catchUp(ctx, height)

	case StateCatchingUp:
		// a previous catch-up was interrupted by cancellation; resume it
		p.catchUp(ctx, max(p.target, height))
	}
}

// catchUp walks the cursor to target one block at a time; unfetchable heights are skipped.
func (p *Poller) catchUp(ctx context.Context, target uint64) {
	p.state = StateCatchingUp
	p.target = target

	for p.current < p.target {
		if ctx.Err() != nil {
			return
		}
		p.current++
		p.processBlock(ctx, p.current)
	}

	p.state = StateWatching
}

func (p *Poller) processBlock(ctx context.Context, number uint64) {
	block, err := p.chain.BlockByNumber(ctx, number)
	if err != nil {
		p.metrics.BlockFetchFailures.Inc()
		p.logger.Warn("Failed to get block %d: %v", number, err)
		return
	}
	if block.Number != number {
		p.metrics.BlockFetchFailures.Inc()
		p.logger.Warn("Requested block %d but endpoint returned block %d, skipping", number, block.Number)
		return
	}

	p.setGauge(block.Number)

	res := p.fetcher.FetchTransactions(ctx, block.Transactions)

	processedAt := p.now()
	lag := processedAt.Sub(block.Time())
	p.metrics.BlocksProcessed.Inc()
	p.metrics.BlockLag.Set(lag.Seconds())
	p.lastProcessed.Store(processedAt.UnixNano())

	p.logger.Info(
		"New block height %d at %s with timestamp %s with %d txs found after %s.",
		block.Number,
		block.Hash.Hex(),
		block.Time().Format(time.RFC3339),
		res.Total(),
		lag,
	)
	if res.Failed > 0 {
		p.logger.Warn("Block %d: %d of %d transactions could not be fetched", block.Number, res.Failed, res.Total())
	}

	if len(p.publishers) == 0 {
		return
	}
	summary := &models.BlockSummary{
		Number:      block.Number,
		Hash:        block.Hash.Hex(),
		Timestamp:   block.Time(),
		TxCount:     len(block.Transactions),
		TxFetched:   res.Fetched,
		TxFailed:    res.Failed,
		Lag:         lag,
		LagSeconds:  lag.Seconds(),
		ProcessedAt: processedAt.UTC(),
	}
	for _, pub := range p.publishers {
		pub.PublishBlock(ctx, summary)
	}
}

// setGauge only ever moves block_number forward.
func (p *Poller) setGauge(number uint64) {
	if p.gaugeSet && number <= p.gauge {
		return
	}
	p.gauge = number
	p.gaugeSet = true
	p.metrics.SetBlockNumber(number)
	p.lastHeight.Store(number)
}
