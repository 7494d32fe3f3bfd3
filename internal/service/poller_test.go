package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"bencheth/internal/ethereum"
	"bencheth/internal/metrics"
	"bencheth/internal/models"
	"bencheth/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChain replays a fixed sequence of heights; the last one repeats.
type scriptedChain struct {
	mu        sync.Mutex
	heights   []uint64
	heightErr map[int]error
	failBlock map[uint64]bool
	txs       map[uint64][]common.Hash
	renumber  map[uint64]uint64
	queries   int
	fetched   []uint64
}

func (c *scriptedChain) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.queries
	c.queries++
	if err := c.heightErr[i]; err != nil {
		return 0, err
	}
	if i >= len(c.heights) {
		i = len(c.heights) - 1
	}
	return c.heights[i], nil
}

func (c *scriptedChain) BlockByNumber(_ context.Context, number uint64) (*models.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetched = append(c.fetched, number)
	if c.failBlock[number] {
		return nil, errors.New("rpc unavailable")
	}
	returned := number
	if n, ok := c.renumber[number]; ok {
		returned = n
	}
	return &models.Block{
		Number:       returned,
		Hash:         common.BigToHash(new(big.Int).SetUint64(number)),
		Timestamp:    1700000000 + number*12,
		Transactions: c.txs[number],
	}, nil
}

func (c *scriptedChain) fetchedBlocks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.fetched...)
}

type countingFetcher struct {
	calls  int
	hashes int
}

func (f *countingFetcher) FetchTransactions(_ context.Context, hashes []common.Hash) ethereum.FetchResult {
	f.calls++
	f.hashes += len(hashes)
	return ethereum.FetchResult{Fetched: len(hashes)}
}

type recordingPublisher struct {
	summaries []*models.BlockSummary
}

func (r *recordingPublisher) PublishBlock(_ context.Context, s *models.BlockSummary) {
	r.summaries = append(r.summaries, s)
}

func newTestPoller(chain ChainReader, publishers ...BlockPublisher) (*Poller, *metrics.Registry, *countingFetcher) {
	m := metrics.New("eth.example.com", "US-CA")
	fetcher := &countingFetcher{}
	p := NewPoller(chain, fetcher, m, logger.NewNop(), time.Millisecond, publishers...)
	return p, m, fetcher
}

func tickN(p *Poller, n int) {
	for i := 0; i < n; i++ {
		p.Tick(context.Background())
	}
}

func TestPollerCatchesUpEveryHeight(t *testing.T) {
	chain := &scriptedChain{heights: []uint64{100, 100, 103}}
	p, m, _ := newTestPoller(chain)

	tickN(p, 3)

	assert.Equal(t, []uint64{101, 102, 103}, chain.fetchedBlocks())
	assert.Equal(t, uint64(103), p.Height())
	assert.Equal(t, StateWatching, p.State())
	assert.Equal(t, 103.0, testutil.ToFloat64(m.BlockNumber))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BlocksProcessed))
}

func TestPollerFirstHeightDoesNotFetch(t *testing.T) {
	chain := &scriptedChain{heights: []uint64{100}}
	p, m, _ := newTestPoller(chain)

	tickN(p, 2)

	assert.Empty(t, chain.fetchedBlocks())
	assert.Equal(t, StateWatching, p.State())
	assert.Equal(t, 100.0, testutil.ToFloat64(m.BlockNumber))
}

func TestPollerIgnoresHeightRegression(t *testing.T) {
	chain := &scriptedChain{heights: []uint64{100, 95, 95, 101}}
	p, m, _ := newTestPoller(chain)

	tickN(p, 3)

	assert.Empty(t, chain.fetchedBlocks())
	assert.Equal(t, uint64(100), p.Height())
	assert.Equal(t, 100.0, testutil.ToFloat64(m.BlockNumber))

	p.Tick(context.Background())

	assert.Equal(t, []uint64{101}, chain.fetchedBlocks())
	assert.Equal(t, 101.0, testutil.ToFloat64(m.BlockNumber))
}

func TestPollerSkipsFailedBlock(t *testing.T) {
	chain := &scriptedChain{
		heights:   []uint64{100, 105},
		failBlock: map[uint64]bool{102: true},
	}
	p, m, fetcher := newTestPoller(chain)

	tickN(p, 2)

	assert.Equal(t, []uint64{101, 102, 103, 104, 105}, chain.fetchedBlocks())
	assert.Equal(t, uint64(105), p.Height())
	assert.Equal(t, 4, fetcher.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockFetchFailures))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BlocksProcessed))
	assert.Equal(t, 105.0, testutil.ToFloat64(m.BlockNumber))

	// a skipped height is never retried
	tickN(p, 2)
	assert.Len(t, chain.fetchedBlocks(), 5)
}

func TestPollerSkipsBlockWithWrongNumber(t *testing.T) {
	chain := &scriptedChain{
		heights:  []uint64{100, 102},
		renumber: map[uint64]uint64{101: 1101},
	}
	pub := &recordingPublisher{}
	p, m, fetcher := newTestPoller(chain, pub)

	tickN(p, 2)

	assert.Equal(t, []uint64{101, 102}, chain.fetchedBlocks())
	assert.Equal(t, uint64(102), p.Height())
	assert.Equal(t, 102.0, testutil.ToFloat64(m.BlockNumber))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockFetchFailures))
	assert.Equal(t, 1, fetcher.calls)
	require.Len(t, pub.summaries, 1)
	assert.Equal(t, uint64(102), pub.summaries[0].Number)
}

func TestPollerAwaitsNonZeroHeight(t *testing.T) {
	chain := &scriptedChain{
		heights:   []uint64{0, 0, 50},
		heightErr: map[int]error{0: errors.New("connection refused")},
	}
	p, m, _ := newTestPoller(chain)

	tickN(p, 2)
	assert.Equal(t, StateAwaitingFirstHeight, p.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BlockNumber))

	p.Tick(context.Background())
	assert.Equal(t, StateWatching, p.State())
	assert.Equal(t, uint64(50), p.Height())
	assert.Equal(t, 50.0, testutil.ToFloat64(m.BlockNumber))
	assert.Empty(t, chain.fetchedBlocks())
}

func TestPollerHeightErrorKeepsCursor(t *testing.T) {
	chain := &scriptedChain{
		heights:   []uint64{10, 10, 12},
		heightErr: map[int]error{1: errors.New("timeout")},
	}
	p, _, _ := newTestPoller(chain)

	tickN(p, 2)
	assert.Equal(t, uint64(10), p.Height())

	p.Tick(context.Background())
	assert.Equal(t, []uint64{11, 12}, chain.fetchedBlocks())
}

func TestPollerGaugeIsMonotonic(t *testing.T) {
	chain := &scriptedChain{heights: []uint64{10, 13, 9, 13, 15}}
	p, m, _ := newTestPoller(chain)

	var observed []float64
	for i := 0; i < 5; i++ {
		p.Tick(context.Background())
		observed = append(observed, testutil.ToFloat64(m.BlockNumber))
	}

	assert.Equal(t, []float64{10, 13, 13, 13, 15}, observed)
}

func TestPollerPublishesSummaries(t *testing.T) {
	txs := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}
	chain := &scriptedChain{
		heights: []uint64{7, 8},
		txs:     map[uint64][]common.Hash{8: txs},
	}
	pub := &recordingPublisher{}
	p, _, fetcher := newTestPoller(chain, pub)
	blockTime := time.Unix(1700000000+8*12, 0)
	p.now = func() time.Time { return blockTime.Add(3 * time.Second) }

	tickN(p, 2)

	require.Len(t, pub.summaries, 1)
	s := pub.summaries[0]
	assert.Equal(t, uint64(8), s.Number)
	assert.Equal(t, 2, s.TxCount)
	assert.Equal(t, 2, s.TxFetched)
	assert.Equal(t, 0, s.TxFailed)
	assert.Equal(t, 3*time.Second, s.Lag)
	assert.Equal(t, 3.0, s.LagSeconds)
	assert.True(t, s.Timestamp.Equal(blockTime))
	assert.Equal(t, 2, fetcher.hashes)

	st := p.Status()
	assert.Equal(t, uint64(8), st.Height)
	assert.True(t, st.LastProcessed.Equal(blockTime.Add(3*time.Second)))
}

func TestPollerResumesInterruptedCatchUp(t *testing.T) {
	chain := &scriptedChain{heights: []uint64{100, 104}}
	p, _, _ := newTestPoller(chain)
	p.Tick(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Tick(ctx)

	assert.Equal(t, StateCatchingUp, p.State())
	assert.Equal(t, uint64(100), p.Height())

	p.Tick(context.Background())

	assert.Equal(t, StateWatching, p.State())
	assert.Equal(t, []uint64{101, 102, 103, 104}, chain.fetchedBlocks())
}

func TestPollerStartStops(t *testing.T) {
	chain := &scriptedChain{heights: []uint64{1, 2, 3}}
	p, _, _ := newTestPoller(chain)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	assert.Eventually(t, func() bool { return len(chain.fetchedBlocks()) >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_first_height", StateAwaitingFirstHeight.String())
	assert.Equal(t, "watching", StateWatching.String())
	assert.Equal(t, "catching_up", StateCatchingUp.String())
}
