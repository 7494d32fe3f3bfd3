package ethereum

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"bencheth/internal/metrics"
	"bencheth/internal/models"
	"bencheth/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// TransactionReader resolves a transaction hash.
type TransactionReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*models.Transaction, error)
}

// FetchResult counts the outcome of a transaction fan-out.
type FetchResult struct {
	Fetched int
	Failed  int
}

// Total is the number of lookups that completed, successful or not.
func (r FetchResult) Total() int {
	return r.Fetched + r.Failed
}

// Fetcher resolves the transactions of a block with a bounded number of concurrent lookups.
type Fetcher struct {
	reader  TransactionReader
	workers int
	metrics *metrics.Registry
	logger  *logger.Logger
}

// NewFetcher creates a fetcher; workers <= 0 means one per available CPU.
func NewFetcher(reader TransactionReader, workers int, m *metrics.Registry, log *logger.Logger) *Fetcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Fetcher{
		reader:  reader,
		workers: workers,
		metrics: m,
		logger:  log,
	}
}

// Workers returns the concurrency cap.
func (f *Fetcher) Workers() int {
	return f.workers
}

// FetchTransactions looks up every hash and returns once all lookups have completed.
// Scheduling blocks while the pool is full. Individual failures are logged and counted, never returned.
func (f *Fetcher) FetchTransactions(ctx context.Context, hashes []common.Hash) FetchResult {
	var fetched, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(f.workers)

	for _, hash := range hashes {
		hash := hash
		g.Go(func() error {
			tx, err := f.reader.TransactionByHash(ctx, hash)
			if err != nil {
				failed.Add(1)
				f.metrics.TransactionsFetched.WithLabelValues("failed").Inc()
				f.logger.Warn("Failed to get transaction %s: %v", hash.Hex(), err)
				return nil
			}

			fetched.Add(1)
			f.metrics.TransactionsFetched.WithLabelValues("ok").Inc()
			f.logger.Debug("Transaction %s found at %s", tx.Hash.Hex(), time.Now().UTC().Format(time.RFC3339Nano))
			return nil
		})
	}
	_ = g.Wait()

	return FetchResult{Fetched: int(fetched.Load()), Failed: int(failed.Load())}
}
