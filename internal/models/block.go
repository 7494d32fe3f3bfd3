package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block is a fetched block with its transaction hashes only.
// It is processed once and then dropped.
type Block struct {
	Number       uint64
	Hash         common.Hash
	Timestamp    uint64 // seconds since epoch
	Transactions []common.Hash
}

// Time returns the block timestamp as a time.Time
func (b *Block) Time() time.Time {
	return time.Unix(int64(b.Timestamp), 0).UTC()
}

// Transaction is the subset of an eth_getTransactionByHash result the monitor inspects.
// Unknown fields and transaction types are tolerated.
type Transaction struct {
	Hash        common.Hash     `json:"hash"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	Type        hexutil.Uint64  `json:"type"`
}

// BlockSummary describes one processed block for streaming and status sinks.
type BlockSummary struct {
	Number      uint64        `json:"number"`
	Hash        string        `json:"hash"`
	Timestamp   time.Time     `json:"timestamp"`
	TxCount     int           `json:"tx_count"`
	TxFetched   int           `json:"tx_fetched"`
	TxFailed    int           `json:"tx_failed"`
	Lag         time.Duration `json:"-"`
	LagSeconds  float64       `json:"lag_seconds"`
	ProcessedAt time.Time     `json:"processed_at"`
}
