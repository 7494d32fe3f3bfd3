package ethereum

import (
	"context"
	"fmt"

	"bencheth/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Caller is the raw JSON-RPC call surface; *Transport implements it.
type Caller interface {
	Call(ctx context.Context, result interface{}, method string, params ...interface{}) error
}

// Client exposes the three chain queries the monitor needs.
type Client struct {
	caller Caller
}

// NewClient creates a client over the given caller.
func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

type rpcBlock struct {
	Number       *hexutil.Uint64 `json:"number"`
	Hash         *common.Hash    `json:"hash"`
	Timestamp    hexutil.Uint64  `json:"timestamp"`
	Transactions []common.Hash   `json:"transactions"`
}

// BlockNumber retrieves the latest block number (eth_blockNumber)
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var number hexutil.Uint64
	if err := c.caller.Call(ctx, &number, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return uint64(number), nil
}

// BlockByNumber retrieves a block with its transaction hashes.
// A null result is reported as ErrBlockNotFound.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*models.Block, error) {
	var raw *rpcBlock
	if err := c.caller.Call(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("block %d: %w", number, ErrBlockNotFound)
	}
	// pending blocks carry no number or hash
	if raw.Number == nil || raw.Hash == nil {
		return nil, fmt.Errorf("block %d is incomplete: %w", number, ErrBlockNotFound)
	}

	return &models.Block{
		Number:       uint64(*raw.Number),
		Hash:         *raw.Hash,
		Timestamp:    uint64(raw.Timestamp),
		Transactions: raw.Transactions,
	}, nil
}

// TransactionByHash retrieves a transaction (eth_getTransactionByHash).
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*models.Transaction, error) {
	var tx *models.Transaction
	if err := c.caller.Call(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), ErrTransactionNotFound)
	}
	return tx, nil
}
