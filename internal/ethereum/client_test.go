package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedCaller decodes a fixed JSON result per method.
type cannedCaller struct {
	results map[string]string
	err     error
	calls   []string
	params  [][]interface{}
}

func (c *cannedCaller) Call(_ context.Context, result interface{}, method string, params ...interface{}) error {
	c.calls = append(c.calls, method)
	c.params = append(c.params, params)
	if c.err != nil {
		return c.err
	}
	return json.Unmarshal([]byte(c.results[method]), result)
}

func TestClientBlockNumber(t *testing.T) {
	caller := &cannedCaller{results: map[string]string{"eth_blockNumber": `"0x12a05f200"`}}

	number, err := NewClient(caller).BlockNumber(context.Background())

	require.NoError(t, err)
	assert.Equal(t, uint64(5000000000), number)
	assert.Equal(t, []string{"eth_blockNumber"}, caller.calls)
}

func TestClientBlockNumberError(t *testing.T) {
	caller := &cannedCaller{err: &CallError{Method: "eth_blockNumber", Err: errors.New("boom")}}

	_, err := NewClient(caller).BlockNumber(context.Background())

	var callErr *CallError
	assert.True(t, errors.As(err, &callErr))
}

func TestClientBlockByNumber(t *testing.T) {
	caller := &cannedCaller{results: map[string]string{"eth_getBlockByNumber": `{
		"number": "0x65",
		"hash": "0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6",
		"timestamp": "0x55ba4224",
		"transactions": [
			"0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
			"0x1111111111111111111111111111111111111111111111111111111111111111"
		],
		"miner": "0x05a56e2d52c817161883f50c441c3228cfe54d9f"
	}`}}

	block, err := NewClient(caller).BlockByNumber(context.Background(), 101)

	require.NoError(t, err)
	assert.Equal(t, uint64(101), block.Number)
	assert.Equal(t, common.HexToHash("0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6"), block.Hash)
	assert.Equal(t, uint64(0x55ba4224), block.Timestamp)
	require.Len(t, block.Transactions, 2)
	assert.Equal(t, common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"), block.Transactions[0])

	require.Len(t, caller.params, 1)
	assert.Equal(t, []interface{}{"0x65", false}, caller.params[0])
}

func TestClientBlockByNumberNull(t *testing.T) {
	caller := &cannedCaller{results: map[string]string{"eth_getBlockByNumber": `null`}}

	_, err := NewClient(caller).BlockByNumber(context.Background(), 7)

	assert.True(t, errors.Is(err, ErrBlockNotFound))
}

func TestClientBlockByNumberPending(t *testing.T) {
	caller := &cannedCaller{results: map[string]string{"eth_getBlockByNumber": `{"number":null,"hash":null,"timestamp":"0x1","transactions":[]}`}}

	_, err := NewClient(caller).BlockByNumber(context.Background(), 7)

	assert.True(t, errors.Is(err, ErrBlockNotFound))
}

func TestClientTransactionByHash(t *testing.T) {
	hash := common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060")
	caller := &cannedCaller{results: map[string]string{"eth_getTransactionByHash": `{
		"hash": "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
		"blockNumber": "0x65",
		"from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d",
		"to": null,
		"nonce": "0x15",
		"type": "0x7e"
	}`}}

	tx, err := NewClient(caller).TransactionByHash(context.Background(), hash)

	require.NoError(t, err)
	assert.Equal(t, hash, tx.Hash)
	require.NotNil(t, tx.BlockNumber)
	assert.Equal(t, uint64(101), uint64(*tx.BlockNumber))
	assert.Nil(t, tx.To)
	assert.Equal(t, uint64(0x7e), uint64(tx.Type))
}

func TestClientTransactionByHashNull(t *testing.T) {
	caller := &cannedCaller{results: map[string]string{"eth_getTransactionByHash": `null`}}

	_, err := NewClient(caller).TransactionByHash(context.Background(), common.Hash{})

	assert.True(t, errors.Is(err, ErrTransactionNotFound))
}
