// Package chain declares the slices of the JSON-RPC API the minter needs and
// dials go-ethereum clients that satisfy them.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	_ Backend        = (*ethclient.Client)(nil)
	_ GasPriceReader = (*ethclient.Client)(nil)
)

// GasPriceReader reads the network's current gas price.
type GasPriceReader interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// ReceiptReader looks up transactions and their receipts by hash. Both return
// ethereum.NotFound while the node has not seen or mined the transaction.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// TxSender holds what is needed to build, price and broadcast a transaction.
type TxSender interface {
	GasPriceReader
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Backend is the full surface used against the mint chain.
type Backend interface {
	TxSender
	ReceiptReader
}

// newHTTPClient keeps connections alive across the many small polls the
// workers make against the same node.
func newHTTPClient(threads int) *http.Client {
	if threads < 1 {
		threads = 1
	}
	transport := &http.Transport{
		MaxIdleConns:        threads * 2,
		MaxIdleConnsPerHost: threads * 2,
		IdleConnTimeout:     30 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   15 * time.Second,
	}
}

// Dial connects to an HTTP(S) or WS JSON-RPC endpoint.
func Dial(ctx context.Context, url string, threads int) (*ethclient.Client, error) {
	rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(newHTTPClient(threads)))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rpc client for %s: %w", url, err)
	}
	return ethclient.NewClient(rpcClient), nil
}
