// Package chaintest provides an in-memory chain.Backend for tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Step is one scripted answer to a receipt poll.
type Step struct {
	Mined   bool
	Status  uint64
	Pending bool // not mined, but the node knows the transaction
	Err     error
}

// NotFound is a poll where the node has never heard of the transaction.
func NotFound() Step { return Step{} }

// Pending is a poll where the transaction sits in the node's pool.
func Pending() Step { return Step{Pending: true} }

// Mined is a poll that returns a receipt with the given status.
func Mined(status uint64) Step { return Step{Mined: true, Status: status} }

// Failing is a poll where the RPC call itself errors.
func Failing(err error) Step { return Step{Err: err} }

// Backend is a scriptable chain.Backend. The zero value is not usable; call New.
type Backend struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	GasPrice     *big.Int
	GasPriceErr  error
	GasLimit     uint64
	EstimateErr  error
	NonceErr     error
	SendErr      error

	// AutoStatus, when set, mines every sent transaction with that status
	// unless a script exists for its hash.
	AutoStatus *uint64

	nonces       map[common.Address]uint64
	sent         []*types.Transaction
	scripts      map[common.Hash][]Step
	last         map[common.Hash]Step
	receiptCalls map[common.Hash]int
	gasCalls     int
}

// New returns a backend on chain 534352 with a 1 gwei gas price.
func New() *Backend {
	return &Backend{
		ChainIDValue: big.NewInt(534352),
		GasPrice:     big.NewInt(1_000_000_000),
		GasLimit:     250_000,
		nonces:       make(map[common.Address]uint64),
		scripts:      make(map[common.Hash][]Step),
		last:         make(map[common.Hash]Step),
		receiptCalls: make(map[common.Hash]int),
	}
}

// AutoMine makes every sent transaction mine immediately with status.
func (b *Backend) AutoMine(status uint64) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AutoStatus = &status
	return b
}

// Script queues poll answers for hash. The final step repeats forever.
func (b *Backend) Script(hash common.Hash, steps ...Step) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[hash] = append(b.scripts[hash], steps...)
}

// SetNonce sets the pending nonce for addr.
func (b *Backend) SetNonce(addr common.Address, nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[addr] = nonce
}

// Sent returns the broadcast transactions in order.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// ReceiptCalls returns how many times hash was polled.
func (b *Backend) ReceiptCalls(hash common.Hash) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receiptCalls[hash]
}

// GasCalls returns how many times the gas price was read.
func (b *Backend) GasCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gasCalls
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.ChainIDValue), nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gasCalls++
	if b.GasPriceErr != nil {
		return nil, b.GasPriceErr
	}
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NonceErr != nil {
		return 0, b.NonceErr
	}
	return b.nonces[account], nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return b.GasLimit, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SendErr != nil {
		return b.SendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiptCalls[hash]++

	step, ok := b.next(hash)
	if !ok {
		if b.AutoStatus != nil && b.isSent(hash) {
			step = Mined(*b.AutoStatus)
		} else {
			step = NotFound()
		}
	}
	b.last[hash] = step

	switch {
	case step.Err != nil:
		return nil, step.Err
	case step.Mined:
		return &types.Receipt{TxHash: hash, Status: step.Status, BlockNumber: big.NewInt(1)}, nil
	default:
		return nil, ethereum.NotFound
	}
}

func (b *Backend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	step := b.last[hash]
	if step.Err != nil {
		return nil, false, step.Err
	}
	if !step.Pending {
		return nil, false, ethereum.NotFound
	}
	for _, tx := range b.sent {
		if tx.Hash() == hash {
			return tx, true, nil
		}
	}
	return types.NewTx(&types.LegacyTx{}), true, nil
}

func (b *Backend) next(hash common.Hash) (Step, bool) {
	q := b.scripts[hash]
	if len(q) == 0 {
		return Step{}, false
	}
	step := q[0]
	if len(q) > 1 {
		b.scripts[hash] = q[1:]
	}
	return step, true
}

func (b *Backend) isSent(hash common.Hash) bool {
	for _, tx := range b.sent {
		if tx.Hash() == hash {
			return true
		}
	}
	return false
}
