// Package submitter builds, signs and broadcasts mint transactions.
package submitter

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/screa/origins-minter/pkg/chain"
	"github.com/screa/origins-minter/pkg/types"
)

// Gate blocks until it is acceptable to spend gas.
type Gate interface {
	WaitUntilAcceptable(ctx context.Context) error
}

// Option customizes a Submitter.
type Option func(*Submitter)

// WithGate rechecks gas right before pricing and broadcasting.
func WithGate(g Gate) Option {
	return func(s *Submitter) { s.gate = g }
}

// WithClock replaces the clock stamping TransactionHandle.SubmittedAt.
func WithClock(c clock.Clock) Option {
	return func(s *Submitter) { s.clock = c }
}

// Submitter is safe for concurrent use across accounts. It must not be called
// twice for the same eligibility result.
type Submitter struct {
	backend  chain.TxSender
	contract common.Address
	abi      abi.ABI
	gate     Gate
	clock    clock.Clock

	mu      sync.Mutex
	chainID *big.Int
}

// New creates a submitter calling MintMethod on contract.
func New(backend chain.TxSender, contract common.Address, contractABI abi.ABI, opts ...Option) *Submitter {
	s := &Submitter{
		backend:  backend,
		contract: contract,
		abi:      contractABI,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit broadcasts exactly one mint transaction for acc. Every failure wraps
// types.ErrSubmission except context cancellation from the gate.
func (s *Submitter) Submit(ctx context.Context, acc types.Account, res types.EligibilityResult) (types.TransactionHandle, error) {
	if !res.Eligible {
		return types.TransactionHandle{}, types.ErrIneligible
	}

	data, err := s.abi.Pack(MintMethod, acc.Address, res.Metadata, res.Proof)
	if err != nil {
		return types.TransactionHandle{}, fmt.Errorf("%w: encode %s: %w", types.ErrSubmission, MintMethod, err)
	}

	if s.gate != nil {
		if err := s.gate.WaitUntilAcceptable(ctx); err != nil {
			return types.TransactionHandle{}, err
		}
	}

	signed, err := s.build(ctx, acc, data)
	if err != nil {
		return types.TransactionHandle{}, err
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return types.TransactionHandle{}, fmt.Errorf("%w: broadcast: %w", types.ErrSubmission, err)
	}
	return types.TransactionHandle{
		Hash:        signed.Hash(),
		SubmittedAt: s.clock.Now(),
	}, nil
}

func (s *Submitter) build(ctx context.Context, acc types.Account, data []byte) (*ethtypes.Transaction, error) {
	chainID, err := s.getChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %w", types.ErrSubmission, err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %w", types.ErrSubmission, err)
	}
	nonce, err := s.backend.PendingNonceAt(ctx, acc.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", types.ErrSubmission, err)
	}

	to := s.contract
	gasLimit, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     acc.Address,
		To:       &to,
		GasPrice: gasPrice,
		Value:    new(big.Int),
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas: %w", types.ErrSubmission, err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), acc.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %w", types.ErrSubmission, err)
	}
	return signed, nil
}

// getChainID queries once and caches the first successful answer.
func (s *Submitter) getChainID(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID != nil {
		return s.chainID, nil
	}
	id, err := s.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	s.chainID = id
	return id, nil
}
