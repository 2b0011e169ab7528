package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// Error kinds surfaced by the mint cycle. Callers classify with errors.Is.
var (
	ErrIneligible          = errors.New("address not eligible to mint")
	ErrNetwork             = errors.New("network error")
	ErrMalformedPayload    = errors.New("malformed eligibility payload")
	ErrSubmission          = errors.New("transaction submission failed")
	ErrConfirmationTimeout = errors.New("transaction not confirmed in time")
	ErrChainRejection      = errors.New("transaction reverted on chain")
)

// Account is a signing key and the address derived from it.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// GasSample is a gas price observed at a point in time. A nil Price means
// the fetch failed and the sample must be treated as infinitely expensive.
type GasSample struct {
	Price     *big.Int // wei
	SampledAt time.Time
}

// Fresh reports whether the sample is younger than window at now.
func (s GasSample) Fresh(now time.Time, window time.Duration) bool {
	if s.SampledAt.IsZero() {
		return false
	}
	return now.Sub(s.SampledAt) < window
}

// Within reports whether the sample is at or below ceiling (wei).
func (s GasSample) Within(ceiling *big.Int) bool {
	if s.Price == nil {
		return false
	}
	return s.Price.Cmp(ceiling) <= 0
}

// Gwei returns the price in gwei, or +Inf for a failed sample.
func (s GasSample) Gwei() float64 {
	if s.Price == nil {
		return math.Inf(1)
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(s.Price), big.NewFloat(params.GWei)).Float64()
	return f
}

// GweiToWei converts a decimal gwei amount to wei, truncating below 1 wei.
func GweiToWei(gwei float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(params.GWei)).Int(nil)
	return wei
}

// Rarity is the NFT tier an eligible address will mint.
type Rarity int

const (
	RarityUnknown Rarity = iota
	RarityCommon
	RarityRare
	RarityLegendary
)

func (r Rarity) String() string {
	switch r {
	case RarityCommon:
		return "Common"
	case RarityRare:
		return "Rare"
	case RarityLegendary:
		return "Legendary"
	default:
		return "Unknown"
	}
}

// Metadata mirrors the contract's NFTMetadata tuple. Field order matches the
// tuple order in the mint ABI.
type Metadata struct {
	Deployer              common.Address
	FirstDeployedContract common.Address
	BestDeployedContract  common.Address
	RarityData            *big.Int
}

// EligibilityResult is produced fresh for every mint attempt.
type EligibilityResult struct {
	Eligible bool
	Rarity   Rarity
	Metadata Metadata
	Proof    [][32]byte
}

// TransactionHandle identifies a broadcast transaction.
type TransactionHandle struct {
	Hash        common.Hash
	SubmittedAt time.Time
}

// OutcomeKind tags the terminal result of one account's attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailed
	OutcomeTimedOut
	OutcomeIneligible
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeIneligible:
		return "ineligible"
	default:
		return "error"
	}
}

// Outcome is the terminal result per account per attempt.
type Outcome struct {
	Kind OutcomeKind
	Hash common.Hash // zero unless a transaction was broadcast
	Err  error       // reason for Failed, TimedOut and Error
}

// Succeeded reports whether pacing should sleep before the next account.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
	return o.Kind.String()
}

// OutcomeFromError maps an error from the mint cycle to its outcome kind.
func OutcomeFromError(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeSuccess}
	case errors.Is(err, ErrIneligible):
		return Outcome{Kind: OutcomeIneligible, Err: err}
	case errors.Is(err, ErrChainRejection):
		return Outcome{Kind: OutcomeFailed, Err: err}
	case errors.Is(err, ErrConfirmationTimeout):
		return Outcome{Kind: OutcomeTimedOut, Err: err}
	default:
		return Outcome{Kind: OutcomeError, Err: err}
	}
}
