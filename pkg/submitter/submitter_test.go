package submitter

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screa/origins-minter/internal/crypto"
	"github.com/screa/origins-minter/pkg/chain/chaintest"
	"github.com/screa/origins-minter/pkg/types"
)

var contract = common.HexToAddress("0x74670A3998d9d6622E32D0847fF5977c37E0eC91")

func testAccount(t *testing.T) types.Account {
	t.Helper()
	acc, err := crypto.DeriveAccount("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	return acc
}

func testResult() types.EligibilityResult {
	return types.EligibilityResult{
		Eligible: true,
		Rarity:   types.RarityCommon,
		Metadata: types.Metadata{
			Deployer:              common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
			FirstDeployedContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
			BestDeployedContract:  common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
			RarityData:            big.NewInt(0x2501),
		},
		Proof: [][32]byte{{0x11}, {0x22}},
	}
}

func newTestSubmitter(t *testing.T, backend *chaintest.Backend, opts ...Option) *Submitter {
	t.Helper()
	parsed, err := LoadABI("")
	require.NoError(t, err)
	return New(backend, contract, parsed, opts...)
}

type countingGate struct {
	calls int
	err   error
}

func (g *countingGate) WaitUntilAcceptable(ctx context.Context) error {
	g.calls++
	return g.err
}

func TestSubmitBuildsSignedMint(t *testing.T) {
	backend := chaintest.New()
	acc := testAccount(t)
	backend.SetNonce(acc.Address, 7)
	gate := &countingGate{}

	s := newTestSubmitter(t, backend, WithGate(gate))
	handle, err := s.Submit(context.Background(), acc, testResult())
	require.NoError(t, err)
	assert.Equal(t, 1, gate.calls)

	sent := backend.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, handle.Hash, tx.Hash())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, contract, *tx.To())
	assert.Equal(t, uint64(250_000), tx.Gas())
	assert.Equal(t, big.NewInt(1_000_000_000), tx.GasPrice())
	assert.Zero(t, tx.Value().Sign())
	assert.Equal(t, big.NewInt(534352), tx.ChainId())

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, acc.Address, from)

	method := s.abi.Methods[MintMethod]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, acc.Address, args[0])
	assert.Equal(t, [][32]byte{{0x11}, {0x22}}, args[2])

	meta := *abi.ConvertType(args[1], new(types.Metadata)).(*types.Metadata)
	want := testResult().Metadata
	assert.Equal(t, want.Deployer, meta.Deployer)
	assert.Equal(t, want.FirstDeployedContract, meta.FirstDeployedContract)
	assert.Equal(t, want.BestDeployedContract, meta.BestDeployedContract)
	assert.Equal(t, 0, big.NewInt(0x2501).Cmp(meta.RarityData))
}

func TestSubmitIneligibleSendsNothing(t *testing.T) {
	backend := chaintest.New()
	s := newTestSubmitter(t, backend)

	_, err := s.Submit(context.Background(), testAccount(t), types.EligibilityResult{})
	assert.ErrorIs(t, err, types.ErrIneligible)
	assert.Empty(t, backend.Sent())
}

func TestSubmitFailuresAreSubmissionErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(*chaintest.Backend)
	}{
		{name: "gas price", setup: func(b *chaintest.Backend) { b.GasPriceErr = boom }},
		{name: "nonce", setup: func(b *chaintest.Backend) { b.NonceErr = boom }},
		{name: "estimate", setup: func(b *chaintest.Backend) { b.EstimateErr = boom }},
		{name: "broadcast", setup: func(b *chaintest.Backend) { b.SendErr = boom }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := chaintest.New()
			tt.setup(backend)
			s := newTestSubmitter(t, backend)

			_, err := s.Submit(context.Background(), testAccount(t), testResult())
			assert.ErrorIs(t, err, types.ErrSubmission)
			assert.ErrorIs(t, err, boom)
			assert.Empty(t, backend.Sent())
		})
	}
}

func TestSubmitGateCancellation(t *testing.T) {
	backend := chaintest.New()
	gate := &countingGate{err: context.Canceled}
	s := newTestSubmitter(t, backend, WithGate(gate))

	_, err := s.Submit(context.Background(), testAccount(t), testResult())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, types.ErrSubmission)
	assert.Equal(t, 0, backend.GasCalls(), "nothing priced before the gate opens")
}

func TestLoadABIFromFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, mintABI, 0o600))
	parsed, err := LoadABI(good)
	require.NoError(t, err)
	assert.Contains(t, parsed.Methods, MintMethod)

	noMint := filepath.Join(dir, "nomint.json")
	require.NoError(t, os.WriteFile(noMint, []byte(`[{"type":"function","name":"burn","inputs":[],"outputs":[]}]`), 0o600))
	_, err = LoadABI(noMint)
	assert.Error(t, err)

	_, err = LoadABI(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
