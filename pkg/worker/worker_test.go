package worker

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screa/origins-minter/internal/logger"
	"github.com/screa/origins-minter/internal/metrics"
	"github.com/screa/origins-minter/pkg/chain/chaintest"
	"github.com/screa/origins-minter/pkg/confirm"
	"github.com/screa/origins-minter/pkg/submitter"
	"github.com/screa/origins-minter/pkg/types"
)

func newAccount(t *testing.T) types.Account {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return types.Account{PrivateKey: key, Address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

func eligible() types.EligibilityResult {
	return types.EligibilityResult{
		Eligible: true,
		Rarity:   types.RarityRare,
		Metadata: types.Metadata{RarityData: big.NewInt(0x7c)},
		Proof:    [][32]byte{{0x01}},
	}
}

// fakeChecker answers per address; unknown addresses are ineligible. An
// address in panics makes Check panic.
type fakeChecker struct {
	mu      sync.Mutex
	results map[common.Address]types.EligibilityResult
	errs    map[common.Address]error
	panics  map[common.Address]bool
	order   []common.Address
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{
		results: make(map[common.Address]types.EligibilityResult),
		errs:    make(map[common.Address]error),
		panics:  make(map[common.Address]bool),
	}
}

func (f *fakeChecker) Check(ctx context.Context, addr common.Address) (types.EligibilityResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, addr)
	if f.panics[addr] {
		panic("index out of range")
	}
	if err, ok := f.errs[addr]; ok {
		return types.EligibilityResult{}, err
	}
	if res, ok := f.results[addr]; ok {
		return res, nil
	}
	return types.EligibilityResult{}, types.ErrIneligible
}

type countingGate struct {
	mu    sync.Mutex
	calls int
}

func (g *countingGate) WaitUntilAcceptable(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return nil
}

func (g *countingGate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// newMintConfig wires a real submitter and waiter against an in-memory chain.
func newMintConfig(t *testing.T, backend *chaintest.Backend, checker Checker) (*Config, *countingGate) {
	t.Helper()
	parsed, err := submitter.LoadABI("")
	require.NoError(t, err)
	gate := &countingGate{}
	return &Config{
		Mode:        ModeMint,
		Gate:        gate,
		Checker:     checker,
		Submitter:   submitter.New(backend, common.HexToAddress("0x74670A3998d9d6622E32D0847fF5977c37E0eC91"), parsed),
		Confirmer:   confirm.NewWaiter(backend, confirm.Config{}, logger.Nop()),
		ExplorerURL: "https://scrollscan.com/tx/",
		Metrics:     metrics.New(nil),
	}, gate
}

func TestNewWorker(t *testing.T) {
	config := &Config{Mode: ModeCheck}
	worker := NewWorker(1, config, logger.Nop())
	if worker == nil {
		t.Fatal("NewWorker returned nil")
	}
	if worker.config != config {
		t.Error("Config not set correctly")
	}
	assert.NotNil(t, worker.clock)
}

func TestProcessMintOutcomes(t *testing.T) {
	boom := errors.New("connection refused")
	tests := []struct {
		name      string
		setup     func(b *chaintest.Backend, c *fakeChecker, acc types.Account)
		want      types.OutcomeKind
		wantSent  int
		wantGates int
	}{
		{
			name: "success",
			setup: func(b *chaintest.Backend, c *fakeChecker, acc types.Account) {
				b.AutoMine(1)
				c.results[acc.Address] = eligible()
			},
			want: types.OutcomeSuccess, wantSent: 1, wantGates: 1,
		},
		{
			name: "reverted",
			setup: func(b *chaintest.Backend, c *fakeChecker, acc types.Account) {
				b.AutoMine(0)
				c.results[acc.Address] = eligible()
			},
			want: types.OutcomeFailed, wantSent: 1, wantGates: 1,
		},
		{
			name:  "ineligible",
			setup: func(b *chaintest.Backend, c *fakeChecker, acc types.Account) {},
			want:  types.OutcomeIneligible, wantGates: 1,
		},
		{
			name: "eligibility network error",
			setup: func(b *chaintest.Backend, c *fakeChecker, acc types.Account) {
				c.errs[acc.Address] = errors.Join(types.ErrNetwork, boom)
			},
			want: types.OutcomeError, wantGates: 1,
		},
		{
			name: "broadcast rejected",
			setup: func(b *chaintest.Backend, c *fakeChecker, acc types.Account) {
				b.SendErr = boom
				c.results[acc.Address] = eligible()
			},
			want: types.OutcomeError, wantGates: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := chaintest.New()
			checker := newFakeChecker()
			acc := newAccount(t)
			tt.setup(backend, checker, acc)

			cfg, gate := newMintConfig(t, backend, checker)
			out := NewWorker(1, cfg, logger.Nop()).Process(context.Background(), acc)

			assert.Equal(t, tt.want, out.Kind, out.String())
			assert.Len(t, backend.Sent(), tt.wantSent)
			assert.Equal(t, tt.wantGates, gate.Calls())
			assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.Outcomes.WithLabelValues("mint", tt.want.String())))
		})
	}
}

func TestCheckModeOnlyChecks(t *testing.T) {
	checker := newFakeChecker()
	acc := newAccount(t)
	checker.results[acc.Address] = eligible()
	gate := &countingGate{}

	cfg := &Config{Mode: ModeCheck, Gate: gate, Checker: checker}
	w := NewWorker(2, cfg, logger.Nop())

	assert.Equal(t, types.OutcomeSuccess, w.Process(context.Background(), acc).Kind)
	assert.Equal(t, types.OutcomeIneligible, w.Process(context.Background(), newAccount(t)).Kind)
	assert.Equal(t, 0, gate.Calls())
}

func TestPanicIsContained(t *testing.T) {
	checker := newFakeChecker()
	bad, good := newAccount(t), newAccount(t)
	checker.panics[bad.Address] = true
	checker.results[good.Address] = eligible()

	cfg := &Config{Mode: ModeCheck, Checker: checker}
	var outcomes []types.Outcome
	NewWorker(1, cfg, logger.Nop()).Run(context.Background(), []types.Account{bad, good}, func(_ types.Account, o types.Outcome) {
		outcomes = append(outcomes, o)
	})

	require.Len(t, outcomes, 2)
	assert.Equal(t, types.OutcomeError, outcomes[0].Kind)
	assert.Contains(t, outcomes[0].Err.Error(), "panic")
	assert.Equal(t, types.OutcomeSuccess, outcomes[1].Kind)
}

func TestRunPacesOnlyAfterSuccess(t *testing.T) {
	backend := chaintest.New().AutoMine(1)
	checker := newFakeChecker()
	skip, first, second := newAccount(t), newAccount(t), newAccount(t)
	checker.results[first.Address] = eligible()
	checker.results[second.Address] = eligible()

	mock := clock.NewMock()
	cfg, _ := newMintConfig(t, backend, checker)
	cfg.Clock = mock
	cfg.MinSleep, cfg.MaxSleep = 5*time.Second, 5*time.Second

	reports := make(chan types.Outcome, 3)
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(1, cfg, logger.Nop()).Run(context.Background(), []types.Account{skip, first, second}, func(_ types.Account, o types.Outcome) {
			reports <- o
		})
	}()

	assert.Equal(t, types.OutcomeIneligible, (<-reports).Kind)
	assert.Equal(t, types.OutcomeSuccess, (<-reports).Kind, "no pause after a failed attempt")

	select {
	case <-reports:
		t.Fatal("third account started before the pause elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	for i := 0; i < 100; i++ {
		mock.Add(time.Second)
		select {
		case o := <-reports:
			assert.Equal(t, types.OutcomeSuccess, o.Kind)
			<-done
			assert.Equal(t, []common.Address{skip.Address, first.Address, second.Address}, checker.order)
			return
		case <-time.After(2 * time.Millisecond):
		}
	}
	t.Fatal("worker never resumed")
}

func TestRunStopsOnCancel(t *testing.T) {
	checker := newFakeChecker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var n int
	NewWorker(1, &Config{Mode: ModeCheck, Checker: checker}, logger.Nop()).
		Run(ctx, []types.Account{newAccount(t), newAccount(t)}, func(types.Account, types.Outcome) { n++ })
	assert.Zero(t, n)
}

func TestRandomDuration(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := randomDuration(2*time.Second, 10*time.Second)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
	assert.Equal(t, time.Second, randomDuration(time.Second, time.Second))
	assert.Equal(t, time.Second, randomDuration(time.Second, 0))
}
