package coordinator

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"yield-router/internal/directory"
	"yield-router/internal/domain"
	"yield-router/internal/executor"
	"yield-router/internal/relay"
	"yield-router/internal/storage/memory"
)

// Canonical ed25519 public keys, base58-encoded.
const (
	addrHome  = domain.Address("11111111111111111111111111111111")
	addrExecA = domain.Address("4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM")
	addrAdptA = domain.Address("CiDwVBFgWV9E5MvXWoLgnEgn2hK7rJikbvfWavzAQz3")
	addrExecB = domain.Address("GcdayuLaLyrdmUu324nahyv33G5poQdLUEZ1nEytDeP")
	addrAdptB = domain.Address("LX3EUdRUBUa3TbsYXLEUdj9J3prXkWXvLYSWyYyc2Jj")
	addrExecC = domain.Address("c8fpTXm3XTRgE5maYQ24Li4L65wMYvAFomzXknxVEx7")
	addrAdptC = domain.Address("g35TxFqwMx95vCk63fTxGTHb6ei4W24qg5t2x6xD3cT")
	addrRogue = domain.Address("QRSsyMWN1yHT9ir42bgNZUNZ4PdEhcSWCrL2AryKpy5")
)

// capture collects envelopes delivered to one domain.
type capture struct {
	envs []*relay.Envelope
}

func (c *capture) handler(_ context.Context, env *relay.Envelope) error {
	c.envs = append(c.envs, env)
	return nil
}

type fixture struct {
	coord   *Coordinator
	journal *memory.DecisionLogStore
	vault   *relay.FeeVault
	domB    *capture // domain 2 (pool-a)
	domC    *capture // domain 3 (pool-b, pool-c)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := directory.NewManager()
	require.NoError(t, dir.Register(domain.PoolConfig{PoolID: "pool-a", DomainID: 2, Executor: addrExecA, Adapter: addrAdptA, Active: true}))
	require.NoError(t, dir.Register(domain.PoolConfig{PoolID: "pool-b", DomainID: 3, Executor: addrExecB, Adapter: addrAdptB, Active: true}))
	require.NoError(t, dir.Register(domain.PoolConfig{PoolID: "pool-c", DomainID: 3, Executor: addrExecC, Adapter: addrAdptC, Active: true}))

	vault := relay.NewFeeVault(uint256.NewInt(1))
	vault.Fund(1, uint256.NewInt(1_000_000))

	loop := relay.NewLoopback(vault, false)
	domB, domC := &capture{}, &capture{}
	loop.Route(2, domB.handler)
	loop.Route(3, domC.handler)

	journal := memory.NewDecisionLogStore()
	coord := New(Options{
		Directory:   dir,
		Relay:       loop,
		Journal:     journal,
		HomeDomain:  1,
		HomeAddress: addrHome,
		Now:         func() int64 { return 42_000 },
	})

	return &fixture{coord: coord, journal: journal, vault: vault, domB: domB, domC: domC}
}

func arrival(dom domain.DomainID, sender domain.Address, amount uint64) *relay.Envelope {
	return &relay.Envelope{
		TransferID:   "transfer-1",
		Kind:         relay.KindReturn,
		SourceDomain: dom,
		DestDomain:   1,
		Sender:       sender,
		Funds:        uint256.NewInt(amount),
	}
}

func TestIntentsRejectedWhileInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.coord.Rebalance(ctx, "pool-a", "pool-b", uint256.NewInt(100))
	require.ErrorIs(t, err, ErrStrategyInactive)

	err = f.coord.PushFunds(ctx, "pool-a", uint256.NewInt(100), 0)
	require.ErrorIs(t, err, ErrStrategyInactive)
}

func TestRebalance_SameSourceDest(t *testing.T) {
	f := newFixture(t)
	f.coord.Activate()

	err := f.coord.Rebalance(context.Background(), "pool-a", "pool-a", uint256.NewInt(100))
	require.ErrorIs(t, err, ErrSameSourceDest)
}

func TestRebalance_SendsRecallOnly(t *testing.T) {
	f := newFixture(t)
	f.coord.Activate()
	ctx := context.Background()

	require.NoError(t, f.coord.Rebalance(ctx, "pool-a", "pool-b", uint256.NewInt(100)))

	// The recall reaches the source domain; nothing is pushed yet.
	require.Len(t, f.domB.envs, 1)
	require.Empty(t, f.domC.envs)

	recall := f.domB.envs[0]
	require.Equal(t, relay.KindInstruction, recall.Kind)
	require.Equal(t, domain.ActionWithdraw, recall.Instruction.Action)
	require.Equal(t, addrAdptA, recall.Instruction.Adapter)
	require.Equal(t, "100", recall.Instruction.Amount.Dec())
	require.Equal(t, addrHome, recall.Sender)
	require.Nil(t, recall.Funds)

	dst, ok := f.coord.PendingDestination("pool-a")
	require.True(t, ok)
	require.Equal(t, domain.PoolID("pool-b"), dst)

	// No remote credit: funds are not in hand.
	require.True(t, f.coord.Ledger().Total().IsZero())
}

func TestPushDeferredUntilArrival(t *testing.T) {
	f := newFixture(t)
	f.coord.Activate()
	ctx := context.Background()

	require.NoError(t, f.coord.Rebalance(ctx, "pool-a", "pool-b", uint256.NewInt(100)))
	require.Empty(t, f.domC.envs)

	// The recalled capital arrives from pool-a's executor.
	require.NoError(t, f.coord.OnCapitalArrived(ctx, arrival(2, addrExecA, 100)))

	// Only now is the deposit forwarded to the owed destination.
	require.Len(t, f.domC.envs, 1)
	push := f.domC.envs[0]
	require.Equal(t, relay.KindInstruction, push.Kind)
	require.Equal(t, domain.ActionDeposit, push.Instruction.Action)
	require.Equal(t, addrAdptB, push.Instruction.Adapter)
	require.Equal(t, "100", push.Funds.Dec())

	// Pending consumed, destination domain credited.
	_, ok := f.coord.PendingDestination("pool-a")
	require.False(t, ok)
	require.Equal(t, "100", f.coord.Ledger().Balance(3).Dec())

	pushed, err := f.journal.GetByKind(ctx, domain.DecisionFundsPushed)
	require.NoError(t, err)
	require.Len(t, pushed, 1)
	received, err := f.journal.GetByKind(ctx, domain.DecisionFundsReceived)
	require.NoError(t, err)
	require.Len(t, received, 1)
}

func TestDuplicateArrival_NoSecondPush(t *testing.T) {
	f := newFixture(t)
	f.coord.Activate()
	ctx := context.Background()

	require.NoError(t, f.coord.Rebalance(ctx, "pool-a", "pool-b", uint256.NewInt(100)))
	env := arrival(2, addrExecA, 100)
	require.NoError(t, f.coord.OnCapitalArrived(ctx, env))
	require.Len(t, f.domC.envs, 1)

	// At-least-once transport redelivers the same return.
	require.NoError(t, f.coord.OnCapitalArrived(ctx, env))

	// The pending entry was consumed by the first delivery: no double push,
	// and the ledger never goes negative.
	require.Len(t, f.domC.envs, 1)
	require.True(t, f.coord.Ledger().Balance(2).IsZero())
}

func TestArrival_InvalidProvenance(t *testing.T) {
	f := newFixture(t)
	f.coord.Activate()
	ctx := context.Background()

	require.NoError(t, f.coord.Rebalance(ctx, "pool-a", "pool-b", uint256.NewInt(100)))

	err := f.coord.OnCapitalArrived(ctx, arrival(2, addrRogue, 100))
	require.ErrorIs(t, err, ErrInvalidProvenance)

	// A registered executor on the wrong domain is equally rejected.
	err = f.coord.OnCapitalArrived(ctx, arrival(3, addrExecA, 100))
	require.ErrorIs(t, err, ErrInvalidProvenance)

	require.Empty(t, f.domC.envs)
	dst, ok := f.coord.PendingDestination("pool-a")
	require.True(t, ok)
	require.Equal(t, domain.PoolID("pool-b"), dst)
}

func TestArrival_WrongKindRejected(t *testing.T) {
	f := newFixture(t)
	f.coord.Activate()

	env := arrival(2, addrExecA, 100)
	env.Kind = relay.KindInstruction
	err := f.coord.OnCapitalArrived(context.Background(), env)
	require.ErrorIs(t, err, ErrUnexpectedEnvelope)
}

func TestArrival_LedgerFloorsAtZero(t *testing.T) {
	f := newFixture(t)
	f.coord.Activate()
	ctx := context.Background()

	require.NoError(t, f.coord.PushFunds(ctx, "pool-a", uint256.NewInt(50), 100_000))
	require.Equal(t, "50", f.coord.Ledger().Balance(2).Dec())

	// The pool reports back more than we believe it holds (accrued yield).
	require.NoError(t, f.coord.OnCapitalArrived(ctx, arrival(2, addrExecA, 80)))

	require.True(t, f.coord.Ledger().Balance(2).IsZero())
	require.True(t, f.coord.Ledger().Total().IsZero())
}

func TestPendingOverwrite_LastIntentWins(t *testing.T) {
	f := newFixture(t)
	f.coord.Activate()
	ctx := context.Background()

	require.NoError(t, f.coord.Rebalance(ctx, "pool-a", "pool-b", uint256.NewInt(100)))
	require.NoError(t, f.coord.Rebalance(ctx, "pool-a", "pool-c", uint256.NewInt(60)))

	dst, ok := f.coord.PendingDestination("pool-a")
	require.True(t, ok)
	require.Equal(t, domain.PoolID("pool-c"), dst)

	overwritten, err := f.journal.GetByKind(ctx, domain.DecisionPendingOverwritten)
	require.NoError(t, err)
	require.Len(t, overwritten, 1)
	require.Equal(t, domain.PoolID("pool-a"), overwritten[0].PoolID)
	require.Equal(t, domain.PoolID("pool-b"), overwritten[0].Counterparty)

	// The arrival forwards to the latest destination.
	require.NoError(t, f.coord.OnCapitalArrived(ctx, arrival(2, addrExecA, 100)))
	require.Len(t, f.domC.envs, 1)
	require.Equal(t, addrAdptC, f.domC.envs[0].Instruction.Adapter)
}

func TestDeactivateAll(t *testing.T) {
	f := newFixture(t)
	f.coord.Activate()
	ctx := context.Background()

	f.coord.DeactivateAll(ctx, 0)

	// One maximum-amount recall per known pool.
	require.Len(t, f.domB.envs, 1)
	require.Len(t, f.domC.envs, 2)
	for _, env := range append(f.domB.envs, f.domC.envs...) {
		require.Equal(t, domain.ActionWithdraw, env.Instruction.Action)
		require.True(t, domain.IsMaxAmount(env.Instruction.Amount))
	}

	// No pending entries: this capital comes home and stays.
	for _, pool := range []domain.PoolID{"pool-a", "pool-b", "pool-c"} {
		_, ok := f.coord.PendingDestination(pool)
		require.False(t, ok)
	}
	require.False(t, f.coord.Active())

	// A late arrival is still accounted for, without a push.
	f.domC.envs = nil
	require.NoError(t, f.coord.OnCapitalArrived(ctx, arrival(2, addrExecA, 500)))
	require.Empty(t, f.domC.envs)

	received, err := f.journal.GetByKind(ctx, domain.DecisionFundsReceived)
	require.NoError(t, err)
	require.Len(t, received, 1)
}

func TestInsufficientFeeIsHardFailure(t *testing.T) {
	dir := directory.NewManager()
	require.NoError(t, dir.Register(domain.PoolConfig{PoolID: "pool-a", DomainID: 2, Executor: addrExecA, Adapter: addrAdptA, Active: true}))
	require.NoError(t, dir.Register(domain.PoolConfig{PoolID: "pool-b", DomainID: 3, Executor: addrExecB, Adapter: addrAdptB, Active: true}))

	// Unfunded vault: every send fails at the fee check.
	vault := relay.NewFeeVault(uint256.NewInt(1))
	loop := relay.NewLoopback(vault, false)
	loop.Route(2, (&capture{}).handler)
	loop.Route(3, (&capture{}).handler)

	coord := New(Options{
		Directory:   dir,
		Relay:       loop,
		Journal:     memory.NewDecisionLogStore(),
		HomeDomain:  1,
		HomeAddress: addrHome,
	})
	coord.Activate()
	ctx := context.Background()

	err := coord.Rebalance(ctx, "pool-a", "pool-b", uint256.NewInt(100))
	require.ErrorIs(t, err, relay.ErrInsufficientFee)

	// The failed intent leaves no dangling destination.
	_, ok := coord.PendingDestination("pool-a")
	require.False(t, ok)

	err = coord.PushFunds(ctx, "pool-a", uint256.NewInt(100), 0)
	require.ErrorIs(t, err, relay.ErrInsufficientFee)
	require.True(t, coord.Ledger().Total().IsZero())
}

// Two in-flight rebalances settle independently when their returns come
// home in the opposite order from the recalls that caused them.
func TestOutOfOrderArrivalsSettleIndependently(t *testing.T) {
	dir := directory.NewManager()
	require.NoError(t, dir.Register(domain.PoolConfig{PoolID: "pool-a", DomainID: 2, Executor: addrExecA, Adapter: addrAdptA, Active: true}))
	require.NoError(t, dir.Register(domain.PoolConfig{PoolID: "pool-b", DomainID: 3, Executor: addrExecB, Adapter: addrAdptB, Active: true}))

	vault := relay.NewFeeVault(uint256.NewInt(1))
	for _, dom := range []domain.DomainID{1, 2, 3} {
		vault.Fund(dom, uint256.NewInt(1_000_000))
	}
	loop := relay.NewLoopback(vault, true)

	coord := New(Options{
		Directory:   dir,
		Relay:       loop,
		Journal:     memory.NewDecisionLogStore(),
		HomeDomain:  1,
		HomeAddress: addrHome,
	})
	loop.Route(1, coord.OnCapitalArrived)

	vaultA, vaultB := executor.NewVaultAdapter(), executor.NewVaultAdapter()
	for _, rd := range []struct {
		dom     domain.DomainID
		exec    domain.Address
		adapter domain.Address
		va      *executor.VaultAdapter
	}{
		{2, addrExecA, addrAdptA, vaultA},
		{3, addrExecB, addrAdptB, vaultB},
	} {
		ex := executor.New(executor.Options{
			Domain:      rd.dom,
			Address:     rd.exec,
			HomeDomain:  1,
			HomeAddress: addrHome,
			Relay:       loop,
		})
		ex.Manage(rd.adapter, rd.va)
		loop.Route(rd.dom, ex.HandleEnvelope)
	}

	ctx := context.Background()
	coord.Activate()

	require.NoError(t, coord.PushFunds(ctx, "pool-a", uint256.NewInt(100), 0))
	require.NoError(t, coord.PushFunds(ctx, "pool-b", uint256.NewInt(200), 0))
	require.NoError(t, loop.DeliverAll(ctx))
	require.Equal(t, "100", vaultA.Balance().Dec())
	require.Equal(t, "200", vaultB.Balance().Dec())

	// Two recalls in flight at once, crossing directions.
	require.NoError(t, coord.Rebalance(ctx, "pool-a", "pool-b", uint256.NewInt(40)))
	require.NoError(t, coord.Rebalance(ctx, "pool-b", "pool-a", uint256.NewInt(50)))
	require.NoError(t, loop.DeliverNext(ctx))
	require.NoError(t, loop.DeliverNext(ctx))

	// The queue now holds the two returns; deliver them newest first.
	require.Equal(t, 2, loop.Pending())
	require.NoError(t, loop.DeliverIndex(ctx, 1))

	// pool-b's return settled its own intent, not pool-a's.
	_, ok := coord.PendingDestination("pool-b")
	require.False(t, ok)
	_, ok = coord.PendingDestination("pool-a")
	require.True(t, ok)

	require.NoError(t, loop.DeliverIndex(ctx, 0))
	require.NoError(t, loop.DeliverAll(ctx))

	_, ok = coord.PendingDestination("pool-a")
	require.False(t, ok)
	require.Equal(t, "110", vaultA.Balance().Dec())
	require.Equal(t, "190", vaultB.Balance().Dec())
	require.Equal(t, "110", coord.Ledger().Balance(2).Dec())
	require.Equal(t, "190", coord.Ledger().Balance(3).Dec())
}
