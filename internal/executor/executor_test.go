package executor

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"yield-router/internal/domain"
	"yield-router/internal/relay"
)

const (
	addrHome    = domain.Address("11111111111111111111111111111111")
	addrExec    = domain.Address("4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM")
	addrAdapter = domain.Address("CiDwVBFgWV9E5MvXWoLgnEgn2hK7rJikbvfWavzAQz3")
	addrRogue   = domain.Address("QRSsyMWN1yHT9ir42bgNZUNZ4PdEhcSWCrL2AryKpy5")
)

type homeCapture struct {
	envs []*relay.Envelope
}

func (h *homeCapture) handler(_ context.Context, env *relay.Envelope) error {
	h.envs = append(h.envs, env)
	return nil
}

func newTestExecutor(t *testing.T) (*Executor, *VaultAdapter, *homeCapture) {
	t.Helper()

	vault := relay.NewFeeVault(uint256.NewInt(1))
	vault.Fund(2, uint256.NewInt(1000))
	loop := relay.NewLoopback(vault, false)

	home := &homeCapture{}
	loop.Route(1, home.handler)

	exec := New(Options{
		Domain:      2,
		Address:     addrExec,
		HomeDomain:  1,
		HomeAddress: addrHome,
		Relay:       loop,
		Now:         func() int64 { return 7_000 },
	})
	adapter := NewVaultAdapter()
	exec.Manage(addrAdapter, adapter)
	return exec, adapter, home
}

func instruction(action domain.InstructionAction, amount *uint256.Int, funds *uint256.Int) *relay.Envelope {
	return &relay.Envelope{
		TransferID:   "transfer-1",
		Kind:         relay.KindInstruction,
		SourceDomain: 1,
		DestDomain:   2,
		Sender:       addrHome,
		Instruction: &domain.Instruction{
			Adapter: addrAdapter,
			Action:  action,
			Amount:  amount,
		},
		Funds: funds,
	}
}

func TestExecutor_Deposit(t *testing.T) {
	exec, adapter, home := newTestExecutor(t)

	env := instruction(domain.ActionDeposit, uint256.NewInt(500), uint256.NewInt(500))
	require.NoError(t, exec.HandleEnvelope(context.Background(), env))

	require.Equal(t, "500", adapter.Balance().Dec())
	require.Empty(t, home.envs) // deposits do not answer
}

func TestExecutor_WithdrawOriginatesReturn(t *testing.T) {
	exec, adapter, home := newTestExecutor(t)
	require.NoError(t, adapter.Deposit(uint256.NewInt(500)))

	env := instruction(domain.ActionWithdraw, uint256.NewInt(200), nil)
	require.NoError(t, exec.HandleEnvelope(context.Background(), env))

	require.Equal(t, "300", adapter.Balance().Dec())
	require.Len(t, home.envs, 1)

	ret := home.envs[0]
	require.Equal(t, relay.KindReturn, ret.Kind)
	require.Equal(t, domain.DomainID(2), ret.SourceDomain)
	require.Equal(t, addrExec, ret.Sender)
	require.Equal(t, "200", ret.Funds.Dec())
}

func TestExecutor_MaxWithdrawDrainsEverything(t *testing.T) {
	exec, adapter, home := newTestExecutor(t)
	require.NoError(t, adapter.Deposit(uint256.NewInt(777)))
	adapter.Accrue(uint256.NewInt(23)) // position grew since the push

	env := instruction(domain.ActionWithdraw, domain.AmountMax, nil)
	require.NoError(t, exec.HandleEnvelope(context.Background(), env))

	require.True(t, adapter.Balance().IsZero())
	require.Len(t, home.envs, 1)
	require.Equal(t, "800", home.envs[0].Funds.Dec())
}

func TestExecutor_DuplicateWithdrawReturnsZero(t *testing.T) {
	exec, adapter, home := newTestExecutor(t)
	require.NoError(t, adapter.Deposit(uint256.NewInt(100)))

	env := instruction(domain.ActionWithdraw, uint256.NewInt(100), nil)
	require.NoError(t, exec.HandleEnvelope(context.Background(), env))
	// At-least-once delivery replays the same instruction.
	require.NoError(t, exec.HandleEnvelope(context.Background(), env))

	require.Len(t, home.envs, 2)
	require.Equal(t, "100", home.envs[0].Funds.Dec())
	require.True(t, home.envs[1].Funds.IsZero())
}

func TestExecutor_RejectsUnauthorizedSender(t *testing.T) {
	exec, _, home := newTestExecutor(t)

	env := instruction(domain.ActionWithdraw, uint256.NewInt(10), nil)
	env.Sender = addrRogue
	err := exec.HandleEnvelope(context.Background(), env)
	require.ErrorIs(t, err, ErrUnauthorizedSender)
	require.Empty(t, home.envs)
}

func TestExecutor_RejectsUnknownAdapter(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	env := instruction(domain.ActionDeposit, uint256.NewInt(10), uint256.NewInt(10))
	env.Instruction.Adapter = addrRogue
	err := exec.HandleEnvelope(context.Background(), env)
	require.ErrorIs(t, err, ErrUnknownAdapter)
}

func TestExecutor_RejectsReturnEnvelopes(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	env := &relay.Envelope{Kind: relay.KindReturn, SourceDomain: 1, DestDomain: 2, Sender: addrHome, Funds: uint256.NewInt(5)}
	err := exec.HandleEnvelope(context.Background(), env)
	require.ErrorIs(t, err, ErrUnexpectedKind)
}
