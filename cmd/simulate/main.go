// Package main runs a scripted two-remote-domain scenario entirely
// in-process: deposit, activation, a yield jump, a stop-loss crash and
// shutdown, settled over the loopback relay. Prints the decision journal
// and final balances so the full allocation lifecycle can be inspected
// without any external infrastructure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/holiman/uint256"

	"yield-router/internal/coordinator"
	"yield-router/internal/directory"
	"yield-router/internal/domain"
	"yield-router/internal/engine"
	"yield-router/internal/executor"
	"yield-router/internal/relay"
	"yield-router/internal/service"
	"yield-router/internal/storage/memory"
)

const (
	addrHome    = domain.Address("11111111111111111111111111111111")
	addrExecA   = domain.Address("4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM")
	addrAdptA   = domain.Address("CiDwVBFgWV9E5MvXWoLgnEgn2hK7rJikbvfWavzAQz3")
	addrExecB   = domain.Address("GcdayuLaLyrdmUu324nahyv33G5poQdLUEZ1nEytDeP")
	addrAdptB   = domain.Address("LX3EUdRUBUa3TbsYXLEUdj9J3prXkWXvLYSWyYyc2Jj")
	addrMarketA = domain.Address("c8fpTXm3XTRgE5maYQ24Li4L65wMYvAFomzXknxVEx7")
	addrMarketB = domain.Address("g35TxFqwMx95vCk63fTxGTHb6ei4W24qg5t2x6xD3cT")
)

func main() {
	deposit := flag.Uint64("deposit", 1_000_000, "Capital deposited before activation")
	flag.Parse()

	logger := log.New(os.Stdout, "[simulate] ", log.LstdFlags)
	ctx := context.Background()

	dir := directory.NewManager()
	mustRegister(logger, dir, domain.PoolConfig{PoolID: "pool-a", DomainID: 2, Executor: addrExecA, Adapter: addrAdptA, Active: true})
	mustRegister(logger, dir, domain.PoolConfig{PoolID: "pool-b", DomainID: 3, Executor: addrExecB, Adapter: addrAdptB, Active: true})

	fees := relay.NewFeeVault(uint256.NewInt(1))
	for _, dom := range []domain.DomainID{1, 2, 3} {
		fees.Fund(dom, uint256.NewInt(1_000_000))
	}
	loop := relay.NewLoopback(fees, false)

	journal := memory.NewDecisionLogStore()
	coord := coordinator.New(coordinator.Options{
		Directory:   dir,
		Relay:       loop,
		Journal:     journal,
		HomeDomain:  1,
		HomeAddress: addrHome,
	})
	loop.Route(1, coord.OnCapitalArrived)

	vaultA, vaultB := executor.NewVaultAdapter(), executor.NewVaultAdapter()
	for _, rd := range []struct {
		dom     domain.DomainID
		exec    domain.Address
		adapter domain.Address
		vault   *executor.VaultAdapter
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
		ex.Manage(rd.adapter, rd.vault)
		loop.Route(rd.dom, ex.HandleEnvelope)
	}

	params := engine.DefaultParams()
	params.CooldownMs = 0
	eng := engine.New(engine.Options{
		Params:  params,
		Sink:    coord,
		Journal: journal,
	})
	mustRegisterPool(logger, eng, ctx, "pool-a", 2, addrMarketA, domain.RayPercent(10))
	mustRegisterPool(logger, eng, ctx, "pool-b", 3, addrMarketB, domain.RayPercent(5))

	runner := service.New(service.Options{
		Engine:          eng,
		Coordinator:     coord,
		RecallGasBudget: params.PushGasBudget,
		Logger:          logger,
	})

	// Scripted lifecycle. Each event settles fully before the next one,
	// so remote vault balances are exact at every step.
	script := []*domain.Event{
		{Kind: domain.EventCapitalDeposited, Timestamp: 1_000, Amount: uint256.NewInt(*deposit)},
		{Kind: domain.EventStrategyActivated, Timestamp: 2_000},
		{Kind: domain.EventRateUpdated, Timestamp: 3_000, Domain: 3, PoolAddress: addrMarketB,
			Rate: domain.RayPercent(20), LiquidityIndex: uint256.NewInt(10_000_000)},
		{Kind: domain.EventRateUpdated, Timestamp: 4_000, Domain: 2, PoolAddress: addrMarketA,
			Rate: domain.RayPercent(1), LiquidityIndex: uint256.NewInt(10_000_000)},
		{Kind: domain.EventStrategyDeactivated, Timestamp: 5_000},
	}
	for _, ev := range script {
		logger.Printf("event %s", ev.Kind)
		runner.Handle(ctx, ev)
	}

	// Decision history.
	records, err := journal.GetAll(ctx)
	if err != nil {
		logger.Fatalf("Failed to read journal: %v", err)
	}

	fmt.Println()
	fmt.Println("DECISION JOURNAL")
	fmt.Printf("%-22s %-10s %-10s %-12s %s\n", "KIND", "POOL", "DEST", "AMOUNT", "DETAIL")
	for _, rec := range records {
		fmt.Printf("%-22s %-10s %-10s %-12s %s\n",
			rec.Kind, rec.PoolID, rec.Counterparty, rec.Amount, rec.Detail)
	}

	fmt.Println()
	fmt.Println("FINAL STATE")
	fmt.Printf("  strategy active:  %v\n", eng.StrategyActive())
	fmt.Printf("  idle balance:     %s\n", eng.IdleBalance().Dec())
	fmt.Printf("  remote total:     %s\n", coord.Ledger().Total().Dec())
	fmt.Printf("  vault pool-a:     %s\n", vaultA.Balance().Dec())
	fmt.Printf("  vault pool-b:     %s\n", vaultB.Balance().Dec())
	for _, id := range eng.PoolIDs() {
		p, _ := eng.PoolSnapshot(id)
		fmt.Printf("  %s: active=%v allocation=%s rate=%s\n",
			p.PoolID, p.IsActive, p.Allocation.Dec(), p.CurrentRate.Dec())
	}
}

func mustRegister(logger *log.Logger, dir *directory.Manager, cfg domain.PoolConfig) {
	if err := dir.Register(cfg); err != nil {
		logger.Fatalf("Failed to register %s: %v", cfg.PoolID, err)
	}
}

func mustRegisterPool(logger *log.Logger, eng *engine.Engine, ctx context.Context,
	id domain.PoolID, dom domain.DomainID, market domain.Address, rate *uint256.Int) {

	err := eng.RegisterPool(ctx, id, dom, market,
		uint256.NewInt(10_000_000), uint256.NewInt(0), rate, domain.RayPercent(2))
	if err != nil {
		logger.Fatalf("Failed to register pool %s: %v", id, err)
	}
}
