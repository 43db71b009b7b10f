// Package main runs the yield router: the allocation engine and the
// rebalance coordinator fed by a WebSocket observation stream, with
// remote domains settled over the in-process loopback relay.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/holiman/uint256"

	"yield-router/internal/coordinator"
	"yield-router/internal/directory"
	"yield-router/internal/domain"
	"yield-router/internal/engine"
	"yield-router/internal/executor"
	"yield-router/internal/feed"
	"yield-router/internal/observability"
	"yield-router/internal/relay"
	"yield-router/internal/service"
	"yield-router/internal/storage"
	chstore "yield-router/internal/storage/clickhouse"
	"yield-router/internal/storage/memory"
	pgstore "yield-router/internal/storage/postgres"
)

// poolSpec is one entry of the pools config file.
type poolSpec struct {
	PoolID           string `json:"pool_id"`
	Domain           uint64 `json:"domain"`
	Executor         string `json:"executor"`
	Adapter          string `json:"adapter"`
	PoolAddress      string `json:"pool_address"`
	InitialLiquidity string `json:"initial_liquidity"`
	InitialRate      string `json:"initial_rate"`
	StopLossRate     string `json:"stop_loss_rate"`
}

// allStores holds the storage implementations the router writes to.
type allStores struct {
	journal      storage.DecisionLogStore
	observations storage.RateObservationStore
}

// Server holds all components of the router process.
type Server struct {
	eng    *engine.Engine
	coord  *coordinator.Coordinator
	stores *allStores
	gas    uint64
	logger *log.Logger

	mu      sync.Mutex
	started time.Time
	events  int64
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	feedEndpoint := flag.String("feed-endpoint", os.Getenv("FEED_WS_ENDPOINT"), "Observation feed WebSocket endpoint")
	poolsFile := flag.String("pools", os.Getenv("POOLS_FILE"), "JSON file describing the pool set")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (decision journal)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (rate history)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	homeAddress := flag.String("home-address", os.Getenv("HOME_ADDRESS"), "Coordinator address stamped on outbound envelopes")
	homeDomain := flag.Uint64("home-domain", 1, "Home domain ID")
	relayFee := flag.Uint64("relay-fee", 1, "Flat per-message relay fee")
	feeBalance := flag.Uint64("fee-balance", 1_000_000, "Initial fee-vault balance per domain")
	httpAddr := flag.String("http-addr", ":9090", "HTTP address for health/metrics/status")

	cooldown := flag.Duration("rebalance-cooldown", 1*time.Hour, "Minimum spacing between opportunistic rebalances")
	hysteresisBps := flag.Uint64("hysteresis-bps", 50, "Reactivation buffer above stop-loss, basis points")
	minYieldDeltaBps := flag.Uint64("min-yield-delta-bps", 50, "Minimum rate spread before a rebalance fires, basis points")
	rebalanceFractionBps := flag.Uint64("rebalance-fraction-bps", 2_000, "Share of the worst pool moved per rebalance, basis points")
	minLiquidity := flag.Uint64("min-liquidity", 0, "Liquidity a pool must offer to receive a rebalance")
	pushGas := flag.Uint64("push-gas", 200_000, "Gas budget forwarded with deposit instructions")

	flag.Parse()

	logger := log.New(os.Stdout, "[router] ", log.LstdFlags|log.Lshortfile)

	if *feedEndpoint == "" {
		logger.Fatal("--feed-endpoint is required")
	}
	if *poolsFile == "" {
		logger.Fatal("--pools is required")
	}
	if *homeAddress == "" {
		logger.Fatal("--home-address is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	specs, err := loadPoolSpecs(*poolsFile)
	if err != nil {
		logger.Fatalf("Failed to load pools config: %v", err)
	}
	if len(specs) == 0 {
		logger.Fatal("Pools config is empty")
	}
	logger.Printf("Managing %d pools", len(specs))

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	params := engine.Params{
		HysteresisBuffer:     domain.RayBps(*hysteresisBps),
		MinYieldDelta:        domain.RayBps(*minYieldDeltaBps),
		MinLiquidityBuffer:   uint256.NewInt(*minLiquidity),
		RebalanceFractionBps: *rebalanceFractionBps,
		CooldownMs:           cooldown.Milliseconds(),
		PushGasBudget:        *pushGas,
	}

	server, err := buildServer(ctx, specs, stores, buildOptions{
		homeDomain:  domain.DomainID(*homeDomain),
		homeAddress: domain.Address(*homeAddress),
		relayFee:    *relayFee,
		feeBalance:  *feeBalance,
		params:      params,
		logger:      logger,
	})
	if err != nil {
		logger.Fatalf("Failed to build router: %v", err)
	}

	// Handle shutdown signals
	done := make(chan error, 1)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go server.startHTTPServer(*httpAddr)

	err = server.Run(ctx, *feedEndpoint)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Router error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// loadPoolSpecs reads and parses the pools config file.
func loadPoolSpecs(path string) ([]poolSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pools file: %w", err)
	}
	var specs []poolSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse pools file: %w", err)
	}
	return specs, nil
}

// createStores creates the decision journal and rate history stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			journal:      memory.NewDecisionLogStore(),
			observations: memory.NewRateObservationStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// ClickHouse
	chConn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		journal:      pgstore.NewDecisionLogStore(pool),
		observations: chstore.NewRateObservationStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

type buildOptions struct {
	homeDomain  domain.DomainID
	homeAddress domain.Address
	relayFee    uint64
	feeBalance  uint64
	params      engine.Params
	logger      *log.Logger
}

// buildServer wires directory, relay, executors, coordinator and engine
// from the pool specs. Each remote domain gets an in-process executor
// with a vault adapter per pool, all settled over the loopback relay.
func buildServer(ctx context.Context, specs []poolSpec, stores *allStores, opts buildOptions) (*Server, error) {
	dir := directory.NewManager()
	for _, sp := range specs {
		err := dir.Register(domain.PoolConfig{
			PoolID:   domain.PoolID(sp.PoolID),
			DomainID: domain.DomainID(sp.Domain),
			Executor: domain.Address(sp.Executor),
			Adapter:  domain.Address(sp.Adapter),
			Active:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("register pool %s: %w", sp.PoolID, err)
		}
	}

	fees := relay.NewFeeVault(uint256.NewInt(opts.relayFee))
	fees.Fund(opts.homeDomain, uint256.NewInt(opts.feeBalance))
	for _, sp := range specs {
		fees.Fund(domain.DomainID(sp.Domain), uint256.NewInt(opts.feeBalance))
	}
	loop := relay.NewLoopback(fees, false)

	coord := coordinator.New(coordinator.Options{
		Directory:   dir,
		Relay:       loop,
		Journal:     stores.journal,
		HomeDomain:  opts.homeDomain,
		HomeAddress: opts.homeAddress,
	})
	loop.Route(opts.homeDomain, coord.OnCapitalArrived)

	// One executor per registered executor address. A domain can host
	// several pools with distinct executors, and return transfers are
	// attributed by (domain, executor) sender, so executors must never be
	// shared across pools with different addresses. The relay routes one
	// handler per domain; domains dispatch to the owning executor by the
	// instruction's adapter address.
	type execKey struct {
		dom  domain.DomainID
		addr domain.Address
	}
	executors := make(map[execKey]*executor.Executor)
	byAdapter := make(map[domain.DomainID]map[domain.Address]*executor.Executor)
	for _, sp := range specs {
		dom := domain.DomainID(sp.Domain)
		key := execKey{dom, domain.Address(sp.Executor)}
		ex, exists := executors[key]
		if !exists {
			ex = executor.New(executor.Options{
				Domain:      dom,
				Address:     key.addr,
				HomeDomain:  opts.homeDomain,
				HomeAddress: opts.homeAddress,
				Relay:       loop,
			})
			executors[key] = ex
		}
		ex.Manage(domain.Address(sp.Adapter), executor.NewVaultAdapter())

		if byAdapter[dom] == nil {
			byAdapter[dom] = make(map[domain.Address]*executor.Executor)
		}
		byAdapter[dom][domain.Address(sp.Adapter)] = ex
	}
	for dom, adapters := range byAdapter {
		loop.Route(dom, func(ctx context.Context, env *relay.Envelope) error {
			if env.Instruction == nil {
				return fmt.Errorf("domain %d: %w: %s", dom, executor.ErrUnexpectedKind, env.Kind)
			}
			ex, ok := adapters[env.Instruction.Adapter]
			if !ok {
				return fmt.Errorf("domain %d: %w: %s", dom, executor.ErrUnknownAdapter, env.Instruction.Adapter)
			}
			return ex.HandleEnvelope(ctx, env)
		})
	}

	eng := engine.New(engine.Options{
		Params:  opts.params,
		Sink:    coord,
		Journal: stores.journal,
	})
	for _, sp := range specs {
		liquidity, err := uint256.FromDecimal(sp.InitialLiquidity)
		if err != nil {
			return nil, fmt.Errorf("pool %s: parse initial_liquidity: %w", sp.PoolID, err)
		}
		rate, err := uint256.FromDecimal(sp.InitialRate)
		if err != nil {
			return nil, fmt.Errorf("pool %s: parse initial_rate: %w", sp.PoolID, err)
		}
		stopLoss, err := uint256.FromDecimal(sp.StopLossRate)
		if err != nil {
			return nil, fmt.Errorf("pool %s: parse stop_loss_rate: %w", sp.PoolID, err)
		}
		err = eng.RegisterPool(ctx, domain.PoolID(sp.PoolID), domain.DomainID(sp.Domain),
			domain.Address(sp.PoolAddress), liquidity, uint256.NewInt(0), rate, stopLoss)
		if err != nil {
			return nil, fmt.Errorf("register pool %s: %w", sp.PoolID, err)
		}
	}

	return &Server{
		eng:    eng,
		coord:  coord,
		stores: stores,
		gas:    opts.params.PushGasBudget,
		logger: opts.logger,
	}, nil
}

// Run connects to the observation feed and drives the event loop until
// the context ends.
func (s *Server) Run(ctx context.Context, feedEndpoint string) error {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	client, err := feed.NewClient(ctx, feedEndpoint, nil, log.New(os.Stdout, "[feed] ", log.LstdFlags|log.Lshortfile))
	if err != nil {
		return fmt.Errorf("connect to feed: %w", err)
	}
	defer client.Close()

	runner := service.New(service.Options{
		Engine:          s.eng,
		Coordinator:     s.coord,
		Observations:    s.stores.observations,
		RecallGasBudget: s.gas,
		Logger:          log.New(os.Stdout, "[service] ", log.LstdFlags|log.Lshortfile),
	})

	s.logger.Println("Router started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			runner.Handle(ctx, ev)
			s.mu.Lock()
			s.events++
			s.mu.Unlock()
		}
	}
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// PoolStatus is one pool's entry in the /status response.
type PoolStatus struct {
	PoolID     string `json:"pool_id"`
	Domain     uint64 `json:"domain"`
	Active     bool   `json:"active"`
	Rate       string `json:"rate"`
	Liquidity  string `json:"liquidity"`
	Allocation string `json:"allocation"`
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status          string       `json:"status"`
	Uptime          string       `json:"uptime"`
	StrategyActive  bool         `json:"strategy_active"`
	IdleBalance     string       `json:"idle_balance"`
	RemoteTotal     string       `json:"remote_total"`
	EventsProcessed int64        `json:"events_processed"`
	Pools           []PoolStatus `json:"pools"`
}

// handleStatus returns router status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	events := s.events
	s.mu.Unlock()

	resp := StatusResponse{
		Status:          "running",
		Uptime:          time.Since(started).String(),
		StrategyActive:  s.eng.StrategyActive(),
		IdleBalance:     s.eng.IdleBalance().Dec(),
		RemoteTotal:     s.coord.Ledger().Total().Dec(),
		EventsProcessed: events,
	}
	for _, id := range s.eng.PoolIDs() {
		p, ok := s.eng.PoolSnapshot(id)
		if !ok {
			continue
		}
		resp.Pools = append(resp.Pools, PoolStatus{
			PoolID:     string(p.PoolID),
			Domain:     uint64(p.DomainID),
			Active:     p.IsActive,
			Rate:       p.CurrentRate.Dec(),
			Liquidity:  p.AvailableLiquidity.Dec(),
			Allocation: p.Allocation.Dec(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
