// Package main is the entry point for the chainguard resilience layer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	contractsApp "github.com/fd1az/chainguard/business/contracts/app"
	contractsDomain "github.com/fd1az/chainguard/business/contracts/domain"
	contractsEth "github.com/fd1az/chainguard/business/contracts/infra/ethereum"
	flashloanApp "github.com/fd1az/chainguard/business/flashloan/app"
	flashloanDomain "github.com/fd1az/chainguard/business/flashloan/domain"
	flashloanEth "github.com/fd1az/chainguard/business/flashloan/infra/ethereum"
	verificationApp "github.com/fd1az/chainguard/business/verification/app"
	verificationDomain "github.com/fd1az/chainguard/business/verification/domain"
	"github.com/fd1az/chainguard/business/verification/infra/explorer"
	withdrawalApp "github.com/fd1az/chainguard/business/withdrawal/app"
	withdrawalDomain "github.com/fd1az/chainguard/business/withdrawal/domain"
	withdrawalEth "github.com/fd1az/chainguard/business/withdrawal/infra/ethereum"
	"github.com/fd1az/chainguard/internal/circuitbreaker"
	"github.com/fd1az/chainguard/internal/config"
	"github.com/fd1az/chainguard/internal/gateway"
	"github.com/fd1az/chainguard/internal/health"
	"github.com/fd1az/chainguard/internal/history"
	"github.com/fd1az/chainguard/internal/httpclient"
	"github.com/fd1az/chainguard/internal/logger"
	"github.com/fd1az/chainguard/internal/metrics"
	"github.com/fd1az/chainguard/internal/ratelimit"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const usage = `Usage: chainguard [flags] <command> [args]

Commands:
  verify <chain> <txhash>                       verify a transaction on the primary source
  consensus <chain> <txhash>                    verify across all sources and report consensus
  probe <chain> <address>                       validate an address and probe for contract bytecode
  quote <chain> <asset> <amount>                survey flash loan providers for the asset
  flashloan <provider> <asset> <amount> <expectedProfit>
                                                execute a flash loan (profit must cover the fee)
  withdraw <chain> <destination> <amount>       execute a guarded withdrawal
  history [limit]                               show recent withdrawal records
  serve                                         run health and metrics endpoints until interrupted

Flags:
`

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("chainguard %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name)
	defer log.Sync()

	if cfg.Telemetry.Enabled {
		provider, err := metrics.NewProvider(cfg.Telemetry.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to init metrics: %w", err)
		}
		defer provider.Shutdown(context.Background())

		go func() {
			if err := metrics.Serve(cfg.Telemetry.PrometheusPort); err != nil {
				log.Warn(ctx, "metrics server stopped", "error", err)
			}
		}()
		log.Info(ctx, "prometheus metrics server started", "port", cfg.Telemetry.PrometheusPort)
	}

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	command, rest := args[0], args[1:]
	switch command {
	case "verify":
		return app.cmdVerify(ctx, rest)
	case "consensus":
		return app.cmdConsensus(ctx, rest)
	case "probe":
		return app.cmdProbe(ctx, rest)
	case "quote":
		return app.cmdQuote(rest)
	case "flashloan":
		return app.cmdFlashLoan(ctx, rest)
	case "withdraw":
		return app.cmdWithdraw(ctx, rest)
	case "history":
		return app.cmdHistory(ctx, rest)
	case "serve":
		return app.serve(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// application holds the wired services. Everything is constructed explicitly
// from configuration; services receive their collaborators through their
// constructors.
type application struct {
	cfg      *config.Config
	log      *logger.Logger
	verifier *verificationApp.Verifier
	store    *history.Store

	contractGW *contractsApp.ContractGateway

	orchestrator *flashloanApp.Orchestrator
	guard        *withdrawalApp.Guard

	breakers []gateway.BreakerStateSource
	closers  []func()
}

func newApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*application, error) {
	app := &application{cfg: cfg, log: log}

	store, err := history.Open(cfg.Withdrawal.HistoryPath, cfg.Withdrawal.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	app.store = store
	app.closers = append(app.closers, func() { store.Close() })

	breakerCfg := circuitbreaker.Config{
		Threshold: cfg.Breaker.Threshold,
		Cooldown:  cfg.Breaker.Cooldown,
		Logger:    log,
	}

	// Verification: one source per distinct explorer name, endpoints per chain.
	limiter := ratelimit.New(cfg.Verification.RequestsPerSecond, 1)
	endpointsByName := make(map[string]map[string]explorer.Endpoint)
	for chainName, chain := range cfg.Chains {
		for _, ex := range chain.Explorers {
			client, err := httpclient.New(
				httpclient.WithProviderName(ex.Name),
				httpclient.WithBaseURL(ex.APIURL),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to build explorer client %s: %w", ex.Name, err)
			}
			if endpointsByName[ex.Name] == nil {
				endpointsByName[ex.Name] = make(map[string]explorer.Endpoint)
			}
			endpointsByName[ex.Name][chainName] = explorer.Endpoint{
				Client: client,
				APIKey: ex.APIKey,
				WebURL: ex.WebURL,
			}
		}
	}
	var sources []verificationApp.ExplorerSource
	for name, endpoints := range endpointsByName {
		source, err := explorer.NewSource(name, endpoints, limiter)
		if err != nil {
			return nil, fmt.Errorf("failed to build explorer source %s: %w", name, err)
		}
		sources = append(sources, source)
	}

	verifyGW, err := gateway.New[*verificationDomain.Result](gateway.Config{
		Name:          "explorer",
		Breaker:       breakerCfg,
		CacheCapacity: cfg.Cache.Capacity,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build explorer gateway: %w", err)
	}
	app.breakers = append(app.breakers, verifyGW)

	app.verifier, err = verificationApp.NewVerifier(verificationApp.Config{
		MinConfirmations:      cfg.Verification.MinConfirmations,
		CacheTTL:              cfg.Cache.VerificationTTL,
		AuthenticityThreshold: cfg.Verification.AuthenticityThreshold,
	}, sources, verifyGW, store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build verifier: %w", err)
	}

	// Contracts: one node client per chain, shared by probe and call paths.
	chainClients := make(map[string]contractsApp.ChainClient, len(cfg.Chains))
	for name, chain := range cfg.Chains {
		client, err := contractsEth.Dial(ctx, name, chain.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial chain %s: %w", name, err)
		}
		chainClients[name] = client
		app.closers = append(app.closers, client.Close)
	}
	handleGW, err := gateway.New[*contractsDomain.Handle](gateway.Config{
		Name:          "contracts",
		Breaker:       breakerCfg,
		CacheCapacity: cfg.Cache.Capacity,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build handle gateway: %w", err)
	}
	callGW, err := gateway.New[[]byte](gateway.Config{
		Name:    "contract-calls",
		Breaker: breakerCfg,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build call gateway: %w", err)
	}
	app.contractGW, err = contractsApp.NewContractGateway(contractsApp.Config{
		HandleTTL: cfg.Cache.HandleTTL,
	}, chainClients, handleGW, callGW, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build contract gateway: %w", err)
	}
	app.breakers = append(app.breakers, handleGW, callGW)

	// Flash loans: providers from config, executed from the treasury account
	// through an executor dialed per provider chain.
	providers := make(map[string]flashloanDomain.Provider, len(cfg.FlashLoan.Providers))
	executors := make(map[string]flashloanApp.LoanExecutor)
	for _, p := range cfg.FlashLoan.Providers {
		assets := make(map[string]common.Address, len(p.Assets))
		for symbol, token := range p.Assets {
			assets[symbol] = common.HexToAddress(token)
		}
		providers[p.Name] = flashloanDomain.Provider{
			Name:          p.Name,
			Chain:         p.Chain,
			PoolAddress:   common.HexToAddress(p.PoolAddress),
			FeeBps:        p.FeeBps,
			MaxLoanAmount: p.MaxLoanAmountDecimal(),
			Assets:        assets,
		}
		if _, ok := executors[p.Chain]; ok {
			continue
		}
		chain, ok := cfg.Chains[p.Chain]
		if !ok {
			return nil, fmt.Errorf("flash loan provider %s references unconfigured chain %s", p.Name, p.Chain)
		}
		exec, err := flashloanEth.NewExecutor(ctx, p.Chain, chain.RPCURL,
			common.HexToAddress(cfg.Withdrawal.TreasuryAddress))
		if err != nil {
			return nil, fmt.Errorf("failed to build loan executor for %s: %w", p.Chain, err)
		}
		executors[p.Chain] = exec
		app.closers = append(app.closers, exec.Close)
	}
	loanGW, err := gateway.New[string](gateway.Config{
		Name:    "flashloan",
		Breaker: breakerCfg,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build flashloan gateway: %w", err)
	}
	app.orchestrator = flashloanApp.NewOrchestrator(providers, executors, loanGW, log)
	app.breakers = append(app.breakers, loanGW)

	// Withdrawals: guarded sends from the treasury, one sender per
	// configured chain.
	if cfg.Withdrawal.TreasuryAddress != "" {
		senders := make(withdrawalApp.SenderPool, len(cfg.Chains))
		for name, chain := range cfg.Chains {
			s, err := withdrawalEth.Dial(ctx, name, chain.RPCURL,
				common.HexToAddress(cfg.Withdrawal.TreasuryAddress))
			if err != nil {
				return nil, fmt.Errorf("failed to dial withdrawal chain %s: %w", name, err)
			}
			senders[name] = s
			app.closers = append(app.closers, s.Close)
		}

		balanceGW, err := gateway.New[decimal.Decimal](gateway.Config{
			Name:    "balances",
			Breaker: breakerCfg,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build balance gateway: %w", err)
		}
		sendGW, err := gateway.New[*withdrawalApp.SendReceipt](gateway.Config{
			Name:    "withdrawals",
			Breaker: breakerCfg,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build withdrawal gateway: %w", err)
		}
		app.guard, err = withdrawalApp.NewGuard(withdrawalApp.Config{
			DailyLimit:  cfg.Withdrawal.DailyLimitDecimal(),
			MinInterval: cfg.Withdrawal.MinInterval,
			MinDelay:    cfg.Withdrawal.MinDelay,
			MaxDelay:    cfg.Withdrawal.MaxDelay,
			Blacklist:   cfg.Withdrawal.Blacklist,
		}, senders, store, balanceGW, sendGW, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build withdrawal guard: %w", err)
		}
		app.breakers = append(app.breakers, balanceGW, sendGW)
	}

	return app, nil
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *application) cmdVerify(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: verify <chain> <txhash>")
	}
	res, err := a.verifier.Verify(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(res)
}

func (a *application) cmdConsensus(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: consensus <chain> <txhash>")
	}
	res, err := a.verifier.VerifyWithConsensus(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(res)
}

func (a *application) cmdProbe(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: probe <chain> <address>")
	}
	handle, err := a.contractGW.Resolve(ctx, args[0], args[1], "[]", "")
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"chain":       handle.Chain,
		"address":     handle.Address.Hex(),
		"probedBlock": handle.ProbedBlock,
		"createdAt":   handle.CreatedAt,
	})
}

func (a *application) cmdQuote(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: quote <chain> <asset> <amount>")
	}
	amount, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}
	return printJSON(a.orchestrator.QuoteAll(args[0], args[1], amount))
}

func (a *application) cmdFlashLoan(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: flashloan <provider> <asset> <amount> <expectedProfit>")
	}
	amount, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}
	profit, err := decimal.NewFromString(args[3])
	if err != nil {
		return fmt.Errorf("invalid expected profit %q: %w", args[3], err)
	}
	res, execErr := a.orchestrator.Execute(ctx, args[0], args[1], amount, profit, nil)
	if res != nil {
		if err := printJSON(res); err != nil {
			return err
		}
	}
	return execErr
}

func (a *application) cmdWithdraw(ctx context.Context, args []string) error {
	if a.guard == nil {
		return fmt.Errorf("withdrawals disabled: no treasury address configured")
	}
	if len(args) != 3 {
		return fmt.Errorf("usage: withdraw <chain> <destination> <amount>")
	}
	amount, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}

	delay := a.guard.ScheduleDelay()
	a.log.Info(ctx, "waiting randomized execution delay", "delay", delay.String())
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	rec, execErr := a.guard.Execute(ctx, withdrawalDomain.Request{
		Chain:       args[0],
		Destination: args[1],
		Amount:      amount,
	})
	if rec != nil {
		if err := printJSON(rec); err != nil {
			return err
		}
	}
	return execErr
}

func (a *application) cmdHistory(ctx context.Context, args []string) error {
	limit := a.cfg.Withdrawal.HistoryLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid limit %q: %w", args[0], err)
		}
		limit = n
	}
	records, err := a.store.RecentWithdrawals(ctx, limit)
	if err != nil {
		return err
	}
	return printJSON(records)
}

// serve runs the health endpoints until the context is cancelled. Breaker
// states are exposed as a health check so an open breaker shows up as
// degraded.
func (a *application) serve(ctx context.Context) error {
	healthServer := health.NewServer(a.cfg.Telemetry.HealthPort, version)
	healthServer.RegisterCheck("breakers", func(ctx context.Context) (bool, string) {
		for resource, state := range gateway.CombineBreakerStates(a.breakers...) {
			if state == "open" {
				return false, fmt.Sprintf("circuit open for %s", resource)
			}
		}
		return true, ""
	})

	errCh := make(chan error, 1)
	go func() { errCh <- healthServer.Start() }()
	a.log.Info(ctx, "health server started", "port", a.cfg.Telemetry.HealthPort)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return healthServer.Stop(shutdownCtx)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
