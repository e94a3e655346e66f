// Package app provides the top-level application lifecycle for the relayer.
// It wires the signing identity, validator, ledger or chain endpoint, the
// submission queue, and the API server, then runs them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/trustbet/relayd/internal/chain"
	"github.com/trustbet/relayd/internal/config"
	"github.com/trustbet/relayd/internal/ledger"
	"github.com/trustbet/relayd/internal/permit"
	"github.com/trustbet/relayd/internal/relay"
	"github.com/trustbet/relayd/internal/server"
	"github.com/trustbet/relayd/internal/server/handler"
	"github.com/trustbet/relayd/internal/server/ws"
	"github.com/trustbet/relayd/internal/service"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds the
// submission target for the configured mode, starts the goroutines, and
// blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting relayer",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	operator := deps.Identity.Address()
	if a.cfg.Ledger.Operator != "" {
		operator = common.HexToAddress(a.cfg.Ledger.Operator)
	}
	spender := common.HexToAddress(a.cfg.Relayer.MarketAddress)

	signingDomain := permit.Domain{
		Name:              a.cfg.Relayer.TokenName,
		Version:           a.cfg.Relayer.TokenVersion,
		ChainID:           big.NewInt(a.cfg.Chain.ChainID),
		VerifyingContract: common.HexToAddress(a.cfg.Relayer.TokenAddress),
	}

	var (
		endpoint  relay.Endpoint
		validator *permit.Validator
		reader    service.MarketReader
		admin     service.MarketAdmin
		positions service.PositionReader
		claimer   service.Claimer
		fees      service.FeeReader
	)

	switch strings.ToLower(a.cfg.Mode) {
	case "embedded":
		led := ledger.New(ledger.Config{
			Operator:          operator,
			AllowEarlyResolve: a.cfg.Ledger.AllowEarlyResolve,
		}, nil)
		validator = permit.NewValidator(signingDomain, led)
		led.SetVerifier(validator)

		endpoint = ledger.NewEndpoint(led, spender)
		reader, admin, positions, claimer = led, led, led, led

	case "chain":
		client, err := chain.Dial(ctx, chain.Config{
			RPCURL:        a.cfg.Chain.RPCURL,
			ChainID:       a.cfg.Chain.ChainID,
			MarketAddress: spender,
			TokenAddress:  common.HexToAddress(a.cfg.Relayer.TokenAddress),
			GasLimit:      a.cfg.Chain.GasLimit,
			PollInterval:  a.cfg.Chain.PollInterval.Duration,
		}, deps.Identity)
		if err != nil {
			return fmt.Errorf("app: chain client: %w", err)
		}
		a.closers = append(a.closers, client.Close)

		validator = permit.NewValidator(signingDomain, client)
		endpoint = client
		reader = client
		fees = client

	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	submitter := relay.NewSubmitter(endpoint, deps.JobStore, deps.ReceiptCache, relay.Config{
		MaxAttempts:    a.cfg.Relay.MaxAttempts,
		RetryBaseDelay: a.cfg.Relay.RetryBaseDelay.Duration,
		ConfirmTimeout: a.cfg.Relay.ConfirmTimeout.Duration,
		QueueSize:      a.cfg.Relay.QueueSize,
	}, a.logger)

	hub := ws.NewHub(a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})

	bets := service.NewBetService(validator, submitter, spender, hub, a.logger)
	markets := service.NewMarketService(reader, admin, positions, deps.Archiver, operator, hub, a.logger)
	if fees != nil {
		markets.SetFeeReader(fees)
	}
	claims := service.NewClaimService(claimer, hub, a.logger)

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		AdminToken:    a.cfg.Server.AdminToken,
		BetRateLimit:  a.cfg.Server.BetRateLimit,
		BetRateWindow: a.cfg.Server.BetRateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Identity.Address(), a.cfg.Mode, time.Now().UTC()),
		Bets:    handler.NewBetHandler(bets, a.logger),
		Markets: handler.NewMarketHandler(markets, a.logger),
		Claims:  handler.NewClaimHandler(claims, a.logger),
	}, deps.RateLimiter, hub, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return submitter.Run(ctx)
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down relayer")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
