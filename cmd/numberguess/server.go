package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/player00001-26/number-guess/cmd/numberguess/shared"
	"github.com/player00001-26/number-guess/internal/randutil"
	"github.com/player00001-26/number-guess/internal/redisstore"
	"github.com/player00001-26/number-guess/internal/server"
	"github.com/player00001-26/number-guess/internal/session"
)

// ServerCmd contains server configuration; flags override the config file.
type ServerCmd struct {
	Config     string `kong:"default='numberguess.hcl',help='Path to HCL config file'"`
	Addr       string `kong:"help='Server address, overrides config'"`
	Debug      bool   `kong:"help='Enable debug logging'"`
	JSON       bool   `kong:"help='Log in JSON format instead of console output'"`
	AdminToken string `kong:"help='Admin token, overrides config'"`
	Seed       *int64 `kong:"help='Deterministic RNG seed for winner draws (optional)'"`
}

func (c *ServerCmd) Run() error {
	logger := shared.NewLogger(c.Debug, c.JSON)

	cfg, err := server.LoadServerConfig(c.Config)
	if err != nil {
		return err
	}
	if c.AdminToken != "" {
		cfg.Server.AdminToken = c.AdminToken
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	addr := cfg.ListenAddress()
	if c.Addr != "" {
		addr = c.Addr
	}

	var seed int64
	if c.Seed != nil {
		seed = *c.Seed
		logger.Info().Int64("seed", seed).Msg("using deterministic seed")
	} else {
		seed = time.Now().UnixNano()
		logger.Info().Int64("seed", seed).Msg("using random seed")
	}
	rng := randutil.New(seed)

	ctx := shared.SetupSignalHandler(logger)

	var store session.Store
	switch cfg.Store.Backend {
	case "redis":
		rs, err := redisstore.New(ctx, logger, redisstore.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rs.Close() }()
		store = rs
	default:
		store = session.NewMemoryStore()
	}

	registry := session.NewRegistry(logger, store, rng, quartz.NewReal(), session.Config{
		MinNumber: cfg.Game.MinNumber,
		MaxNumber: cfg.Game.MaxNumber,
		DrawDelay: cfg.Game.DrawDelay(),
		ClaimWait: cfg.Game.ClaimWait(),
	})
	defer registry.Close()

	srv := server.NewServer(logger, registry, store, cfg.Server.AdminToken)

	logger.Info().
		Str("address", addr).
		Str("store", cfg.Store.Backend).
		Int("min_number", cfg.Game.MinNumber).
		Int("max_number", cfg.Game.MaxNumber).
		Dur("draw_delay", cfg.Game.DrawDelay()).
		Msg("starting numberguess server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
