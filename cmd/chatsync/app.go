package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/auth"
	"github.com/creastat/chatsync/config"
	"github.com/creastat/chatsync/hybrid"
	"github.com/creastat/chatsync/local"
	"github.com/creastat/chatsync/remote"
	"github.com/creastat/chatsync/remote/postgres"
	"github.com/creastat/chatsync/remote/supabase"
)

// app is one CLI invocation's wiring.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	local  local.Store
	remote remote.Store
	auth   auth.Provider
	sync   *hybrid.Synchronizer
}

func newApp(ctx context.Context, cfg *config.Config, token string, logOut io.Writer) (*app, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	a := &app{cfg: cfg, logger: logger}
	if a.local, err = openLocal(cfg, logger); err != nil {
		return nil, err
	}
	if a.remote, err = openRemote(cfg); err != nil {
		a.close()
		return nil, err
	}
	if a.auth, err = openAuth(cfg, token); err != nil {
		a.close()
		return nil, err
	}

	hc, err := cfg.Hybrid()
	if err != nil {
		a.close()
		return nil, err
	}
	a.sync, err = hybrid.New(a.local, a.remote, a.auth, hc, hybrid.WithLogger(logger))
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.sync.Start(ctx); err != nil {
		a.close()
		return nil, err
	}

	// Continue today's latest session.
	if err := a.sync.SwitchDay(ctx, a.sync.CurrentDate()); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// close waits for pending remote writes, then releases every store.
func (a *app) close() error {
	var errs []error
	if a.sync != nil {
		a.sync.Wait()
		errs = append(errs, a.sync.Close())
	}
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	if a.local != nil {
		errs = append(errs, a.local.Close())
	}
	return errors.Join(errs...)
}

func openLocal(cfg *config.Config, logger *slog.Logger) (local.Store, error) {
	switch cfg.LocalDriver {
	case config.LocalMemory:
		return local.NewStore(local.StoreTypeMemory, local.WithLogger(logger))
	case config.LocalRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return local.NewStore(local.StoreTypeRedis,
			local.WithRedisClient(client),
			local.WithRedisTTL(cfg.RedisTTL),
			local.WithRedisPrefix(cfg.RedisPrefix),
			local.WithLogger(logger),
		)
	default:
		return local.NewStore(local.StoreTypeSQLite,
			local.WithSQLitePath(cfg.SQLitePath),
			local.WithLogger(logger),
		)
	}
}

func openRemote(cfg *config.Config) (remote.Store, error) {
	switch cfg.RemoteDriver {
	case config.RemoteMemory:
		return remote.NewMemoryStore(), nil
	case config.RemoteSupabase:
		client, err := supabase.New(supabase.Config{
			URL:    cfg.RemoteEndpoint,
			APIKey: cfg.RemoteAPIKey,
			Table:  cfg.RemoteTable,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.RemotePostgres:
		store, err := postgres.Open(cfg.RemoteEndpoint)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

func openAuth(cfg *config.Config, token string) (auth.Provider, error) {
	if token == "" {
		token = cfg.AuthToken
	}
	if cfg.AuthSecret == "" {
		if token != "" {
			return nil, fmt.Errorf("%w: auth_secret is required to verify tokens", chatsync.ErrInvalidConfig)
		}
		return auth.NewManual(), nil
	}

	p, err := auth.NewTokenProvider([]byte(cfg.AuthSecret), cfg.AuthIssuer)
	if err != nil {
		return nil, err
	}
	if token != "" {
		if _, err := p.SignInWithToken(token); err != nil {
			return nil, err
		}
	}
	return p, nil
}
