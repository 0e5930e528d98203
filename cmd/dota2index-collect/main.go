// Command dota2index-collect runs the scheduler loop: an onward front
// walking the live match tail and, once history allows it, a past front
// walking backward in fixed-size chunks, both under one shared rate budget.
package main

import (
	"context"
	"flag"
	"net/url"
	"time"

	"dota2index/internal/adapters/chstore"
	"dota2index/internal/adapters/upstream"
	"dota2index/internal/core/checkpoint"
	"dota2index/internal/core/ratelimit"
	"dota2index/internal/core/scheduler"
	"dota2index/internal/platform/config"
	"dota2index/internal/platform/logger"
)

func main() {
	root := config.New()
	chCfg := root.Prefix("DOTA2INDEX_CLICKHOUSE_")

	var (
		fCHServer   = flag.String("clickhouse-server", chCfg.MayString("SERVER", "127.0.0.1:9000"), "clickhouse tcp address")
		fCHDatabase = flag.String("clickhouse-database", chCfg.MayString("DATABASE", "default"), "clickhouse database")
		fCHUser     = flag.String("clickhouse-user", chCfg.MayString("USER", "default"), "clickhouse user")
		fCHPassword = flag.String("clickhouse-password", chCfg.MayString("PASSWORD", ""), "clickhouse password")
		fProxy      = flag.String("proxy", "", "HTTP proxy URL for upstream API calls")
		fInterval   = flag.Int("interval", 1000, "base inter-request interval, milliseconds")
		fBatch      = flag.Int("batch", 500, "matches buffered per collector before a persist")
		fCollected  = flag.String("collected", "./collected.json", "path to the checkpoint file")
	)
	flag.Parse()

	apiKey := flag.Arg(0)
	if apiKey == "" {
		logger.Get().Fatal().Msg("missing required positional argument: <api-key>")
	}

	var proxyURL *url.URL
	if *fProxy != "" {
		u, err := url.Parse(*fProxy)
		if err != nil {
			logger.Get().Fatal().Err(err).Str("proxy", *fProxy).Msg("invalid -proxy URL")
		}
		proxyURL = u
	}

	log := logger.Get()
	ctx := context.Background()

	up := upstream.NewClient(upstream.Options{
		APIKey: apiKey,
		Proxy:  proxyURL,
	})

	store, err := chstore.Open(ctx, chstore.Options{
		Addr:     *fCHServer,
		Database: *fCHDatabase,
		Username: *fCHUser,
		Password: *fCHPassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("chstore.Open failed")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close clickhouse connection")
		}
	}()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("chstore.EnsureSchema failed")
	}

	cp, err := checkpoint.Load(*fCollected, func() (uint64, error) {
		return up.GetRecent(ctx)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("checkpoint.Load failed")
	}

	baseInterval := time.Duration(*fInterval) * time.Millisecond
	limiter := ratelimit.New(baseInterval, baseInterval*10)

	sched := scheduler.New(limiter, cp, up, store, *fBatch)

	if err := sched.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("scheduler stopped")
	}
}
