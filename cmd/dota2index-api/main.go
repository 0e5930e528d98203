// Command dota2index-api runs the draft query HTTP server only, so it can
// scale and deploy independently from the collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"dota2index/internal/adapters/chstore"
	"dota2index/internal/adapters/httpapi"
	"dota2index/internal/core/planner"
	"dota2index/internal/platform/config"
	"dota2index/internal/platform/logger"
	phttp "dota2index/internal/platform/net/http"
	"dota2index/internal/platform/net/middleware"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func main() {
	root := config.New()
	chCfg := root.Prefix("DOTA2INDEX_CLICKHOUSE_")
	apiCfg := root.Prefix("DOTA2INDEX_API_")

	var (
		fCHServer   = flag.String("clickhouse-server", chCfg.MayString("SERVER", "127.0.0.1:9000"), "clickhouse tcp address")
		fCHDatabase = flag.String("clickhouse-database", chCfg.MayString("DATABASE", "default"), "clickhouse database")
		fCHUser     = flag.String("clickhouse-user", chCfg.MayString("USER", "default"), "clickhouse user")
		fCHPassword = flag.String("clickhouse-password", chCfg.MayString("PASSWORD", ""), "clickhouse password")
		fAddr       = flag.String("addr", apiCfg.MayString("ADDR", "0.0.0.0"), "bind address")
		fPort       = flag.Int("port", apiCfg.MayInt("PORT", 4000), "bind port")
	)
	flag.Parse()

	log := logger.Get()
	ctx := context.Background()

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

	plan := planner.New(store)
	handler := httpapi.New(plan)

	// NewServer reads its bind address from DOTA2INDEX_API_API_PORT; export
	// it from the resolved -addr/-port flags so flags take precedence over
	// whatever the env already held.
	mustSetEnv("DOTA2INDEX_API_API_PORT", fmt.Sprintf("%s:%d", *fAddr, *fPort))

	srv := phttp.NewServer(apiCfg)
	router := srv.Router()
	router.Use(middleware.RequestID(), middleware.RealIP(), middleware.Timeout(10*time.Second))
	router.Use(middleware.RecoverJSON)
	router.Use(middleware.CORS(middleware.CORSOptions{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST"},
	}))
	handler.Register(router)

	log.Info().Str("addr", srv.Addr()).Msg("dota2index-api listening")
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}
