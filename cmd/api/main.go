package main

import (
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	server "staymatch/internal/adapters/http_server"
	"staymatch/internal/adapters/observability"
	openaiad "staymatch/internal/adapters/openai"
	"staymatch/internal/adapters/provider"
	redisad "staymatch/internal/adapters/redis"
	"staymatch/internal/app"
	"staymatch/internal/domain"
	"staymatch/internal/matcher"
	"staymatch/internal/shared"
	mysqlrepo "staymatch/internal/storage/mysql"
	qdrantidx "staymatch/internal/storage/qdrant"
)

func main() {
	_ = godotenv.Load()
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	store := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	index, err := qdrantidx.NewIndex(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, uint64(cfg.VectorSize))
	if err != nil {
		log.Fatal().Err(err).Msg("qdrant init failed")
	}
	defer index.Close()

	embedder, err := openaiad.New(cfg.OpenAIKey, cfg.OpenAIBase, cfg.OpenAIModel, cfg.OpenAIRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("embedder init failed")
	}

	var clients []domain.ProviderClient
	for _, p := range cfg.Providers {
		cl, err := provider.New(p.ID, p.Base, p.Key, cfg.ProviderRPS)
		if err != nil {
			log.Fatal().Err(err).Str("provider", p.ID).Msg("provider client init failed")
		}
		clients = append(clients, cl)
	}
	if len(clients) == 0 {
		log.Warn().Msg("no providers configured; /v1/search will return nothing")
	}

	mcfg := matcher.DefaultConfig()
	mcfg.CacheTTL = cfg.CacheTTL
	m := matcher.New(store, index, embedder, cache, mcfg)
	factory := matcher.NewFactory(store, index, embedder, cache, mcfg)
	resolver := app.NewResolveService(m, factory)
	search := app.NewSearchService(clients, resolver, store, cache, cfg.CacheTTL, cfg.Workers)

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Search: search, Resolve: resolver})

	log.Info().Str("addr", cfg.HTTPAddr).Int("providers", len(clients)).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
