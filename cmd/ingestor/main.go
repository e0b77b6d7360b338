// The ingestor replays provider records from an NDJSON file through the
// resolution pipeline, building the canonical registry offline. Each line is
// one provider-neutral record with a providerId field.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"staymatch/internal/adapters/observability"
	openaiad "staymatch/internal/adapters/openai"
	"staymatch/internal/adapters/provider"
	redisad "staymatch/internal/adapters/redis"
	"staymatch/internal/app"
	"staymatch/internal/matcher"
	"staymatch/internal/shared"
	mysqlrepo "staymatch/internal/storage/mysql"
	qdrantidx "staymatch/internal/storage/qdrant"
)

func main() {
	ctx := context.Background()
	_ = godotenv.Load()
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv)

	log.Info().
		Str("file", cfg.IngestFile).
		Int("workers", cfg.Workers).
		Msg("ingestor starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

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

	mcfg := matcher.DefaultConfig()
	mcfg.CacheTTL = cfg.CacheTTL
	resolver := app.NewResolveService(
		matcher.New(store, index, embedder, cache, mcfg),
		matcher.NewFactory(store, index, embedder, cache, mcfg),
	)

	f, err := os.Open(cfg.IngestFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.IngestFile).Msg("open ingest file failed")
	}
	defer f.Close()

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup
	var processed, failed int
	var mu sync.Mutex

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := append([]byte(nil), sc.Bytes()...)
		if len(line) == 0 {
			continue
		}

		var head struct {
			ProviderID string `json:"providerId"`
		}
		if err := json.Unmarshal(line, &head); err != nil || head.ProviderID == "" {
			log.Warn().Int("line", lineNo).Err(err).Msg("bad record, skipped")
			continue
		}
		rec, err := provider.DecodeRecord(head.ProviderID, line)
		if err != nil {
			log.Warn().Int("line", lineNo).Err(err).Msg("undecodable record, skipped")
			continue
		}

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := resolver.Resolve(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Warn().Int("line", n).Str("provider", rec.ProviderID).Err(err).Msg("resolve failed")
				return
			}
			processed++
			log.Info().
				Int("line", n).
				Str("provider", rec.ProviderID).
				Str("provider_hotel_id", rec.ProviderHotelID).
				Int64("canonical_id", *res.CanonicalID).
				Str("method", string(res.Method)).
				Float64("confidence", res.Confidence).
				Msg("resolved")
		}(lineNo)
	}
	if err := sc.Err(); err != nil {
		log.Error().Err(err).Msg("scan ingest file failed")
	}

	wg.Wait()
	log.Info().Int("processed", processed).Int("failed", failed).Msg("ingestion completed")
}
