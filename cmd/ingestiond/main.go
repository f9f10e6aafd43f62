// Command ingestiond is the pipeline server: it loads config, wires the
// metadata/object/vector stores and the Redis-backed queue/scheduler/rate
// limiter, starts the three stage worker pools, and serves the HTTP API
// until signaled to shut down.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"corpusd/internal/config"
	"corpusd/internal/dispatcher"
	"corpusd/internal/httpapi"
	"corpusd/internal/logging"
	"corpusd/internal/metadatastore"
	"corpusd/internal/model"
	"corpusd/internal/objectstore"
	"corpusd/internal/pipeline/chunk"
	"corpusd/internal/pipeline/embed"
	"corpusd/internal/pipeline/extract"
	"corpusd/internal/pipeline/worker"
	"corpusd/internal/queue"
	"corpusd/internal/ratelimit"
	"corpusd/internal/scheduler"
	"corpusd/internal/telemetry"
	"corpusd/internal/vectorstore"
)

// stageBudgets are the per-job wall-clock timeouts enforced by worker.Pool.
var stageBudgets = map[model.Stage]time.Duration{
	model.StageExtract: 5 * time.Minute,
	model.StageChunk:   2 * time.Minute,
	model.StageEmbed:   10 * time.Minute,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, "ingestiond")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metadata, err := metadatastore.NewPostgres(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres failed")
	}
	defer metadata.Close()

	objects, err := objectstore.NewS3Store(ctx, cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("connect s3 failed")
	}

	vectors, err := vectorstore.NewQdrant(ctx, cfg.Qdrant)
	if err != nil {
		log.Fatal().Err(err).Msg("connect qdrant failed")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("connect redis failed")
	}
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)

	q := queue.New(redisClient)
	limiter := ratelimit.New(redisClient, cfg.RateLimitWindow)
	caps := map[model.Stage]int{}
	if cfg.PerTenantConcurrency > 0 {
		caps[model.StageExtract] = cfg.PerTenantConcurrency
		caps[model.StageChunk] = cfg.PerTenantConcurrency
		caps[model.StageEmbed] = cfg.PerTenantConcurrency
	}
	sched := scheduler.New(q, redisClient, caps, metrics)

	embedder := embed.NewDeterministicEmbedder(cfg.Qdrant.Dimension)

	extractors := extract.NewRegistry(extract.PlainTextExtractor{})
	extractWorker := extract.NewWorker(objects, metadata, q, extractors, log)
	chunkWorker := chunk.NewWorker(objects, metadata, q, log, cfg.ChunkSize, cfg.ChunkOverlap, cfg.EmbedBatchSize)
	embedWorker := embed.NewWorker(objects, metadata, vectors, embedder, log)

	pools := []*worker.Pool{
		worker.NewPool(metadata, sched, q, extractWorker, log, cfg.Workers.Extract, stageBudgets[model.StageExtract], metrics),
		worker.NewPool(metadata, sched, q, chunkWorker, log, cfg.Workers.Chunk, stageBudgets[model.StageChunk], metrics),
		worker.NewPool(metadata, sched, q, embedWorker, log, cfg.Workers.Embed, stageBudgets[model.StageEmbed], metrics),
	}

	workersDone := make(chan struct{})
	go func() {
		runPools(ctx, pools)
		close(workersDone)
	}()

	d := dispatcher.New(metadata, objects, vectors, q, limiter, embedder, log, cfg.MaxFileSizeBytes)
	server := httpapi.New(d, metadata, cfg.InternalToken, log)

	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("ingestiond listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining in-flight jobs")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	select {
	case <-workersDone:
		log.Info().Msg("all workers drained cleanly")
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown deadline reached with jobs still in flight; those jobs stay in processing")
	}
}

// runPools starts every pool concurrently and blocks until all have
// returned, which happens once ctx is canceled and each pool's in-flight
// work finishes (or the pool's own stageBudget forces it to give up). Jobs
// still processing when the process exits keep status processing; nothing
// in this service returns them to pending.
func runPools(ctx context.Context, pools []*worker.Pool) {
	done := make(chan struct{}, len(pools))
	for _, p := range pools {
		go func(p *worker.Pool) {
			p.Run(ctx)
			done <- struct{}{}
		}(p)
	}
	for range pools {
		<-done
	}
}
