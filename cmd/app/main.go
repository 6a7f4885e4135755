package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfcover/internal/api"
	"github.com/local/pdfcover/internal/batch"
	"github.com/local/pdfcover/internal/config"
	"github.com/local/pdfcover/internal/cover"
	"github.com/local/pdfcover/internal/filetype"
	"github.com/local/pdfcover/internal/limiter"
	"github.com/local/pdfcover/internal/logger"
	"github.com/local/pdfcover/internal/metrics"
	"github.com/local/pdfcover/internal/pdfdoc"
	"github.com/local/pdfcover/internal/statuscheck"
	"github.com/local/pdfcover/internal/storage"
	"github.com/local/pdfcover/internal/store"
	"github.com/local/pdfcover/internal/upload"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	_ = logger.Init(logger.OptionsFromConfig(cfg))
	defer logger.Close()
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it upload and report state stays in memory
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
	}

	canvas, ok := pdfdoc.PaperSize(cfg.Processing.CoverCanvas)
	if !ok {
		log.Warn().Str("canvas", cfg.Processing.CoverCanvas).Msg("unknown cover canvas, using A4")
		canvas = pdfdoc.A4
	}
	coverOpts := cover.Options{Canvas: canvas, RasterDPI: cfg.Processing.RasterDPI}
	orch := batch.New(batch.Options{
		Mode:        batch.ParseMode(cfg.Processing.Mode),
		Concurrency: cfg.Processing.Concurrency,
		MaxBand:     cfg.Processing.MaxBand,
		Cover:       coverOpts,
	})

	var (
		tracker upload.Tracker
		reports store.Reports
		redisUp statuscheck.Pinger
	)
	if rdb != nil {
		tracker = upload.NewRedisTracker(rdb, cfg.Upload.TTL)
		reports = store.NewRedisReports(rdb, cfg.Results.ReportTTL)
		redisUp = statuscheck.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	} else {
		tracker = upload.NewMemoryTracker()
		reports = store.NewMemoryReports(cfg.Results.ReportTTL)
	}
	uploads, err := upload.NewStore(cfg.Upload.Dir, tracker)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init upload store")
	}

	results, err := newResultSink(ctx, cfg.Results)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init result storage")
	}
	var resultsUp statuscheck.Pinger
	if results != nil {
		resultsUp = results
	}

	srv := api.New(api.Dependencies{
		Batches:  orch,
		Uploads:  uploads,
		Reports:  reports,
		Results:  results,
		Limiter:  limiter.New(limiter.Options{MaxInflight: cfg.HTTP.MaxConcurrentBatches, Redis: rdb, MaxGlobal: cfg.HTTP.MaxGlobalBatches}),
		Status:   statuscheck.New(statuscheck.Options{Redis: redisUp, Results: resultsUp}),
		Detector: filetype.New(),
		Cover:    coverOpts,

		MaxUploadBytes: int64(cfg.HTTP.MaxUploadMB) << 20,
		MaxChunkBytes:  int64(cfg.HTTP.MaxChunkMB) << 20,
		DefaultFooter:  cfg.Processing.FooterHeight,
		DefaultHeader:  cfg.Processing.HeaderHeight,
		ChunkSize:      cfg.Processing.ChunkSize,
	})

	go cleanupLoop(ctx, uploads, cfg.Upload.TTL)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Str("mode", cfg.Processing.Mode).Msg("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}

// newResultSink picks S3 over a local directory; neither configured means
// results are not persisted.
func newResultSink(ctx context.Context, rc config.ResultsConfig) (storage.Sink, error) {
	var sink storage.Sink
	switch {
	case rc.S3Bucket != "":
		s3sink, err := storage.NewS3Sink(ctx, storage.S3Options{
			Bucket:    rc.S3Bucket,
			Prefix:    rc.S3Prefix,
			Region:    rc.S3Region,
			Endpoint:  rc.S3Endpoint,
			AccessKey: rc.AccessKey,
			SecretKey: rc.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		sink = s3sink
	case rc.Dir != "":
		local, err := storage.NewLocalSink(rc.Dir)
		if err != nil {
			return nil, err
		}
		sink = local
	default:
		return nil, nil
	}
	sink = storage.NewBreaker(sink, 30*time.Second, 5*time.Minute)
	if rc.Password != "" {
		sink = storage.NewSealed(sink, rc.Password)
	}
	return sink, nil
}

func cleanupLoop(ctx context.Context, uploads *upload.Store, ttl time.Duration) {
	every := ttl / 2
	if every < time.Minute {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			uploads.CleanupStale(ttl)
		}
	}
}
