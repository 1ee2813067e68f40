package main

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jonathan/meal-learner/internal/candidates"
	"github.com/jonathan/meal-learner/internal/catalog"
	"github.com/jonathan/meal-learner/internal/config"
	"github.com/jonathan/meal-learner/internal/db"
	"github.com/jonathan/meal-learner/internal/exploration"
	"github.com/jonathan/meal-learner/internal/feedback"
	"github.com/jonathan/meal-learner/internal/guard"
	"github.com/jonathan/meal-learner/internal/llm"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/memstore"
	"github.com/jonathan/meal-learner/internal/oracle"
	"github.com/jonathan/meal-learner/internal/pipeline"
	"github.com/jonathan/meal-learner/internal/queue"
	"github.com/jonathan/meal-learner/internal/recommendation"
	"github.com/jonathan/meal-learner/internal/snapshot"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/tracing"
)

// backend is the storage the commands share. For the postgres driver every store is the
// same *db.DB.
type backend interface {
	store.RunStore
	store.ProfileStore
	store.FeedbackStore
}

// app holds what every command needs: configuration, logging and storage
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   backend
	db      *db.DB // nil for the memory driver
	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.Enabled, tracing.Options{ServiceName: cfg.Tracing.ServiceName}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdownTracing(context.Background()) })

	switch cfg.Database.Driver {
	case "memory":
		log.Warn("Using in-memory storage; runs and profiles are lost on exit")
		a.store = memstore.New()
	default:
		database, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = database
		a.store = database
		a.closers = append(a.closers, func() error { database.Close(); return nil })
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	a.log.Sync()
	return errors.Join(errs...)
}

// migrate applies the schema when storage is Postgres
func (a *app) migrate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	if err := a.db.Migrate(ctx); err != nil {
		return err
	}
	a.log.Info("Schema migrated")
	return nil
}

func (a *app) newGuard() *guard.Guard {
	return guard.New(a.store, a.log, guard.WithPendingTTL(a.cfg.Guard.PendingTTL))
}

func (a *app) newQueue(ctx context.Context) (queue.Queue, error) {
	if a.cfg.Queue.Backend == "redis" {
		return queue.NewRedisQueue(ctx, a.cfg.Queue.RedisAddr, a.cfg.Queue.RedisKey, a.log)
	}
	return queue.NewMemoryQueue(a.cfg.Queue.Size), nil
}

func (a *app) newService(q queue.Queue) *pipeline.Service {
	return pipeline.NewService(a.newGuard(), a.store, a.store, q, a.log)
}

// newOracle builds the configured oracle behind the circuit breaker
func (a *app) newOracle(ctx context.Context) (oracle.Oracle, error) {
	oc := a.cfg.Oracle

	var o oracle.Oracle
	switch oc.Provider {
	case "fake":
		a.log.Warn("Using the fake oracle; selections are pool prefixes")
		o = &oracle.Fake{ModelName: "fake"}
	default:
		llmCfg := llm.DefaultConfig().
			WithModel(llm.TierLite, oc.LiteModel).
			WithModel(llm.TierStandard, oc.StandardModel)
		llmCfg.Temperature = oc.Temperature
		client, err := llm.NewClient(ctx, llmCfg, oc.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		o = oracle.NewLLMOracle(client, a.log)
	}

	if !oc.Breaker.Enabled {
		return o, nil
	}
	return oracle.NewBreaker(o, oracle.BreakerConfig{
		Name:         "oracle",
		MaxRequests:  oc.Breaker.MaxRequests,
		Interval:     oc.Breaker.Interval,
		Timeout:      oc.Breaker.Timeout,
		MinRequests:  oc.Breaker.MinRequests,
		FailureRatio: oc.Breaker.FailureRatio,
	}, a.log), nil
}

// newCatalogSource loads the manifest and taxonomy from disk or S3 and caches the parse
func (a *app) newCatalogSource(ctx context.Context) (catalog.Source, error) {
	cc := a.cfg.Catalog

	var manifest, taxonomy catalog.Blob
	switch cc.Source {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRetryMaxAttempts(5))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		manifest = catalog.NewS3Blob(client, cc.S3Bucket, cc.S3ManifestKey)
		taxonomy = catalog.NewS3Blob(client, cc.S3Bucket, cc.S3TaxonomyKey)
	default:
		manifest = catalog.NewFileBlob(cc.ManifestPath)
		taxonomy = catalog.NewFileBlob(cc.TaxonomyPath)
	}

	var src catalog.Source = catalog.NewLoader(manifest, taxonomy)
	if cc.CacheTTL > 0 {
		src = catalog.NewCachedSource(src, cc.CacheTTL)
	}
	return src, nil
}

// newRunner wires every stage of a learning run
func (a *app) newRunner(ctx context.Context, onProgress pipeline.ProgressCallback) (*pipeline.Runner, error) {
	o, err := a.newOracle(ctx)
	if err != nil {
		return nil, err
	}
	src, err := a.newCatalogSource(ctx)
	if err != nil {
		return nil, err
	}

	sources := make([]feedback.Source, 0, len(a.cfg.Feedback.Sources))
	for _, name := range a.cfg.Feedback.Sources {
		sources = append(sources, feedback.NewStoreSource(name, a.store))
	}

	ec := a.cfg.Exploration
	rc := a.cfg.Recommendation
	return pipeline.NewRunner(pipeline.Deps{
		Runs:      a.store,
		Collector: snapshot.NewCollector(a.store, feedback.NewAggregator(a.log, sources...)),
		Builder:   candidates.NewBuilder(src, a.cfg.Candidates.MaxPoolSize, a.log),
		Explorer: exploration.NewStage(o, exploration.Config{
			TargetSize:        ec.TargetSize,
			PerArchetypeLimit: ec.PerArchetypeLimit,
			MaxConcurrency:    ec.MaxConcurrency,
			Timeout:           ec.Timeout,
		}, a.log),
		Recommender: recommendation.NewStage(o, recommendation.Config{
			TargetCount: rc.TargetCount,
			Timeout:     rc.Timeout,
		}, a.log),
		Oracle: o,
		Log:    a.log,
	}, pipeline.Options{
		ExcludeRecent:       a.cfg.Candidates.ExcludeRecent,
		EmptyFallbackToPool: ec.EmptyFallbackToPool,
		OnProgress:          onProgress,
	}), nil
}
