// Package app wires the arena core: config, stores, breakers, executors, the
// matchmaking queue and the match-session runtime.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clashcode/arena/internal/breaker"
	"github.com/clashcode/arena/internal/complexity"
	"github.com/clashcode/arena/internal/config"
	"github.com/clashcode/arena/internal/db/repository"
	"github.com/clashcode/arena/internal/execute"
	"github.com/clashcode/arena/internal/logging"
	"github.com/clashcode/arena/internal/match"
	"github.com/clashcode/arena/internal/matchmaking"
	"github.com/clashcode/arena/internal/metrics"
	"github.com/clashcode/arena/internal/rating"
	"github.com/clashcode/arena/internal/sandbox"
	"github.com/clashcode/arena/internal/server"
	"github.com/clashcode/arena/internal/store"
	"github.com/clashcode/arena/pkg/realtime"
)

// Run boots the process and blocks until SIGINT/SIGTERM.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Name, cfg.Env)
	m := metrics.New()

	pool, err := pgxpool.New(ctx, fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User,
		cfg.Postgres.Password, cfg.Postgres.Database, cfg.Postgres.SSLMode,
	))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	coord := store.NewCoordinator(store.NewRedisStore(redisClient), logger)
	hub := realtime.NewHub(logger)

	onBreakerChange := func(name string, state breaker.State) {
		m.BreakerState.WithLabelValues(name).Set(float64(state))
	}
	sandboxBreaker := breaker.New("sandbox", breaker.Config{}, logger)
	sandboxBreaker.OnStateChange(onBreakerChange)
	llmBreaker := breaker.New("llm", breaker.Config{}, logger)
	llmBreaker.OnStateChange(onBreakerChange)

	sandboxClient := sandbox.NewClient(sandbox.Config{
		BaseURL:          cfg.Sandbox.BaseURL,
		APIKey:           cfg.Sandbox.APIKey,
		HTTPTimeout:      cfg.Sandbox.HTTPTimeout,
		PollInterval:     cfg.Sandbox.PollInterval,
		MaxPollRetries:   cfg.Sandbox.MaxPollRetries,
		CompiledMemoryKB: cfg.Sandbox.CompiledMemoryKB,
	}, sandboxBreaker, logger)

	comparator := execute.NewComparator(sandboxClient, execute.DefaultComparatorBudget)
	executor := execute.New(sandboxClient, comparator, execute.Config{
		MaxGeneratedBytes: cfg.Match.GeneratedCodeLimit,
		MaxCases:          cfg.Match.MaxBatchCases,
	}, logger)

	var verifier match.Verifier
	if cfg.LLM.BaseURL != "" {
		verifier = complexity.New(complexity.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			HTTPTimeout: cfg.LLM.HTTPTimeout,
		}, llmBreaker, logger)
	}

	users := repository.NewUserRepository(pool)
	bots := repository.NewBotRepository(pool)
	problems := repository.NewProblemRepository(pool)
	matches := repository.NewMatchRepository(pool)
	submissions := repository.NewSubmissionRepository(pool)

	targets, err := cfg.Rating.Targets()
	if err != nil {
		return err
	}
	engine := rating.NewEngine(rating.Config{
		KFactor:           cfg.Rating.KFactor,
		GaussianSigma:     cfg.Rating.GaussianSigma,
		DifficultyTargets: targets,
	})

	registry := match.NewRegistry(match.SessionDeps{
		Coord:       coord,
		Hub:         hub,
		Executor:    executor,
		Verifier:    verifier,
		Users:       users,
		Matches:     matches,
		Submissions: submissions,
		Problems:    problems,
		Engine:      engine,
		Metrics:     m,
		Config: match.SessionConfig{
			MaxDuration:        cfg.Match.MaxDuration(),
			SubmissionCacheTTL: cfg.Match.SubmissionCacheTTL(),
			TestRunCases:       cfg.Match.TestRunCases,
			BotsEnabled:        cfg.Bots.Enabled,
			BotDist:            cfg.Bots.TimeDist,
			BotParams: func(difficulty string) (match.BotTimeParams, bool) {
				p, ok := cfg.Bots.BotParams(difficulty)
				if !ok {
					return match.BotTimeParams{}, false
				}
				return match.BotTimeParams{Mu: p.Mu, Sigma: p.Sigma, Shape: p.Shape, Scale: p.Scale}, true
			},
		},
		Logger: logger,
	})

	creator := match.NewCreator(coord, users, bots, problems, engine, registry, m, logger)
	controller := matchmaking.NewController(coord, creator, hub, cfg.Queue, m, logger)

	if err := registry.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("session recovery failed")
	}

	srv := server.New(cfg.HTTPAddr, server.Routes{
		QueueWS: matchmaking.NewHandler(controller, hub, logger),
		MatchWS: match.NewHandler(registry, hub, logger),
	}, logger)

	go controller.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown failed")
	}
	registry.DisposeAll(shutdownCtx)
	logger.Info().Msg("shutdown complete")
	return nil
}
