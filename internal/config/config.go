package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"arena"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Postgres Postgres
	Redis    Redis
	Sandbox  Sandbox
	LLM      LLM
	Queue    Queue
	Match    Match
	Bots     Bots
	Rating   Rating
}

// Postgres captures connection info for the document store.
type Postgres struct {
	Host     string `env:"PG_HOST,notEmpty"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

// Redis holds coordination store configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Sandbox configures the external code-execution service (Judge0 contract).
type Sandbox struct {
	BaseURL        string        `env:"SANDBOX_URL,notEmpty"`
	APIKey         string        `env:"SANDBOX_API_KEY"`
	HTTPTimeout    time.Duration `env:"SANDBOX_HTTP_TIMEOUT" envDefault:"10s"`
	PollInterval   time.Duration `env:"SANDBOX_POLL_INTERVAL" envDefault:"2s"`
	MaxPollRetries int           `env:"SANDBOX_MAX_POLL_RETRIES" envDefault:"30"`
	// Memory limit (KB) granted to language ids in the compiled set.
	CompiledMemoryKB int `env:"SANDBOX_COMPILED_MEMORY_KB" envDefault:"262144"`
}

// LLM configures the complexity-verification model endpoint.
type LLM struct {
	BaseURL     string        `env:"LLM_URL"`
	APIKey      string        `env:"LLM_API_KEY"`
	Model       string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	HTTPTimeout time.Duration `env:"LLM_HTTP_TIMEOUT" envDefault:"20s"`
}

// Queue groups matchmaking admission and pairing knobs.
type Queue struct {
	MinWaitMS          int64 `env:"MIN_QUEUE_WAIT_MS" envDefault:"3000"`
	EloThresholdInit   int   `env:"QUEUE_ELO_THRESHOLD_INITIAL" envDefault:"50"`
	EloThresholdStep   int   `env:"QUEUE_ELO_THRESHOLD_STEP" envDefault:"50"`
	EloThresholdMax    int   `env:"QUEUE_ELO_THRESHOLD_MAX" envDefault:"250"`
	BotMatchDelayMS    int64 `env:"QUEUE_BOT_MATCH_DELAY_MS" envDefault:"45000"`
	NeedsBotAfterMS    int64 `env:"QUEUE_NEEDS_BOT_AFTER_MS" envDefault:"7000"`
	SweepIntervalMS    int64 `env:"QUEUE_SWEEP_INTERVAL_MS" envDefault:"5000"`
	ReservationLockTTL time.Duration `env:"QUEUE_RESERVATION_LOCK_TTL" envDefault:"10s"`
}

// Match groups session runtime knobs.
type Match struct {
	MaxDurationMS        int64 `env:"MAX_MATCH_DURATION_MS" envDefault:"2700000"`
	SubmissionCacheTTLS  int64 `env:"SUBMISSION_CACHE_TTL_S" envDefault:"3000"`
	GeneratedCodeLimit   int   `env:"GENERATED_CODE_LIMIT_BYTES" envDefault:"102400"`
	MaxBatchCases        int   `env:"MAX_BATCH_CASES" envDefault:"20"`
	TestRunCases         int   `env:"TEST_RUN_CASES" envDefault:"3"`
}

// Bots configures opponent simulation.
type Bots struct {
	Enabled      bool   `env:"BOTS_ENABLED" envDefault:"true"`
	TimeDist     string `env:"BOT_TIME_DIST" envDefault:"lognormal"`
	ParamsEasy   string `env:"BOT_TIME_PARAMS_EASY"`
	ParamsMedium string `env:"BOT_TIME_PARAMS_MEDIUM"`
	ParamsHard   string `env:"BOT_TIME_PARAMS_HARD"`
}

// Rating groups the pure-math constants.
type Rating struct {
	KFactor          int     `env:"K_FACTOR" envDefault:"32"`
	GaussianSigma    float64 `env:"GAUSSIAN_SIGMA" envDefault:"250"`
	DifficultyTargets string `env:"DIFFICULTY_TARGETS" envDefault:"{\"Easy\":1200,\"Medium\":1500,\"Hard\":2000}"`
}

// DistParams are the distribution parameters for one difficulty bucket.
// Lognormal reads Mu/Sigma; gamma reads Shape/Scale.
type DistParams struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
	Shape float64 `json:"shape"`
	Scale float64 `json:"scale"`
}

// BotParams decodes BOT_TIME_PARAMS_* for a difficulty. Returns ok=false when
// the variable is absent or malformed; callers treat that as "bot never wins
// by timer".
func (b Bots) BotParams(difficulty string) (DistParams, bool) {
	var raw string
	switch difficulty {
	case "Easy":
		raw = b.ParamsEasy
	case "Medium":
		raw = b.ParamsMedium
	case "Hard":
		raw = b.ParamsHard
	}
	if raw == "" {
		return DistParams{}, false
	}
	var p DistParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return DistParams{}, false
	}
	return p, true
}

// Targets decodes DIFFICULTY_TARGETS into the per-difficulty ELO map.
func (r Rating) Targets() (map[string]float64, error) {
	targets := map[string]float64{}
	if err := json.Unmarshal([]byte(r.DifficultyTargets), &targets); err != nil {
		return nil, fmt.Errorf("parse DIFFICULTY_TARGETS: %w", err)
	}
	return targets, nil
}

// MaxDuration returns the match ceiling as a duration.
func (m Match) MaxDuration() time.Duration {
	return time.Duration(m.MaxDurationMS) * time.Millisecond
}

// SubmissionCacheTTL returns the cached-outcome TTL.
func (m Match) SubmissionCacheTTL() time.Duration {
	return time.Duration(m.SubmissionCacheTTLS) * time.Second
}

// MinWait returns the admission dwell floor.
func (q Queue) MinWait() time.Duration {
	return time.Duration(q.MinWaitMS) * time.Millisecond
}

// BotMatchDelay returns the single-human bot-fill delay.
func (q Queue) BotMatchDelay() time.Duration {
	return time.Duration(q.BotMatchDelayMS) * time.Millisecond
}

// NeedsBotAfter returns the advisory needs_bot marking delay.
func (q Queue) NeedsBotAfter() time.Duration {
	return time.Duration(q.NeedsBotAfterMS) * time.Millisecond
}

// SweepInterval returns the pairing tick period.
func (q Queue) SweepInterval() time.Duration {
	return time.Duration(q.SweepIntervalMS) * time.Millisecond
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
