package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/clashcode/arena/internal/breaker"
)

// Sandbox status ids. 1,2 = pending/running; 3 = accepted; 4 = wrong answer;
// anything above is an error class.
const (
	StatusInQueue     = 1
	StatusProcessing  = 2
	StatusAccepted    = 3
	StatusWrongAnswer = 4
)

// ErrPollTimeout is returned when a submission never settles within the poll
// budget.
var ErrPollTimeout = errors.New("sandbox poll timed out")

// Result is the decoded terminal outcome of one sandbox run.
type Result struct {
	StatusID          int
	StatusDescription string
	Stdout            string
	Stderr            string
	CompileOutput     string
	Message           string
	TimeSec           float64
	MemoryKB          float64
}

// Accepted reports a clean run.
func (r *Result) Accepted() bool {
	return r.StatusID == StatusAccepted
}

// Config holds client knobs.
type Config struct {
	BaseURL          string
	APIKey           string
	HTTPTimeout      time.Duration
	PollInterval     time.Duration
	MaxPollRetries   int
	CompiledMemoryKB int
}

// Client submits base64 jobs to the sandbox and polls for outcomes. Every
// network call runs through the circuit breaker.
type Client struct {
	config  Config
	http    *http.Client
	breaker *breaker.Breaker
	logger  zerolog.Logger
}

// NewClient builds a sandbox client.
func NewClient(config Config, brk *breaker.Breaker, logger zerolog.Logger) *Client {
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 10 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.MaxPollRetries <= 0 {
		config.MaxPollRetries = 30
	}
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.HTTPTimeout},
		breaker: brk,
		logger:  logger.With().Str("component", "sandbox").Logger(),
	}
}

type submitRequest struct {
	LanguageID  int    `json:"language_id"`
	SourceCode  string `json:"source_code"`
	Stdin       string `json:"stdin,omitempty"`
	MemoryLimit int    `json:"memory_limit,omitempty"`
}

type submitResponse struct {
	Token string `json:"token"`
}

type pollResponse struct {
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Message       string `json:"message"`
	Time          string `json:"time"`
	Memory        json.Number `json:"memory"`
}

// Submit enqueues a job and returns its token.
func (c *Client) Submit(ctx context.Context, languageID int, source, stdin string) (string, error) {
	req := submitRequest{
		LanguageID: languageID,
		SourceCode: base64.StdEncoding.EncodeToString([]byte(source)),
	}
	if stdin != "" {
		req.Stdin = base64.StdEncoding.EncodeToString([]byte(stdin))
	}
	if IsCompiled(languageID) && c.config.CompiledMemoryKB > 0 {
		req.MemoryLimit = c.config.CompiledMemoryKB
	}

	var token string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		url := c.config.BaseURL + "/submissions?base64_encoded=true&wait=false"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		c.authorize(httpReq)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("sandbox submit: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("sandbox submit: status %d", resp.StatusCode)
		}

		var out submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("sandbox submit decode: %w", err)
		}
		if out.Token == "" {
			return errors.New("sandbox submit: empty token")
		}
		token = out.Token
		return nil
	})
	return token, err
}

// Poll fetches the current state of a job once.
func (c *Client) Poll(ctx context.Context, token string) (*Result, error) {
	var result *Result
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		url := c.config.BaseURL + "/submissions/" + token + "?base64_encoded=true&fields=*"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		c.authorize(httpReq)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("sandbox poll: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("sandbox poll: status %d", resp.StatusCode)
		}

		var out pollResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("sandbox poll decode: %w", err)
		}

		timeSec, _ := strconv.ParseFloat(out.Time, 64)
		memoryKB, _ := out.Memory.Float64()
		result = &Result{
			StatusID:          out.Status.ID,
			StatusDescription: out.Status.Description,
			Stdout:            decode(out.Stdout),
			Stderr:            decode(out.Stderr),
			CompileOutput:     decode(out.CompileOutput),
			Message:           decode(out.Message),
			TimeSec:           timeSec,
			MemoryKB:          memoryKB,
		}
		return nil
	})
	return result, err
}

// Run submits and polls until the job settles (status id > 2) or the poll
// budget is exhausted.
func (c *Client) Run(ctx context.Context, languageID int, source, stdin string) (*Result, error) {
	token, err := c.Submit(ctx, languageID, source, stdin)
	if err != nil {
		return nil, err
	}

	// The first poll runs immediately; fast jobs settle inside one round trip.
	for attempt := 0; attempt < c.config.MaxPollRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.PollInterval):
			}
		}

		result, err := c.Poll(ctx, token)
		if err != nil {
			return nil, err
		}
		if result.StatusID > StatusProcessing {
			return result, nil
		}
	}
	return nil, ErrPollTimeout
}

func (c *Client) authorize(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("X-Auth-Token", c.config.APIKey)
	}
}

func decode(s string) string {
	if s == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some deployments return plain text on error paths.
		return s
	}
	return string(raw)
}
