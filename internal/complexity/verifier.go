// Package complexity checks a passing solution's asymptotic complexity
// against the problem's expected bound through an external language model.
package complexity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clashcode/arena/internal/breaker"
)

// Verdicts the model may return. Anything else is a malformed response.
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

// ErrMalformedResponse is returned when the model output is not the required
// JSON shape. It never downgrades to a PASS here; availability policy lives
// with the caller.
var ErrMalformedResponse = errors.New("malformed verifier response")

const systemInstruction = `You are a program-complexity analyst. Given source code and an expected asymptotic time complexity, decide whether the code's worst-case time complexity is within the expected bound. Respond with a single JSON object and nothing else: {"derived_complexity": "<big-O string>", "verdict": "PASS"} when the code meets the bound, or "FAIL" when it does not.`

// Verdict is the verifier's structured answer.
type Verdict struct {
	DerivedComplexity string `json:"derived_complexity"`
	Verdict           string `json:"verdict"`
}

// Passed reports whether the model accepted the complexity.
func (v *Verdict) Passed() bool { return v.Verdict == VerdictPass }

// Config holds the model endpoint settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	HTTPTimeout time.Duration
}

// Verifier calls a chat-completion endpoint through the circuit breaker.
type Verifier struct {
	config  Config
	http    *http.Client
	breaker *breaker.Breaker
	logger  zerolog.Logger
}

// New builds a verifier.
func New(config Config, brk *breaker.Breaker, logger zerolog.Logger) *Verifier {
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 20 * time.Second
	}
	return &Verifier{
		config:  config,
		http:    &http.Client{Timeout: config.HTTPTimeout},
		breaker: brk,
		logger:  logger.With().Str("component", "complexity").Logger(),
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Verify asks the model whether source meets the expected complexity. The
// answer must be the exact JSON contract; anything else is a hard error.
func (v *Verifier) Verify(ctx context.Context, source, expectedComplexity string) (*Verdict, error) {
	prompt := fmt.Sprintf("Expected time complexity: %s\n\nSource code:\n```\n%s\n```", expectedComplexity, source)
	req := chatRequest{
		Model: v.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	var verdict *Verdict
	err := v.breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if v.config.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+v.config.APIKey)
		}

		resp, err := v.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("verifier request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("verifier request: status %d", resp.StatusCode)
		}

		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("verifier decode: %w", err)
		}
		if len(out.Choices) == 0 {
			return fmt.Errorf("%w: no choices", ErrMalformedResponse)
		}
		verdict, err = parseVerdict(out.Choices[0].Message.Content)
		return err
	})
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

// parseVerdict enforces the strict answer contract.
func parseVerdict(content string) (*Verdict, error) {
	content = strings.TrimSpace(content)
	// Tolerate a fenced block around the JSON, nothing more.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var v Verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if v.Verdict != VerdictPass && v.Verdict != VerdictFail {
		return nil, fmt.Errorf("%w: verdict %q", ErrMalformedResponse, v.Verdict)
	}
	return &v, nil
}
