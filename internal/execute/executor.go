// Package execute runs candidate solutions against hidden test cases through
// the sandbox and grades the output.
package execute

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clashcode/arena/internal/problem"
	"github.com/clashcode/arena/internal/runner"
	"github.com/clashcode/arena/internal/sandbox"
	"github.com/clashcode/arena/internal/store"
)

// MaxGeneratedBytes is the size cap on one generated batch program.
const MaxGeneratedBytes = 100 * 1024

var testLineRe = regexp.MustCompile(`^Test (\d+): (.*)$`)

// Sandbox is the run contract the executor needs from the sandbox client.
type Sandbox interface {
	Run(ctx context.Context, languageID int, source, stdin string) (*sandbox.Result, error)
}

// Report is the graded outcome of one batch.
type Report struct {
	AllPassed     bool
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []store.CaseOutcome
	AverageTime   float64
	AverageMemory float64
	// SandboxStatus carries the sandbox status id of the batch run; it is
	// never forged to accepted on failures.
	SandboxStatus int
}

// Config holds executor limits. Zero fields take defaults.
type Config struct {
	MaxGeneratedBytes int
	MaxCases          int
}

// Executor generates batch drivers, runs them, and grades stdout.
type Executor struct {
	sandbox    Sandbox
	comparator *Comparator
	config     Config
	logger     zerolog.Logger
}

// New builds an executor. The comparator may share the sandbox client.
func New(sb Sandbox, comparator *Comparator, config Config, logger zerolog.Logger) *Executor {
	if config.MaxGeneratedBytes <= 0 {
		config.MaxGeneratedBytes = MaxGeneratedBytes
	}
	if config.MaxCases <= 0 {
		config.MaxCases = runner.MaxBatchCases
	}
	return &Executor{
		sandbox:    sb,
		comparator: comparator,
		config:     config,
		logger:     logger.With().Str("component", "executor").Logger(),
	}
}

// Run executes the solution against the given cases. Language must already be
// canonical. Infrastructure problems surface as errors; grading problems
// surface inside the report.
func (e *Executor) Run(ctx context.Context, language, solution string, sig problem.Signature, cases []problem.TestCase) (*Report, error) {
	if len(cases) > e.config.MaxCases {
		return failAll(cases, fmt.Sprintf("Test case limit exceeded: %d cases, maximum %d", len(cases), e.config.MaxCases)), nil
	}

	code, err := runner.Generate(language, sig, solution, cases)
	if err != nil {
		return nil, fmt.Errorf("generate driver: %w", err)
	}
	if len(code) > e.config.MaxGeneratedBytes {
		return failAll(cases, "Generated code too large"), nil
	}

	languageID, ok := sandbox.LanguageID(language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", runner.ErrUnsupportedLanguage, language)
	}

	result, err := e.sandbox.Run(ctx, languageID, code, "")
	if err != nil {
		return nil, err
	}

	report := &Report{
		TotalTests:    len(cases),
		AverageTime:   result.TimeSec,
		AverageMemory: result.MemoryKB,
		SandboxStatus: result.StatusID,
	}

	if !result.Accepted() {
		detail := firstNonEmpty(result.CompileOutput, result.Stderr, result.Message, result.StatusDescription)
		msg := fmt.Sprintf("sandbox status %d: %s", result.StatusID, detail)
		for i := range cases {
			report.Results = append(report.Results, store.CaseOutcome{Index: i, Passed: false, Error: msg})
		}
		report.FailedTests = len(cases)
		return report, nil
	}

	outputs := parseBatchOutput(result.Stdout)
	for i, tc := range cases {
		outcome := store.CaseOutcome{Index: i}
		line, ok := outputs[i]
		if !ok {
			outcome.Error = "no output produced for this test"
			report.Results = append(report.Results, outcome)
			report.FailedTests++
			continue
		}
		outcome.ActualOutput = line
		outcome.ExpectedOutput = string(tc.Output)

		passed, cmpErr := e.compare(ctx, sig, tc.Output, json.RawMessage(line))
		if cmpErr != nil {
			outcome.Error = cmpErr.Error()
		}
		outcome.Passed = passed && cmpErr == nil
		if outcome.Passed {
			report.PassedTests++
		} else {
			report.FailedTests++
		}
		report.Results = append(report.Results, outcome)
	}

	report.AllPassed = report.TotalTests > 0 && report.PassedTests == report.TotalTests
	return report, nil
}

func (e *Executor) compare(ctx context.Context, sig problem.Signature, expected, actual json.RawMessage) (bool, error) {
	switch sig.ComparisonMode {
	case problem.CompareUnordered:
		return unorderedEqual(expected, actual)
	case problem.CompareSet:
		return setEqual(expected, actual)
	case problem.CompareCustom:
		if e.comparator == nil || sig.CustomComparator == "" {
			return false, fmt.Errorf("custom comparison requested but no comparator configured")
		}
		return e.comparator.Compare(ctx, sig.CustomComparator, expected, actual)
	default:
		return strictEqual(expected, actual)
	}
}

// parseBatchOutput maps "Test i: <json>" lines to their case index. Lines
// that do not match the shape are ignored; the per-case grader reports the
// miss.
func parseBatchOutput(stdout string) map[int]string {
	out := make(map[int]string)
	for _, line := range strings.Split(stdout, "\n") {
		m := testLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out[idx] = m[2]
	}
	return out
}

func failAll(cases []problem.TestCase, msg string) *Report {
	report := &Report{TotalTests: len(cases), FailedTests: len(cases)}
	for i := range cases {
		report.Results = append(report.Results, store.CaseOutcome{Index: i, Passed: false, Error: msg})
	}
	return report
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
