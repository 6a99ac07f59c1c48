// Package problem defines the read-only problem model shared by the runner,
// the executor and the match runtime.
package problem

import "encoding/json"

// Comparison modes for expected-vs-actual output.
const (
	CompareStrict    = "strict"
	CompareUnordered = "unordered"
	CompareSet       = "set"
	CompareCustom    = "custom"
)

// Parameter is one argument of the solution function.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Signature describes the solution entry point and how outputs are compared.
type Signature struct {
	FunctionName     string      `json:"functionName"`
	Parameters       []Parameter `json:"parameters"`
	ReturnType       string      `json:"returnType"`
	ComparisonMode   string      `json:"comparisonMode,omitempty"`
	CustomComparator string      `json:"customComparator,omitempty"`
}

// TestCase is a single hidden case. Input holds one JSON value per parameter.
type TestCase struct {
	Input            []json.RawMessage `json:"input"`
	Output           json.RawMessage   `json:"output"`
	SpecialInputData json.RawMessage   `json:"specialInputData,omitempty"`
}

// Example is a client-visible worked case.
type Example struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

// Problem is the full store document, test cases included.
type Problem struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Difficulty     string            `json:"difficulty"`
	Topics         []string          `json:"topics"`
	Signature      Signature         `json:"signature"`
	StarterCode    map[string]string `json:"starterCode"`
	Examples       []Example         `json:"examples"`
	Constraints    []string          `json:"constraints"`
	TimeComplexity string            `json:"timeComplexity,omitempty"`
	TestCases      []TestCase        `json:"testCases"`
	Solutions      map[string]string `json:"solutions,omitempty"`
	Verified       bool              `json:"verified"`
}

// Snapshot is the client-safe projection embedded in the match blob.
type Snapshot struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Difficulty     string            `json:"difficulty"`
	Topics         []string          `json:"topics"`
	Signature      Signature         `json:"signature"`
	StarterCode    map[string]string `json:"starterCode"`
	Examples       []Example         `json:"examples"`
	Constraints    []string          `json:"constraints"`
	TestCasesCount int               `json:"testCasesCount"`
}

// Sanitize builds the client-safe snapshot: no hidden cases, no solutions.
func (p *Problem) Sanitize() Snapshot {
	return Snapshot{
		Title:          p.Title,
		Description:    p.Description,
		Difficulty:     p.Difficulty,
		Topics:         p.Topics,
		Signature:      p.Signature,
		StarterCode:    p.StarterCode,
		Examples:       p.Examples,
		Constraints:    p.Constraints,
		TestCasesCount: len(p.TestCases),
	}
}
