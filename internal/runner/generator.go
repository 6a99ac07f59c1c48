// Package runner turns (language, signature, solution, test cases) into a
// self-contained batch program whose stdout is one "Test i: <json>" line per
// case.
package runner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/clashcode/arena/internal/problem"
	"github.com/clashcode/arena/internal/sandbox"
)

// MaxBatchCases is the hard cap on cases per generated program.
const MaxBatchCases = 20

var (
	// ErrUnsupportedLanguage is returned for languages outside the table.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrBatchLimit is returned when a batch exceeds MaxBatchCases.
	ErrBatchLimit = fmt.Errorf("batch exceeds %d cases", MaxBatchCases)
)

// Generate emits the batch driver for a canonical language name.
func Generate(language string, sig problem.Signature, solution string, cases []problem.TestCase) (string, error) {
	if len(cases) > MaxBatchCases {
		return "", ErrBatchLimit
	}
	switch language {
	case sandbox.Python:
		return generatePython(sig, solution, cases)
	case sandbox.JavaScript:
		return generateJavaScript(sig, solution, cases)
	case sandbox.Java:
		return generateJava(sig, solution, cases)
	case sandbox.Cpp:
		return generateCpp(sig, solution, cases)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
}

func isListType(t string) bool { return strings.HasPrefix(t, "ListNode") }
func isTreeType(t string) bool { return strings.HasPrefix(t, "TreeNode") }

// needsListHelpers reports whether any parameter or the return type carries a
// linked-list node.
func needsListHelpers(sig problem.Signature) bool {
	if isListType(sig.ReturnType) {
		return true
	}
	for _, p := range sig.Parameters {
		if isListType(p.Type) {
			return true
		}
	}
	return false
}

func needsTreeHelpers(sig problem.Signature) bool {
	if isTreeType(sig.ReturnType) {
		return true
	}
	for _, p := range sig.Parameters {
		if isTreeType(p.Type) {
			return true
		}
	}
	return false
}

type specialInput struct {
	CyclePos *int `json:"cyclePos"`
}

// cyclePos extracts the linked-list cycle position from specialInputData,
// or -1 when none is requested.
func cyclePos(tc problem.TestCase) int {
	if len(tc.SpecialInputData) == 0 {
		return -1
	}
	var s specialInput
	if err := json.Unmarshal(tc.SpecialInputData, &s); err != nil || s.CyclePos == nil {
		return -1
	}
	return *s.CyclePos
}

// decodeValue parses a JSON input value preserving integer formatting.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// compactJSON normalizes a raw value to a single-line JSON expression.
func compactJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// numberList decodes a JSON array of numbers, keeping nulls as nil entries.
func numberList(raw json.RawMessage) ([]interface{}, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array, got %s", string(raw))
	}
	return arr, nil
}
