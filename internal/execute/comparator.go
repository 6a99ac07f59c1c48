package execute

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clashcode/arena/internal/sandbox"
)

// DefaultComparatorBudget bounds one comparator evaluation.
const DefaultComparatorBudget = 2 * time.Second

// Comparator evaluates a problem's custom comparison expression in the
// sandbox. The expression sees two bound names, expected and actual, and must
// yield a boolean; anything else counts as a failed comparison.
type Comparator struct {
	sandbox Sandbox
	budget  time.Duration
}

// NewComparator builds a comparator with the given evaluation budget; zero
// means the default.
func NewComparator(sb Sandbox, budget time.Duration) *Comparator {
	if budget <= 0 {
		budget = DefaultComparatorBudget
	}
	return &Comparator{sandbox: sb, budget: budget}
}

type comparatorInput struct {
	Expected json.RawMessage `json:"expected"`
	Actual   json.RawMessage `json:"actual"`
}

// Compare runs the expression against one case. A timeout, a sandbox
// rejection, or a non-boolean result all report as not-equal with the cause.
func (c *Comparator) Compare(ctx context.Context, expression string, expected, actual json.RawMessage) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	stdin, err := json.Marshal(comparatorInput{Expected: expected, Actual: actual})
	if err != nil {
		return false, err
	}

	result, err := c.sandbox.Run(ctx, sandbox.LangPython, comparatorProgram(expression), string(stdin))
	if err != nil {
		return false, fmt.Errorf("comparator: %w", err)
	}
	if !result.Accepted() {
		return false, fmt.Errorf("comparator: sandbox status %d: %s", result.StatusID, result.StatusDescription)
	}
	switch strings.TrimSpace(result.Stdout) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("comparator returned a non-boolean result")
	}
}

// comparatorProgram wraps the single expression; the wrapper rejects
// non-boolean values before they can be coerced.
func comparatorProgram(expression string) string {
	var b strings.Builder
	b.WriteString("import json\nimport sys\n\n")
	b.WriteString("data = json.load(sys.stdin)\n")
	b.WriteString("expected = data[\"expected\"]\n")
	b.WriteString("actual = data[\"actual\"]\n")
	b.WriteString("result = (" + expression + ")\n")
	b.WriteString("if result is True:\n    print(\"true\")\n")
	b.WriteString("elif result is False:\n    print(\"false\")\n")
	b.WriteString("else:\n    print(\"nonboolean\")\n")
	return b.String()
}
