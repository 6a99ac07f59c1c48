package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clashcode/arena/internal/problem"
)

const pythonListHelpers = `class ListNode:
    def __init__(self, val=0, next=None):
        self.val = val
        self.next = next

def deserializeList(arr):
    dummy = ListNode()
    cur = dummy
    for v in arr:
        cur.next = ListNode(v)
        cur = cur.next
    return dummy.next

def serializeList(head):
    out = []
    seen = set()
    while head and id(head) not in seen:
        seen.add(id(head))
        out.append(head.val)
        head = head.next
    return out

def attachCycle(head, pos):
    if head is None or pos < 0:
        return head
    tail = head
    while tail.next:
        tail = tail.next
    node = head
    for _ in range(pos):
        node = node.next
    tail.next = node
    return head
`

const pythonTreeHelpers = `class TreeNode:
    def __init__(self, val=0, left=None, right=None):
        self.val = val
        self.left = left
        self.right = right

def deserializeTree(arr):
    if not arr or arr[0] is None:
        return None
    root = TreeNode(arr[0])
    queue = [root]
    i = 1
    while queue and i < len(arr):
        node = queue.pop(0)
        if i < len(arr):
            v = arr[i]
            i += 1
            if v is not None:
                node.left = TreeNode(v)
                queue.append(node.left)
        if i < len(arr):
            v = arr[i]
            i += 1
            if v is not None:
                node.right = TreeNode(v)
                queue.append(node.right)
    return root

def serializeTree(root):
    out = []
    queue = [root]
    while queue:
        node = queue.pop(0)
        if node is None:
            out.append(None)
        else:
            out.append(node.val)
            queue.append(node.left)
            queue.append(node.right)
    while out and out[-1] is None:
        out.pop()
    return out
`

// pythonLiteral renders a JSON value as a Python expression.
func pythonLiteral(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case json.Number:
		return t.String()
	case string:
		quoted, _ := json.Marshal(t)
		return string(quoted)
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = pythonLiteral(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		parts := make([]string, 0, len(t))
		for k, e := range t {
			quoted, _ := json.Marshal(k)
			parts = append(parts, string(quoted)+": "+pythonLiteral(e))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "None"
	}
}

func generatePython(sig problem.Signature, solution string, cases []problem.TestCase) (string, error) {
	var b strings.Builder
	b.WriteString("import json\nimport sys\n\n")
	if needsListHelpers(sig) {
		b.WriteString(pythonListHelpers)
		b.WriteString("\n")
	}
	if needsTreeHelpers(sig) {
		b.WriteString(pythonTreeHelpers)
		b.WriteString("\n")
	}
	b.WriteString(solution)
	b.WriteString("\n\n_sol = Solution()\n")

	for i, tc := range cases {
		fmt.Fprintf(&b, "\n# Test %d\n", i)
		argNames := make([]string, len(sig.Parameters))
		for j, p := range sig.Parameters {
			if j >= len(tc.Input) {
				return "", fmt.Errorf("test %d: missing input for parameter %s", i, p.Name)
			}
			name := fmt.Sprintf("arg%d_%d", i, j)
			argNames[j] = name
			v, err := decodeValue(tc.Input[j])
			if err != nil {
				return "", fmt.Errorf("test %d: %w", i, err)
			}
			switch {
			case isListType(p.Type):
				fmt.Fprintf(&b, "%s = deserializeList(%s)\n", name, pythonLiteral(v))
				if pos := cyclePos(tc); pos >= 0 {
					fmt.Fprintf(&b, "%s = attachCycle(%s, %d)\n", name, name, pos)
				}
			case isTreeType(p.Type):
				fmt.Fprintf(&b, "%s = deserializeTree(%s)\n", name, pythonLiteral(v))
			default:
				fmt.Fprintf(&b, "%s = %s\n", name, pythonLiteral(v))
			}
		}
		fmt.Fprintf(&b, "res%d = _sol.%s(%s)\n", i, sig.FunctionName, strings.Join(argNames, ", "))
		switch {
		case isListType(sig.ReturnType):
			fmt.Fprintf(&b, "print(\"Test %d: \" + json.dumps(serializeList(res%d)))\n", i, i)
		case isTreeType(sig.ReturnType):
			fmt.Fprintf(&b, "print(\"Test %d: \" + json.dumps(serializeTree(res%d)))\n", i, i)
		default:
			fmt.Fprintf(&b, "print(\"Test %d: \" + json.dumps(res%d))\n", i, i)
		}
	}
	return b.String(), nil
}
