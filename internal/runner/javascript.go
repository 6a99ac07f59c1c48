package runner

import (
	"fmt"
	"strings"

	"github.com/clashcode/arena/internal/problem"
)

const jsListHelpers = `function ListNode(val, next) {
    this.val = (val === undefined ? 0 : val);
    this.next = (next === undefined ? null : next);
}

function deserializeList(arr) {
    const dummy = new ListNode();
    let cur = dummy;
    for (const v of arr) {
        cur.next = new ListNode(v);
        cur = cur.next;
    }
    return dummy.next;
}

function serializeList(head) {
    const out = [];
    const seen = new Set();
    while (head && !seen.has(head)) {
        seen.add(head);
        out.push(head.val);
        head = head.next;
    }
    return out;
}

function attachCycle(head, pos) {
    if (!head || pos < 0) return head;
    let tail = head;
    while (tail.next) tail = tail.next;
    let node = head;
    for (let i = 0; i < pos; i++) node = node.next;
    tail.next = node;
    return head;
}
`

const jsTreeHelpers = `function TreeNode(val, left, right) {
    this.val = (val === undefined ? 0 : val);
    this.left = (left === undefined ? null : left);
    this.right = (right === undefined ? null : right);
}

function deserializeTree(arr) {
    if (!arr || arr.length === 0 || arr[0] === null) return null;
    const root = new TreeNode(arr[0]);
    const queue = [root];
    let i = 1;
    while (queue.length > 0 && i < arr.length) {
        const node = queue.shift();
        if (i < arr.length) {
            const v = arr[i++];
            if (v !== null) {
                node.left = new TreeNode(v);
                queue.push(node.left);
            }
        }
        if (i < arr.length) {
            const v = arr[i++];
            if (v !== null) {
                node.right = new TreeNode(v);
                queue.push(node.right);
            }
        }
    }
    return root;
}

function serializeTree(root) {
    const out = [];
    const queue = [root];
    while (queue.length > 0) {
        const node = queue.shift();
        if (node === null) {
            out.push(null);
        } else {
            out.push(node.val);
            queue.push(node.left);
            queue.push(node.right);
        }
    }
    while (out.length > 0 && out[out.length - 1] === null) out.pop();
    return out;
}
`

// JavaScript solutions follow the bare-function convention: the source defines
// a top-level function named after the signature.
func generateJavaScript(sig problem.Signature, solution string, cases []problem.TestCase) (string, error) {
	var b strings.Builder
	if needsListHelpers(sig) {
		b.WriteString(jsListHelpers)
		b.WriteString("\n")
	}
	if needsTreeHelpers(sig) {
		b.WriteString(jsTreeHelpers)
		b.WriteString("\n")
	}
	b.WriteString(solution)
	b.WriteString("\n")

	for i, tc := range cases {
		fmt.Fprintf(&b, "\n{\n    // Test %d\n", i)
		argNames := make([]string, len(sig.Parameters))
		for j, p := range sig.Parameters {
			if j >= len(tc.Input) {
				return "", fmt.Errorf("test %d: missing input for parameter %s", i, p.Name)
			}
			name := fmt.Sprintf("arg%d_%d", i, j)
			argNames[j] = name
			literal, err := compactJSON(tc.Input[j])
			if err != nil {
				return "", fmt.Errorf("test %d: %w", i, err)
			}
			switch {
			case isListType(p.Type):
				fmt.Fprintf(&b, "    let %s = deserializeList(%s);\n", name, literal)
				if pos := cyclePos(tc); pos >= 0 {
					fmt.Fprintf(&b, "    %s = attachCycle(%s, %d);\n", name, name, pos)
				}
			case isTreeType(p.Type):
				fmt.Fprintf(&b, "    let %s = deserializeTree(%s);\n", name, literal)
			default:
				fmt.Fprintf(&b, "    let %s = %s;\n", name, literal)
			}
		}
		fmt.Fprintf(&b, "    const res = %s(%s);\n", sig.FunctionName, strings.Join(argNames, ", "))
		switch {
		case isListType(sig.ReturnType):
			fmt.Fprintf(&b, "    console.log(\"Test %d: \" + JSON.stringify(serializeList(res)));\n", i)
		case isTreeType(sig.ReturnType):
			fmt.Fprintf(&b, "    console.log(\"Test %d: \" + JSON.stringify(serializeTree(res)));\n", i)
		default:
			fmt.Fprintf(&b, "    console.log(\"Test %d: \" + JSON.stringify(res));\n", i)
		}
		b.WriteString("}\n")
	}
	return b.String(), nil
}
