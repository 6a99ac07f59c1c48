package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clashcode/arena/internal/problem"
)

const javaListHelpers = `class ListNode {
    int val;
    ListNode next;
    ListNode() {}
    ListNode(int val) { this.val = val; }
    ListNode(int val, ListNode next) { this.val = val; this.next = next; }
}
`

const javaTreeHelpers = `class TreeNode {
    int val;
    TreeNode left;
    TreeNode right;
    TreeNode() {}
    TreeNode(int val) { this.val = val; }
}
`

const javaListRuntime = `    static ListNode deserializeList(int[] arr) {
        ListNode dummy = new ListNode();
        ListNode cur = dummy;
        for (int v : arr) {
            cur.next = new ListNode(v);
            cur = cur.next;
        }
        return dummy.next;
    }

    static List<Integer> serializeList(ListNode head) {
        List<Integer> out = new ArrayList<>();
        Set<ListNode> seen = new HashSet<>();
        while (head != null && !seen.contains(head)) {
            seen.add(head);
            out.add(head.val);
            head = head.next;
        }
        return out;
    }

    static ListNode attachCycle(ListNode head, int pos) {
        if (head == null || pos < 0) return head;
        ListNode tail = head;
        while (tail.next != null) tail = tail.next;
        ListNode node = head;
        for (int i = 0; i < pos; i++) node = node.next;
        tail.next = node;
        return head;
    }
`

const javaTreeRuntime = `    static TreeNode deserializeTree(Integer[] arr) {
        if (arr.length == 0 || arr[0] == null) return null;
        TreeNode root = new TreeNode(arr[0]);
        Deque<TreeNode> queue = new ArrayDeque<>();
        queue.add(root);
        int i = 1;
        while (!queue.isEmpty() && i < arr.length) {
            TreeNode node = queue.poll();
            if (i < arr.length) {
                Integer v = arr[i++];
                if (v != null) {
                    node.left = new TreeNode(v);
                    queue.add(node.left);
                }
            }
            if (i < arr.length) {
                Integer v = arr[i++];
                if (v != null) {
                    node.right = new TreeNode(v);
                    queue.add(node.right);
                }
            }
        }
        return root;
    }

    static List<Integer> serializeTree(TreeNode root) {
        List<Integer> out = new ArrayList<>();
        List<TreeNode> queue = new ArrayList<>();
        queue.add(root);
        int head = 0;
        while (head < queue.size()) {
            TreeNode node = queue.get(head++);
            if (node == null) {
                out.add(null);
            } else {
                out.add(node.val);
                queue.add(node.left);
                queue.add(node.right);
            }
        }
        while (!out.isEmpty() && out.get(out.size() - 1) == null) out.remove(out.size() - 1);
        return out;
    }
`

// toJson is inlined into every Java driver; it covers the types the literal
// table can produce plus common solution return shapes.
const javaJSONRuntime = `    static String toJson(Object v) {
        if (v == null) return "null";
        if (v instanceof String) {
            StringBuilder sb = new StringBuilder("\"");
            for (char c : ((String) v).toCharArray()) {
                switch (c) {
                    case '"': sb.append("\\\""); break;
                    case '\\': sb.append("\\\\"); break;
                    case '\n': sb.append("\\n"); break;
                    case '\r': sb.append("\\r"); break;
                    case '\t': sb.append("\\t"); break;
                    default:
                        if (c < 0x20) sb.append(String.format("\\u%04x", (int) c));
                        else sb.append(c);
                }
            }
            return sb.append("\"").toString();
        }
        if (v instanceof Character) return toJson(String.valueOf(v));
        if (v instanceof Boolean || v instanceof Number) return String.valueOf(v);
        if (v instanceof int[]) {
            int[] a = (int[]) v;
            StringBuilder sb = new StringBuilder("[");
            for (int i = 0; i < a.length; i++) { if (i > 0) sb.append(","); sb.append(a[i]); }
            return sb.append("]").toString();
        }
        if (v instanceof long[]) {
            long[] a = (long[]) v;
            StringBuilder sb = new StringBuilder("[");
            for (int i = 0; i < a.length; i++) { if (i > 0) sb.append(","); sb.append(a[i]); }
            return sb.append("]").toString();
        }
        if (v instanceof double[]) {
            double[] a = (double[]) v;
            StringBuilder sb = new StringBuilder("[");
            for (int i = 0; i < a.length; i++) { if (i > 0) sb.append(","); sb.append(a[i]); }
            return sb.append("]").toString();
        }
        if (v instanceof boolean[]) {
            boolean[] a = (boolean[]) v;
            StringBuilder sb = new StringBuilder("[");
            for (int i = 0; i < a.length; i++) { if (i > 0) sb.append(","); sb.append(a[i]); }
            return sb.append("]").toString();
        }
        if (v instanceof Object[]) {
            Object[] a = (Object[]) v;
            StringBuilder sb = new StringBuilder("[");
            for (int i = 0; i < a.length; i++) { if (i > 0) sb.append(","); sb.append(toJson(a[i])); }
            return sb.append("]").toString();
        }
        if (v instanceof List) {
            List<?> a = (List<?>) v;
            StringBuilder sb = new StringBuilder("[");
            for (int i = 0; i < a.size(); i++) { if (i > 0) sb.append(","); sb.append(toJson(a.get(i))); }
            return sb.append("]").toString();
        }
        return String.valueOf(v);
    }
`

// javaLiteral renders one input under the declared type. The mapping table is
// the single dispatch point for all Java argument materialization.
func javaLiteral(declared string, raw json.RawMessage) (string, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return "", err
	}
	switch {
	case isListType(declared):
		return javaIntArray(raw, "int[]")
	case isTreeType(declared):
		return javaBoxedIntArray(raw)
	}
	switch strings.ToLower(declared) {
	case "int", "long", "double", "float":
		n, ok := v.(json.Number)
		if !ok {
			return "", fmt.Errorf("expected number for %s, got %s", declared, string(raw))
		}
		if strings.EqualFold(declared, "long") {
			return n.String() + "L", nil
		}
		return n.String(), nil
	case "boolean", "bool":
		b, ok := v.(bool)
		if !ok {
			return "", fmt.Errorf("expected boolean, got %s", string(raw))
		}
		return fmt.Sprintf("%t", b), nil
	case "string":
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %s", string(raw))
		}
		quoted, _ := json.Marshal(s)
		return string(quoted), nil
	case "char", "character":
		s, ok := v.(string)
		if !ok || len(s) != 1 {
			return "", fmt.Errorf("expected single-char string, got %s", string(raw))
		}
		return "'" + s + "'", nil
	case "int[]", "long[]", "double[]":
		return javaIntArray(raw, strings.ToLower(declared))
	case "string[]":
		arr, ok := v.([]interface{})
		if !ok {
			return "", fmt.Errorf("expected array, got %s", string(raw))
		}
		parts := make([]string, len(arr))
		for i, e := range arr {
			s, ok := e.(string)
			if !ok {
				return "", fmt.Errorf("expected string element, got %v", e)
			}
			quoted, _ := json.Marshal(s)
			parts[i] = string(quoted)
		}
		return "new String[]{" + strings.Join(parts, ", ") + "}", nil
	case "int[][]":
		arr, ok := v.([]interface{})
		if !ok {
			return "", fmt.Errorf("expected array, got %s", string(raw))
		}
		rows := make([]string, len(arr))
		for i, row := range arr {
			inner, ok := row.([]interface{})
			if !ok {
				return "", fmt.Errorf("expected nested array, got %v", row)
			}
			parts := make([]string, len(inner))
			for j, e := range inner {
				n, ok := e.(json.Number)
				if !ok {
					return "", fmt.Errorf("expected number element, got %v", e)
				}
				parts[j] = n.String()
			}
			rows[i] = "{" + strings.Join(parts, ", ") + "}"
		}
		return "new int[][]{" + strings.Join(rows, ", ") + "}", nil
	default:
		return "", fmt.Errorf("no java mapping for type %q", declared)
	}
}

func javaIntArray(raw json.RawMessage, declared string) (string, error) {
	arr, err := numberList(raw)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(arr))
	for i, e := range arr {
		n, ok := e.(json.Number)
		if !ok {
			return "", fmt.Errorf("expected number element, got %v", e)
		}
		parts[i] = n.String()
		if declared == "long[]" {
			parts[i] += "L"
		}
	}
	elem := strings.TrimSuffix(declared, "[]")
	return "new " + elem + "[]{" + strings.Join(parts, ", ") + "}", nil
}

func javaBoxedIntArray(raw json.RawMessage) (string, error) {
	arr, err := numberList(raw)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(arr))
	for i, e := range arr {
		switch n := e.(type) {
		case nil:
			parts[i] = "null"
		case json.Number:
			parts[i] = n.String()
		default:
			return "", fmt.Errorf("expected number or null element, got %v", e)
		}
	}
	return "deserializeTree(new Integer[]{" + strings.Join(parts, ", ") + "})", nil
}

func generateJava(sig problem.Signature, solution string, cases []problem.TestCase) (string, error) {
	var b strings.Builder
	b.WriteString("import java.util.*;\n\n")
	if needsListHelpers(sig) {
		b.WriteString(javaListHelpers)
		b.WriteString("\n")
	}
	if needsTreeHelpers(sig) {
		b.WriteString(javaTreeHelpers)
		b.WriteString("\n")
	}
	b.WriteString(solution)
	b.WriteString("\n\npublic class Main {\n")
	if needsListHelpers(sig) {
		b.WriteString(javaListRuntime)
		b.WriteString("\n")
	}
	if needsTreeHelpers(sig) {
		b.WriteString(javaTreeRuntime)
		b.WriteString("\n")
	}
	b.WriteString(javaJSONRuntime)
	b.WriteString("\n    public static void main(String[] args) {\n")
	b.WriteString("        Solution sol = new Solution();\n")

	for i, tc := range cases {
		fmt.Fprintf(&b, "\n        // Test %d\n", i)
		argNames := make([]string, len(sig.Parameters))
		for j, p := range sig.Parameters {
			if j >= len(tc.Input) {
				return "", fmt.Errorf("test %d: missing input for parameter %s", i, p.Name)
			}
			name := fmt.Sprintf("arg%d_%d", i, j)
			argNames[j] = name
			switch {
			case isListType(p.Type):
				lit, err := javaLiteral(p.Type, tc.Input[j])
				if err != nil {
					return "", fmt.Errorf("test %d: %w", i, err)
				}
				fmt.Fprintf(&b, "        ListNode %s = deserializeList(%s);\n", name, lit)
				if pos := cyclePos(tc); pos >= 0 {
					fmt.Fprintf(&b, "        %s = attachCycle(%s, %d);\n", name, name, pos)
				}
			case isTreeType(p.Type):
				lit, err := javaLiteral(p.Type, tc.Input[j])
				if err != nil {
					return "", fmt.Errorf("test %d: %w", i, err)
				}
				fmt.Fprintf(&b, "        TreeNode %s = %s;\n", name, lit)
			default:
				lit, err := javaLiteral(p.Type, tc.Input[j])
				if err != nil {
					return "", fmt.Errorf("test %d: %w", i, err)
				}
				fmt.Fprintf(&b, "        %s %s = %s;\n", javaDeclType(p.Type), name, lit)
			}
		}
		call := fmt.Sprintf("sol.%s(%s)", sig.FunctionName, strings.Join(argNames, ", "))
		switch {
		case isListType(sig.ReturnType):
			fmt.Fprintf(&b, "        System.out.println(\"Test %d: \" + toJson(serializeList(%s)));\n", i, call)
		case isTreeType(sig.ReturnType):
			fmt.Fprintf(&b, "        System.out.println(\"Test %d: \" + toJson(serializeTree(%s)));\n", i, call)
		default:
			fmt.Fprintf(&b, "        Object res%d = %s;\n", i, call)
			fmt.Fprintf(&b, "        System.out.println(\"Test %d: \" + toJson(res%d));\n", i, i)
		}
	}
	b.WriteString("    }\n}\n")
	return b.String(), nil
}

// javaDeclType maps a signature type to the Java variable declaration type.
func javaDeclType(declared string) string {
	switch strings.ToLower(declared) {
	case "int":
		return "int"
	case "long":
		return "long"
	case "double", "float":
		return "double"
	case "boolean", "bool":
		return "boolean"
	case "char", "character":
		return "char"
	case "string":
		return "String"
	case "int[]":
		return "int[]"
	case "long[]":
		return "long[]"
	case "double[]":
		return "double[]"
	case "string[]":
		return "String[]"
	case "int[][]":
		return "int[][]"
	default:
		return "Object"
	}
}
