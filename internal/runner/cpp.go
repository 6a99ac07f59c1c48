package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clashcode/arena/internal/problem"
)

const cppListHelpers = `struct ListNode {
    int val;
    ListNode *next;
    ListNode() : val(0), next(nullptr) {}
    ListNode(int x) : val(x), next(nullptr) {}
    ListNode(int x, ListNode *next) : val(x), next(next) {}
};

ListNode* deserializeList(const vector<int>& arr) {
    ListNode dummy;
    ListNode* cur = &dummy;
    for (int v : arr) {
        cur->next = new ListNode(v);
        cur = cur->next;
    }
    return dummy.next;
}

vector<int> serializeList(ListNode* head) {
    vector<int> out;
    set<ListNode*> seen;
    while (head != nullptr && seen.count(head) == 0) {
        seen.insert(head);
        out.push_back(head->val);
        head = head->next;
    }
    return out;
}

ListNode* attachCycle(ListNode* head, int pos) {
    if (head == nullptr || pos < 0) return head;
    ListNode* tail = head;
    while (tail->next != nullptr) tail = tail->next;
    ListNode* node = head;
    for (int i = 0; i < pos; i++) node = node->next;
    tail->next = node;
    return head;
}
`

// The tree codec carries -1 as the null sentinel. Problems where -1 is a
// legitimate node value must run in a language with a real null.
const cppTreeHelpers = `struct TreeNode {
    int val;
    TreeNode *left;
    TreeNode *right;
    TreeNode() : val(0), left(nullptr), right(nullptr) {}
    TreeNode(int x) : val(x), left(nullptr), right(nullptr) {}
};

TreeNode* deserializeTree(const vector<int>& arr) {
    if (arr.empty() || arr[0] == -1) return nullptr;
    TreeNode* root = new TreeNode(arr[0]);
    queue<TreeNode*> q;
    q.push(root);
    size_t i = 1;
    while (!q.empty() && i < arr.size()) {
        TreeNode* node = q.front();
        q.pop();
        if (i < arr.size()) {
            int v = arr[i++];
            if (v != -1) {
                node->left = new TreeNode(v);
                q.push(node->left);
            }
        }
        if (i < arr.size()) {
            int v = arr[i++];
            if (v != -1) {
                node->right = new TreeNode(v);
                q.push(node->right);
            }
        }
    }
    return root;
}

vector<int> serializeTree(TreeNode* root) {
    vector<int> out;
    queue<TreeNode*> q;
    q.push(root);
    while (!q.empty()) {
        TreeNode* node = q.front();
        q.pop();
        if (node == nullptr) {
            out.push_back(-1);
        } else {
            out.push_back(node->val);
            q.push(node->left);
            q.push(node->right);
        }
    }
    while (!out.empty() && out.back() == -1) out.pop_back();
    return out;
}
`

const cppJSONRuntime = `void printJson(int v) { cout << v; }
void printJson(long long v) { cout << v; }
void printJson(double v) { cout << v; }
void printJson(bool v) { cout << (v ? "true" : "false"); }
void printJson(char v) { string s(1, v); cout << '"' << s << '"'; }
void printJson(const string& s) {
    cout << '"';
    for (char c : s) {
        switch (c) {
            case '"': cout << "\\\""; break;
            case '\\': cout << "\\\\"; break;
            case '\n': cout << "\\n"; break;
            case '\r': cout << "\\r"; break;
            case '\t': cout << "\\t"; break;
            default: cout << c;
        }
    }
    cout << '"';
}
template <typename T>
void printJson(const vector<T>& v) {
    cout << '[';
    for (size_t i = 0; i < v.size(); i++) {
        if (i > 0) cout << ',';
        printJson(v[i]);
    }
    cout << ']';
}
`

// cppLiteral renders one input under the declared type. Inputs become native
// expressions at code-gen time; there is no JSON parsing in the driver.
func cppLiteral(declared string, raw json.RawMessage) (string, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return "", err
	}
	switch {
	case isListType(declared):
		return cppIntVector(raw, "int")
	case isTreeType(declared):
		return cppTreeVector(raw)
	}
	switch strings.ToLower(declared) {
	case "int", "double", "float":
		n, ok := v.(json.Number)
		if !ok {
			return "", fmt.Errorf("expected number for %s, got %s", declared, string(raw))
		}
		return n.String(), nil
	case "long":
		n, ok := v.(json.Number)
		if !ok {
			return "", fmt.Errorf("expected number for long, got %s", string(raw))
		}
		return n.String() + "LL", nil
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
		return "string(" + string(quoted) + ")", nil
	case "char", "character":
		s, ok := v.(string)
		if !ok || len(s) != 1 {
			return "", fmt.Errorf("expected single-char string, got %s", string(raw))
		}
		return "'" + s + "'", nil
	case "int[]":
		return cppIntVector(raw, "int")
	case "long[]":
		return cppIntVector(raw, "long long")
	case "double[]":
		return cppIntVector(raw, "double")
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
			parts[i] = "string(" + string(quoted) + ")"
		}
		return "vector<string>{" + strings.Join(parts, ", ") + "}", nil
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
		return "vector<vector<int>>{" + strings.Join(rows, ", ") + "}", nil
	default:
		return "", fmt.Errorf("no c++ mapping for type %q", declared)
	}
}

func cppIntVector(raw json.RawMessage, elem string) (string, error) {
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
		if elem == "long long" {
			parts[i] += "LL"
		}
	}
	return "vector<" + elem + ">{" + strings.Join(parts, ", ") + "}", nil
}

// cppTreeVector maps JSON nulls to the -1 sentinel.
func cppTreeVector(raw json.RawMessage) (string, error) {
	arr, err := numberList(raw)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(arr))
	for i, e := range arr {
		switch n := e.(type) {
		case nil:
			parts[i] = "-1"
		case json.Number:
			parts[i] = n.String()
		default:
			return "", fmt.Errorf("expected number or null element, got %v", e)
		}
	}
	return "vector<int>{" + strings.Join(parts, ", ") + "}", nil
}

func generateCpp(sig problem.Signature, solution string, cases []problem.TestCase) (string, error) {
	var b strings.Builder
	b.WriteString("#include <bits/stdc++.h>\nusing namespace std;\n\n")
	if needsListHelpers(sig) {
		b.WriteString(cppListHelpers)
		b.WriteString("\n")
	}
	if needsTreeHelpers(sig) {
		b.WriteString(cppTreeHelpers)
		b.WriteString("\n")
	}
	b.WriteString(cppJSONRuntime)
	b.WriteString("\n")
	b.WriteString(solution)
	b.WriteString("\n\nint main() {\n    Solution sol;\n")

	for i, tc := range cases {
		fmt.Fprintf(&b, "\n    { // Test %d\n", i)
		argNames := make([]string, len(sig.Parameters))
		for j, p := range sig.Parameters {
			if j >= len(tc.Input) {
				return "", fmt.Errorf("test %d: missing input for parameter %s", i, p.Name)
			}
			name := fmt.Sprintf("arg%d", j)
			argNames[j] = name
			lit, err := cppLiteral(p.Type, tc.Input[j])
			if err != nil {
				return "", fmt.Errorf("test %d: %w", i, err)
			}
			switch {
			case isListType(p.Type):
				fmt.Fprintf(&b, "        ListNode* %s = deserializeList(%s);\n", name, lit)
				if pos := cyclePos(tc); pos >= 0 {
					fmt.Fprintf(&b, "        %s = attachCycle(%s, %d);\n", name, name, pos)
				}
			case isTreeType(p.Type):
				fmt.Fprintf(&b, "        TreeNode* %s = deserializeTree(%s);\n", name, lit)
			default:
				fmt.Fprintf(&b, "        auto %s = %s;\n", name, lit)
			}
		}
		call := fmt.Sprintf("sol.%s(%s)", sig.FunctionName, strings.Join(argNames, ", "))
		fmt.Fprintf(&b, "        cout << \"Test %d: \";\n", i)
		switch {
		case isListType(sig.ReturnType):
			fmt.Fprintf(&b, "        printJson(serializeList(%s));\n", call)
		case isTreeType(sig.ReturnType):
			fmt.Fprintf(&b, "        printJson(serializeTree(%s));\n", call)
		default:
			fmt.Fprintf(&b, "        auto res = %s;\n        printJson(res);\n", call)
		}
		b.WriteString("        cout << \"\\n\";\n    }\n")
	}
	b.WriteString("    return 0;\n}\n")
	return b.String(), nil
}
