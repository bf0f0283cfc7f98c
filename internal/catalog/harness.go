package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// harnessKinds renders one test case block for a problem's fixture.
var harnessKinds = map[string]func(n int, fn string, tc TestCase) (string, error){
	"two_sum":           twoSumCase,
	"reverse_string":    reverseStringCase,
	"palindrome_number": palindromeCase,
	"valid_parentheses": validParenthesesCase,
	"max_subarray":      maxSubarrayCase,
}

const harnessPrelude = `#include <iostream>
#include <vector>
#include <string>
#include <algorithm>
#include <stack>
#include <unordered_map>
#include <climits>
using namespace std;

`

const harnessHelpers = `
static void arenaPrint(const char* label, const vector<int>& v) {
    cout << label << "[";
    for (size_t i = 0; i < v.size(); i++) {
        cout << v[i];
        if (i + 1 < v.size()) cout << ", ";
    }
    cout << "]" << endl;
}

static void arenaPrint(const char* label, const vector<char>& v) {
    cout << label << "[";
    for (size_t i = 0; i < v.size(); i++) {
        cout << "'" << v[i] << "'";
        if (i + 1 < v.size()) cout << ", ";
    }
    cout << "]" << endl;
}
`

// StripUserCode removes includes, using-directives, blank lines and any
// user-supplied main so the function body can be wrapped by a harness.
func StripUserCode(code string) string {
	clean := strings.TrimSpace(code)
	if i := strings.Index(clean, "int main("); i != -1 {
		clean = strings.TrimSpace(clean[:i])
	}

	var kept []string
	for _, line := range strings.Split(clean, "\n") {
		t := strings.TrimSpace(line)
		if t == "" ||
			strings.HasPrefix(t, "#include") ||
			strings.HasPrefix(t, "using namespace") ||
			strings.HasPrefix(t, "using std::") {
			continue
		}
		kept = append(kept, line)
	}

	clean = strings.TrimSpace(strings.Join(kept, "\n"))
	if clean != "" && !strings.HasSuffix(clean, "}") {
		clean += "\n}"
	}
	return clean
}

// BuildHarness wraps user code in a main that runs every fixture case and
// prints "Test N: PASSED|FAILED" lines followed by "Tests passed: X/Y".
func BuildHarness(p Problem, userCode string) (string, error) {
	if len(p.Cases) == 0 {
		return "", ErrNoTestCases
	}
	render, ok := harnessKinds[p.Harness]
	if !ok {
		return "", fmt.Errorf("problem %d: unknown harness %q", p.ID, p.Harness)
	}

	var b strings.Builder
	b.WriteString(harnessPrelude)
	b.WriteString(StripUserCode(userCode))
	b.WriteString("\n")
	b.WriteString(harnessHelpers)
	fmt.Fprintf(&b, "\nint main() {\n    int testsPassed = 0;\n    int totalTests = %d;\n", len(p.Cases))

	for i, tc := range p.Cases {
		block, err := render(i+1, p.Function, tc)
		if err != nil {
			return "", fmt.Errorf("problem %d case %d: %w", p.ID, i+1, err)
		}
		b.WriteString(block)
	}

	b.WriteString(`
    cout << "\n=== RESULTS ===" << endl;
    cout << "Tests passed: " << testsPassed << "/" << totalTests << endl;
    if (testsPassed == totalTests) {
        cout << "All tests passed!" << endl;
    } else {
        cout << "Some tests failed. Please check your solution." << endl;
    }
    return 0;
}
`)
	return b.String(), nil
}

func caseBlock(n int, setup, cond, onFail string) string {
	return fmt.Sprintf(`
    // Test case %[1]d
    {
%[2]s
        if (%[3]s) {
            cout << "Test %[1]d: PASSED" << endl;
            testsPassed++;
        } else {
            cout << "Test %[1]d: FAILED" << endl;
%[4]s
        }
    }
`, n, setup, cond, onFail)
}

func twoSumCase(n int, fn string, tc TestCase) (string, error) {
	if tc.Target == nil {
		return "", fmt.Errorf("missing target")
	}
	expected, err := asInts(tc.Expected)
	if err != nil {
		return "", err
	}
	setup := fmt.Sprintf(`        vector<int> nums = {%s};
        int target = %d;
        vector<int> expected = {%s};
        vector<int> result = %s(nums, target);
        sort(result.begin(), result.end());
        sort(expected.begin(), expected.end());`,
		joinInts(tc.Nums), *tc.Target, joinInts(expected), fn)
	onFail := `            arenaPrint("Expected: ", expected);
            arenaPrint("Got: ", result);`
	return caseBlock(n, setup, "result == expected", onFail), nil
}

func reverseStringCase(n int, fn string, tc TestCase) (string, error) {
	expected, err := asStrings(tc.Expected)
	if err != nil {
		return "", err
	}
	setup := fmt.Sprintf(`        vector<char> s = {%s};
        vector<char> expected = {%s};
        %s(s);`, joinChars(tc.Chars), joinChars(expected), fn)
	onFail := `            arenaPrint("Expected: ", expected);
            arenaPrint("Got: ", s);`
	return caseBlock(n, setup, "s == expected", onFail), nil
}

func palindromeCase(n int, fn string, tc TestCase) (string, error) {
	if tc.X == nil {
		return "", fmt.Errorf("missing x")
	}
	expected, ok := tc.Expected.(bool)
	if !ok {
		return "", fmt.Errorf("expected must be a bool, got %T", tc.Expected)
	}
	setup := fmt.Sprintf(`        int x = %d;
        bool expected = %t;
        bool result = %s(x);`, *tc.X, expected, fn)
	return caseBlock(n, setup, "result == expected", boolFailure), nil
}

func validParenthesesCase(n int, fn string, tc TestCase) (string, error) {
	if tc.S == nil {
		return "", fmt.Errorf("missing s")
	}
	expected, ok := tc.Expected.(bool)
	if !ok {
		return "", fmt.Errorf("expected must be a bool, got %T", tc.Expected)
	}
	setup := fmt.Sprintf(`        string s = %s;
        bool expected = %t;
        bool result = %s(s);`, strconv.Quote(*tc.S), expected, fn)
	return caseBlock(n, setup, "result == expected", boolFailure), nil
}

func maxSubarrayCase(n int, fn string, tc TestCase) (string, error) {
	expected, ok := tc.Expected.(int)
	if !ok {
		return "", fmt.Errorf("expected must be an int, got %T", tc.Expected)
	}
	setup := fmt.Sprintf(`        vector<int> nums = {%s};
        int expected = %d;
        int result = %s(nums);`, joinInts(tc.Nums), expected, fn)
	onFail := `            cout << "Expected: " << expected << endl;
            cout << "Got: " << result << endl;`
	return caseBlock(n, setup, "result == expected", onFail), nil
}

const boolFailure = `            cout << "Expected: " << (expected ? "true" : "false") << endl;
            cout << "Got: " << (result ? "true" : "false") << endl;`

func asInts(v any) ([]int, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected must be a list, got %T", v)
	}
	out := make([]int, 0, len(items))
	for _, it := range items {
		n, ok := it.(int)
		if !ok {
			return nil, fmt.Errorf("expected list item must be an int, got %T", it)
		}
		out = append(out, n)
	}
	return out, nil
}

func asStrings(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected must be a list, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprint(it))
	}
	return out, nil
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

func joinChars(chars []string) string {
	parts := make([]string, len(chars))
	for i, c := range chars {
		switch c {
		case `'`:
			c = `\'`
		case `\`:
			c = `\\`
		}
		parts[i] = "'" + c + "'"
	}
	return strings.Join(parts, ", ")
}
