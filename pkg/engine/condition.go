package engine

import (
	"strconv"
	"strings"
)

// comparison operators in match order: two-character operators first so
// ">=" is not misread as ">".
var comparisonOps = []string{">=", "<=", "==", "!=", ">", "<"}

// EvaluateCondition evaluates a step condition after template substitution.
//
// The grammar is deliberately restricted: literal true/false, a single
// comparison between number-or-string operands, or plain truthiness (any
// other non-empty string). Arbitrary expressions are not evaluated.
func EvaluateCondition(resolved string) bool {
	expr := strings.TrimSpace(resolved)
	if expr == "" {
		return false
	}

	switch strings.ToLower(expr) {
	case "true":
		return true
	case "false":
		return false
	}

	for _, op := range comparisonOps {
		if idx := strings.Index(expr, op); idx > 0 {
			left := strings.TrimSpace(expr[:idx])
			right := strings.TrimSpace(expr[idx+len(op):])
			return compare(left, right, op)
		}
	}

	// Any other non-empty resolved string is truthy.
	return true
}

// compare applies one comparison operator. When both operands parse as
// numbers the comparison is numeric; otherwise it is a string comparison.
func compare(left, right, op string) bool {
	left = unquote(left)
	right = unquote(right)

	lf, lErr := strconv.ParseFloat(left, 64)
	rf, rErr := strconv.ParseFloat(right, 64)
	if lErr == nil && rErr == nil {
		switch op {
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		}
	}

	switch op {
	case ">":
		return left > right
	case ">=":
		return left >= right
	case "<":
		return left < right
	case "<=":
		return left <= right
	case "==":
		return left == right
	case "!=":
		return left != right
	}
	return false
}

// unquote strips one matching pair of single or double quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
