package workflowengine

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/orcaforge/fleet/errs"
)

// resolveParam resolves one parameter value. Strings of the shape
// "{{...}}" are template references (spec's SUPPLEMENT expression
// grammar); anything else is a literal, passed through unchanged.
func resolveParam(value any, results map[string]NodeResult) (any, error) {
	s, ok := value.(string)
	if !ok || !isTemplate(s) {
		return value, nil
	}
	expr := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "{{"), "}}")
	expr = strings.TrimSpace(expr)
	return resolveReference(expr, results)
}

func isTemplate(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}")
}

// resolveReference resolves a dotted-path reference: "nodes.<id>.<path>"
// into a finalized ancestor's JSON-shaped output, or "env.<NAME>" /
// "env.<NAME>:-<default>" into an environment variable.
func resolveReference(expr string, results map[string]NodeResult) (any, error) {
	switch {
	case strings.HasPrefix(expr, "nodes."):
		path := strings.TrimPrefix(expr, "nodes.")
		parts := strings.SplitN(path, ".", 2)
		if len(parts) < 1 || parts[0] == "" {
			return nil, errs.New("workflowengine", "resolve_param", errs.KindInvalidWorkflow,
				"malformed node reference: "+expr, nil)
		}
		nodeID := parts[0]
		result, ok := results[nodeID]
		if !ok || result.Status != NodeCompleted {
			return nil, errs.New("workflowengine", "resolve_param", errs.KindInvalidWorkflow,
				"reference to unresolved ancestor node: "+nodeID, nil)
		}
		if len(parts) == 1 {
			return result.Output, nil
		}
		val, ok := dottedLookup(result.Output, parts[1])
		if !ok {
			return nil, errs.New("workflowengine", "resolve_param", errs.KindInvalidWorkflow,
				"unresolved reference: "+expr, nil)
		}
		return val, nil

	case strings.HasPrefix(expr, "env."):
		name := strings.TrimPrefix(expr, "env.")
		def := ""
		hasDefault := false
		if idx := strings.Index(name, ":-"); idx >= 0 {
			def = name[idx+2:]
			name = name[:idx]
			hasDefault = true
		}
		if v, ok := os.LookupEnv(name); ok {
			return v, nil
		}
		if hasDefault {
			return def, nil
		}
		return nil, errs.New("workflowengine", "resolve_param", errs.KindInvalidWorkflow,
			"unresolved environment reference: "+expr, nil)

	default:
		return nil, errs.New("workflowengine", "resolve_param", errs.KindInvalidWorkflow,
			"unrecognized reference: "+expr, nil)
	}
}

func dottedLookup(root any, path string) (any, bool) {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// evaluatePredicate evaluates a conditional node's predicate against
// finalized ancestor results. Supports numeric comparison (>, >=, <, <=),
// equality (==, !=), and existence ("exists <path>").
func evaluatePredicate(predicate string, results map[string]NodeResult) (bool, error) {
	predicate = strings.TrimSpace(predicate)

	if rest, ok := strings.CutPrefix(predicate, "exists "); ok {
		_, err := resolveReference(strings.TrimSpace(rest), results)
		return err == nil, nil
	}

	for _, op := range []string{">=", "<=", "==", "!=", ">", "<"} {
		idx := strings.Index(predicate, op)
		if idx < 0 {
			continue
		}
		lhs := strings.TrimSpace(predicate[:idx])
		rhs := strings.TrimSpace(predicate[idx+len(op):])

		left, err := resolveReference(lhs, results)
		if err != nil {
			return false, err
		}
		right := parseLiteral(rhs)
		return compare(left, right, op)
	}

	return false, errs.New("workflowengine", "evaluate_predicate", errs.KindInvalidWorkflow,
		"unparseable predicate: "+predicate, nil)
}

func parseLiteral(s string) any {
	s = strings.Trim(s, `"`)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func compare(left, right any, op string) (bool, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		}
	}
	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	default:
		return false, errs.New("workflowengine", "evaluate_predicate", errs.KindInvalidWorkflow,
			"non-numeric operands for comparison operator "+op, nil)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
