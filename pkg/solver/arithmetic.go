package solver

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mnogu/go-calculator"

	"github.com/menta2k/canvas-calc/pkg/metrics"
	"github.com/menta2k/canvas-calc/pkg/types"
)

var (
	token = regexp.MustCompile(`[0-9]*\.?[0-9]+|[A-Za-z_][A-Za-z0-9_]*|[+\-*/^()]|\S`)

	operatorReplacer = strings.NewReplacer("×", "*", "·", "*", "÷", "/", "−", "-")
)

// checkArithmetic recomputes numeric, non-assignment results whose expression is plain
// arithmetic and overwrites the ones the model got wrong. Returns the number replaced.
func checkArithmetic(records []types.Record, vars types.Variables) int {
	corrected := 0
	for i, r := range records {
		if r.Assign {
			continue
		}
		got, ok := r.Result.Float()
		if !ok {
			continue
		}
		want, ok := recompute(r.Expr, vars)
		if !ok || closeEnough(got, want) {
			continue
		}
		records[i].Result = types.Number(want)
		corrected++
		metrics.ArithmeticCorrectionsTotal.Inc()
	}
	return corrected
}

// recompute evaluates expr locally. It only accepts numbers, numeric variables, operators
// and brackets; equations and descriptions are left to the model. Implicit products such
// as 2x or (1+2)(3+4) are not evaluated.
func recompute(expr string, vars types.Variables) (float64, bool) {
	substituted, ok := substitute(operatorReplacer.Replace(expr), vars)
	if !ok {
		return 0, false
	}

	value, err := calculator.Calculate(substituted)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

// substitute tokenizes expr and replaces identifiers with numeric variable values. The
// expression is ineligible when it names anything else or places two operands side by side.
// It must also contain at least one binary operator.
func substitute(expr string, vars types.Variables) (string, bool) {
	tokens := token.FindAllString(expr, -1)
	if len(tokens) < 3 {
		return "", false
	}

	out := make([]string, 0, len(tokens))
	prevOperand := false
	hasOperator := false
	for i, tok := range tokens {
		switch {
		case isNumber(tok) || isIdentifier(tok):
			if prevOperand {
				return "", false
			}
			prevOperand = true
			if isNumber(tok) {
				out = append(out, tok)
				continue
			}
			v, found := vars[tok]
			if !found {
				return "", false
			}
			f, numeric := v.Float()
			if !numeric {
				return "", false
			}
			formatted := strconv.FormatFloat(f, 'f', -1, 64)
			if f < 0 {
				formatted = "(" + formatted + ")"
			}
			out = append(out, formatted)
		case tok == "(":
			if prevOperand {
				return "", false
			}
			out = append(out, tok)
		case tok == ")":
			prevOperand = true
			out = append(out, tok)
		case strings.Contains("+-*/^", tok):
			if i > 0 {
				hasOperator = true
			}
			prevOperand = false
			out = append(out, tok)
		default:
			return "", false
		}
	}
	if !hasOperator {
		return "", false
	}
	return strings.Join(out, " "), true
}

func isNumber(tok string) bool {
	c := tok[0]
	return (c >= '0' && c <= '9') || (c == '.' && len(tok) > 1)
}

func isIdentifier(tok string) bool {
	c := tok[0]
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func closeEnough(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff < 1e-9 {
		return true
	}
	return diff <= 1e-6*math.Max(math.Abs(a), math.Abs(b))
}
