package toolexec

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// interpreter evaluates the restricted scripting language documented in
// canvas.go. It is a straight-line, single-pass recursive-descent
// evaluator: each statement is tokenized, parsed, and executed before the
// next is read, so there is no separate AST retained after a run.
type interpreter struct {
	vars      map[string]any
	lastValue any
}

func newInterpreter() *interpreter {
	return &interpreter{vars: map[string]any{}}
}

func (in *interpreter) run(script string) error {
	for _, stmt := range splitStatements(script) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := in.execStatement(stmt); err != nil {
			return fmt.Errorf("run_javascript: %w", err)
		}
	}
	return nil
}

// splitStatements splits on ';' and newlines, respecting string literals.
func splitStatements(script string) []string {
	var out []string
	var cur strings.Builder
	inString := false
	var quote rune
	for _, r := range script {
		switch {
		case inString:
			cur.WriteRune(r)
			if r == quote {
				inString = false
			}
		case r == '"' || r == '\'':
			inString = true
			quote = r
			cur.WriteRune(r)
		case r == ';' || r == '\n':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func (in *interpreter) execStatement(stmt string) error {
	stmt = strings.TrimPrefix(stmt, "let ")
	stmt = strings.TrimPrefix(stmt, "const ")
	stmt = strings.TrimPrefix(stmt, "var ")

	if idx := findAssignOp(stmt); idx >= 0 {
		lhs := strings.TrimSpace(stmt[:idx])
		rhs := strings.TrimSpace(stmt[idx+1:])
		val, err := in.eval(rhs)
		if err != nil {
			return err
		}
		return in.assign(lhs, val)
	}

	val, err := in.eval(stmt)
	if err != nil {
		return err
	}
	in.lastValue = val
	return nil
}

// findAssignOp finds a top-level '=' that is not '==' and not inside a
// string literal or parens, or -1 if none.
func findAssignOp(s string) int {
	depth := 0
	inString := false
	var quote rune
	for i, r := range s {
		switch {
		case inString:
			if r == quote {
				inString = false
			}
		case r == '"' || r == '\'':
			inString = true
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == '=' && depth == 0:
			if i+1 < len(s) && s[i+1] == '=' {
				continue
			}
			if i > 0 && s[i-1] == '=' {
				continue
			}
			return i
		}
	}
	return -1
}

func (in *interpreter) assign(lhs string, val any) error {
	if dot := strings.Index(lhs, "."); dot >= 0 {
		name := strings.TrimSpace(lhs[:dot])
		prop := strings.TrimSpace(lhs[dot+1:])
		target, ok := in.vars[name]
		if !ok {
			return fmt.Errorf("assignment to undeclared variable %q", name)
		}
		cv, ok := target.(*canvasValue)
		if !ok {
			return fmt.Errorf("%q has no settable property %q", name, prop)
		}
		str, _ := val.(string)
		switch prop {
		case "fillStyle":
			cv.fillStyle = str
		case "strokeStyle":
			cv.strokeStyle = str
		default:
			return fmt.Errorf("canvas has no settable property %q", prop)
		}
		return nil
	}
	in.vars[strings.TrimSpace(lhs)] = val
	return nil
}

// eval evaluates an expression: a bare identifier, literal, method/function
// call, or a chain of + - * / over those terms, where * and / bind tighter
// than + and - and operators of equal precedence apply left to right.
func (in *interpreter) eval(expr string) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	terms, ops := splitArithmetic(expr)
	if len(terms) == 1 {
		return in.evalTerm(strings.TrimSpace(terms[0]))
	}

	acc, err := in.evalTerm(strings.TrimSpace(terms[0]))
	if err != nil {
		return nil, err
	}
	accNum, ok := acc.(float64)
	if !ok {
		return nil, fmt.Errorf("arithmetic on non-numeric value %v", acc)
	}
	sums := []float64{accNum}
	var sumOps []byte
	for i, op := range ops {
		next, err := in.evalTerm(strings.TrimSpace(terms[i+1]))
		if err != nil {
			return nil, err
		}
		nextNum, ok := next.(float64)
		if !ok {
			return nil, fmt.Errorf("arithmetic on non-numeric value %v", next)
		}
		switch op {
		case '*':
			sums[len(sums)-1] *= nextNum
		case '/':
			sums[len(sums)-1] /= nextNum
		default:
			sums = append(sums, nextNum)
			sumOps = append(sumOps, op)
		}
	}
	accNum = sums[0]
	for i, op := range sumOps {
		if op == '+' {
			accNum += sums[i+1]
		} else {
			accNum -= sums[i+1]
		}
	}
	return accNum, nil
}

// splitArithmetic splits a top-level (paren-depth 0, outside strings)
// sequence of + - * / terms. Unary minus on the first term is kept with
// its term rather than treated as an operator.
func splitArithmetic(expr string) (terms []string, ops []byte) {
	depth := 0
	inString := false
	var quote rune
	start := 0
	for i, r := range expr {
		switch {
		case inString:
			if r == quote {
				inString = false
			}
		case r == '"' || r == '\'':
			inString = true
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
		case depth == 0 && (r == '+' || r == '*' || r == '/' || (r == '-' && i > start)):
			terms = append(terms, expr[start:i])
			ops = append(ops, byte(r))
			start = i + 1
		}
	}
	terms = append(terms, expr[start:])
	return terms, ops
}

func (in *interpreter) evalTerm(term string) (any, error) {
	if strings.HasPrefix(term, "(") && strings.HasSuffix(term, ")") {
		return in.eval(term[1 : len(term)-1])
	}
	if strings.HasPrefix(term, `"`) && strings.HasSuffix(term, `"`) && len(term) >= 2 {
		return term[1 : len(term)-1], nil
	}
	if strings.HasPrefix(term, "'") && strings.HasSuffix(term, "'") && len(term) >= 2 {
		return term[1 : len(term)-1], nil
	}
	if n, err := strconv.ParseFloat(term, 64); err == nil {
		return n, nil
	}

	if paren := strings.Index(term, "("); paren >= 0 && strings.HasSuffix(term, ")") {
		callee := term[:paren]
		argsStr := term[paren+1 : len(term)-1]
		args, err := in.evalArgs(argsStr)
		if err != nil {
			return nil, err
		}
		return in.callFunction(callee, args)
	}

	if isIdentifier(term) {
		if v, ok := in.vars[term]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("undeclared variable %q", term)
	}

	return nil, fmt.Errorf("unparsable expression %q", term)
}

func (in *interpreter) evalArgs(argsStr string) ([]any, error) {
	argsStr = strings.TrimSpace(argsStr)
	if argsStr == "" {
		return nil, nil
	}
	parts := splitTopLevelCommas(argsStr)
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		v, err := in.eval(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func splitTopLevelCommas(s string) []string {
	depth := 0
	inString := false
	var quote rune
	start := 0
	var out []string
	for i, r := range s {
		switch {
		case inString:
			if r == quote {
				inString = false
			}
		case r == '"' || r == '\'':
			inString = true
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == ',' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// callFunction dispatches the builtin getCanvas and methods on a
// "name.method(...)" callee.
func (in *interpreter) callFunction(callee string, args []any) (any, error) {
	if callee == "getCanvas" {
		w, h := 100, 100
		if len(args) > 0 {
			if f, ok := args[0].(float64); ok {
				w = int(f)
			}
		}
		if len(args) > 1 {
			if f, ok := args[1].(float64); ok {
				h = int(f)
			}
		}
		return newCanvas(w, h), nil
	}

	dot := strings.LastIndex(callee, ".")
	if dot < 0 {
		return nil, fmt.Errorf("unknown function %q", callee)
	}
	varName := callee[:dot]
	method := callee[dot+1:]
	target, ok := in.vars[varName]
	if !ok {
		return nil, fmt.Errorf("undeclared variable %q", varName)
	}
	cv, ok := target.(*canvasValue)
	if !ok {
		return nil, fmt.Errorf("%q is not a canvas", varName)
	}
	return in.callCanvasMethod(cv, method, args)
}

func (in *interpreter) callCanvasMethod(cv *canvasValue, method string, args []any) (any, error) {
	ints := make([]int, 4)
	for i := 0; i < 4 && i < len(args); i++ {
		f, ok := args[i].(float64)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be numeric", method, i)
		}
		ints[i] = int(f)
	}

	switch method {
	case "fillRect":
		cv.ops = append(cv.ops, drawOp{kind: "fill", x: ints[0], y: ints[1], w: ints[2], h: ints[3], color: parseColor(cv.fillStyle)})
	case "strokeRect":
		cv.ops = append(cv.ops, drawOp{kind: "stroke", x: ints[0], y: ints[1], w: ints[2], h: ints[3], color: parseColor(cv.strokeStyle)})
	case "clearRect":
		cv.ops = append(cv.ops, drawOp{kind: "clear", x: ints[0], y: ints[1], w: ints[2], h: ints[3]})
	default:
		return nil, fmt.Errorf("canvas has no method %q", method)
	}
	return nil, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !unicode.IsLetter(r) && r != '_' {
			return false
		}
		if i > 0 && !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
