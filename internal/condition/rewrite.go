package condition

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/creditsight/internal/schema"
)

// Binding strength of emitted CEL expressions, loosest first.
const (
	precOr = iota + 1
	precAnd
	precRel
	precAdd
	precMul
	precUnary
	precPrimary
)

// typeLookup reports the declared type of a variable name.
type typeLookup func(name string) (schema.Type, bool)

// expr is an emitted CEL fragment.
type expr struct {
	text    string
	prec    int
	boolish bool
	// ident is set when the fragment is a bare variable reference.
	ident string
}

// boolCalls are free functions known to return bool.
var boolCalls = map[string]bool{
	fnBetween: true,
	fnOneOf:   true,
	fnTruthy:  true,
	"has":     true,
}

// boolMethods are receiver functions and macros known to return bool.
var boolMethods = map[string]bool{
	"contains":   true,
	"startsWith": true,
	"endsWith":   true,
	"matches":    true,
	"exists":     true,
	"exists_one": true,
	"all":        true,
}

// twoCharOps are operators spelled with two punctuation characters.
var twoCharOps = map[string]bool{
	"==": true, "!=": true, "<=": true, ">=": true, "&&": true, "||": true,
}

// rewriter parses the word-operator condition grammar and emits CEL. The
// grammar binds like Python: "not" is looser than comparison, comparisons
// chain, and operands of boolean connectives are tested for truthiness.
type rewriter struct {
	toks   []token
	pos    int
	typeOf typeLookup
}

// rewrite returns the CEL form of condition or an error when the condition
// falls outside the grammar.
func rewrite(condition string, typeOf typeLookup) (string, error) {
	r := &rewriter{toks: lex(condition), typeOf: typeOf}
	if len(r.toks) == 0 {
		return "", nil
	}
	e, err := r.parseOr()
	if err != nil {
		return "", err
	}
	if r.pos < len(r.toks) {
		return "", fmt.Errorf("unexpected %q", r.toks[r.pos].text)
	}
	return r.truth(e).text, nil
}

// lex tokenizes s without whitespace and joins two-character operators.
func lex(s string) []token {
	raw := tokenize(s)
	var out []token
	for i := 0; i < len(raw); i++ {
		t := raw[i]
		if t.kind == tokSpace {
			continue
		}
		if t.kind == tokPunct && i+1 < len(raw) && raw[i+1].kind == tokPunct && twoCharOps[t.text+raw[i+1].text] {
			t = token{tokPunct, t.text + raw[i+1].text}
			i++
		}
		out = append(out, t)
	}
	return out
}

func (r *rewriter) peek() token {
	if r.pos < len(r.toks) {
		return r.toks[r.pos]
	}
	return token{kind: tokSpace}
}

func (r *rewriter) peekAt(offset int) token {
	if r.pos+offset < len(r.toks) {
		return r.toks[r.pos+offset]
	}
	return token{kind: tokSpace}
}

// accept consumes the next token when it is one of words or operators.
func (r *rewriter) accept(texts ...string) (string, bool) {
	t := r.peek()
	if t.kind != tokIdent && t.kind != tokPunct {
		return "", false
	}
	for _, want := range texts {
		if t.text == want {
			r.pos++
			return want, true
		}
	}
	return "", false
}

func (r *rewriter) expect(text string) error {
	if _, ok := r.accept(text); !ok {
		if r.pos >= len(r.toks) {
			return fmt.Errorf("expected %q at end of condition", text)
		}
		return fmt.Errorf("expected %q, got %q", text, r.peek().text)
	}
	return nil
}

func (r *rewriter) parseOr() (expr, error) {
	left, err := r.parseAnd()
	if err != nil {
		return expr{}, err
	}
	for {
		if _, ok := r.accept("or", "||"); !ok {
			return left, nil
		}
		right, err := r.parseAnd()
		if err != nil {
			return expr{}, err
		}
		left = expr{
			text:    wrap(r.truth(left), precOr) + " || " + wrap(r.truth(right), precAnd),
			prec:    precOr,
			boolish: true,
		}
	}
}

func (r *rewriter) parseAnd() (expr, error) {
	left, err := r.parseNot()
	if err != nil {
		return expr{}, err
	}
	for {
		if _, ok := r.accept("and", "&&"); !ok {
			return left, nil
		}
		right, err := r.parseNot()
		if err != nil {
			return expr{}, err
		}
		left = expr{
			text:    wrap(r.truth(left), precAnd) + " && " + wrap(r.truth(right), precRel),
			prec:    precAnd,
			boolish: true,
		}
	}
}

func (r *rewriter) parseNot() (expr, error) {
	if _, ok := r.accept("not", "!"); !ok {
		return r.parseComparison()
	}
	operand, err := r.parseNot()
	if err != nil {
		return expr{}, err
	}
	return expr{text: "!" + wrap(r.truth(operand), precUnary), prec: precUnary, boolish: true}, nil
}

// compareOp consumes a comparison operator, including "not in", "is" and
// "is not".
func (r *rewriter) compareOp() (string, bool) {
	if op, ok := r.accept("<", ">", "<=", ">=", "==", "!=", "in"); ok {
		return op, true
	}
	t := r.peek()
	if t.kind == tokIdent && t.text == "not" && r.peekAt(1).text == "in" {
		r.pos += 2
		return "not in", true
	}
	if t.kind == tokIdent && t.text == "is" {
		r.pos++
		if _, ok := r.accept("not"); ok {
			return "!=", true
		}
		return "==", true
	}
	return "", false
}

// parseComparison expands "a < b < c" into "a < b && b < c".
func (r *rewriter) parseComparison() (expr, error) {
	left, err := r.parseAdd()
	if err != nil {
		return expr{}, err
	}

	var parts []string
	for {
		op, ok := r.compareOp()
		if !ok {
			break
		}
		right, err := r.parseAdd()
		if err != nil {
			return expr{}, err
		}
		switch op {
		case "not in":
			parts = append(parts, "!("+wrap(left, precAdd)+" in "+wrap(right, precAdd)+")")
		default:
			parts = append(parts, wrap(left, precAdd)+" "+op+" "+wrap(right, precAdd))
		}
		left = right
	}

	switch len(parts) {
	case 0:
		return left, nil
	case 1:
		return expr{text: parts[0], prec: precRel, boolish: true}, nil
	default:
		return expr{text: strings.Join(parts, " && "), prec: precAnd, boolish: true}, nil
	}
}

func (r *rewriter) parseAdd() (expr, error) {
	left, err := r.parseMul()
	if err != nil {
		return expr{}, err
	}
	for {
		op, ok := r.accept("+", "-")
		if !ok {
			return left, nil
		}
		right, err := r.parseMul()
		if err != nil {
			return expr{}, err
		}
		left = expr{text: wrap(left, precAdd) + " " + op + " " + wrap(right, precMul), prec: precAdd}
	}
}

// parseMul emits "%" as a call to the floating-point modulo helper since CEL
// only defines it for integers.
func (r *rewriter) parseMul() (expr, error) {
	left, err := r.parseUnary()
	if err != nil {
		return expr{}, err
	}
	for {
		op, ok := r.accept("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := r.parseUnary()
		if err != nil {
			return expr{}, err
		}
		if op == "%" {
			left = expr{text: fnMod + "(" + left.text + ", " + right.text + ")", prec: precPrimary}
			continue
		}
		left = expr{text: wrap(left, precMul) + " " + op + " " + wrap(right, precUnary), prec: precMul}
	}
}

func (r *rewriter) parseUnary() (expr, error) {
	if _, ok := r.accept("-"); ok {
		operand, err := r.parseUnary()
		if err != nil {
			return expr{}, err
		}
		return expr{text: "-" + wrap(operand, precUnary), prec: precUnary}, nil
	}
	if _, ok := r.accept("+"); ok {
		return r.parseUnary()
	}
	return r.parsePostfix()
}

func (r *rewriter) parsePostfix() (expr, error) {
	e, err := r.parsePrimary()
	if err != nil {
		return expr{}, err
	}
	for {
		switch {
		case r.peek().kind == tokPunct && r.peek().text == ".":
			r.pos++
			name := r.peek()
			if name.kind != tokIdent {
				return expr{}, fmt.Errorf("expected field name after '.'")
			}
			r.pos++
			text := wrap(e, precPrimary) + "." + name.text
			boolish := false
			if r.peek().kind == tokPunct && r.peek().text == "(" {
				args, err := r.parseArgs("(", ")")
				if err != nil {
					return expr{}, err
				}
				text += "(" + args + ")"
				boolish = boolMethods[name.text]
			}
			e = expr{text: text, prec: precPrimary, boolish: boolish}
		case r.peek().kind == tokPunct && r.peek().text == "[":
			index, err := r.parseArgs("[", "]")
			if err != nil {
				return expr{}, err
			}
			e = expr{text: wrap(e, precPrimary) + "[" + index + "]", prec: precPrimary}
		default:
			return e, nil
		}
	}
}

func (r *rewriter) parsePrimary() (expr, error) {
	t := r.peek()
	switch t.kind {
	case tokNumber:
		r.pos++
		text := t.text
		if !strings.ContainsAny(text, ".eExX") {
			text += ".0"
		}
		return expr{text: text, prec: precPrimary}, nil
	case tokString:
		r.pos++
		return expr{text: t.text, prec: precPrimary}, nil
	case tokIdent:
		return r.parseName()
	case tokPunct:
		switch t.text {
		case "(":
			r.pos++
			inner, err := r.parseOr()
			if err != nil {
				return expr{}, err
			}
			if err := r.expect(")"); err != nil {
				return expr{}, err
			}
			return expr{text: "(" + inner.text + ")", prec: precPrimary, boolish: inner.boolish, ident: inner.ident}, nil
		case "[":
			items, err := r.parseArgs("[", "]")
			if err != nil {
				return expr{}, err
			}
			return expr{text: "[" + items + "]", prec: precPrimary}, nil
		}
	}
	if r.pos >= len(r.toks) {
		return expr{}, fmt.Errorf("unexpected end of condition")
	}
	return expr{}, fmt.Errorf("unexpected %q", t.text)
}

func (r *rewriter) parseName() (expr, error) {
	t := r.peek()
	switch t.text {
	case "and", "or", "not", "in", "is":
		return expr{}, fmt.Errorf("unexpected %q", t.text)
	case "True", "true":
		r.pos++
		return expr{text: "true", prec: precPrimary, boolish: true}, nil
	case "False", "false":
		r.pos++
		return expr{text: "false", prec: precPrimary, boolish: true}, nil
	case "None", "null":
		r.pos++
		return expr{text: "null", prec: precPrimary}, nil
	}
	r.pos++

	if r.peek().kind == tokPunct && r.peek().text == "(" {
		args, err := r.parseArgs("(", ")")
		if err != nil {
			return expr{}, err
		}
		return expr{text: t.text + "(" + args + ")", prec: precPrimary, boolish: boolCalls[t.text]}, nil
	}

	e := expr{text: t.text, prec: precPrimary, ident: t.text}
	if r.typeOf != nil {
		if typ, ok := r.typeOf(t.text); ok && typ == schema.Bool {
			e.boolish = true
		}
	}
	return e, nil
}

// parseArgs parses a delimited, comma-separated expression list. A trailing
// comma is allowed.
func (r *rewriter) parseArgs(open, closing string) (string, error) {
	if err := r.expect(open); err != nil {
		return "", err
	}
	var items []string
	for {
		if _, ok := r.accept(closing); ok {
			return strings.Join(items, ", "), nil
		}
		item, err := r.parseOr()
		if err != nil {
			return "", err
		}
		items = append(items, item.text)
		if _, ok := r.accept(","); !ok {
			if err := r.expect(closing); err != nil {
				return "", err
			}
			return strings.Join(items, ", "), nil
		}
	}
}

// truth returns e as a boolean test. Schema numbers compare against zero and
// schema strings against "". Anything else goes through the truthy helper.
func (r *rewriter) truth(e expr) expr {
	if e.boolish {
		return e
	}
	if e.ident != "" && r.typeOf != nil {
		if typ, ok := r.typeOf(e.ident); ok {
			switch typ {
			case schema.Number, schema.Integer:
				return expr{text: e.text + " != 0.0", prec: precRel, boolish: true}
			case schema.String:
				return expr{text: e.text + ` != ""`, prec: precRel, boolish: true}
			}
		}
	}
	return expr{text: fnTruthy + "(" + e.text + ")", prec: precPrimary, boolish: true}
}

// wrap parenthesizes e when it binds looser than prec.
func wrap(e expr, prec int) string {
	if e.prec < prec {
		return "(" + e.text + ")"
	}
	return e.text
}
