package condition

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokPunct
	tokSpace
)

type token struct {
	kind tokenKind
	text string
}

// keywords is the word-operator vocabulary accepted in rule conditions and
// its CEL spelling.
var keywords = map[string]string{
	"and":   "&&",
	"or":    "||",
	"not":   "!",
	"True":  "true",
	"False": "false",
	"true":  "true",
	"false": "false",
	"None":  "null",
	"in":    "in",
}

// Normalize rewrites a rule condition into CEL syntax. It maps the word
// boolean vocabulary onto CEL operators, expands chained comparisons, tests
// non-boolean operands of the connectives for truthiness and turns integer
// literals into double literals so that they compare cleanly against numeric
// variables. String literals are left untouched. Conditions outside the
// word-operator grammar, such as CEL ternaries, get the token rewrite only.
func Normalize(condition string) string {
	return normalize(condition, nil)
}

func normalize(condition string, typeOf typeLookup) string {
	condition = strings.TrimSpace(condition)
	if out, err := rewrite(condition, typeOf); err == nil {
		return out
	}
	return rewriteTokens(condition)
}

// rewriteTokens maps keywords and literals token by token, rewriting
// "x not in [...]" as "!(x in [...])".
func rewriteTokens(condition string) string {
	toks := rewriteNotIn(tokenize(condition))

	var b strings.Builder
	for i, t := range toks {
		switch t.kind {
		case tokIdent:
			if isMember(toks, i) {
				b.WriteString(t.text)
				continue
			}
			if kw, ok := keywords[t.text]; ok {
				b.WriteString(kw)
				continue
			}
			b.WriteString(t.text)
		case tokNumber:
			b.WriteString(t.text)
			if !strings.ContainsAny(t.text, ".eExX") {
				b.WriteString(".0")
			}
		case tokSpace:
			b.WriteByte(' ')
		default:
			b.WriteString(t.text)
		}
	}
	return b.String()
}

// identifiers returns the variable references of a normalized or raw
// condition: identifiers that are not keywords, not member selections and
// not function calls. Order follows first appearance.
func identifiers(condition string) []string {
	toks := tokenize(condition)
	seen := make(map[string]bool)
	var out []string
	for i, t := range toks {
		if t.kind != tokIdent {
			continue
		}
		if _, ok := keywords[t.text]; ok {
			continue
		}
		if t.text == "null" || isMember(toks, i) || isCall(toks, i) {
			continue
		}
		if !seen[t.text] {
			seen[t.text] = true
			out = append(out, t.text)
		}
	}
	return out
}

// functionCalls returns the names of functions invoked as free calls.
func functionCalls(condition string) []string {
	toks := tokenize(condition)
	var out []string
	for i, t := range toks {
		if t.kind == tokIdent && isCall(toks, i) && !isMember(toks, i) {
			out = append(out, t.text)
		}
	}
	return out
}

func tokenize(s string) []token {
	var toks []token
	r := []rune(s)
	for i := 0; i < len(r); {
		c := r[i]
		switch {
		case unicode.IsSpace(c):
			j := i
			for j < len(r) && unicode.IsSpace(r[j]) {
				j++
			}
			toks = append(toks, token{tokSpace, " "})
			i = j
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(r) && r[j] != c {
				if r[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(r) {
				j++
			}
			if j > len(r) {
				j = len(r)
			}
			toks = append(toks, token{tokString, string(r[i:j])})
			i = j
		case c == '_' || unicode.IsLetter(c):
			j := i
			for j < len(r) && (r[j] == '_' || unicode.IsLetter(r[j]) || unicode.IsDigit(r[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, string(r[i:j])})
			i = j
		case unicode.IsDigit(c):
			j := scanNumber(r, i)
			toks = append(toks, token{tokNumber, string(r[i:j])})
			i = j
		default:
			toks = append(toks, token{tokPunct, string(c)})
			i++
		}
	}
	return toks
}

func scanNumber(r []rune, i int) int {
	j := i
	if j+1 < len(r) && r[j] == '0' && (r[j+1] == 'x' || r[j+1] == 'X') {
		j += 2
		for j < len(r) && isHex(r[j]) {
			j++
		}
		return j
	}
	for j < len(r) && unicode.IsDigit(r[j]) {
		j++
	}
	if j+1 < len(r) && r[j] == '.' && unicode.IsDigit(r[j+1]) {
		j++
		for j < len(r) && unicode.IsDigit(r[j]) {
			j++
		}
	}
	if j < len(r) && (r[j] == 'e' || r[j] == 'E') {
		k := j + 1
		if k < len(r) && (r[k] == '+' || r[k] == '-') {
			k++
		}
		if k < len(r) && unicode.IsDigit(r[k]) {
			j = k
			for j < len(r) && unicode.IsDigit(r[j]) {
				j++
			}
		}
	}
	return j
}

func isHex(c rune) bool {
	return unicode.IsDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// prev returns the index of the closest non-space token before i, or -1.
func prev(toks []token, i int) int {
	for j := i - 1; j >= 0; j-- {
		if toks[j].kind != tokSpace {
			return j
		}
	}
	return -1
}

// next returns the index of the closest non-space token after i, or -1.
func next(toks []token, i int) int {
	for j := i + 1; j < len(toks); j++ {
		if toks[j].kind != tokSpace {
			return j
		}
	}
	return -1
}

func isMember(toks []token, i int) bool {
	p := prev(toks, i)
	return p >= 0 && toks[p].kind == tokPunct && toks[p].text == "."
}

func isCall(toks []token, i int) bool {
	n := next(toks, i)
	return n >= 0 && toks[n].kind == tokPunct && toks[n].text == "("
}

// rewriteNotIn turns "operand not in [ ... ]" into "!(operand in [ ... ])"
// for simple operands. Anything else is left for the parser to reject.
func rewriteNotIn(toks []token) []token {
	for i := 0; i < len(toks); i++ {
		if toks[i].kind != tokIdent || toks[i].text != "not" {
			continue
		}
		in := next(toks, i)
		if in < 0 || toks[in].text != "in" {
			continue
		}
		lhs := prev(toks, i)
		if lhs < 0 || (toks[lhs].kind != tokIdent && toks[lhs].kind != tokNumber && toks[lhs].kind != tokString) {
			continue
		}
		open := next(toks, in)
		if open < 0 || toks[open].text != "[" {
			continue
		}
		closeIdx := matchBracket(toks, open)
		if closeIdx < 0 {
			continue
		}

		var out []token
		out = append(out, toks[:lhs]...)
		out = append(out, token{tokPunct, "!("}, toks[lhs], token{tokSpace, " "}, token{tokIdent, "in"}, token{tokSpace, " "})
		out = append(out, toks[open:closeIdx+1]...)
		out = append(out, token{tokPunct, ")"})
		out = append(out, toks[closeIdx+1:]...)
		toks = out
	}
	return toks
}

func matchBracket(toks []token, open int) int {
	depth := 0
	for j := open; j < len(toks); j++ {
		if toks[j].kind != tokPunct {
			continue
		}
		switch toks[j].text {
		case "[":
			depth++
		case "]":
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}
