package fit

import (
	"fmt"
	"strings"
)

// Formula is a parsed model specification of the form
//
//	response ~ term + term + var:var + (1 + slope | group)
//
// Fixed terms are main effects or ":"-joined interactions. At most one
// parenthesized random term is allowed; it names the grouping variable and
// optional random slopes. The parser is purely syntactic; variable names are
// checked against the panel's column space when the design schema is built.
type Formula struct {
	Response string
	Fixed    []Term
	Random   *RandomTerm
}

// Term is one fixed-effect term: a single variable or an interaction.
type Term struct {
	Variables []string
}

func (t Term) String() string {
	return strings.Join(t.Variables, ":")
}

// RandomTerm is the per-group random part, e.g. (1 + acute | cluster).
type RandomTerm struct {
	Intercept bool
	Slopes    []string
	Group     string
}

// ParseFormula parses a model specification string.
func ParseFormula(s string) (Formula, error) {
	parts := strings.Split(s, "~")
	if len(parts) != 2 {
		return Formula{}, fmt.Errorf("formula %q must contain exactly one ~", s)
	}

	f := Formula{Response: strings.TrimSpace(parts[0])}
	if !isIdentifier(f.Response) {
		return Formula{}, fmt.Errorf("invalid response %q", f.Response)
	}

	rhs, random, err := extractRandom(parts[1])
	if err != nil {
		return Formula{}, err
	}
	f.Random = random

	seen := make(map[string]bool)
	for _, tok := range strings.Split(rhs, "+") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		term, err := parseTerm(tok)
		if err != nil {
			return Formula{}, err
		}
		if seen[term.String()] {
			return Formula{}, fmt.Errorf("duplicate term %q", term.String())
		}
		seen[term.String()] = true
		f.Fixed = append(f.Fixed, term)
	}
	if len(f.Fixed) == 0 {
		return Formula{}, fmt.Errorf("formula %q has no fixed-effect terms", s)
	}
	return f, nil
}

// extractRandom removes the parenthesized random term from the right-hand
// side and returns the remaining fixed-effect text.
func extractRandom(rhs string) (string, *RandomTerm, error) {
	open := strings.Index(rhs, "(")
	if open < 0 {
		if strings.Contains(rhs, ")") || strings.Contains(rhs, "|") {
			return "", nil, fmt.Errorf("stray ) or | outside a random term")
		}
		return rhs, nil, nil
	}
	rel := strings.Index(rhs[open:], ")")
	if rel < 0 {
		return "", nil, fmt.Errorf("unbalanced ( in formula")
	}
	inner := rhs[open+1 : open+rel]
	rest := rhs[:open] + rhs[open+rel+1:]
	if strings.Contains(rest, "(") {
		return "", nil, fmt.Errorf("at most one random term is supported")
	}

	random, err := parseRandom(inner)
	if err != nil {
		return "", nil, err
	}
	return rest, random, nil
}

func parseRandom(inner string) (*RandomTerm, error) {
	halves := strings.Split(inner, "|")
	if len(halves) != 2 {
		return nil, fmt.Errorf("random term %q must be of the form (effects | group)", inner)
	}
	group := strings.TrimSpace(halves[1])
	if !isIdentifier(group) {
		return nil, fmt.Errorf("invalid grouping variable %q", group)
	}

	r := &RandomTerm{Intercept: true, Group: group}
	for _, tok := range strings.Split(halves[0], "+") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "" || tok == "1":
			// intercept already on
		case tok == "0" || tok == "-1":
			r.Intercept = false
		case isIdentifier(tok):
			r.Slopes = append(r.Slopes, tok)
		default:
			return nil, fmt.Errorf("invalid random effect %q", tok)
		}
	}
	if !r.Intercept && len(r.Slopes) == 0 {
		return nil, fmt.Errorf("random term %q declares no effects", inner)
	}
	return r, nil
}

func parseTerm(tok string) (Term, error) {
	var t Term
	for _, v := range strings.Split(tok, ":") {
		v = strings.TrimSpace(v)
		if !isIdentifier(v) {
			return Term{}, fmt.Errorf("invalid variable %q in term %q", v, tok)
		}
		t.Variables = append(t.Variables, v)
	}
	return t, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
