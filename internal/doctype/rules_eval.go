package doctype

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/xmlutil"
	"github.com/emrgen/cdr/internal/xslt"
)

const ruleSetPrefix = "rule-set:"

var ErrUnsupportedTest = errors.New("unsupported rule expression")

// RuleSetFromStylesheet recovers the rule set a stylesheet was generated
// from by Stylesheet.
func RuleSetFromStylesheet(sheet *etree.Element) (RuleSet, error) {
	id := sheet.SelectAttrValue("id", "")
	name, ok := strings.CutPrefix(id, ruleSetPrefix)
	if !ok {
		return RuleSet{}, fmt.Errorf("stylesheet %q is not a rule set", id)
	}
	rs := RuleSet{Name: name}
	for _, tmpl := range sheet.SelectElements("template") {
		match := tmpl.SelectAttrValue("match", "")
		if match == "/" || match == "text()" {
			continue
		}
		rule := Rule{Context: match}
		for _, cond := range tmpl.SelectElements("if") {
			test := cond.SelectAttrValue("test", "")
			inner, ok := strings.CutPrefix(test, "not(")
			if !ok || !strings.HasSuffix(inner, ")") {
				return RuleSet{}, fmt.Errorf("rule set %s: unexpected test %q", name, test)
			}
			msg := ""
			if e := cond.SelectElement("Err"); e != nil {
				msg = strings.TrimSpace(e.Text())
			}
			rule.Asserts = append(rule.Asserts, Assert{Test: strings.TrimSuffix(inner, ")"), Message: msg})
		}
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

// CompileRuleSet is an xslt.Compiler for rule set stylesheets.
func CompileRuleSet(sheet *etree.Element) (xslt.TransformFunc, error) {
	rs, err := RuleSetFromStylesheet(sheet)
	if err != nil {
		return nil, err
	}
	for _, rule := range rs.Rules {
		for _, a := range rule.Asserts {
			if _, err := parseTest(a.Test); err != nil {
				return nil, fmt.Errorf("rule %s: %w", rule.Context, err)
			}
		}
	}
	return rs.Transform, nil
}

// RegisterRuleSets lets the engine run the stylesheets generated for rule
// sets without an XSLT processor.
func RegisterRuleSets(e *xslt.FuncEngine) {
	e.RegisterCompiler(ruleSetPrefix, CompileRuleSet)
}

// Transform evaluates the rule set the way its generated stylesheet does:
// every element is checked against the first rule whose context matches
// it, and each failed assertion yields an Err element.
func (r RuleSet) Transform(ctx context.Context, doc *etree.Document, params map[string]string, res xslt.Resolver) (*etree.Document, []xslt.Message, error) {
	owner := make(map[*etree.Element]int)
	for i, rule := range r.Rules {
		for _, pattern := range strings.Split(rule.Context, "|") {
			pattern = strings.TrimSpace(pattern)
			if !strings.HasPrefix(pattern, "/") {
				pattern = "//" + pattern
			}
			path, err := etree.CompilePath(pattern)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: context %q", ErrUnsupportedTest, rule.Context)
			}
			for _, el := range doc.FindElementsPath(path) {
				if _, seen := owner[el]; !seen {
					owner[el] = i
				}
			}
		}
	}

	out := etree.NewDocument()
	errs := out.CreateElement("Errors")
	if doc.Root() == nil {
		return out, nil, nil
	}
	var walkErr error
	xmlutil.Walk(doc.Root(), func(el *etree.Element) bool {
		if walkErr != nil {
			return false
		}
		i, ok := owner[el]
		if !ok {
			return true
		}
		for _, a := range r.Rules[i].Asserts {
			t, err := parseTest(a.Test)
			if err != nil {
				walkErr = err
				return false
			}
			pass, err := t.eval(el)
			if err != nil {
				walkErr = err
				return false
			}
			if !pass {
				e := errs.CreateElement("Err")
				e.CreateAttr("eref", el.SelectAttrValue(xmlutil.LocatorAttr, ""))
				e.SetText(a.Message)
			}
		}
		return true
	})
	if walkErr != nil {
		return nil, nil, fmt.Errorf("rule set %s: %w", r.Name, walkErr)
	}
	return out, nil, nil
}

// test is one node of a parsed assertion. The supported expressions are
// not(), and, or, string-length(), count(), comparisons against numbers
// and quoted strings, and bare paths testing for existence.
type test interface {
	eval(el *etree.Element) (bool, error)
}

type notTest struct{ t test }

func (n notTest) eval(el *etree.Element) (bool, error) {
	ok, err := n.t.eval(el)
	return !ok, err
}

type boolTest struct {
	and   bool
	parts []test
}

func (b boolTest) eval(el *etree.Element) (bool, error) {
	for _, p := range b.parts {
		ok, err := p.eval(el)
		if err != nil {
			return false, err
		}
		if ok != b.and {
			return ok, nil
		}
	}
	return b.and, nil
}

type existsTest struct{ path string }

func (e existsTest) eval(el *etree.Element) (bool, error) {
	vals, err := selectValues(el, e.path)
	return len(vals) > 0, err
}

type compareTest struct {
	fn    string // "", "string-length" or "count"
	path  string
	op    string
	value string
	num   bool
}

func (c compareTest) eval(el *etree.Element) (bool, error) {
	vals, err := selectValues(el, c.path)
	if err != nil {
		return false, err
	}
	switch c.fn {
	case "count":
		return compareNum(float64(len(vals)), c.op, c.value)
	case "string-length":
		s := ""
		if len(vals) > 0 {
			s = vals[0]
		}
		return compareNum(float64(len([]rune(s))), c.op, c.value)
	}
	// a node-set comparison holds when any node satisfies it
	for _, v := range vals {
		var ok bool
		if c.num {
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			ok, err = compareNum(n, c.op, c.value)
			if err != nil {
				return false, err
			}
		} else {
			switch c.op {
			case "=":
				ok = v == c.value
			case "!=":
				ok = v != c.value
			default:
				return false, fmt.Errorf("%w: %s on a string", ErrUnsupportedTest, c.op)
			}
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func compareNum(n float64, op, value string) (bool, error) {
	want, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a number", ErrUnsupportedTest, value)
	}
	switch op {
	case "=":
		return n == want, nil
	case "!=":
		return n != want, nil
	case "<":
		return n < want, nil
	case "<=":
		return n <= want, nil
	case ">":
		return n > want, nil
	case ">=":
		return n >= want, nil
	}
	return false, fmt.Errorf("%w: operator %s", ErrUnsupportedTest, op)
}

// selectValues returns the string values of the nodes a relative path
// selects: ".", "@attr", "path" or "path/@attr".
func selectValues(el *etree.Element, path string) ([]string, error) {
	if path == "." {
		return []string{xmlutil.TextContent(el)}, nil
	}
	elemPath, attr := path, ""
	if i := strings.LastIndex(path, "@"); i >= 0 && (i == 0 || path[i-1] == '/') && !strings.Contains(path[i:], "]") {
		elemPath, attr = strings.TrimSuffix(path[:i], "/"), path[i+1:]
	}
	targets := []*etree.Element{el}
	if elemPath != "" && elemPath != "." {
		p, err := etree.CompilePath(elemPath)
		if err != nil {
			return nil, fmt.Errorf("%w: path %q", ErrUnsupportedTest, path)
		}
		targets = el.FindElementsPath(p)
	}

	var out []string
	for _, t := range targets {
		if attr == "" {
			out = append(out, xmlutil.TextContent(t))
			continue
		}
		if a := t.SelectAttr(attr); a != nil {
			out = append(out, a.Value)
		}
	}
	return out, nil
}

var compareOps = []string{"!=", "<=", ">=", "=", "<", ">"}

func parseTest(s string) (test, error) {
	s = strings.TrimSpace(unescapeOps(s))
	if s == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrUnsupportedTest)
	}
	for _, kw := range []string{" or ", " and "} {
		if parts := splitTop(s, kw); len(parts) > 1 {
			b := boolTest{and: kw == " and "}
			for _, p := range parts {
				t, err := parseTest(p)
				if err != nil {
					return nil, err
				}
				b.parts = append(b.parts, t)
			}
			return b, nil
		}
	}
	if inner, ok := call(s, "not"); ok {
		t, err := parseTest(inner)
		if err != nil {
			return nil, err
		}
		return notTest{t}, nil
	}
	if inner, ok := call(s, ""); ok {
		return parseTest(inner)
	}

	for _, op := range compareOps {
		parts := splitTop(s, op)
		if len(parts) != 2 {
			continue
		}
		lhs, rhs := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		c := compareTest{op: op, path: lhs}
		for _, fn := range []string{"string-length", "count"} {
			if inner, ok := call(lhs, fn); ok {
				c.fn, c.path = fn, strings.TrimSpace(inner)
				if c.path == "" {
					c.path = "."
				}
			}
		}
		switch {
		case len(rhs) >= 2 && (rhs[0] == '\'' || rhs[0] == '"') && rhs[len(rhs)-1] == rhs[0]:
			c.value = rhs[1 : len(rhs)-1]
		default:
			if _, err := strconv.ParseFloat(rhs, 64); err != nil {
				return nil, fmt.Errorf("%w: %q", ErrUnsupportedTest, s)
			}
			c.value, c.num = rhs, true
		}
		if c.fn != "" && !c.num {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedTest, s)
		}
		return c, nil
	}

	if strings.ContainsAny(s, "() ") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTest, s)
	}
	return existsTest{path: s}, nil
}

func unescapeOps(s string) string {
	return strings.NewReplacer("&gt;", ">", "&lt;", "<", "&amp;", "&").Replace(s)
}

// call returns the argument text when s is a single call of fn.
func call(s, fn string) (string, bool) {
	inner, ok := strings.CutPrefix(s, fn+"(")
	if !ok || !strings.HasSuffix(inner, ")") {
		return "", false
	}
	inner = inner[:len(inner)-1]
	depth := 0
	for _, r := range inner {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "", false
			}
		}
	}
	return inner, depth == 0
}

// splitTop splits s on sep where sep is outside parentheses, brackets and
// quotes.
func splitTop(s, sep string) []string {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			// "<" must not split "<=" and "=" must not split "!=" or ">="
			if len(sep) == 1 && (i+1 < len(s) && s[i+1] == '=' || i > 0 && strings.IndexByte("!<>", s[i-1]) >= 0) {
				continue
			}
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	return append(parts, s[start:])
}
