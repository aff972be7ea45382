// Package expr implements the {{ expr }} template mini-language used by the
// generic and custom-YAML dezoomers (spec §4.7): integer arithmetic over
// named variables with an optional printf-style zero-padding suffix.
//
// Deliberately hand-rolled rather than built on a general templating
// library: the grammar is five operators and a colon suffix, and the error
// messages need to name the exact unknown variable or bad token, which a
// general-purpose template engine's errors don't give us for free.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// BadTemplateError reports a parse or evaluation failure, per spec §4.7 and
// the ConfigError.BadTemplate case of spec §7.
type BadTemplateError struct {
	Reason string
}

func (e *BadTemplateError) Error() string { return "bad template: " + e.Reason }

func badTemplate(format string, args ...any) error {
	return &BadTemplateError{Reason: fmt.Sprintf(format, args...)}
}

// Vars is the variable binding environment an expression evaluates against.
type Vars map[string]int64

// Template is one parsed {{ expr }} or {{ expr:width }} placeholder.
type Template struct {
	node  node
	width int // 0 means "no zero-padding"
}

// Eval evaluates the template against vars and formats the result,
// zero-padding to width digits if a format suffix was given.
func (t *Template) Eval(vars Vars) (string, error) {
	v, err := t.node.eval(vars)
	if err != nil {
		return "", err
	}
	s := strconv.FormatInt(v, 10)
	if t.width > 0 {
		neg := strings.HasPrefix(s, "-")
		if neg {
			s = s[1:]
		}
		for len(s) < t.width {
			s = "0" + s
		}
		if neg {
			s = "-" + s
		}
	}
	return s, nil
}

// Parse parses one expression body (the text between "{{" and "}}", without
// the delimiters): an arithmetic expression followed by an optional
// ":NN" zero-pad width.
func Parse(body string) (*Template, error) {
	expr, widthStr, hasWidth := strings.Cut(body, ":")
	width := 0
	if hasWidth {
		w, err := strconv.Atoi(strings.TrimSpace(widthStr))
		if err != nil || w < 0 {
			return nil, badTemplate("invalid format width %q", widthStr)
		}
		width = w
	}

	p := &parser{toks: tokenize(expr)}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, badTemplate("unexpected trailing tokens after %q", expr)
	}

	return &Template{node: n, width: width}, nil
}

// ExpandAll replaces every {{ ... }} placeholder in s, evaluating each
// against vars. Used directly by the generic dezoomer (simple {{X}}/{{Y}}
// templates) and by the custom YAML dezoomer's url_template.
func ExpandAll(s string, vars Vars) (string, error) {
	var out strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			out.WriteString(rest)
			return out.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return "", badTemplate("unterminated {{ in %q", s)
		}
		end += start

		out.WriteString(rest[:start])

		body := rest[start+2 : end]
		tmpl, err := Parse(body)
		if err != nil {
			return "", err
		}
		val, err := tmpl.Eval(vars)
		if err != nil {
			return "", err
		}
		out.WriteString(val)

		rest = rest[end+2:]
	}
}
