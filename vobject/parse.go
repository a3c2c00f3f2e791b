package vobject

import (
	"strings"
	"unicode/utf8"
)

type contentLine struct {
	num  int
	text string
}

// unfold joins continuation lines and drops blank lines. Both CRLF and bare
// LF line endings are accepted.
func unfold(text string) []contentLine {
	var out []contentLine
	for i, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSuffix(raw, "\r")
		if len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t') && len(out) > 0 {
			out[len(out)-1].text += raw[1:]
			continue
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		out = append(out, contentLine{num: i + 1, text: raw})
	}
	return out
}

// Parse reads all top-level components from text.
func Parse(text string) ([]*Component, error) {
	var (
		roots []*Component
		stack []*Component
	)

	if !utf8.ValidString(text) {
		return nil, &ParseError{Msg: "invalid UTF-8"}
	}

	for _, line := range unfold(text) {
		prop, err := parseLine(line)
		if err != nil {
			return nil, err
		}

		switch {
		case prop.Group == "" && prop.Name == "BEGIN":
			name := strings.ToUpper(strings.TrimSpace(prop.Value))
			if name == "" {
				return nil, &ParseError{Line: line.num, Msg: "BEGIN without component name"}
			}
			c := NewComponent(name)
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, c)
			} else {
				roots = append(roots, c)
			}
			stack = append(stack, c)

		case prop.Group == "" && prop.Name == "END":
			name := strings.ToUpper(strings.TrimSpace(prop.Value))
			if len(stack) == 0 {
				return nil, &ParseError{Line: line.num, Msg: "END:" + name + " without BEGIN"}
			}
			top := stack[len(stack)-1]
			if top.Name != name {
				return nil, &ParseError{Line: line.num, Msg: "END:" + name + " does not close " + top.Name}
			}
			stack = stack[:len(stack)-1]

		default:
			if len(stack) == 0 {
				return nil, &ParseError{Line: line.num, Msg: "property outside of component"}
			}
			top := stack[len(stack)-1]
			top.Props = append(top.Props, prop)
		}
	}

	if len(stack) > 0 {
		return nil, &ParseError{Msg: "unterminated component " + stack[len(stack)-1].Name}
	}
	if len(roots) == 0 {
		return nil, &ParseError{Msg: "no component found"}
	}
	return roots, nil
}

// ParseComponent parses text that must contain exactly one top-level component.
func ParseComponent(text string) (*Component, error) {
	roots, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if len(roots) != 1 {
		return nil, &ParseError{Msg: "expected a single component"}
	}
	return roots[0], nil
}

func isNameChar(c byte) bool {
	return c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func parseLine(line contentLine) (*Property, error) {
	s := line.text
	bad := func(msg string) error {
		return &ParseError{Line: line.num, Msg: msg}
	}

	i := 0
	for i < len(s) && (isNameChar(s[i]) || s[i] == '.') {
		i++
	}
	if i == 0 || i == len(s) {
		return nil, bad("invalid content line")
	}

	prop := &Property{}
	name := s[:i]
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		prop.Group, name = name[:dot], name[dot+1:]
	}
	if name == "" {
		return nil, bad("empty property name")
	}
	prop.Name = strings.ToUpper(name)

	for s[i] == ';' {
		i++
		start := i
		for i < len(s) && isNameChar(s[i]) {
			i++
		}
		if i == start || i >= len(s) || s[i] != '=' {
			return nil, bad("malformed parameter")
		}
		pname := strings.ToUpper(s[start:i])
		i++

		vstart := i
		for i < len(s) && s[i] != ';' && s[i] != ':' {
			if s[i] == '"' {
				end := strings.IndexByte(s[i+1:], '"')
				if end < 0 {
					return nil, bad("unterminated quoted parameter")
				}
				i += end + 2
				continue
			}
			i++
		}
		if i >= len(s) {
			return nil, bad("missing value separator")
		}
		prop.Params = append(prop.Params, Param{Name: pname, Value: s[vstart:i]})
	}

	if s[i] != ':' {
		return nil, bad("missing value separator")
	}
	prop.Value = s[i+1:]
	return prop, nil
}
