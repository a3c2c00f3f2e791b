package vobject

import (
	"fmt"
	"strings"
)

// Param is a single property parameter. Value is kept exactly as written,
// including surrounding quotes and comma separated lists.
type Param struct {
	Name  string
	Value string
}

// Property is one content line: [group.]NAME[;PARAM=VALUE...]:VALUE
type Property struct {
	Group  string
	Name   string
	Params []Param
	Value  string
}

// NewProperty creates a parameterless property.
func NewProperty(name, value string) *Property {
	return &Property{Name: strings.ToUpper(name), Value: value}
}

// Param returns the unquoted value of the first parameter with the given name.
func (p *Property) Param(name string) (string, bool) {
	for _, param := range p.Params {
		if strings.EqualFold(param.Name, name) {
			return strings.Trim(param.Value, `"`), true
		}
	}
	return "", false
}

// String renders the unfolded content line.
func (p *Property) String() string {
	var b strings.Builder
	if p.Group != "" {
		b.WriteString(p.Group)
		b.WriteByte('.')
	}
	b.WriteString(p.Name)
	for _, param := range p.Params {
		b.WriteByte(';')
		b.WriteString(param.Name)
		b.WriteByte('=')
		b.WriteString(param.Value)
	}
	b.WriteByte(':')
	b.WriteString(p.Value)
	return b.String()
}

func (p *Property) clone() *Property {
	c := *p
	c.Params = append([]Param(nil), p.Params...)
	return &c
}

// Component is a BEGIN/END block with its properties and nested components,
// in document order.
type Component struct {
	Name     string
	Props    []*Property
	Children []*Component
}

// NewComponent returns an empty component.
func NewComponent(name string) *Component {
	return &Component{Name: strings.ToUpper(name)}
}

// Get returns the first property with the given name, or nil.
func (c *Component) Get(name string) *Property {
	for _, p := range c.Props {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

// Value returns the value of the first property with the given name.
func (c *Component) Value(name string) string {
	if p := c.Get(name); p != nil {
		return p.Value
	}
	return ""
}

// Remove deletes every property with the given name.
func (c *Component) Remove(name string) {
	kept := c.Props[:0]
	for _, p := range c.Props {
		if !strings.EqualFold(p.Name, name) {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(c.Props); i++ {
		c.Props[i] = nil
	}
	c.Props = kept
}

// Set replaces all properties named like p with p. The first occurrence keeps
// its position; a new property is appended.
func (c *Component) Set(p *Property) {
	for i, existing := range c.Props {
		if strings.EqualFold(existing.Name, p.Name) {
			c.Props[i] = p
			rest := c.Props[i+1:]
			c.Props = c.Props[:i+1]
			for _, r := range rest {
				if !strings.EqualFold(r.Name, p.Name) {
					c.Props = append(c.Props, r)
				}
			}
			return
		}
	}
	c.Props = append(c.Props, p)
}

// Walk visits c and all nested components depth first.
func (c *Component) Walk(fn func(*Component)) {
	fn(c)
	for _, child := range c.Children {
		child.Walk(fn)
	}
}

// Clone returns a deep copy.
func (c *Component) Clone() *Component {
	out := &Component{Name: c.Name}
	out.Props = make([]*Property, len(c.Props))
	for i, p := range c.Props {
		out.Props[i] = p.clone()
	}
	out.Children = make([]*Component, len(c.Children))
	for i, child := range c.Children {
		out.Children[i] = child.Clone()
	}
	return out
}

// Lines returns the unfolded content lines of c including BEGIN and END.
func (c *Component) Lines() []string {
	lines := []string{"BEGIN:" + c.Name}
	for _, p := range c.Props {
		lines = append(lines, p.String())
	}
	for _, child := range c.Children {
		lines = append(lines, child.Lines()...)
	}
	return append(lines, "END:"+c.Name)
}

// Encode serializes c with CRLF line endings, folding lines longer than
// 75 octets.
func (c *Component) Encode() string {
	var b strings.Builder
	for _, line := range c.Lines() {
		writeFolded(&b, line)
	}
	return b.String()
}

func (c *Component) String() string {
	return c.Encode()
}

const maxLineOctets = 75

func writeFolded(b *strings.Builder, line string) {
	limit := maxLineOctets
	for len(line) > limit {
		cut := limit
		// never split a UTF-8 sequence
		for cut > 0 && line[cut]&0xC0 == 0x80 {
			cut--
		}
		if cut == 0 {
			// not UTF-8, fold at the octet limit
			cut = limit
		}
		b.WriteString(line[:cut])
		b.WriteString("\r\n ")
		line = line[cut:]
		limit = maxLineOctets - 1
	}
	b.WriteString(line)
	b.WriteString("\r\n")
}

// ParseError reports malformed input.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("vobject: line %d: %s", e.Line, e.Msg)
	}
	return "vobject: " + e.Msg
}
