package doctype

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/xmlutil"
)

// DTD is a document type definition derived from a schema, used by legacy
// tools which cannot read XML Schema.
type DTD struct {
	Root   string
	decls  []*elementDecl
	byName map[string]*elementDecl
}

type elementDecl struct {
	name    string
	content dtdNode
	attrs   []attrDecl
}

type attrDecl struct {
	name  string
	typ   string
	deflt string
}

// dtdNode is one piece of a content model.
type dtdNode interface {
	model() string
	names(out *[]string)
}

type textNode struct{}

func (textNode) model() string        { return "(#PCDATA)" }
func (textNode) names(out *[]string) {}

type emptyNode struct{}

func (emptyNode) model() string        { return "EMPTY" }
func (emptyNode) names(out *[]string) {}

type mixedNode struct{ children []string }

func (m mixedNode) model() string {
	if len(m.children) == 0 {
		return "(#PCDATA)"
	}
	return "(#PCDATA | " + strings.Join(m.children, " | ") + ")*"
}

func (m mixedNode) names(out *[]string) { *out = append(*out, m.children...) }

type refNode struct {
	name   string
	occurs string
}

func (r refNode) model() string        { return r.name + r.occurs }
func (r refNode) names(out *[]string) { *out = append(*out, r.name) }

type groupNode struct {
	sep    string
	items  []dtdNode
	occurs string
}

func (g groupNode) model() string {
	parts := make([]string, 0, len(g.items))
	for _, item := range g.items {
		parts = append(parts, item.model())
	}
	return "(" + strings.Join(parts, g.sep) + ")" + g.occurs
}

func (g groupNode) names(out *[]string) {
	for _, item := range g.items {
		item.names(out)
	}
}

// elementModel wraps bare references, which DTD syntax requires to be
// parenthesized.
func elementModel(n dtdNode) string {
	if r, ok := n.(refNode); ok {
		return "(" + r.model() + ")"
	}
	return n.model()
}

// DTD walks the schema from its top-level element.
func (s *SchemaSet) DTD() (*DTD, error) {
	if len(s.topElements) == 0 {
		return nil, fmt.Errorf("%w: schema %s has no top-level element", errUnresolved, s.Top)
	}
	b := &dtdBuilder{set: s, queued: mapset.NewThreadUnsafeSet[string]()}
	root := s.topElements[0].SelectAttrValue("name", "")
	d := &DTD{Root: root, byName: make(map[string]*elementDecl)}

	b.enqueue(root)
	for len(b.queue) > 0 {
		name := b.queue[0]
		b.queue = b.queue[1:]

		decl, err := b.element(name)
		if err != nil {
			return nil, err
		}
		if name == root {
			decl.attrs = append(decl.attrs, attrDecl{
				name:  "xmlns:" + xmlutil.Prefix,
				typ:   "CDATA",
				deflt: fmt.Sprintf("#FIXED %q", xmlutil.Namespace),
			})
		}
		d.decls = append(d.decls, decl)
		d.byName[name] = decl
	}

	return d, nil
}

func (d *DTD) String() string {
	var sb strings.Builder
	for _, decl := range d.decls {
		fmt.Fprintf(&sb, "<!ELEMENT %s %s>\n", decl.name, elementModel(decl.content))
		if len(decl.attrs) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "<!ATTLIST %s", decl.name)
		for _, a := range decl.attrs {
			fmt.Fprintf(&sb, " %s %s %s", a.name, a.typ, a.deflt)
		}
		sb.WriteString(">\n")
	}
	return sb.String()
}

// Children lists the child elements the content model of parent allows, in
// schema order. An empty parent means the root element.
func (d *DTD) Children(parent string) ([]string, error) {
	if parent == "" {
		parent = d.Root
	}
	decl, ok := d.byName[parent]
	if !ok {
		return nil, fmt.Errorf("definition of element %s not found", parent)
	}
	var names []string
	decl.content.names(&names)
	out := names[:0]
	for _, n := range names {
		if n != "CdrDocCtl" {
			out = append(out, n)
		}
	}
	return out, nil
}

type dtdBuilder struct {
	set    *SchemaSet
	queue  []string
	queued mapset.Set[string]
}

func (b *dtdBuilder) enqueue(name string) {
	if b.queued.Add(name) {
		b.queue = append(b.queue, name)
	}
}

func (b *dtdBuilder) element(name string) (*elementDecl, error) {
	decl := &elementDecl{name: name, content: textNode{}}
	types, ok := b.set.elements[name]
	if !ok {
		return nil, fmt.Errorf("%w: element %s", errUnresolved, name)
	}
	ts := sortedTypes(types)
	if len(ts) == 0 {
		return decl, nil
	}
	ct, ok := b.set.complex[ts[0]]
	if !ok {
		return decl, nil
	}

	content, attrs, err := b.complexType(ct, mapset.NewThreadUnsafeSet[string]())
	if err != nil {
		return nil, err
	}
	decl.content = content
	decl.attrs = attrs
	return decl, nil
}

func (b *dtdBuilder) complexType(ct *etree.Element, seen mapset.Set[string]) (dtdNode, []attrDecl, error) {
	mixed := ct.SelectAttrValue("mixed", "") == "true"
	var content dtdNode
	var attrs []attrDecl

	for _, child := range ct.ChildElements() {
		switch child.Tag {
		case "sequence", "choice", "all", "group":
			n, err := b.particle(child)
			if err != nil {
				return nil, nil, err
			}
			content = n
		case "simpleContent":
			content = textNode{}
			for _, d := range child.ChildElements() {
				attrs = append(attrs, b.attributes(d)...)
			}
		case "complexContent":
			if child.SelectAttrValue("mixed", "") == "true" {
				mixed = true
			}
			n, a, err := b.derived(child, seen)
			if err != nil {
				return nil, nil, err
			}
			content = n
			attrs = append(attrs, a...)
		}
	}
	attrs = append(attrs, b.attributes(ct)...)

	if mixed {
		var names []string
		if content != nil {
			content.names(&names)
		}
		return mixedNode{children: dedup(names)}, attrs, nil
	}
	if content == nil {
		return emptyNode{}, attrs, nil
	}
	return content, attrs, nil
}

// derived handles complexContent extension and restriction; an extension
// appends its particle to the base type's content.
func (b *dtdBuilder) derived(cc *etree.Element, seen mapset.Set[string]) (dtdNode, []attrDecl, error) {
	for _, d := range cc.ChildElements() {
		if d.Tag != "extension" && d.Tag != "restriction" {
			continue
		}
		var items []dtdNode
		var attrs []attrDecl

		base := localName(d.SelectAttrValue("base", ""))
		if d.Tag == "extension" {
			if bt, ok := b.set.complex[base]; ok && seen.Add(base) {
				n, a, err := b.complexType(bt, seen)
				if err != nil {
					return nil, nil, err
				}
				if _, empty := n.(emptyNode); !empty {
					items = append(items, n)
				}
				attrs = append(attrs, a...)
			}
		}
		for _, p := range d.ChildElements() {
			switch p.Tag {
			case "sequence", "choice", "all", "group":
				n, err := b.particle(p)
				if err != nil {
					return nil, nil, err
				}
				items = append(items, n)
			}
		}
		attrs = append(attrs, b.attributes(d)...)

		switch len(items) {
		case 0:
			return nil, attrs, nil
		case 1:
			return items[0], attrs, nil
		}
		return groupNode{sep: ", ", items: items}, attrs, nil
	}
	return nil, nil, nil
}

func (b *dtdBuilder) particle(el *etree.Element) (dtdNode, error) {
	occurs := occurrence(el)
	switch el.Tag {
	case "element":
		name := el.SelectAttrValue("name", "")
		if name == "" {
			name = localName(el.SelectAttrValue("ref", ""))
		}
		b.enqueue(name)
		return refNode{name: name, occurs: occurs}, nil
	case "group":
		ref := localName(el.SelectAttrValue("ref", ""))
		g, ok := b.set.groups[ref]
		if !ok {
			return nil, fmt.Errorf("%w: group %s", errUnresolved, ref)
		}
		for _, child := range g.ChildElements() {
			switch child.Tag {
			case "sequence", "choice", "all":
				n, err := b.particle(child)
				if err != nil {
					return nil, err
				}
				if gn, ok := n.(groupNode); ok && occurs != "" {
					gn.occurs = occurs
					return gn, nil
				}
				return n, nil
			}
		}
		return nil, fmt.Errorf("%w: group %s is empty", errUnresolved, ref)
	case "sequence", "choice", "all":
		sep := ", "
		if el.Tag == "choice" {
			sep = " | "
		}
		g := groupNode{sep: sep, occurs: occurs}
		for _, child := range el.ChildElements() {
			switch child.Tag {
			case "element", "group", "sequence", "choice":
				n, err := b.particle(child)
				if err != nil {
					return nil, err
				}
				g.items = append(g.items, n)
			}
		}
		if len(g.items) == 0 {
			return emptyNode{}, nil
		}
		return g, nil
	}
	return nil, fmt.Errorf("%w: particle %s", errUnresolved, el.Tag)
}

func (b *dtdBuilder) attributes(parent *etree.Element) []attrDecl {
	var out []attrDecl
	for _, a := range parent.ChildElements() {
		switch a.Tag {
		case "attribute":
			name := a.SelectAttrValue("name", "")
			decl := a
			if name == "" {
				name = localName(a.SelectAttrValue("ref", ""))
				if top, ok := b.set.attributes[name]; ok {
					decl = top
				}
			}
			out = append(out, attrDecl{
				name:  xmlutil.UnflattenName(name),
				typ:   b.attrType(decl),
				deflt: attrDefault(a),
			})
		case "attributeGroup":
			if g, ok := b.set.attrGroups[localName(a.SelectAttrValue("ref", ""))]; ok {
				out = append(out, b.attributes(g)...)
			}
		}
	}
	return out
}

// attrType writes an enumeration as a DTD enumerated type when every value
// is a name token, and falls back to CDATA otherwise.
func (b *dtdBuilder) attrType(a *etree.Element) string {
	values := b.set.attrValues(a)
	if len(values) == 0 {
		return "CDATA"
	}
	for _, v := range values {
		if !IsNMToken(v) {
			return "CDATA"
		}
	}
	return "(" + strings.Join(values, "|") + ")"
}

func attrDefault(a *etree.Element) string {
	if a.SelectAttrValue("use", "") == "required" {
		return "#REQUIRED"
	}
	if v := a.SelectAttr("fixed"); v != nil {
		return fmt.Sprintf("#FIXED %q", v.Value)
	}
	if v := a.SelectAttr("default"); v != nil {
		return fmt.Sprintf("%q", v.Value)
	}
	return "#IMPLIED"
}

func occurrence(el *etree.Element) string {
	min := el.SelectAttrValue("minOccurs", "1")
	max := el.SelectAttrValue("maxOccurs", "1")
	many := max == "unbounded" || (max != "1" && max != "0")
	switch {
	case min == "0" && many:
		return "*"
	case min == "0":
		return "?"
	case many:
		return "+"
	}
	return ""
}

func dedup(names []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := names[:0]
	for _, n := range names {
		if seen.Add(n) {
			out = append(out, n)
		}
	}
	return out
}
