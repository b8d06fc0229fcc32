package doctype

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	mapset "github.com/deckarep/golang-set/v2"
)

// compatibility and specials blocks are not name characters
var nonNameRange = regexp.MustCompile(`[\x{F900}-\x{FFFE}\x{20DD}-\x{20E0}]`)

// IsNMToken reports whether every character of s may appear in an XML
// name token, so an enumeration of such values can be written as a DTD
// enumerated attribute type.
func IsNMToken(s string) bool {
	if s == "" || nonNameRange.MatchString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case unicode.In(r, unicode.Ll, unicode.Lu, unicode.Lo, unicode.Lt, unicode.Nl):
		case unicode.In(r, unicode.Mc, unicode.Me, unicode.Mn, unicode.Lm, unicode.Nd):
		case r == '.', r == '-', r == '_', r == ':', r == '·':
		default:
			return false
		}
	}
	return true
}

// ValidValues returns the enumerated values allowed for elements (keyed by
// element name) and attributes (keyed by "@name").
func (s *SchemaSet) ValidValues() map[string][]string {
	out := make(map[string][]string)

	for name, types := range s.elements {
		for _, typ := range sortedTypes(types) {
			if values := s.typeValues(typ, mapset.NewThreadUnsafeSet[string]()); len(values) > 0 {
				out[name] = values
				break
			}
		}
	}

	var attrs []*etree.Element
	for _, a := range s.attributes {
		attrs = append(attrs, a)
	}
	for _, ct := range s.complex {
		attrs = append(attrs, descendants(ct, "attribute")...)
	}
	for _, g := range s.attrGroups {
		attrs = append(attrs, descendants(g, "attribute")...)
	}
	for _, a := range attrs {
		name := a.SelectAttrValue("name", "")
		if name == "" {
			continue
		}
		if values := s.attrValues(a); len(values) > 0 {
			out["@"+name] = values
		}
	}

	return out
}

func (s *SchemaSet) attrValues(a *etree.Element) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	if inline := a.SelectElement("simpleType"); inline != nil {
		return s.simpleValues(inline, seen)
	}
	return s.typeValues(localName(a.SelectAttrValue("type", "")), seen)
}

// typeValues resolves the enumeration behind a named type. Complex types
// with simple content contribute the enumeration of their base.
func (s *SchemaSet) typeValues(typ string, seen mapset.Set[string]) []string {
	if !seen.Add(typ) {
		return nil
	}
	if st, ok := s.simple[typ]; ok {
		return s.simpleValues(st, seen)
	}
	if ct, ok := s.complex[typ]; ok {
		if sc := ct.SelectElement("simpleContent"); sc != nil {
			for _, d := range sc.ChildElements() {
				if base := localName(d.SelectAttrValue("base", "")); base != "" {
					return s.typeValues(base, seen)
				}
			}
		}
	}
	return nil
}

func (s *SchemaSet) simpleValues(st *etree.Element, seen mapset.Set[string]) []string {
	if r := st.SelectElement("restriction"); r != nil {
		var values []string
		for _, e := range r.SelectElements("enumeration") {
			values = append(values, e.SelectAttrValue("value", ""))
		}
		if len(values) > 0 {
			return values
		}
		if inline := r.SelectElement("simpleType"); inline != nil {
			return s.simpleValues(inline, seen)
		}
		return s.typeValues(localName(r.SelectAttrValue("base", "")), seen)
	}
	if u := st.SelectElement("union"); u != nil {
		var values []string
		for _, member := range strings.Fields(u.SelectAttrValue("memberTypes", "")) {
			values = append(values, s.typeValues(localName(member), seen)...)
		}
		for _, inline := range u.SelectElements("simpleType") {
			values = append(values, s.simpleValues(inline, seen)...)
		}
		return values
	}
	return nil
}

func descendants(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			out = append(out, child)
		}
		if child.Tag != "element" {
			out = append(out, descendants(child, tag)...)
		}
	}
	return out
}

func sortedTypes(types mapset.Set[string]) []string {
	out := types.ToSlice()
	sort.Strings(out)
	return out
}
