package doctype

import (
	"github.com/beevik/etree"
	mapset "github.com/deckarep/golang-set/v2"
)

// FragmentIDAttr is the flattened form of cdr:id used in schemas.
const FragmentIDAttr = "cdr-id"

// FragmentElements returns the names of elements whose type declares the
// fragment id attribute.
func (s *SchemaSet) FragmentElements() mapset.Set[string] {
	allowed := make(map[string]bool)
	out := mapset.NewThreadUnsafeSet[string]()
	for name, types := range s.elements {
		for typ := range types.Iter() {
			if s.typeAllowsID(typ, allowed, mapset.NewThreadUnsafeSet[string]()) {
				out.Add(name)
				break
			}
		}
	}
	return out
}

func (s *SchemaSet) typeAllowsID(typ string, memo map[string]bool, visiting mapset.Set[string]) bool {
	if v, ok := memo[typ]; ok {
		return v
	}
	ct, ok := s.complex[typ]
	if !ok || !visiting.Add(typ) {
		return false
	}
	v := s.declaresID(ct, memo, visiting)
	memo[typ] = v
	return v
}

// declaresID searches the attribute declarations of a complex type,
// following attribute groups and derivation bases, without descending into
// nested element declarations.
func (s *SchemaSet) declaresID(node *etree.Element, memo map[string]bool, visiting mapset.Set[string]) bool {
	for _, child := range node.ChildElements() {
		switch child.Tag {
		case "attribute":
			if child.SelectAttrValue("name", "") == FragmentIDAttr ||
				localName(child.SelectAttrValue("ref", "")) == FragmentIDAttr {
				return true
			}
		case "attributeGroup":
			ref := localName(child.SelectAttrValue("ref", ""))
			if g, ok := s.attrGroups[ref]; ok && visiting.Add("@"+ref) {
				if s.declaresID(g, memo, visiting) {
					return true
				}
			}
		case "extension", "restriction":
			base := localName(child.SelectAttrValue("base", ""))
			if s.typeAllowsID(base, memo, visiting) {
				return true
			}
			if s.declaresID(child, memo, visiting) {
				return true
			}
		case "simpleContent", "complexContent":
			if s.declaresID(child, memo, visiting) {
				return true
			}
		}
	}
	return false
}
