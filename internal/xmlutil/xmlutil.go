// Package xmlutil holds tree helpers shared by validation, linking and
// indexing.
package xmlutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const (
	// Namespace is the URI bound to the cdr prefix.
	Namespace = "cips.nci.nih.gov/cdr"
	Prefix    = "cdr"

	// LocatorAttr carries the breadcrumb id added for validation.
	LocatorAttr = "cdr-eid"
)

var ErrEmptyDocument = errors.New("document has no root element")

// Parse reads a document, failing when it is not well-formed or empty.
func Parse(xml string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

// Serialize writes a document back to text.
func Serialize(doc *etree.Document) (string, error) {
	return doc.WriteToString()
}

// SerializeElement writes a single element and its descendants.
func SerializeElement(el *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	return doc.WriteToString()
}

// IsCdrAttr reports whether an attribute lives in the cdr namespace under
// the given local name.
func IsCdrAttr(a etree.Attr, local string) bool {
	return a.Space == Prefix && a.Key == local
}

// CdrAttr returns the value of a cdr-prefixed attribute, or "".
func CdrAttr(el *etree.Element, local string) string {
	for _, a := range el.Attr {
		if IsCdrAttr(a, local) {
			return a.Value
		}
	}
	return ""
}

// SetCdrAttr sets a cdr-prefixed attribute.
func SetCdrAttr(el *etree.Element, local, value string) {
	el.CreateAttr(Prefix+":"+local, value)
}

// Walk visits el and every descendant element in document order. The walk
// stops below an element when fn returns false.
func Walk(el *etree.Element, fn func(*etree.Element) bool) {
	if !fn(el) {
		return
	}
	for _, child := range el.ChildElements() {
		Walk(child, fn)
	}
}

// TextContent concatenates every character data node below el.
func TextContent(el *etree.Element) string {
	var sb strings.Builder
	textContent(el, &sb)
	return sb.String()
}

func textContent(el *etree.Element, sb *strings.Builder) {
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			sb.WriteString(t.Data)
		case *etree.Element:
			textContent(t, sb)
		}
	}
}

// StripEditorPIs removes XMetaL processing instructions anywhere in the
// document and reports whether any were found.
func StripEditorPIs(doc *etree.Document) bool {
	return stripPIs(&doc.Element)
}

func stripPIs(el *etree.Element) bool {
	found := false
	kept := el.Child[:0]
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.ProcInst:
			if strings.HasPrefix(t.Target, "xm-") {
				found = true
				continue
			}
		case *etree.Element:
			if stripPIs(t) {
				found = true
			}
		}
		kept = append(kept, tok)
	}
	el.Child = kept
	return found
}

// FlattenNamespaces rewrites cdr:NAME attributes to cdr-NAME on every
// element below root, and drops the cdr namespace declaration. Schema
// documents declare the flattened names because namespaced attributes
// do not survive includes reliably.
func FlattenNamespaces(root *etree.Element) {
	Walk(root, func(el *etree.Element) bool {
		for i := range el.Attr {
			a := &el.Attr[i]
			if a.Space == Prefix {
				a.Space = ""
				a.Key = Prefix + "-" + a.Key
			}
		}
		el.RemoveAttr("xmlns:" + Prefix)
		return true
	})
}

// UnflattenName maps cdr-NAME back to cdr:NAME inside a message.
func UnflattenName(s string) string {
	return strings.NewReplacer("cdr-id", "cdr:id", "cdr-ref", "cdr:ref", "cdr-href", "cdr:href").Replace(s)
}

// AddLocators gives every element a breadcrumb id (_1, _2, ...) in
// document order.
func AddLocators(root *etree.Element) {
	n := 0
	Walk(root, func(el *etree.Element) bool {
		n++
		el.CreateAttr(LocatorAttr, "_"+strconv.Itoa(n))
		return true
	})
}

// StripLocators removes breadcrumb ids and reports whether any existed.
func StripLocators(root *etree.Element) bool {
	found := false
	Walk(root, func(el *etree.Element) bool {
		if el.RemoveAttr(LocatorAttr) != nil {
			found = true
		}
		return true
	})
	return found
}

// PrivateUseChars returns the distinct private use area characters
// (U+E000-U+F8FF) present in s, in order of first appearance.
func PrivateUseChars(s string) []rune {
	var out []rune
	seen := make(map[rune]bool)
	for _, r := range s {
		if r >= 0xE000 && r <= 0xF8FF && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// FormatRunes renders runes as U+XXXX codes.
func FormatRunes(rs []rune) string {
	codes := make([]string, 0, len(rs))
	for _, r := range rs {
		codes = append(codes, fmt.Sprintf("U+%04X", r))
	}
	return strings.Join(codes, ", ")
}
