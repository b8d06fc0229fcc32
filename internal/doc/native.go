package doc

import (
	"context"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/xmlutil"
	"github.com/emrgen/cdr/internal/xslt"
)

// Stylesheet ids of the filters a FuncEngine can run without an XSLT
// processor. Filter documents opt in by carrying one of these ids.
const (
	RevisionMarkupID = "revision-markup"
	DocTitleID       = "doc-title"
)

var revisionLevels = map[string]int{
	"rejected": 0,
	"proposed": 1,
	"approved": 2,
	"publish":  3,
}

// RegisterNative binds the revision markup and title filters and the rule
// set stylesheets to Go transforms.
func RegisterNative(e *xslt.FuncEngine) {
	e.Register(RevisionMarkupID, ResolveRevisionMarkup)
	e.Register(DocTitleID, FirstTitle)
	doctype.RegisterRuleSets(e)
}

// ResolveRevisionMarkup accepts Insertion and Deletion markup whose
// RevisionLevel is at least the useLevel parameter and rejects the rest.
// An accepted insertion keeps its content, an accepted deletion drops it.
func ResolveRevisionMarkup(ctx context.Context, doc *etree.Document, params map[string]string, r xslt.Resolver) (*etree.Document, []xslt.Message, error) {
	level := DefaultRevisionLevel
	if v, err := strconv.Atoi(params["useLevel"]); err == nil && v > 0 {
		level = v
	}
	out := doc.Copy()
	if root := out.Root(); root != nil {
		resolveMarkup(root, level)
	}
	return out, nil, nil
}

func resolveMarkup(el *etree.Element, level int) {
	var kept []etree.Token
	changed := false
	for _, tok := range el.Child {
		child, ok := tok.(*etree.Element)
		if !ok {
			kept = append(kept, tok)
			continue
		}
		resolveMarkup(child, level)
		if child.Tag != "Insertion" && child.Tag != "Deletion" {
			kept = append(kept, tok)
			continue
		}
		changed = true
		n, known := revisionLevels[child.SelectAttrValue("RevisionLevel", "proposed")]
		if !known {
			n = revisionLevels["proposed"]
		}
		accepted := n > 0 && n >= level
		if accepted == (child.Tag == "Insertion") {
			kept = append(kept, child.Child...)
		}
	}
	if !changed {
		return
	}
	for len(el.Child) > 0 {
		el.RemoveChildAt(len(el.Child) - 1)
	}
	for _, tok := range kept {
		el.AddChild(tok)
	}
}

// FirstTitle titles a document with the text of its first element whose
// name ends in Title.
func FirstTitle(ctx context.Context, doc *etree.Document, params map[string]string, r xslt.Resolver) (*etree.Document, []xslt.Message, error) {
	out := etree.NewDocument()
	title := out.CreateElement("Title")
	if doc.Root() == nil {
		return out, nil, nil
	}
	found := false
	xmlutil.Walk(doc.Root(), func(el *etree.Element) bool {
		if found {
			return false
		}
		if el != doc.Root() && strings.HasSuffix(el.Tag, "Title") {
			title.SetText(strings.Join(strings.Fields(xmlutil.TextContent(el)), " "))
			found = true
		}
		return !found
	})
	return out, nil, nil
}
