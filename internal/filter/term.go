package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/xmlutil"
)

// MaxUpcodeDepth bounds the chain of parent terms followed by
// DenormalizeTerm.
const MaxUpcodeDepth = 100

var ErrUpcodeDepth = errors.New("term hierarchy too deep")

type termKey struct {
	id     uint
	upcode bool
}

// DenormalizeTerm expands a Term document into
//
//	<Term id="CDR...">
//	  <PreferredName>...</PreferredName>
//	  <TermType>...</TermType>
//	  <Parents><Term>...</Term></Parents>
//	</Term>
//
// Parents are present only when upcode is set. Results are cached; callers
// get their own copy.
func (l *Library) DenormalizeTerm(ctx context.Context, id uint, upcode bool) (*etree.Element, error) {
	el, err := l.denormalizeTerm(ctx, id, upcode, 0)
	if err != nil {
		return nil, err
	}
	return el.Copy(), nil
}

func (l *Library) denormalizeTerm(ctx context.Context, id uint, upcode bool, depth int) (*etree.Element, error) {
	if depth > MaxUpcodeDepth {
		return nil, fmt.Errorf("%w: at %s", ErrUpcodeDepth, cdrid.Format(id))
	}
	key := termKey{id: id, upcode: upcode}
	if el, ok := l.terms.Get(key); ok {
		return el, nil
	}

	doc, err := l.st.GetDocument(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	tree, err := xmlutil.Parse(doc.XML)
	if err != nil {
		return nil, fmt.Errorf("term %s: %w", cdrid.Format(id), err)
	}
	root := tree.Root()
	if root.Tag != "Term" {
		return nil, fmt.Errorf("%s is not a Term document", cdrid.Format(id))
	}

	out := etree.NewElement("Term")
	out.CreateAttr("id", cdrid.Format(id))
	name := doc.Title
	if pn := root.SelectElement("PreferredName"); pn != nil {
		name = strings.TrimSpace(xmlutil.TextContent(pn))
	}
	out.CreateElement("PreferredName").SetText(name)

	var parents []uint
	xmlutil.Walk(root, func(el *etree.Element) bool {
		switch el.Tag {
		case "TermTypeName":
			out.CreateElement("TermType").SetText(strings.TrimSpace(xmlutil.TextContent(el)))
		case "ParentTerm":
			if ref := el.SelectElement("TermId"); ref != nil {
				if pid, err := cdrid.Parse(xmlutil.CdrAttr(ref, "ref")); err == nil {
					parents = append(parents, pid)
				}
			}
			return false
		}
		return true
	})

	if upcode && len(parents) > 0 {
		container := out.CreateElement("Parents")
		for _, pid := range parents {
			parent, err := l.denormalizeTerm(ctx, pid, true, depth+1)
			if err != nil {
				return nil, err
			}
			container.AddChild(parent.Copy())
		}
	}

	return l.terms.PutIfAbsent(key, out), nil
}
