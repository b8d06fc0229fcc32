package doc

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/filter"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/xmlutil"
	"github.com/emrgen/cdr/internal/xslt"
)

const (
	RevisionFilter = "name:Revision Markup Filter"
	// DefaultRevisionLevel keeps markup approved for publication.
	DefaultRevisionLevel = 3
)

// Filter runs filters against the working tree of the document.
func (d *Doc) Filter(ctx context.Context, req filter.Request) (*filter.Result, error) {
	if err := d.sess.Require(ctx, session.ActionFilterDocument, d.docTypeName); err != nil {
		return nil, err
	}
	root, err := d.tree()
	if err != nil {
		return nil, err
	}
	return d.apply(ctx, root, req)
}

func (d *Doc) apply(ctx context.Context, tree *etree.Document, req filter.Request) (*filter.Result, error) {
	return d.lib().Apply(ctx, d.env.Engine, filter.Subject{ID: d.id, Doc: tree}, req)
}

func hasRevisionMarkup(root *etree.Element) bool {
	found := false
	xmlutil.Walk(root, func(el *etree.Element) bool {
		if el.Tag == "Insertion" || el.Tag == "Deletion" {
			found = true
		}
		return !found
	})
	return found
}

// Resolved returns the tree with revision markup resolved at a level.
// Trees without markup come back unfiltered. The result is shared.
func (d *Doc) Resolved(ctx context.Context, level int) (*etree.Document, error) {
	if level <= 0 {
		level = DefaultRevisionLevel
	}
	if r, ok := d.cache.resolved[level]; ok {
		return r, nil
	}
	root, err := d.tree()
	if err != nil {
		return nil, err
	}

	resolved := root
	if !d.isControl() && hasRevisionMarkup(root.Root()) {
		res, err := d.apply(ctx, root, filter.Request{
			Specs:  []string{RevisionFilter},
			Params: map[string]string{"useLevel": strconv.Itoa(level)},
		})
		switch {
		case errors.Is(err, xslt.ErrUnknownStylesheet):
			d.log().Warnf("revision markup left unresolved: %v", err)
		case err != nil:
			return nil, err
		default:
			resolved = res.Doc
		}
	}

	if d.cache.resolved == nil {
		d.cache.resolved = make(map[int]*etree.Document)
	}
	d.cache.resolved[level] = resolved
	return resolved, nil
}

// generateTitle derives the title: Filter documents take it from their
// title comment, content documents from the title filter of their
// doctype. The current title is kept when neither applies.
func (d *Doc) generateTitle(ctx context.Context, dt *doctype.Doctype) (string, error) {
	if dt.Name == doctype.Filter {
		if t := filter.TitleFromComment(d.xml); t != "" {
			return t, nil
		}
		return d.title, nil
	}
	if dt.IsControl() {
		return d.title, nil
	}
	root, err := d.tree()
	if err != nil {
		return d.title, nil
	}

	res, err := d.apply(ctx, root, filter.Request{Specs: []string{"name:" + dt.TitleFilter()}})
	if err != nil {
		switch {
		case errors.Is(err, filter.ErrNotFound), errors.Is(err, doctype.ErrNotFound):
			return d.title, nil
		case errors.Is(err, xslt.ErrUnknownStylesheet):
			d.log().Warnf("title not regenerated: %v", err)
			return d.title, nil
		}
		return "", err
	}
	if res.Doc == nil || res.Doc.Root() == nil {
		return d.title, nil
	}
	title := strings.Join(strings.Fields(xmlutil.TextContent(res.Doc.Root())), " ")
	if title == "" {
		return d.title, nil
	}
	return title, nil
}

// UpdateTitle regenerates the title of the working copy and stores it
// when it changed. No lock is needed.
func (d *Doc) UpdateTitle(ctx context.Context) (bool, error) {
	if d.id == 0 || d.version != 0 {
		return false, ErrNotSaved
	}
	dt, err := d.DocType(ctx)
	if err != nil {
		return false, err
	}
	title, err := d.generateTitle(ctx, dt)
	if err != nil {
		return false, err
	}
	if title == d.title {
		return false, nil
	}
	if err := d.st.UpdateDocumentTitle(ctx, d.id, title); err != nil {
		return false, err
	}
	d.log().Infof("title changed from %q to %q", d.title, title)
	d.title = title
	return true, nil
}

// DenormalizedXML expands the links of the document with the
// denormalization filter set of its doctype. Filtering failures fall back
// to the stored XML.
func (d *Doc) DenormalizedXML(ctx context.Context) string {
	if d.isControl() {
		return d.xml
	}
	root, err := d.tree()
	if err != nil {
		return d.xml
	}
	dt, err := d.DocType(ctx)
	if err != nil {
		return d.xml
	}

	res, err := d.apply(ctx, root, filter.Request{Specs: []string{"set:" + dt.DenormalizationSet()}})
	if err != nil {
		if !errors.Is(err, filter.ErrSetNotFound) {
			d.log().Warnf("denormalization failed: %v", err)
		}
		return d.xml
	}
	out, err := xmlutil.Serialize(res.Doc)
	if err != nil {
		d.log().Warnf("denormalization failed: %v", err)
		return d.xml
	}
	return out
}
