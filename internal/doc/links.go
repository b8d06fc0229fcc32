package doc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/linktype"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/store"
	"github.com/emrgen/cdr/internal/xmlutil"
)

var linkAttrs = []string{"ref", "href"}

// Link is one linking attribute found in the document.
type Link struct {
	Element string
	// Attr is cdr:ref or cdr:href.
	Attr     string
	URL      string
	TargetID uint
	Fragment string
	// Location is the breadcrumb id of the linking element, when locators
	// were added.
	Location    string
	Type        *linktype.LinkType
	TargetTitle string
	// Store is set on the first resolvable occurrence of each
	// (element, url) pair.
	Store    bool
	Problems []string
}

type linkKey struct {
	element string
	url     string
}

func (l *Link) key() linkKey {
	return linkKey{element: l.Element, url: l.URL}
}

func (l *Link) problem(format string, args ...any) {
	l.Problems = append(l.Problems, fmt.Sprintf(format, args...))
}

// Valid reports whether the link passed every check.
func (l *Link) Valid() bool {
	return len(l.Problems) == 0
}

// discover walks the tree once, returning the links and the fragment ids
// it carries. Duplicate fragment ids are reported when report is set.
func (d *Doc) discover(root *etree.Element, report bool) ([]*Link, mapset.Set[string]) {
	frags := mapset.NewThreadUnsafeSet[string]()
	var links []*Link
	xmlutil.Walk(root, func(el *etree.Element) bool {
		loc := el.SelectAttrValue(xmlutil.LocatorAttr, "")
		if id := xmlutil.CdrAttr(el, "id"); id != "" && !frags.Add(id) && report {
			d.addError(fmt.Sprintf("Duplicate fragment id %s", id), loc, TypeLink, LevelError)
		}
		for _, name := range linkAttrs {
			if url := xmlutil.CdrAttr(el, name); url != "" {
				links = append(links, &Link{
					Element:  el.Tag,
					Attr:     xmlutil.Prefix + ":" + name,
					URL:      url,
					Location: loc,
				})
			}
		}
		return true
	})
	return links, frags
}

// collectLinks finds and resolves every link of the tree. Problems are
// recorded on the links; only infrastructure failures are returned.
func (d *Doc) collectLinks(ctx context.Context, root *etree.Element, dt *doctype.Doctype, report bool) ([]*Link, mapset.Set[string], error) {
	links, frags := d.discover(root, report)
	reg := d.env.LinkTypes
	seen := mapset.NewThreadUnsafeSet[linkKey]()
	names := make(map[uint]string)

	for _, l := range links {
		resolved, err := d.resolveLink(ctx, reg, dt, frags, names, l)
		if err != nil {
			return nil, nil, err
		}
		first := seen.Add(l.key())
		l.Store = resolved && first
	}
	return links, frags, nil
}

// resolveLink looks up the link type and target of one link and checks
// the target against the link type. It reports whether the target was
// resolved.
func (d *Doc) resolveLink(ctx context.Context, reg *linktype.Registry, dt *doctype.Doctype, frags mapset.Set[string], names map[uint]string, l *Link) (bool, error) {
	lt, err := reg.Lookup(ctx, d.st, dt.ID, l.Element)
	if err != nil {
		return false, err
	}
	if lt == nil {
		l.problem("%s elements of %s documents may not carry links", l.Element, dt.Name)
		return false, nil
	}
	l.Type = lt

	if strings.HasPrefix(l.URL, "#") {
		l.TargetID, l.Fragment = d.id, l.URL[1:]
	} else {
		l.TargetID, l.Fragment, err = cdrid.Split(l.URL)
		if err != nil {
			l.problem("Invalid link target %q", l.URL)
			return false, nil
		}
	}

	// links into this document are checked against its own fragment ids
	if l.TargetID == d.id {
		l.TargetTitle = d.title
		if !lt.AllowsTarget(dt.ID) {
			l.problem("Link from %s elements of %s documents not permitted to %s documents", l.Element, dt.Name, dt.Name)
		}
		if l.Fragment != "" && !frags.Contains(l.Fragment) {
			l.problem("Fragment %s not found in this document", l.Fragment)
		}
		return d.id != 0, nil
	}

	target, err := d.st.GetDocument(ctx, l.TargetID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if target == nil || target.ActiveStatus == model.ActiveStatusDeleted {
		l.problem("Link target %s not found", cdrid.Format(l.TargetID))
		return false, nil
	}
	switch lt.ChkType {
	case linktype.CheckPublishable, linktype.CheckVersioned:
		n, err := d.st.LastVersion(ctx, l.TargetID, lt.ChkType == linktype.CheckPublishable)
		if err != nil {
			return false, err
		}
		if n == 0 {
			kind := "versioned"
			if lt.ChkType == linktype.CheckPublishable {
				kind = "publishable"
			}
			l.problem("Link target %s has no %s version", cdrid.Format(l.TargetID), kind)
			return false, nil
		}
	}
	l.TargetTitle = target.Title

	if !lt.AllowsTarget(target.DocType) {
		name, ok := names[target.DocType]
		if !ok {
			tdt, err := doctype.GetByID(ctx, d.st, target.DocType)
			if err != nil {
				return false, err
			}
			name = tdt.Name
			names[target.DocType] = name
		}
		l.problem("Link from %s elements of %s documents not permitted to %s documents", l.Element, dt.Name, name)
	}

	if l.Fragment != "" {
		ok, err := lt.HasFragment(ctx, d.st, l.TargetID, l.Fragment)
		if err != nil {
			return false, err
		}
		if !ok {
			l.problem("Fragment %s not found in %s", l.Fragment, cdrid.Format(l.TargetID))
		}
	}

	failed, err := lt.FailedProperties(ctx, d.st, l.TargetID)
	if err != nil {
		return false, err
	}
	for _, p := range failed {
		l.problem("Failed link target rule: %s", p.Value())
	}
	return true, nil
}

// reportLinks turns link problems into document errors.
func (d *Doc) reportLinks(links []*Link) {
	for _, l := range links {
		for _, p := range l.Problems {
			d.addError(p, l.Location, TypeLink, LevelError)
		}
	}
}

// storeLinks brings the stored links of the document in line with the
// links marked for storage.
func (d *Doc) storeLinks(ctx context.Context, links []*Link) error {
	var wanted []*model.LinkNet
	for _, l := range links {
		if !l.Store {
			continue
		}
		target := l.TargetID
		wanted = append(wanted, &model.LinkNet{
			LinkType:   l.Type.ID,
			SourceDoc:  d.id,
			SourceElem: l.Element,
			TargetDoc:  &target,
			TargetFrag: l.Fragment,
			URL:        l.URL,
		})
	}

	stored, err := d.st.ListLinks(ctx, d.id)
	if err != nil {
		return err
	}
	delta := diffRows(stored, wanted, func(r *model.LinkNet) linkKey {
		return linkKey{element: r.SourceElem, url: r.URL}
	}, linkRebuildThreshold)

	if delta.Rebuild {
		if err := d.st.DeleteAllLinks(ctx, d.id); err != nil {
			return err
		}
	} else {
		ids := make([]uint, 0, len(delta.Remove))
		for _, r := range delta.Remove {
			ids = append(ids, r.ID)
		}
		if err := d.st.DeleteLinksByID(ctx, ids); err != nil {
			return err
		}
	}
	return d.st.CreateLinks(ctx, delta.Add)
}

// storeFragments brings the stored fragment ids in line with the tree.
func (d *Doc) storeFragments(ctx context.Context, frags mapset.Set[string]) error {
	stored, err := d.st.ListFragments(ctx, d.id)
	if err != nil {
		return err
	}
	wanted := frags.ToSlice()
	delta := diffRows(stored, wanted, func(s string) string { return s }, fragmentRebuildThreshold)
	if delta.Rebuild {
		if err := d.st.DeleteAllFragments(ctx, d.id); err != nil {
			return err
		}
	} else if err := d.st.DeleteFragments(ctx, d.id, delta.Remove); err != nil {
		return err
	}
	return d.st.CreateFragments(ctx, d.id, delta.Add)
}

// updateLinks collects the links of the resolved tree and stores them
// with the fragment ids.
func (d *Doc) updateLinks(ctx context.Context, dt *doctype.Doctype) error {
	resolved, err := d.Resolved(ctx, DefaultRevisionLevel)
	if err != nil {
		return err
	}
	links, frags, err := d.collectLinks(ctx, resolved.Root(), dt, false)
	if err != nil {
		return err
	}
	d.Links = links
	if err := d.storeLinks(ctx, links); err != nil {
		return err
	}
	return d.storeFragments(ctx, frags)
}

// LinksTo lists the stored links from other documents into this one.
func (d *Doc) LinksTo(ctx context.Context) ([]*model.LinkNet, error) {
	if d.id == 0 {
		return nil, nil
	}
	return d.st.ListLinksTo(ctx, d.id)
}
