package doc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/store"
	"github.com/emrgen/cdr/internal/xmlutil"
)

const (
	// MaxTermDepth bounds element nesting; each level adds four hex digits
	// to a node location.
	MaxTermDepth = 40
	// MaxTermSiblings bounds the children of one element, so that each
	// sibling position fits its four hex digits.
	MaxTermSiblings = 0x10000
	// MaxTermValue is the width of the value column.
	MaxTermValue = 800
)

var (
	ErrInvalidTermPath = errors.New("invalid query term path")

	firstNumber = regexp.MustCompile(`\d+`)
)

// termDefs are the indexed paths. Absolute paths start at the root
// element; "//" paths match the element or attribute anywhere.
type termDefs struct {
	absolute mapset.Set[string]
	wildcard []string
}

func loadTermDefs(ctx context.Context, st store.QueryTermStore) (*termDefs, error) {
	rows, err := st.ListQueryTermDefs(ctx)
	if err != nil {
		return nil, err
	}
	defs := &termDefs{absolute: mapset.NewThreadUnsafeSet[string]()}
	for _, r := range rows {
		if strings.HasPrefix(r.Path, "//") {
			defs.wildcard = append(defs.wildcard, r.Path)
		} else {
			defs.absolute.Add(r.Path)
		}
	}
	return defs, nil
}

// match returns the paths under which a node at path is indexed.
func (t *termDefs) match(path string) []string {
	var out []string
	if t.absolute.Contains(path) {
		out = append(out, path)
	}
	for _, w := range t.wildcard {
		if strings.HasSuffix(path, w[1:]) {
			out = append(out, w)
		}
	}
	return out
}

type termKey struct {
	path  string
	loc   string
	value string
}

func termKeyOf(t *model.QueryTerm) termKey {
	return termKey{path: t.Path, loc: t.NodeLoc, value: t.Value}
}

// extractTerms walks the tree collecting (path, location, value) triples.
// Oversized values are truncated with a warning.
func (d *Doc) extractTerms(root *etree.Element, defs *termDefs) ([]*model.QueryTerm, error) {
	var terms []*model.QueryTerm
	add := func(path, loc, value string) {
		value = strings.TrimSpace(value)
		if utf8.RuneCountInString(value) > MaxTermValue {
			value = string([]rune(value)[:MaxTermValue])
			d.addError(fmt.Sprintf("Value of %s truncated to %d characters for the search index", path, MaxTermValue),
				"", TypeOther, LevelWarning)
		}
		t := &model.QueryTerm{DocID: d.id, Path: path, Value: value, NodeLoc: loc}
		if m := firstNumber.FindString(value); m != "" {
			if n, err := strconv.ParseInt(m, 10, 64); err == nil {
				t.IntVal = &n
			}
		}
		terms = append(terms, t)
	}

	var walk func(el *etree.Element, path, loc string, depth int) error
	walk = func(el *etree.Element, path, loc string, depth int) error {
		if depth > MaxTermDepth {
			return fmt.Errorf("%w: %s exceeds %d levels", ErrTooDeep, path, MaxTermDepth)
		}
		for _, a := range el.Attr {
			if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
				continue
			}
			for _, p := range defs.match(path + "/@" + a.FullKey()) {
				add(p, loc, a.Value)
			}
		}
		if matched := defs.match(path); len(matched) > 0 {
			text := xmlutil.TextContent(el)
			for _, p := range matched {
				add(p, loc, text)
			}
		}
		children := el.ChildElements()
		if len(children) > MaxTermSiblings {
			return fmt.Errorf("%w: %s has %d child elements, at most %d can be indexed",
				ErrTooManySiblings, path, len(children), MaxTermSiblings)
		}
		for i, child := range children {
			err := walk(child, path+"/"+child.FullTag(), loc+fmt.Sprintf("%04X", i), depth+1)
			if err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, "/"+root.FullTag(), "0000", 1); err != nil {
		return nil, err
	}
	return terms, nil
}

// termsFor extracts the index rows of some content of this document,
// resolved for publication.
func (d *Doc) termsFor(ctx context.Context, xml string, defs *termDefs) ([]*model.QueryTerm, error) {
	src := d
	if xml != d.xml {
		src = &Doc{sess: d.sess, env: d.env, st: d.st, id: d.id, docTypeName: d.docTypeName, docType: d.docType, xml: xml}
	}
	resolved, err := src.Resolved(ctx, DefaultRevisionLevel)
	if err != nil {
		return nil, err
	}
	return d.extractTerms(resolved.Root(), defs)
}

// storeTerms brings one index table in line with the wanted rows.
func (d *Doc) storeTerms(ctx context.Context, table string, wanted []*model.QueryTerm) error {
	stored, err := d.st.ListQueryTerms(ctx, table, d.id)
	if err != nil {
		return err
	}
	delta := diffRows(stored, wanted, termKeyOf, termRebuildThreshold)
	if delta.Rebuild {
		if err := d.st.DeleteAllQueryTerms(ctx, table, d.id); err != nil {
			return err
		}
	} else {
		ids := make([]uint, 0, len(delta.Remove))
		for _, t := range delta.Remove {
			ids = append(ids, t.ID)
		}
		if err := d.st.DeleteQueryTermsByID(ctx, table, ids); err != nil {
			return err
		}
	}

	// rows inserted into a second table must not carry ids from the first
	add := make([]*model.QueryTerm, 0, len(delta.Add))
	for _, t := range delta.Add {
		c := *t
		c.ID = 0
		add = append(add, &c)
	}
	return d.st.CreateQueryTerms(ctx, table, add)
}

func (d *Doc) indexable() bool {
	return d.id != 0 && d.docTypeName != "" && !d.isControl()
}

// updateQueryTerms indexes the in-memory content into the working table,
// and into the published table too when pub is set.
func (d *Doc) updateQueryTerms(ctx context.Context, pub bool) error {
	if !d.indexable() {
		return nil
	}
	defs, err := loadTermDefs(ctx, d.st)
	if err != nil {
		return err
	}
	terms, err := d.termsFor(ctx, d.xml, defs)
	if err != nil {
		return err
	}
	if err := d.storeTerms(ctx, model.QueryTermTable, terms); err != nil {
		return err
	}
	if pub {
		return d.storeTerms(ctx, model.QueryTermPubTable, terms)
	}
	return nil
}

// UpdateQueryTerms re-indexes the working copy.
func (d *Doc) UpdateQueryTerms(ctx context.Context) error {
	if d.version != 0 {
		return fmt.Errorf("%w: only the working copy is indexed", ErrInvalidVersionSpec)
	}
	return d.transaction(ctx, "index", func() error {
		return d.updateQueryTerms(ctx, false)
	})
}

// Reindex rebuilds both index tables from stored content. When the
// working copy is the latest publishable version, it is resolved once
// and indexed into both.
func (d *Doc) Reindex(ctx context.Context) error {
	if d.id == 0 {
		return ErrNotSaved
	}
	return d.transaction(ctx, "reindex", func() error {
		row, err := d.st.GetDocument(ctx, d.id)
		if err != nil {
			return err
		}
		if row.ActiveStatus == model.ActiveStatusDeleted {
			if err := d.st.DeleteAllQueryTerms(ctx, model.QueryTermTable, d.id); err != nil {
				return err
			}
			return d.st.DeleteAllQueryTerms(ctx, model.QueryTermPubTable, d.id)
		}
		if !d.indexable() {
			return nil
		}

		defs, err := loadTermDefs(ctx, d.st)
		if err != nil {
			return err
		}
		working, err := d.termsFor(ctx, row.XML, defs)
		if err != nil {
			return err
		}
		if err := d.storeTerms(ctx, model.QueryTermTable, working); err != nil {
			return err
		}

		lastp, err := d.st.LastVersion(ctx, d.id, true)
		if err != nil {
			return err
		}
		if lastp == 0 {
			return d.st.DeleteAllQueryTerms(ctx, model.QueryTermPubTable, d.id)
		}
		last, err := d.st.LastVersion(ctx, d.id, false)
		if err != nil {
			return err
		}
		v, err := d.st.GetVersion(ctx, d.id, lastp)
		if err != nil {
			return err
		}

		pub := working
		if last != lastp || row.UpdatedAt.After(v.UpdatedDT) {
			if pub, err = d.termsFor(ctx, v.XML, defs); err != nil {
				return err
			}
		}
		if err := d.storeTerms(ctx, model.QueryTermPubTable, pub); err != nil {
			return err
		}
		d.log().Debugf("reindexed, %d working and %d published terms", len(working), len(pub))
		return nil
	})
}

// AddQueryTermDef adds an indexed path.
func AddQueryTermDef(ctx context.Context, sess *session.Session, path, rule string) error {
	if err := sess.Require(ctx, session.ActionAddQueryTermDef, ""); err != nil {
		return err
	}
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, " ") {
		return fmt.Errorf("%w: %q", ErrInvalidTermPath, path)
	}
	return sess.Store.CreateQueryTermDef(ctx, &model.QueryTermDef{Path: path, TermRule: rule})
}

// DeleteQueryTermDef removes an indexed path. Rows already indexed under
// it stay until their documents are reindexed.
func DeleteQueryTermDef(ctx context.Context, sess *session.Session, path string) error {
	if err := sess.Require(ctx, session.ActionDelQueryTermDef, ""); err != nil {
		return err
	}
	if err := sess.Store.DeleteQueryTermDef(ctx, path); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %q is not defined", ErrInvalidTermPath, path)
		}
		return err
	}
	return nil
}
