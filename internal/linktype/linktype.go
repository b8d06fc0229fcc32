// Package linktype decides which elements may link to which documents, and
// evaluates the custom properties constraining link targets.
package linktype

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/cache"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/clause"
)

// Check types name which version of a target must exist.
const (
	CheckCurrent     = "C"
	CheckPublishable = "P"
	CheckVersioned   = "V"
)

var (
	ErrNotFound     = errors.New("link type not found")
	ErrNotPermitted = errors.New("link not permitted")
	ErrInvalid      = errors.New("invalid link type")
)

// Source is one (doctype, element) pair allowed to carry a link type.
type Source struct {
	DocType string
	Element string
}

type LinkType struct {
	ID         uint
	Name       string
	ChkType    string
	Comment    string
	Sources    []Source
	Targets    []string
	Properties []Property

	targetIDs mapset.Set[uint]
}

// Load reads a link type with its sources, targets and properties.
func Load(ctx context.Context, st store.Store, id uint) (*LinkType, error) {
	row, err := st.GetLinkType(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, err
	}
	return load(ctx, st, row)
}

// LoadByName reads a link type by its unique name.
func LoadByName(ctx context.Context, st store.Store, name string) (*LinkType, error) {
	row, err := st.GetLinkTypeByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return load(ctx, st, row)
}

func load(ctx context.Context, st store.Store, row *model.LinkType) (*LinkType, error) {
	lt := &LinkType{
		ID:        row.ID,
		Name:      row.Name,
		ChkType:   row.ChkType,
		Comment:   row.Comment,
		targetIDs: mapset.NewThreadUnsafeSet[uint](),
	}

	names := make(map[uint]string)
	docTypeName := func(id uint) (string, error) {
		if name, ok := names[id]; ok {
			return name, nil
		}
		dt, err := st.GetDocType(ctx, id)
		if err != nil {
			return "", err
		}
		names[id] = dt.Name
		return dt.Name, nil
	}

	sources, err := st.ListLinkSources(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	for _, s := range sources {
		name, err := docTypeName(s.DocType)
		if err != nil {
			return nil, err
		}
		lt.Sources = append(lt.Sources, Source{DocType: name, Element: s.Element})
	}

	targets, err := st.ListLinkTargets(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		name, err := docTypeName(t.TargetDocType)
		if err != nil {
			return nil, err
		}
		lt.Targets = append(lt.Targets, name)
		lt.targetIDs.Add(t.TargetDocType)
	}

	props, err := st.ListLinkProperties(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range props {
		pt, err := st.GetLinkPropType(ctx, p.PropertyID)
		if err != nil {
			return nil, err
		}
		prop, err := NewProperty(pt.Name, p.Value, p.Comment)
		if err != nil {
			return nil, fmt.Errorf("link type %s: %w", row.Name, err)
		}
		lt.Properties = append(lt.Properties, prop)
	}

	return lt, nil
}

// AllowsTarget reports whether documents of the doctype may be linked to.
func (lt *LinkType) AllowsTarget(docType uint) bool {
	return lt.targetIDs.Contains(docType)
}

// TargetDocTypes lists the ids of the allowed target doctypes.
func (lt *LinkType) TargetDocTypes() []uint {
	return lt.targetIDs.ToSlice()
}

// TermTable is the search index holding the target version the check type
// demands.
func (lt *LinkType) TermTable() string {
	if lt.ChkType == CheckPublishable {
		return model.QueryTermPubTable
	}
	return model.QueryTermTable
}

// HasFragment reports whether a target document indexes the fragment id.
func (lt *LinkType) HasFragment(ctx context.Context, st store.QueryTermStore, docID uint, fragment string) (bool, error) {
	return st.HasFragmentTerm(ctx, lt.TermTable(), docID, fragment)
}

// FailedProperties tests every property against a target document and
// returns the ones it does not satisfy.
func (lt *LinkType) FailedProperties(ctx context.Context, st store.QueryTermStore, docID uint) ([]Property, error) {
	var failed []Property
	for _, p := range lt.Properties {
		ok, err := p.Test(ctx, st, lt.TermTable(), docID)
		if err != nil {
			return nil, err
		}
		if !ok {
			failed = append(failed, p)
		}
	}
	return failed, nil
}

// Search lists candidate target documents whose title matches the
// pattern and which satisfy every property.
func (lt *LinkType) Search(ctx context.Context, st store.Store, pattern string, limit int) ([]*model.Document, error) {
	targets := lt.TargetDocTypes()
	if len(targets) == 0 {
		return nil, nil
	}
	table := lt.TermTable()
	var conds []clause.Expression
	for _, p := range lt.Properties {
		conds = append(conds, p.Conditions(table)...)
	}
	return st.SearchDocuments(ctx, targets, pattern, conds, limit)
}

// Registry looks up link types by source element and keeps each loaded
// link type for the life of the registry. One registry is shared by every
// document of a process; lookups read through the store they are given, so
// a transaction sees its own rows.
type Registry struct {
	cache *cache.Local[uint, *LinkType]
}

func NewRegistry() *Registry {
	return &Registry{cache: cache.NewLocal[uint, *LinkType](0)}
}

// Get returns the link type with the given id.
func (r *Registry) Get(ctx context.Context, st store.Store, id uint) (*LinkType, error) {
	if lt, ok := r.cache.Get(id); ok {
		return lt, nil
	}
	lt, err := Load(ctx, st, id)
	if err != nil {
		return nil, err
	}
	return r.cache.PutIfAbsent(id, lt), nil
}

// Lookup returns the link type a source element of the doctype carries,
// or nil when the element may not link.
func (r *Registry) Lookup(ctx context.Context, st store.Store, docType uint, element string) (*LinkType, error) {
	row, err := st.FindLinkTypeForElement(ctx, docType, element)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.Get(ctx, st, row.ID)
}

// Purge drops every cached link type, for use after link types change.
func (r *Registry) Purge() {
	r.cache.Purge()
}

func lookupSource(ctx context.Context, st store.Store, sourceType, element string) (*LinkType, error) {
	dt, err := doctype.Get(ctx, st, sourceType)
	if err != nil {
		return nil, err
	}
	lt, err := NewRegistry().Lookup(ctx, st, dt.ID, element)
	if err != nil {
		return nil, err
	}
	if lt == nil {
		return nil, fmt.Errorf("%w: link from %s elements of %s documents", ErrNotPermitted, element, sourceType)
	}
	return lt, nil
}

// SearchLinks finds candidate targets for a link from an element of a
// source doctype.
func SearchLinks(ctx context.Context, st store.Store, sourceType, element, pattern string, limit int) ([]*model.Document, error) {
	lt, err := lookupSource(ctx, st, sourceType, element)
	if err != nil {
		return nil, err
	}
	return lt.Search(ctx, st, pattern, limit)
}

// CheckProposedLink verifies a link from an element of a source doctype to
// a target document and returns the target's title.
func CheckProposedLink(ctx context.Context, st store.Store, sourceType, element, target string) (string, error) {
	lt, err := lookupSource(ctx, st, sourceType, element)
	if err != nil {
		return "", err
	}
	id, err := cdrid.Parse(target)
	if err != nil {
		return "", err
	}
	doc, err := st.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	if !lt.AllowsTarget(doc.DocType) {
		return "", fmt.Errorf("%w: link from %s elements of %s documents to document %s",
			ErrNotPermitted, element, sourceType, cdrid.Format(id))
	}
	logrus.WithFields(logrus.Fields{"linktype": lt.Name, "target": cdrid.Format(id)}).Debug("proposed link accepted")
	return doc.Title, nil
}
