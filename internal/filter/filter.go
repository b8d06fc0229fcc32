// Package filter runs XSLT filters stored as documents, and gives running
// filters sandboxed access back into the repository.
package filter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/cache"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	setPrefix  = "set:"
	namePrefix = "name:"

	xslNamespace = "http://www.w3.org/1999/XSL/Transform"
)

var (
	ErrNotFound        = errors.New("filter not found")
	ErrBadSpec         = errors.New("invalid filter specification")
	ErrVersionNotFound = errors.New("filter version not found")
)

// Filter is the XSLT source of one filter document version. Version 0 is
// the working copy.
type Filter struct {
	ID      uint
	Version int
	Title   string
	XML     string
}

type versionKey struct {
	id      uint
	version int
	tier    string
}

type Options struct {
	Tier string
	// CacheSize bounds the filter and filter-set caches.
	CacheSize int
	// TermCacheSize bounds the denormalized Term cache.
	TermCacheSize int
	// Shared, when set, shares immutable filter versions across processes.
	Shared cache.Shared
	Now    func() time.Time
}

// Library fetches filters and filter sets. Copies made with WithStore
// share the caches.
type Library struct {
	st       store.Store
	tier     string
	shared   cache.Shared
	now      func() time.Time
	versions *cache.Local[versionKey, *Filter]
	sets     *cache.Local[string, []uint]
	terms    *cache.Local[termKey, *etree.Element]
}

func NewLibrary(st store.Store, opts Options) *Library {
	if opts.Shared == nil {
		opts.Shared = cache.NopShared{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Library{
		st:       st,
		tier:     opts.Tier,
		shared:   opts.Shared,
		now:      opts.Now,
		versions: cache.NewLocal[versionKey, *Filter](opts.CacheSize),
		sets:     cache.NewLocal[string, []uint](opts.CacheSize),
		terms:    cache.NewLocal[termKey, *etree.Element](opts.TermCacheSize),
	}
}

// WithStore returns a library reading through another store, typically an
// open transaction.
func (l *Library) WithStore(st store.Store) *Library {
	c := *l
	c.st = st
	return &c
}

// Purge empties the local caches. Filter-set memberships and denormalized
// Terms are only reread after a purge.
func (l *Library) Purge() {
	l.versions.Purge()
	l.sets.Purge()
	l.terms.Purge()
}

// Fetch reads one version of a filter. Numbered versions never change, so
// only those are cached; the working copy is read on every call.
func (l *Library) Fetch(ctx context.Context, id uint, version int) (*Filter, error) {
	if version == 0 {
		doc, err := l.st.GetDocument(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, cdrid.Format(id))
			}
			return nil, err
		}
		return &Filter{ID: id, Title: doc.Title, XML: doc.XML}, nil
	}

	key := versionKey{id: id, version: version, tier: l.tier}
	if f, ok := l.versions.Get(key); ok {
		return f, nil
	}

	sharedKey := fmt.Sprintf("filter:%s:%d:%d", l.tier, id, version)
	data, ok, err := l.shared.Get(ctx, sharedKey)
	if err != nil {
		logrus.Warnf("shared filter cache: %v", err)
	}
	if ok {
		xml := string(data)
		f := &Filter{ID: id, Version: version, Title: TitleFromComment(xml), XML: xml}
		return l.versions.PutIfAbsent(key, f), nil
	}

	v, err := l.st.GetVersion(ctx, id, version)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, cdrid.Format(id), version)
		}
		return nil, err
	}
	xml, err := escapeIncludes(v.XML)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", cdrid.Format(id), err)
	}
	if err := l.shared.Set(ctx, sharedKey, []byte(xml)); err != nil {
		logrus.Warnf("shared filter cache: %v", err)
	}
	f := &Filter{ID: id, Version: version, Title: v.Title, XML: xml}
	return l.versions.PutIfAbsent(key, f), nil
}

// escapeIncludes percent-encodes spaces in xsl:include and xsl:import
// hrefs so the URIs survive the resolver.
func escapeIncludes(xml string) (string, error) {
	if !strings.Contains(xml, "href") {
		return xml, nil
	}
	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	if err := doc.ReadFromString(xml); err != nil {
		return "", err
	}
	root := doc.Root()
	if root == nil {
		return xml, nil
	}
	changed := false
	for _, el := range root.ChildElements() {
		if el.NamespaceURI() != xslNamespace || (el.Tag != "include" && el.Tag != "import") {
			continue
		}
		if a := el.SelectAttr("href"); a != nil && strings.Contains(a.Value, " ") {
			a.Value = strings.ReplaceAll(a.Value, " ", "%20")
			changed = true
		}
	}
	if !changed {
		return xml, nil
	}
	return doc.WriteToString()
}

// ResolveVersion turns a version specifier into a version number: empty
// or "Current" for the working copy (0), "last", "lastp", or a number.
func ResolveVersion(ctx context.Context, st store.VersionStore, id uint, spec string) (int, error) {
	switch strings.ToLower(spec) {
	case "", "current":
		return 0, nil
	case "last", "lastp":
		n, err := st.LastVersion(ctx, id, strings.EqualFold(spec, "lastp"))
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("%w: %s has no %s version", ErrVersionNotFound, cdrid.Format(id), spec)
		}
		return n, nil
	}
	n, err := strconv.Atoi(spec)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: version %q", ErrBadSpec, spec)
	}
	return n, nil
}

// FindByTitle returns the id of the only filter document with the title.
func (l *Library) FindByTitle(ctx context.Context, title string) (uint, error) {
	dt, err := doctype.Get(ctx, l.st, doctype.Filter)
	if err != nil {
		return 0, err
	}
	return l.findByTitle(ctx, title, &dt.ID)
}

func (l *Library) findByTitle(ctx context.Context, title string, docType *uint) (uint, error) {
	docs, err := l.st.FindDocumentsByTitle(ctx, title, docType)
	if err != nil {
		return 0, err
	}
	switch len(docs) {
	case 0:
		return 0, fmt.Errorf("%w: %q", ErrNotFound, title)
	case 1:
		return docs[0].ID, nil
	}
	return 0, fmt.Errorf("%w: title %q is not unique", ErrBadSpec, title)
}

// Resolve turns filter specs into filters: "set:NAME" expands a filter
// set, "name:TITLE" looks a filter up by title, anything else is a
// document id. Every filter is fetched at the given version.
func (l *Library) Resolve(ctx context.Context, specs []string, version string) ([]*Filter, error) {
	var ids []uint
	for _, spec := range specs {
		switch {
		case strings.HasPrefix(spec, setPrefix):
			members, err := l.Expand(ctx, strings.TrimPrefix(spec, setPrefix))
			if err != nil {
				return nil, err
			}
			ids = append(ids, members...)
		case strings.HasPrefix(spec, namePrefix):
			id, err := l.FindByTitle(ctx, strings.TrimPrefix(spec, namePrefix))
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		default:
			id, err := cdrid.Parse(spec)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrBadSpec, spec)
			}
			ids = append(ids, id)
		}
	}

	filters := make([]*Filter, 0, len(ids))
	for _, id := range ids {
		n, err := ResolveVersion(ctx, l.st, id, version)
		if err != nil {
			return nil, err
		}
		f, err := l.Fetch(ctx, id, n)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

var titleComment = regexp.MustCompile(`^\s*(?:<\?xml[^>]*\?>\s*)?<!--\s*Filter title:\s*(.*?)\s*-->`)

// TitleFromComment extracts the title from a leading
// "<!-- Filter title: ... -->" comment, or returns "".
func TitleFromComment(xml string) string {
	m := titleComment.FindStringSubmatch(xml)
	if m == nil {
		return ""
	}
	return m[1]
}
