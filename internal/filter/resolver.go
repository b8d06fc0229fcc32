package filter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/store"
	"github.com/emrgen/cdr/internal/xmlutil"
	"github.com/emrgen/cdr/internal/xslt"
	"github.com/sirupsen/logrus"
)

const (
	SchemeCdr     = "cdr"
	SchemeCdrx    = "cdrx"
	SchemeCdrUtil = "cdrutil"

	partControl = "CdrCtl"
	partTitle   = "DocTitle"
)

var (
	ErrUnsupportedURI = errors.New("unsupported uri")
	ErrResolve        = errors.New("cannot resolve uri")
)

var _ xslt.Resolver = (*Resolver)(nil)

// Resolver answers the document() and include lookups of filters run by
// Apply. It is only handed to transforms started there.
type Resolver struct {
	lib     *Library
	subject Subject
}

// Resolve handles three schemes:
//
//	cdr:ID[/VERSION[/CdrCtl|DocTitle]]   another document
//	cdr:name:TITLE[/VERSION]             a document by title
//	cdr:*                                the document being filtered
//	cdrx:...                             as cdr:, empty element on failure
//	cdrutil:/FUNCTION[/ARG...]           a utility function
func (r *Resolver) Resolve(ctx context.Context, uri string) (*etree.Document, error) {
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
	}
	rest = strings.TrimLeft(rest, "/")

	switch scheme {
	case SchemeCdr:
		return r.document(ctx, rest)
	case SchemeCdrx:
		doc, err := r.document(ctx, rest)
		if err != nil {
			logrus.Debugf("cdrx lookup %s: %v", uri, err)
			return emptyDocument(), nil
		}
		return doc, nil
	case SchemeCdrUtil:
		segs, err := segments(rest)
		if err != nil || len(segs) == 0 || segs[0] == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
		}
		return r.lib.callUtil(ctx, r, segs[0], segs[1:])
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
}

func emptyDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateElement("empty")
	return doc
}

func segments(path string) ([]string, error) {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		s, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		parts[i] = s
	}
	return parts, nil
}

func isVersionToken(s string) bool {
	switch strings.ToLower(s) {
	case "current", "last", "lastp":
		return true
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

func (r *Resolver) document(ctx context.Context, rest string) (*etree.Document, error) {
	if rest == "*" {
		if r.subject.Doc == nil {
			return nil, fmt.Errorf("%w: no document is being filtered", ErrResolve)
		}
		return r.subject.Doc.Copy(), nil
	}

	if strings.HasPrefix(rest, namePrefix) {
		title := strings.TrimPrefix(rest, namePrefix)
		version := ""
		if i := strings.LastIndex(title, "/"); i >= 0 && isVersionToken(title[i+1:]) {
			title, version = title[:i], title[i+1:]
		}
		title, err := url.PathUnescape(title)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResolve, err)
		}
		id, err := r.lib.findByTitle(ctx, title, nil)
		if err != nil {
			return nil, err
		}
		return r.fetch(ctx, id, version, "")
	}

	segs, err := segments(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	id, err := cdrid.Parse(segs[0])
	if err != nil {
		return nil, err
	}
	var version, part string
	if len(segs) > 1 {
		version = segs[1]
	}
	if len(segs) > 2 {
		part = segs[2]
	}
	return r.fetch(ctx, id, version, part)
}

// fetch reads a document version. Filters are read through the library
// so their numbered versions come from the cache.
func (r *Resolver) fetch(ctx context.Context, id uint, version, part string) (*etree.Document, error) {
	st := r.lib.st
	n, err := ResolveVersion(ctx, st, id, version)
	if err != nil {
		return nil, err
	}

	var info docInfo
	if n == 0 {
		doc, err := st.GetDocument(ctx, id)
		if err != nil {
			return nil, notFound(err, id)
		}
		info = docInfo{id: id, docType: doc.DocType, title: doc.Title, xml: doc.XML,
			activeStatus: doc.ActiveStatus, valStatus: doc.ValStatus}
	} else {
		v, err := st.GetVersion(ctx, id, n)
		if err != nil {
			return nil, notFound(err, id)
		}
		info = docInfo{id: id, version: n, docType: v.DocType, title: v.Title, xml: v.XML, valStatus: v.ValStatus}
	}

	dt, err := doctype.GetByID(ctx, st, info.docType)
	if err != nil {
		return nil, err
	}

	switch part {
	case "":
		if dt.Name == doctype.Filter {
			f, err := r.lib.Fetch(ctx, id, n)
			if err != nil {
				return nil, err
			}
			info.xml = f.XML
		}
		return xmlutil.Parse(info.xml)
	case partTitle:
		doc := etree.NewDocument()
		doc.CreateElement("CdrDocTitle").SetText(info.title)
		return doc, nil
	case partControl:
		return controlDocument(info, dt.Name), nil
	}
	return nil, fmt.Errorf("%w: unknown document part %q", ErrResolve, part)
}

type docInfo struct {
	id           uint
	version      int
	docType      uint
	title        string
	xml          string
	activeStatus string
	valStatus    string
}

func controlDocument(info docInfo, docType string) *etree.Document {
	doc := etree.NewDocument()
	ctl := doc.CreateElement("CdrDocCtl")
	ctl.CreateElement("DocId").SetText(cdrid.Format(info.id))
	ctl.CreateElement("DocType").SetText(docType)
	ctl.CreateElement("DocTitle").SetText(info.title)
	if info.activeStatus != "" {
		ctl.CreateElement("DocActiveStatus").SetText(info.activeStatus)
	}
	ctl.CreateElement("DocValStatus").SetText(info.valStatus)
	if info.version > 0 {
		ctl.CreateElement("DocVersion").SetText(strconv.Itoa(info.version))
	}
	return doc
}

func notFound(err error, id uint) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s not found", ErrResolve, cdrid.Format(id))
	}
	return err
}
