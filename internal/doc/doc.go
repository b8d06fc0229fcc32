// Package doc is the document aggregate: it loads, locks, validates, links,
// indexes, versions and saves CDR documents.
package doc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/compress"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/filter"
	"github.com/emrgen/cdr/internal/linktype"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/queue"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/store"
	"github.com/emrgen/cdr/internal/xmlutil"
	"github.com/emrgen/cdr/internal/xslt"
	"github.com/sirupsen/logrus"
)

// Clock is the time source of the audit trail.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Env holds the collaborators shared by every document of a process.
type Env struct {
	Engine  xslt.Engine
	Filters *filter.Library
	Queue   queue.DocumentQueue
	// LinkTypes caches link types across documents. A Doc opened on an
	// Env without one gets its own.
	LinkTypes *linktype.Registry
	// Codec encodes new blobs. Stored blobs name their own codec.
	Codec        compress.Compress
	Clock        Clock
	AuditPoll    time.Duration
	AuditTimeout time.Duration
}

func (e *Env) withDefaults() *Env {
	c := *e
	if c.Queue == nil {
		c.Queue = queue.NopQueue{}
	}
	if c.Codec == nil {
		c.Codec = compress.NewNop()
	}
	if c.LinkTypes == nil {
		c.LinkTypes = linktype.NewRegistry()
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.AuditPoll <= 0 {
		c.AuditPoll = 100 * time.Millisecond
	}
	if c.AuditTimeout <= 0 {
		c.AuditTimeout = 5 * time.Second
	}
	return &c
}

// Doc is one CDR document: the working copy, or one frozen version of it.
// The id and version are fixed once the document is loaded or first saved.
type Doc struct {
	sess *session.Session
	env  *Env
	st   store.Store

	id      uint
	version int

	docTypeName  string
	docType      *doctype.Doctype
	title        string
	comment      string
	activeStatus string
	valStatus    string
	valDate      *time.Time
	updatedAt    time.Time
	publishable  bool
	xml          string

	blob       []byte
	blobLoaded bool
	blobDirty  bool

	// Errors holds the diagnostics of the last validate or save.
	Errors []*Error
	// Links holds the links found by the last link collection.
	Links []*Link

	savedVersion int
	cache        derived
}

// derived holds values computed from the xml; SetXML drops them.
type derived struct {
	parsed   bool
	root     *etree.Document
	parseErr error
	resolved map[int]*etree.Document
}

// New starts a document which has not been saved yet.
func New(sess *session.Session, env *Env, docType, xml string) *Doc {
	return &Doc{
		sess:         sess,
		env:          env.withDefaults(),
		st:           sess.Store,
		docTypeName:  docType,
		activeStatus: model.ActiveStatusActive,
		valStatus:    model.ValStatusUnvalidated,
		xml:          xml,
	}
}

// Open loads a document. The version spec is empty or "Current" for the
// working copy, a number (negative numbers count back from the latest),
// "last", "lastp", or "label NAME".
func Open(ctx context.Context, sess *session.Session, env *Env, id uint, version string) (*Doc, error) {
	n, err := ResolveVersion(ctx, sess.Store, id, version)
	if err != nil {
		return nil, err
	}
	return load(ctx, sess, env, id, n)
}

// OpenBefore loads the latest version saved before a cutoff.
func OpenBefore(ctx context.Context, sess *session.Session, env *Env, id uint, before time.Time) (*Doc, error) {
	n, err := sess.Store.LastVersionBefore(ctx, id, before)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s has no version before %s", ErrVersionNotFound,
			cdrid.Format(id), before.Format(time.RFC3339))
	}
	return load(ctx, sess, env, id, n)
}

func load(ctx context.Context, sess *session.Session, env *Env, id uint, version int) (*Doc, error) {
	d := &Doc{sess: sess, env: env.withDefaults(), st: sess.Store, id: id, version: version}

	var docTypeID uint
	if version == 0 {
		row, err := d.st.GetDocument(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, cdrid.Format(id))
			}
			return nil, err
		}
		docTypeID = row.DocType
		d.title, d.comment, d.xml = row.Title, row.Comment, row.XML
		d.activeStatus, d.valStatus, d.valDate = row.ActiveStatus, row.ValStatus, row.ValDate
		d.updatedAt = row.UpdatedAt
	} else {
		v, err := d.st.GetVersion(ctx, id, version)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, cdrid.Format(id), version)
			}
			return nil, err
		}
		docTypeID = v.DocType
		d.title, d.comment, d.xml = v.Title, v.Comment, v.XML
		d.valStatus, d.valDate = v.ValStatus, v.ValDate
		d.updatedAt = v.UpdatedDT
		d.publishable = v.Publishable == model.Yes
	}

	dt, err := doctype.GetByID(ctx, d.st, docTypeID)
	if err != nil {
		return nil, err
	}
	d.docType = dt
	d.docTypeName = dt.Name
	return d, nil
}

func (d *Doc) ID() uint { return d.id }

// CdrID is the canonical id, or "" for an unsaved document.
func (d *Doc) CdrID() string {
	if d.id == 0 {
		return ""
	}
	return cdrid.Format(d.id)
}

// Version is 0 for the working copy.
func (d *Doc) Version() int { return d.version }

// SavedVersion is the version frozen by the last save or check-in.
func (d *Doc) SavedVersion() int { return d.savedVersion }

func (d *Doc) Title() string        { return d.title }
func (d *Doc) Comment() string      { return d.comment }
func (d *Doc) ActiveStatus() string { return d.activeStatus }
func (d *Doc) ValStatus() string    { return d.valStatus }
func (d *Doc) ValDate() *time.Time  { return d.valDate }
func (d *Doc) XML() string          { return d.xml }
func (d *Doc) DocTypeName() string  { return d.docTypeName }

// Publishable reports whether a loaded version is marked publishable.
func (d *Doc) Publishable() bool { return d.publishable }

// SetTitle sets the title used when no title filter exists for the
// doctype.
func (d *Doc) SetTitle(title string) { d.title = title }

func (d *Doc) SetComment(comment string) { d.comment = comment }

// SetXML replaces the content and drops everything derived from it.
func (d *Doc) SetXML(xml string) {
	d.xml = xml
	d.cache = derived{}
}

// SetBlob attaches binary content, saved with the next Save. An empty
// blob means no blob.
func (d *Doc) SetBlob(data []byte) {
	d.blob = data
	d.blobLoaded = true
	d.blobDirty = true
}

// Blob returns the binary content of the document, or nil.
func (d *Doc) Blob(ctx context.Context) ([]byte, error) {
	if d.blobLoaded || d.id == 0 {
		return d.blob, nil
	}
	var row *model.DocBlob
	var err error
	if d.version == 0 {
		row, err = d.st.GetDocBlob(ctx, d.id)
	} else {
		row, err = d.st.GetVersionBlob(ctx, d.id, d.version)
	}
	if err != nil {
		return nil, err
	}
	if row != nil {
		codec, err := compress.ByName(row.Compression)
		if err != nil {
			return nil, err
		}
		if d.blob, err = codec.Decode(row.Data); err != nil {
			return nil, fmt.Errorf("decoding blob of %s: %w", d.CdrID(), err)
		}
	}
	d.blobLoaded = true
	return d.blob, nil
}

// DocType resolves the doctype of the document.
func (d *Doc) DocType(ctx context.Context) (*doctype.Doctype, error) {
	if d.docType != nil {
		return d.docType, nil
	}
	if d.docTypeName == "" {
		return nil, ErrMissingDocType
	}
	dt, err := doctype.Get(ctx, d.st, d.docTypeName)
	if err != nil {
		return nil, err
	}
	d.docType = dt
	return dt, nil
}

func (d *Doc) isControl() bool {
	return doctype.IsControl(d.docTypeName)
}

// tree parses the xml once. The result is shared; callers copy it before
// changing anything.
func (d *Doc) tree() (*etree.Document, error) {
	if !d.cache.parsed {
		d.cache.root, d.cache.parseErr = xmlutil.Parse(d.xml)
		d.cache.parsed = true
	}
	return d.cache.root, d.cache.parseErr
}

// Root returns a copy of the parsed document.
func (d *Doc) Root() (*etree.Document, error) {
	root, err := d.tree()
	if err != nil {
		return nil, err
	}
	return root.Copy(), nil
}

// Lock returns the open check-out of the document, or nil.
func (d *Doc) Lock(ctx context.Context) (*model.Checkout, error) {
	if d.id == 0 {
		return nil, nil
	}
	return d.st.GetActiveCheckout(ctx, d.id)
}

// LastVersion returns the highest version number, optionally only among
// publishable versions.
func (d *Doc) LastVersion(ctx context.Context, publishable bool) (int, error) {
	if d.id == 0 {
		return 0, nil
	}
	return d.st.LastVersion(ctx, d.id, publishable)
}

func (d *Doc) log() *logrus.Entry {
	return d.sess.Logger().WithField("doc", d.CdrID())
}

func (d *Doc) lib() *filter.Library {
	return d.env.Filters.WithStore(d.st)
}

// transaction runs f with the document reading and writing through one
// transaction.
func (d *Doc) transaction(ctx context.Context, op string, f func() error) error {
	outer := d.st
	err := outer.Transaction(ctx, func(tx store.Store) error {
		d.st = tx
		return f()
	})
	d.st = outer
	if err != nil {
		d.log().Errorf("%s rolled back: %v", op, err)
	}
	return err
}

func (d *Doc) publish(ctx context.Context, typ string, version int) {
	event := &queue.Event{
		Type:    typ,
		DocID:   d.CdrID(),
		DocType: d.docTypeName,
		Version: version,
		Status:  d.activeStatus,
		User:    d.sess.User,
		At:      d.env.Clock.Now(),
	}
	if err := d.env.Queue.PublishChange(ctx, event); err != nil {
		d.log().Warnf("publishing %s event: %v", typ, err)
	}
}
