package store

import (
	"context"
	"time"

	"github.com/emrgen/cdr/internal/model"
	"gorm.io/gorm/clause"
)

type Store interface {
	DocumentStore
	VersionStore
	BlobStore
	CheckoutStore
	AuditStore
	LinkStore
	QueryTermStore
	DocTypeStore
	LinkTypeStore
	FilterSetStore
	LabelStore
	PublishingStore
	PermissionStore
	// RawQuery runs a read-only statement and returns the column names and
	// rows rendered as strings.
	RawQuery(ctx context.Context, sql string, args ...any) ([]string, [][]string, error)
	Transaction(ctx context.Context, f func(tx Store) error) error
	Migrate() error
}

type DocumentStore interface {
	// CreateDocument inserts the working copy of a document, assigning its id.
	CreateDocument(ctx context.Context, doc *model.Document) error
	// GetDocument retrieves the working copy of a document by ID.
	GetDocument(ctx context.Context, id uint) (*model.Document, error)
	// UpdateDocument writes every column of the working copy.
	UpdateDocument(ctx context.Context, doc *model.Document) error
	// UpdateDocumentTitle writes the title without touching anything else.
	UpdateDocumentTitle(ctx context.Context, id uint, title string) error
	// UpdateActiveStatus sets the active status of a document.
	UpdateActiveStatus(ctx context.Context, id uint, status string) error
	// UpdateValStatus persists a validation outcome for the working copy.
	UpdateValStatus(ctx context.Context, id uint, status string, at time.Time) error
	// FindDocumentsByTitle lists non-deleted documents with an exact title,
	// optionally restricted to one doctype.
	FindDocumentsByTitle(ctx context.Context, title string, docType *uint) ([]*model.Document, error)
	// ListDocumentIDs lists ids of active documents of a doctype.
	ListDocumentIDs(ctx context.Context, docType uint) ([]uint, error)
	// SearchDocuments lists documents of the given doctypes whose title
	// matches the pattern and which satisfy every extra condition.
	SearchDocuments(ctx context.Context, docTypes []uint, titlePattern string, conds []clause.Expression, limit int) ([]*model.Document, error)
}

type VersionStore interface {
	// CreateVersion freezes a version row.
	CreateVersion(ctx context.Context, v *model.DocVersion) error
	// GetVersion retrieves one version of a document.
	GetVersion(ctx context.Context, id uint, num int) (*model.DocVersion, error)
	// LastVersion returns the highest version number, or 0 when unversioned.
	LastVersion(ctx context.Context, id uint, publishable bool) (int, error)
	// LastVersionBefore returns the highest version saved before a cutoff.
	LastVersionBefore(ctx context.Context, id uint, before time.Time) (int, error)
	// CountPublishableVersions counts the publishable versions of a document.
	CountPublishableVersions(ctx context.Context, id uint) (int64, error)
}

type BlobStore interface {
	CreateBlob(ctx context.Context, blob *model.DocBlob) error
	// GetDocBlob returns the blob linked to the working copy, or nil.
	GetDocBlob(ctx context.Context, docID uint) (*model.DocBlob, error)
	// GetVersionBlob returns the blob linked to a version, or nil.
	GetVersionBlob(ctx context.Context, docID uint, num int) (*model.DocBlob, error)
	SetDocBlobUsage(ctx context.Context, docID, blobID uint) error
	CreateVersionBlobUsage(ctx context.Context, usage *model.VersionBlobUsage) error
	// PurgeBlobs removes every blob linked to a document and its versions.
	PurgeBlobs(ctx context.Context, docID uint) error
}

type CheckoutStore interface {
	// GetActiveCheckout returns the open lock on a document, or nil.
	GetActiveCheckout(ctx context.Context, docID uint) (*model.Checkout, error)
	CreateCheckout(ctx context.Context, c *model.Checkout) error
	// CloseCheckout marks a lock released.
	CloseCheckout(ctx context.Context, id uint, at time.Time, version *int, comment string) error
}

type AuditStore interface {
	// LastAuditTime returns the timestamp of the latest audit row of a
	// document, or nil.
	LastAuditTime(ctx context.Context, docID uint) (*time.Time, error)
	CreateAuditTrail(ctx context.Context, a *model.AuditTrail) error
	CreateAddedAction(ctx context.Context, a *model.AuditTrailAddedAction) error
}

type LinkStore interface {
	ListLinks(ctx context.Context, sourceDoc uint) ([]*model.LinkNet, error)
	CreateLinks(ctx context.Context, links []*model.LinkNet) error
	DeleteLinksByID(ctx context.Context, ids []uint) error
	DeleteAllLinks(ctx context.Context, sourceDoc uint) error
	// ListLinksTo lists the links from other documents into a document.
	ListLinksTo(ctx context.Context, targetDoc uint) ([]*model.LinkNet, error)
	DeleteLinksTo(ctx context.Context, targetDoc uint) error
	CountLinksOfType(ctx context.Context, linkType uint) (int64, error)
	ListFragments(ctx context.Context, docID uint) ([]string, error)
	CreateFragments(ctx context.Context, docID uint, frags []string) error
	DeleteFragments(ctx context.Context, docID uint, frags []string) error
	DeleteAllFragments(ctx context.Context, docID uint) error
}

type QueryTermStore interface {
	ListQueryTerms(ctx context.Context, table string, docID uint) ([]*model.QueryTerm, error)
	CreateQueryTerms(ctx context.Context, table string, terms []*model.QueryTerm) error
	DeleteQueryTermsByID(ctx context.Context, table string, ids []uint) error
	DeleteAllQueryTerms(ctx context.Context, table string, docID uint) error
	// CountQueryTerms counts the rows of a document with a path, and with a
	// value when one is given.
	CountQueryTerms(ctx context.Context, table string, docID uint, path string, value *string) (int64, error)
	// HasFragmentTerm reports whether a document indexes a cdr:id value.
	HasFragmentTerm(ctx context.Context, table string, docID uint, fragment string) (bool, error)
	ListQueryTermDefs(ctx context.Context) ([]*model.QueryTermDef, error)
	CreateQueryTermDef(ctx context.Context, def *model.QueryTermDef) error
	DeleteQueryTermDef(ctx context.Context, path string) error
}

type DocTypeStore interface {
	GetDocType(ctx context.Context, id uint) (*model.DocType, error)
	GetDocTypeByName(ctx context.Context, name string) (*model.DocType, error)
	ListDocTypes(ctx context.Context) ([]*model.DocType, error)
	// SaveDocType inserts or updates a doctype.
	SaveDocType(ctx context.Context, dt *model.DocType) error
}

type LinkTypeStore interface {
	GetLinkType(ctx context.Context, id uint) (*model.LinkType, error)
	GetLinkTypeByName(ctx context.Context, name string) (*model.LinkType, error)
	ListLinkTypes(ctx context.Context) ([]*model.LinkType, error)
	// FindLinkTypeForElement returns the link type a source element carries.
	FindLinkTypeForElement(ctx context.Context, docType uint, element string) (*model.LinkType, error)
	ListLinkSources(ctx context.Context, linkID uint) ([]*model.LinkXML, error)
	ListLinkTargets(ctx context.Context, linkID uint) ([]*model.LinkTarget, error)
	ListLinkProperties(ctx context.Context, linkID uint) ([]*model.LinkProperty, error)
	// SaveLinkType writes a link type and replaces its sources, targets
	// and properties.
	SaveLinkType(ctx context.Context, lt *model.LinkType, sources []*model.LinkXML, targets []*model.LinkTarget, props []*model.LinkProperty) error
	DeleteLinkType(ctx context.Context, id uint) error
	GetLinkPropType(ctx context.Context, id uint) (*model.LinkPropType, error)
	GetLinkPropTypeByName(ctx context.Context, name string) (*model.LinkPropType, error)
}

type FilterSetStore interface {
	GetFilterSet(ctx context.Context, id uint) (*model.FilterSet, error)
	GetFilterSetByName(ctx context.Context, name string) (*model.FilterSet, error)
	ListFilterSets(ctx context.Context) ([]*model.FilterSet, error)
	// ListFilterSetMembers returns the members of a set in position order.
	ListFilterSetMembers(ctx context.Context, setID uint) ([]*model.FilterSetMember, error)
	// SaveFilterSet writes a filter set and replaces its members.
	SaveFilterSet(ctx context.Context, set *model.FilterSet, members []*model.FilterSetMember) error
	DeleteFilterSet(ctx context.Context, id uint) error
}

type LabelStore interface {
	GetLabelByName(ctx context.Context, name string) (*model.VersionLabel, error)
	CreateLabel(ctx context.Context, label *model.VersionLabel) error
	DeleteLabel(ctx context.Context, id uint) error
	// SetVersionLabel binds a label to a version, replacing any earlier
	// version of the same document.
	SetVersionLabel(ctx context.Context, l *model.DocVersionLabel) error
	DeleteVersionLabel(ctx context.Context, label, docID uint) error
	// GetLabeledVersion returns the version of a document carrying a label.
	GetLabeledVersion(ctx context.Context, label string, docID uint) (int, error)
}

type PublishingStore interface {
	// IsPublished reports whether a document is in the current production
	// publishing collection.
	IsPublished(ctx context.Context, docID uint) (bool, error)
	CountExternalMappings(ctx context.Context, docID uint) (int64, error)
	CreateReadyForReview(ctx context.Context, docID uint) error
	IsValidZip(ctx context.Context, zip string) (bool, error)
}

type PermissionStore interface {
	// ListGroupActions lists the actions granted to any group the user is in.
	ListGroupActions(ctx context.Context, usr string) ([]*model.GrpAction, error)
	SaveGroupAction(ctx context.Context, a *model.GrpAction) error
	AddGroupUser(ctx context.Context, grp, usr string) error
}
