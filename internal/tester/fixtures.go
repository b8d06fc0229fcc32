package tester

import (
	"context"
	"testing"
	"time"

	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/store"
	"github.com/stretchr/testify/require"
)

// DocType returns the named doctype, creating it when missing.
func DocType(t testing.TB, s store.Store, name string) *model.DocType {
	t.Helper()
	ctx := context.Background()

	dt, err := s.GetDocTypeByName(ctx, name)
	if err == nil {
		return dt
	}
	require.ErrorIs(t, err, store.ErrNotFound)

	dt = &model.DocType{Name: name, Format: "xml", Versioning: model.Yes, Active: model.Yes}
	require.NoError(t, s.SaveDocType(ctx, dt))
	return dt
}

// Document inserts a working copy directly, bypassing the document
// lifecycle.
func Document(t testing.TB, s store.Store, docType, title, xml string) *model.Document {
	t.Helper()
	dt := DocType(t, s, docType)
	doc := &model.Document{
		DocType:      dt.ID,
		Title:        title,
		XML:          xml,
		ActiveStatus: model.ActiveStatusActive,
		ValStatus:    model.ValStatusUnvalidated,
	}
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	return doc
}

// Schema stores a schema document under the given title.
func Schema(t testing.TB, s store.Store, title, xsd string) *model.Document {
	t.Helper()
	return Document(t, s, "schema", title, xsd)
}

// GovernedDocType creates a doctype governed by the schema document with
// the given title.
func GovernedDocType(t testing.TB, s store.Store, name string, schema *model.Document) *model.DocType {
	t.Helper()
	dt := DocType(t, s, name)
	dt.XMLSchema = &schema.ID
	require.NoError(t, s.SaveDocType(context.Background(), dt))
	return dt
}

// Filter stores a filter document under the given title.
func Filter(t testing.TB, s store.Store, title, xslt string) *model.Document {
	t.Helper()
	return Document(t, s, "Filter", title, xslt)
}

// Grant puts the user in a group holding the action for a doctype; an
// empty doctype grants it for all.
func Grant(t testing.TB, s store.Store, user, action, docType string) {
	t.Helper()
	ctx := context.Background()
	grp := user + " group"
	require.NoError(t, s.AddGroupUser(ctx, grp, user))
	require.NoError(t, s.SaveGroupAction(ctx, &model.GrpAction{Grp: grp, Action: action, DocType: docType}))
}

// QueryTerm indexes one path value for a document.
func QueryTerm(t testing.TB, s store.Store, table string, docID uint, path, value string) {
	t.Helper()
	term := &model.QueryTerm{DocID: docID, Path: path, Value: value, NodeLoc: "0000"}
	require.NoError(t, s.CreateQueryTerms(context.Background(), table, []*model.QueryTerm{term}))
}

// Version freezes the given XML as a version of the document.
func Version(t testing.TB, s store.Store, doc *model.Document, num int, publishable bool, xml string) *model.DocVersion {
	t.Helper()
	v := &model.DocVersion{
		ID:          doc.ID,
		Num:         num,
		DocType:     doc.DocType,
		Title:       doc.Title,
		XML:         xml,
		ValStatus:   model.ValStatusValid,
		Publishable: model.No,
		UpdatedDT:   time.Now(),
		Usr:         "tester",
	}
	if publishable {
		v.Publishable = model.Yes
	}
	require.NoError(t, s.CreateVersion(context.Background(), v))
	return v
}
