package doc

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/compress"
	"github.com/emrgen/cdr/internal/filter"
	"github.com/emrgen/cdr/internal/linktype"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/store"
	"github.com/emrgen/cdr/internal/tester"
	"github.com/emrgen/cdr/internal/xmlutil"
	"github.com/emrgen/cdr/internal/xslt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	tester.Setup()
	code := m.Run()

	os.Exit(code)
}

const summarySchema = `<?xml version="1.0" encoding="UTF-8"?>
<xsd:schema xmlns:xsd="http://www.w3.org/2001/XMLSchema">
  <xsd:annotation>
    <xsd:appinfo>
      <rule-set name="Summary Rules">
        <rule context="Para">
          <assert test="string-length(.) &gt; 0">Para must not be empty</assert>
        </rule>
      </rule-set>
    </xsd:appinfo>
  </xsd:annotation>
  <xsd:include schemaLocation="Common.xml"/>
  <xsd:element name="Summary" type="Summary"/>
  <xsd:complexType name="Summary">
    <xsd:sequence>
      <xsd:element name="Title" type="xsd:string"/>
      <xsd:element name="Foo" type="xsd:string"/>
      <xsd:element name="Para" type="Para" minOccurs="0" maxOccurs="unbounded"/>
      <xsd:element name="Ref" type="Ref" minOccurs="0" maxOccurs="unbounded"/>
    </xsd:sequence>
  </xsd:complexType>
</xsd:schema>`

const commonSchema = `<?xml version="1.0" encoding="UTF-8"?>
<xsd:schema xmlns:xsd="http://www.w3.org/2001/XMLSchema">
  <xsd:complexType name="Para" mixed="true">
    <xsd:choice minOccurs="0" maxOccurs="unbounded">
      <xsd:element name="B" type="xsd:string"/>
    </xsd:choice>
    <xsd:attribute name="cdr-id" type="xsd:string"/>
  </xsd:complexType>
  <xsd:complexType name="Ref">
    <xsd:attribute name="cdr-ref" type="xsd:string" use="required"/>
  </xsd:complexType>
</xsd:schema>`

type fakeClock struct {
	now   time.Time
	slept time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept += d
	c.now = c.now.Add(d)
}

type fixture struct {
	st     store.Store
	sess   *session.Session
	env    *Env
	engine *xslt.FuncEngine
	clock  *fakeClock
}

func sheet(id string) string {
	return `<?xml version="1.0"?>
<xsl:transform xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0" id="` + id + `"/>`
}

// summaryTitle stands in for the DocTitle filter of Summary documents.
func summaryTitle(ctx context.Context, doc *etree.Document, params map[string]string, r xslt.Resolver) (*etree.Document, []xslt.Message, error) {
	out := etree.NewDocument()
	title := out.CreateElement("Title")
	if el := doc.FindElement("//Title"); el != nil {
		title.SetText(xmlutil.TextContent(el))
	}
	return out, nil, nil
}

// summaryRules stands in for the stylesheet generated from the schema
// rule set.
func summaryRules(ctx context.Context, doc *etree.Document, params map[string]string, r xslt.Resolver) (*etree.Document, []xslt.Message, error) {
	out := etree.NewDocument()
	errs := out.CreateElement("Errors")
	for _, p := range doc.FindElements("//Para") {
		if strings.TrimSpace(xmlutil.TextContent(p)) == "" {
			e := errs.CreateElement("Err")
			e.CreateAttr("eref", p.SelectAttrValue(xmlutil.LocatorAttr, ""))
			e.SetText("Para must not be empty")
		}
	}
	return out, nil, nil
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st := tester.NewStore(t)
	top := tester.Schema(t, st, "Summary.xml", summarySchema)
	tester.Schema(t, st, "Common.xml", commonSchema)
	tester.GovernedDocType(t, st, "Summary", top)
	tester.DocType(t, st, "Term")
	tester.DocType(t, st, "Media")
	tester.Filter(t, st, "DocTitle for Summary", sheet("summary-title"))

	engine := xslt.NewFuncEngine()
	engine.Register("summary-title", summaryTitle)
	engine.Register("rule-set:Summary Rules", summaryRules)

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
	env := &Env{Engine: engine, Filters: filter.NewLibrary(st, filter.Options{}), LinkTypes: linktype.NewRegistry(), Clock: clock}
	return &fixture{st: st, sess: session.New(st, "editor", nil), env: env, engine: engine, clock: clock}
}

func (f *fixture) saved(t *testing.T, docType, xml string, opts SaveOptions) *Doc {
	t.Helper()
	d := New(f.sess, f.env, docType, xml)
	require.NoError(t, d.Save(context.Background(), opts))
	require.NotZero(t, d.ID())
	return d
}

func TestSave_NewDocument(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	d := f.saved(t, "Summary", `<Summary><Title>My Summary</Title><Foo>f</Foo><Para>one</Para><Para>two</Para></Summary>`,
		SaveOptions{Version: true})

	assert.Equal(t, 1, d.SavedVersion())
	assert.Equal(t, 0, d.Version())
	assert.Equal(t, model.ValStatusUnvalidated, d.ValStatus())
	assert.Equal(t, "My Summary", d.Title())
	assert.Empty(t, d.Errors)

	lock, err := d.Lock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "editor", lock.Usr)

	v1, err := Open(ctx, f.sess, f.env, d.ID(), "last")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version())
	assert.Equal(t, "My Summary", v1.Title())
	assert.Contains(t, v1.XML(), `xmlns:cdr="cips.nci.nih.gov/cdr"`)
	assert.Contains(t, v1.XML(), `<Para cdr:id="_1">one</Para>`)
	assert.Contains(t, v1.XML(), `<Para cdr:id="_2">two</Para>`)
	assert.False(t, v1.Publishable())

	// a second save waits for the next audit second
	d.SetXML(strings.Replace(d.XML(), "</Summary>", "<Para>three</Para></Summary>", 1))
	require.NoError(t, d.Save(ctx, SaveOptions{Version: true, Unlock: true, Comment: "third para"}))
	assert.Equal(t, 2, d.SavedVersion())
	assert.Contains(t, d.XML(), `<Para cdr:id="_3">three</Para>`)
	assert.GreaterOrEqual(t, f.clock.slept, time.Second)

	lock, err = d.Lock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)

	again, err := Open(ctx, f.sess, f.env, d.ID(), "1")
	require.NoError(t, err)
	assert.Equal(t, v1.XML(), again.XML())

	v2, err := Open(ctx, f.sess, f.env, d.ID(), "2")
	require.NoError(t, err)
	assert.Equal(t, "third para", v2.Comment())

	err = d.Save(ctx, SaveOptions{})
	assert.ErrorIs(t, err, ErrNotLocked)
}

func TestSave_PublishableWithoutValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	d := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`, SaveOptions{Publishable: true})
	require.Len(t, d.Errors, 1)
	assert.Equal(t, nonPublishableWarning, d.Errors[0].Message)
	assert.Equal(t, LevelWarning, d.Errors[0].Level)
	assert.Equal(t, 1, d.SavedVersion())

	v, err := f.st.GetVersion(ctx, d.ID(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.No, v.Publishable)

	lastp, err := d.LastVersion(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, lastp)
}

func TestSave_PublishableValid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	d := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo><Para>text</Para></Summary>`,
		SaveOptions{Publishable: true, ValTypes: []string{ValidateSchema, ValidateLinks}})
	assert.Empty(t, d.Errors)
	assert.Equal(t, model.ValStatusValid, d.ValStatus())

	v, err := f.st.GetVersion(ctx, d.ID(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.Yes, v.Publishable)
	assert.Equal(t, model.ValStatusValid, v.ValStatus)

	reopened, err := Open(ctx, f.sess, f.env, d.ID(), "lastp")
	require.NoError(t, err)
	assert.True(t, reopened.Publishable())
}

func TestSave_ControlDocuments(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	xml := strings.Replace(sheet("vendor"), "?>\n", "?>\n<!-- Filter title: Vendor Filter -->\n", 1)

	d := f.saved(t, "Filter", xml, SaveOptions{Publishable: true})
	assert.Equal(t, "Vendor Filter", d.Title())
	assert.Empty(t, d.Errors)
	v, err := f.st.GetVersion(ctx, d.ID(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.Yes, v.Publishable)

	dup := New(f.sess, f.env, "Filter", xml)
	err = dup.Save(ctx, SaveOptions{})
	assert.ErrorIs(t, err, ErrDuplicateTitle)
	assert.Zero(t, dup.ID())
}

func TestSave_Permissions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sess := session.New(f.st, "reader", session.StaticAuthorizer{
		session.ActionAddDocument: {"Summary"},
	})

	d := New(sess, f.env, "Term", "<Term/>")
	err := d.Save(ctx, SaveOptions{})
	assert.ErrorIs(t, err, session.ErrNotAuthorized)

	d = New(sess, f.env, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`)
	err = d.Save(ctx, SaveOptions{ActiveStatus: model.ActiveStatusInactive})
	var authErr *session.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, session.ActionPublishDocument, authErr.Action)

	require.NoError(t, d.Save(ctx, SaveOptions{}))

	_, err = New(sess, f.env, "", "<x/>").DocType(ctx)
	assert.ErrorIs(t, err, ErrMissingDocType)

	err = New(f.sess, f.env, "Summary", "<Summary/>").Save(ctx, SaveOptions{ActiveStatus: "X"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestSave_Malformed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	d := f.saved(t, "Summary", "<Summary><Title>", SaveOptions{ValTypes: []string{ValidateSchema}})
	assert.Equal(t, model.ValStatusMalformed, d.ValStatus())
	require.Len(t, d.Errors, 1)
	assert.Equal(t, LevelFatal, d.Errors[0].Level)

	row, err := f.st.GetDocument(ctx, d.ID())
	require.NoError(t, err)
	assert.Equal(t, "<Summary><Title>", row.XML)
	assert.Equal(t, model.ValStatusMalformed, row.ValStatus)
}

func TestSave_Blob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.env.Codec = compress.NewGZip()

	d := New(f.sess, f.env, "Media", "<Media><Title>Scan</Title></Media>")
	d.SetTitle("Scan")
	d.SetBlob([]byte("binary image data"))
	require.NoError(t, d.Save(ctx, SaveOptions{Version: true}))

	row, err := f.st.GetDocBlob(ctx, d.ID())
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "gzip", row.Compression)

	reopened, err := Open(ctx, f.sess, f.env, d.ID(), "")
	require.NoError(t, err)
	data, err := reopened.Blob(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("binary image data"), data)

	v1, err := Open(ctx, f.sess, f.env, d.ID(), "1")
	require.NoError(t, err)
	data, err = v1.Blob(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("binary image data"), data)

	summary := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`, SaveOptions{})
	err = summary.Save(ctx, SaveOptions{DelBlobs: true})
	assert.ErrorIs(t, err, ErrNotMedia)

	require.NoError(t, d.Save(ctx, SaveOptions{DelBlobs: true}))
	row, err = f.st.GetDocBlob(ctx, d.ID())
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestUpdateTitle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.saved(t, "Summary", `<Summary><Title>Old</Title><Foo>f</Foo></Summary>`, SaveOptions{Unlock: true})

	row, err := f.st.GetDocument(ctx, d.ID())
	require.NoError(t, err)
	row.XML = `<Summary><Title>New</Title><Foo>f</Foo></Summary>`
	require.NoError(t, f.st.UpdateDocument(ctx, row))

	fresh, err := Open(ctx, f.sess, f.env, d.ID(), "")
	require.NoError(t, err)
	changed, err := fresh.UpdateTitle(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "New", fresh.Title())

	changed, err = fresh.UpdateTitle(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = New(f.sess, f.env, "Summary", "<Summary/>").UpdateTitle(ctx)
	assert.ErrorIs(t, err, ErrNotSaved)
}

func TestDenormalizedXML(t *testing.T) {
	f := setup(t)
	d := New(f.sess, f.env, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`)
	// no denormalization set exists for Summary
	assert.Equal(t, d.XML(), d.DenormalizedXML(context.Background()))
}

func TestSetStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`, SaveOptions{Unlock: true})

	require.NoError(t, d.SetStatus(ctx, model.ActiveStatusInactive, "withdrawn"))
	assert.Equal(t, model.ActiveStatusInactive, d.ActiveStatus())
	row, err := f.st.GetDocument(ctx, d.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ActiveStatusInactive, row.ActiveStatus)

	require.NoError(t, d.Unblock(ctx, "restored"))
	row, err = f.st.GetDocument(ctx, d.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ActiveStatusActive, row.ActiveStatus)

	assert.ErrorIs(t, d.SetStatus(ctx, "D", ""), ErrInvalidStatus)

	weak := session.New(f.st, "weak", session.StaticAuthorizer{})
	other, err := Open(ctx, weak, f.env, d.ID(), "")
	require.NoError(t, err)
	assert.ErrorIs(t, other.SetStatus(ctx, model.ActiveStatusInactive, ""), session.ErrNotAuthorized)
}
