package filter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/store"
	"github.com/emrgen/cdr/internal/tester"
	"github.com/emrgen/cdr/internal/xslt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	tester.Setup()
	code := m.Run()

	os.Exit(code)
}

func sheet(id, body string) string {
	return `<?xml version="1.0"?>
<!-- Filter title: ` + id + ` -->
<xsl:transform xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0" id="` + id + `">` + body + `</xsl:transform>`
}

type mapShared struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (s *mapShared) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *mapShared) Set(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; !ok {
		s.m[key] = data
	}
	return nil
}

func TestTitleFromComment(t *testing.T) {
	tests := []struct {
		xml  string
		want string
	}{
		{sheet("Vendor Filter", ""), "Vendor Filter"},
		{"<!-- Filter title:   Padded  -->\n<x/>", "Padded"},
		{"<x/><!-- Filter title: Late -->", ""},
		{"<!-- something else --><x/>", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TitleFromComment(tt.xml))
	}
}

func TestFetch(t *testing.T) {
	s := tester.NewStore(t)
	ctx := context.Background()
	f := tester.Filter(t, s, "Version Test", sheet("v", `<xsl:include href="cdr:name:Common Templates"/>`))
	tester.Version(t, s, f, 1, true, f.XML)

	shared := &mapShared{m: make(map[string][]byte)}
	lib := NewLibrary(s, Options{Tier: "DEV", Shared: shared})

	got, err := lib.Fetch(ctx, f.ID, 1)
	require.NoError(t, err)
	assert.Contains(t, got.XML, `href="cdr:name:Common%20Templates"`)
	assert.Equal(t, "Version Test", got.Title)
	assert.Contains(t, shared.m, fmt.Sprintf("filter:DEV:%d:1", f.ID))

	again, err := lib.Fetch(ctx, f.ID, 1)
	require.NoError(t, err)
	assert.Same(t, got, again)

	// another process on the same tier reads the shared copy
	other := NewLibrary(tester.NewStore(t), Options{Tier: "DEV", Shared: shared})
	fromShared, err := other.Fetch(ctx, f.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, got.XML, fromShared.XML)
	assert.Equal(t, "v", fromShared.Title)

	qa := NewLibrary(tester.NewStore(t), Options{Tier: "QA", Shared: shared})
	_, err = qa.Fetch(ctx, f.ID, 1)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	current, err := lib.Fetch(ctx, f.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, f.XML, current.XML)

	f.XML = sheet("v2", "")
	require.NoError(t, s.UpdateDocument(ctx, f))
	current, err = lib.Fetch(ctx, f.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, f.XML, current.XML)

	_, err = lib.Fetch(ctx, 9999, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveVersion(t *testing.T) {
	s := tester.NewStore(t)
	ctx := context.Background()
	doc := tester.Document(t, s, "Summary", "S", "<Summary/>")
	bare := tester.Document(t, s, "Summary", "Bare", "<Summary/>")
	tester.Version(t, s, doc, 1, true, "<Summary/>")
	tester.Version(t, s, doc, 2, false, "<Summary/>")

	tests := []struct {
		spec string
		want int
	}{
		{"", 0},
		{"Current", 0},
		{"last", 2},
		{"lastp", 1},
		{"3", 3},
	}
	for _, tt := range tests {
		n, err := ResolveVersion(ctx, s, doc.ID, tt.spec)
		require.NoError(t, err, tt.spec)
		assert.Equal(t, tt.want, n, tt.spec)
	}

	_, err := ResolveVersion(ctx, s, doc.ID, "newest")
	assert.ErrorIs(t, err, ErrBadSpec)
	_, err = ResolveVersion(ctx, s, bare.ID, "lastp")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

type setFixture struct {
	st  store.Store
	lib *Library
	a   *model.Document
	b   *model.Document
}

// setupSets stores filters "Add A" and "Add B", a set "Only B" and a set
// "Both" holding A followed by the nested "Only B".
func setupSets(t *testing.T) *setFixture {
	t.Helper()
	s := tester.NewStore(t)
	f := &setFixture{
		st:  s,
		lib: NewLibrary(s, Options{Tier: "DEV"}),
		a:   tester.Filter(t, s, "Add A", sheet("add-A", "")),
		b:   tester.Filter(t, s, "Add B", sheet("add-B", "")),
	}
	admin := session.New(s, "admin", nil)
	ctx := context.Background()
	require.NoError(t, f.lib.SaveSet(ctx, admin, &Set{
		Name: "Only B", Description: "b", Members: []Member{{Filter: f.b.ID}},
	}, ""))
	require.NoError(t, f.lib.SaveSet(ctx, admin, &Set{
		Name: "Both", Description: "a then b", Members: []Member{{Filter: f.a.ID}, {Subset: "Only B"}},
	}, ""))
	return f
}

func ids(filters []*Filter) []uint {
	out := make([]uint, 0, len(filters))
	for _, f := range filters {
		out = append(out, f.ID)
	}
	return out
}

func TestResolve(t *testing.T) {
	f := setupSets(t)
	ctx := context.Background()

	got, err := f.lib.Resolve(ctx, []string{"set:Both"}, "")
	require.NoError(t, err)
	assert.Equal(t, []uint{f.a.ID, f.b.ID}, ids(got))

	got, err = f.lib.Resolve(ctx, []string{"name:Add B", cdrid.Format(f.a.ID)}, "")
	require.NoError(t, err)
	assert.Equal(t, []uint{f.b.ID, f.a.ID}, ids(got))

	_, err = f.lib.Resolve(ctx, []string{"name:Nope"}, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.lib.Resolve(ctx, []string{"bogus"}, "")
	assert.ErrorIs(t, err, ErrBadSpec)
	_, err = f.lib.Resolve(ctx, []string{"set:Nope"}, "")
	assert.ErrorIs(t, err, ErrSetNotFound)
	_, err = f.lib.Resolve(ctx, []string{"set:Both"}, "lastp")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestExpand(t *testing.T) {
	f := setupSets(t)
	ctx := context.Background()

	got, err := f.lib.Expand(ctx, "Both")
	require.NoError(t, err)
	assert.Equal(t, []uint{f.a.ID, f.b.ID}, got)

	// assembled expansions are cached
	both, err := f.st.GetFilterSetByName(ctx, "Both")
	require.NoError(t, err)
	require.NoError(t, f.st.SaveFilterSet(ctx, both, nil))
	got, err = f.lib.Expand(ctx, "Both")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	set, err := f.lib.GetSet(ctx, "Only B")
	require.NoError(t, err)
	assert.Equal(t, []Member{{Filter: f.b.ID}}, set.Members)
	assert.Equal(t, cdrid.Format(f.b.ID), set.Members[0].String())
}

func TestExpand_Cycle(t *testing.T) {
	f := setupSets(t)
	ctx := context.Background()
	admin := session.New(f.st, "admin", nil)

	require.NoError(t, f.lib.SaveSet(ctx, admin, &Set{
		Name: "Only B", Description: "b", Members: []Member{{Subset: "Both"}},
	}, "Only B"))

	_, err := f.lib.Expand(ctx, "Both")
	assert.ErrorIs(t, err, ErrSetDepth)
}

func TestSaveSet(t *testing.T) {
	f := setupSets(t)
	ctx := context.Background()
	admin := session.New(f.st, "admin", nil)

	tests := []struct {
		name     string
		set      *Set
		original string
		err      error
	}{
		{"missing name", &Set{Description: "d"}, "", ErrSetInvalid},
		{"missing description", &Set{Name: "X"}, "", ErrSetInvalid},
		{"duplicate name", &Set{Name: "Both", Description: "d"}, "", ErrSetInvalid},
		{"both kinds", &Set{Name: "X", Description: "d", Members: []Member{{Filter: f.a.ID, Subset: "Both"}}}, "", ErrSetInvalid},
		{"empty member", &Set{Name: "X", Description: "d", Members: []Member{{}}}, "", ErrSetInvalid},
		{"unknown subset", &Set{Name: "X", Description: "d", Members: []Member{{Subset: "Nope"}}}, "", ErrSetNotFound},
		{"unknown filter", &Set{Name: "X", Description: "d", Members: []Member{{Filter: 9999}}}, "", ErrNotFound},
		{"unknown original", &Set{Name: "X", Description: "d"}, "Nope", ErrSetNotFound},
		{"includes itself", &Set{Name: "Both", Description: "d", Members: []Member{{Subset: "Both"}}}, "Both", ErrSetInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.lib.SaveSet(ctx, admin, tt.set, tt.original), tt.err)
		})
	}

	renamed := &Set{Name: "A and B", Description: "renamed", Members: []Member{{Filter: f.a.ID}, {Filter: f.b.ID}}}
	require.NoError(t, f.lib.SaveSet(ctx, admin, renamed, "Both"))
	got, err := f.lib.Expand(ctx, "A and B")
	require.NoError(t, err)
	assert.Equal(t, []uint{f.a.ID, f.b.ID}, got)
	_, err = f.lib.Expand(ctx, "Both")
	assert.ErrorIs(t, err, ErrSetNotFound)

	guest := session.New(f.st, "guest", session.StaticAuthorizer{})
	err = f.lib.SaveSet(ctx, guest, &Set{Name: "G", Description: "g"}, "")
	assert.ErrorIs(t, err, session.ErrNotAuthorized)
}

func TestDeleteSet(t *testing.T) {
	f := setupSets(t)
	ctx := context.Background()
	admin := session.New(f.st, "admin", nil)

	assert.ErrorIs(t, f.lib.DeleteSet(ctx, admin, "Only B"), ErrSetInUse)
	require.NoError(t, f.lib.DeleteSet(ctx, admin, "Both"))
	require.NoError(t, f.lib.DeleteSet(ctx, admin, "Only B"))
	assert.ErrorIs(t, f.lib.DeleteSet(ctx, admin, "Only B"), ErrSetNotFound)

	guest := session.New(f.st, "guest", session.StaticAuthorizer{})
	assert.ErrorIs(t, f.lib.DeleteSet(ctx, guest, "Both"), session.ErrNotAuthorized)
}

func appendChild(name string) xslt.TransformFunc {
	return func(ctx context.Context, doc *etree.Document, params map[string]string, r xslt.Resolver) (*etree.Document, []xslt.Message, error) {
		out := doc.Copy()
		out.Root().CreateElement(name)
		return out, []xslt.Message{{Text: "added " + name}}, nil
	}
}

func testEngine() *xslt.FuncEngine {
	engine := xslt.NewFuncEngine()
	engine.Register("add-A", appendChild("A"))
	engine.Register("add-B", appendChild("B"))
	engine.Register("echo", func(ctx context.Context, doc *etree.Document, params map[string]string, r xslt.Resolver) (*etree.Document, []xslt.Message, error) {
		out := doc.Copy()
		out.Root().CreateAttr("value", params["value"])
		return out, nil, nil
	})
	engine.Register("stop", func(ctx context.Context, doc *etree.Document, params map[string]string, r xslt.Resolver) (*etree.Document, []xslt.Message, error) {
		return doc, []xslt.Message{{Text: "cannot continue", Terminate: true}}, nil
	})
	engine.Register("self", func(ctx context.Context, doc *etree.Document, params map[string]string, r xslt.Resolver) (*etree.Document, []xslt.Message, error) {
		out, err := r.Resolve(ctx, "cdr:*")
		return out, nil, err
	})
	return engine
}

func subject(t *testing.T, xml string) Subject {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(xml))
	return Subject{ID: 42, Doc: doc}
}

func childTags(doc *etree.Document) []string {
	var out []string
	for _, c := range doc.Root().ChildElements() {
		out = append(out, c.Tag)
	}
	return out
}

func TestApply(t *testing.T) {
	f := setupSets(t)
	ctx := context.Background()
	engine := testEngine()
	subj := subject(t, "<Doc/>")

	res, err := f.lib.Apply(ctx, engine, subj, Request{Specs: []string{"set:Both"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, childTags(res.Doc))
	assert.Equal(t, []xslt.Message{{Text: "added A"}, {Text: "added B"}}, res.Messages)
	assert.Empty(t, subj.Doc.Root().ChildElements())

	res, err = f.lib.Apply(ctx, engine, subj, Request{
		Inline: sheet("echo", ""),
		Params: map[string]string{"value": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "x", res.Doc.Root().SelectAttrValue("value", ""))

	res, err = f.lib.Apply(ctx, engine, subject(t, "<Self/>"), Request{Inline: sheet("self", "")})
	require.NoError(t, err)
	assert.Equal(t, "Self", res.Doc.Root().Tag)

	_, err = f.lib.Apply(ctx, engine, subj, Request{Inline: sheet("echo", ""), Specs: []string{"set:Both"}})
	assert.ErrorIs(t, err, ErrBadSpec)
	_, err = f.lib.Apply(ctx, engine, subj, Request{})
	assert.ErrorIs(t, err, ErrBadSpec)

	res, err = f.lib.Apply(ctx, engine, subj, Request{Inline: sheet("stop", "")})
	assert.ErrorIs(t, err, xslt.ErrTerminated)
	assert.Len(t, res.Messages, 1)

	_, err = f.lib.Apply(ctx, engine, subj, Request{Inline: sheet("unbound", "")})
	assert.ErrorIs(t, err, xslt.ErrUnknownStylesheet)
}

func TestApply_Includes(t *testing.T) {
	s := tester.NewStore(t)
	ctx := context.Background()
	tester.Filter(t, s, "Common Templates", sheet("common", ""))
	main := tester.Filter(t, s, "Main", sheet("add-A", `<xsl:include href="cdr:name:Common%20Templates"/>`))
	broken := tester.Filter(t, s, "Broken", sheet("add-B", `<xsl:include href="cdr:name:Missing"/>`))
	lib := NewLibrary(s, Options{})

	res, err := lib.Apply(ctx, testEngine(), subject(t, "<Doc/>"), Request{Specs: []string{cdrid.Format(main.ID)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, childTags(res.Doc))

	_, err = lib.Apply(ctx, testEngine(), subject(t, "<Doc/>"), Request{Specs: []string{cdrid.Format(broken.ID)}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver(t *testing.T) {
	f := setupSets(t)
	ctx := context.Background()
	doc := tester.Document(t, f.st, "Summary", "Breast Cancer", "<Summary><Title>Breast Cancer</Title></Summary>")
	tester.Version(t, f.st, doc, 1, true, `<Summary v="1"/>`)
	tester.Version(t, f.st, f.a, 1, true, f.a.XML)

	r := &Resolver{lib: f.lib, subject: subject(t, "<Current/>")}
	id := cdrid.Format(doc.ID)

	tests := []struct {
		uri  string
		root string
		text string
	}{
		{"cdr:" + id, "Summary", ""},
		{"cdr:/" + id + "/1", "Summary", ""},
		{"cdr:" + id + "/Current/DocTitle", "CdrDocTitle", "Breast Cancer"},
		{"cdr:" + id + "/lastp/DocTitle", "CdrDocTitle", "Breast Cancer"},
		{"cdr:name:Breast%20Cancer", "Summary", ""},
		{"cdr:name:Add%20A/1", "transform", ""},
		{"cdr:*", "Current", ""},
		{"cdrx:CDR0000099999", "empty", ""},
		{"cdrx:name:Nope", "empty", ""},
	}
	for _, tt := range tests {
		got, err := r.Resolve(ctx, tt.uri)
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.root, got.Root().Tag, tt.uri)
		if tt.text != "" {
			assert.Equal(t, tt.text, got.Root().Text(), tt.uri)
		}
	}

	v1, err := r.Resolve(ctx, "cdr:"+id+"/1")
	require.NoError(t, err)
	assert.Equal(t, "1", v1.Root().SelectAttrValue("v", ""))

	ctl, err := r.Resolve(ctx, "cdr:"+id+"/1/CdrCtl")
	require.NoError(t, err)
	assert.Equal(t, "CdrDocCtl", ctl.Root().Tag)
	assert.Equal(t, id, ctl.FindElement("//DocId").Text())
	assert.Equal(t, "Summary", ctl.FindElement("//DocType").Text())
	assert.Equal(t, "1", ctl.FindElement("//DocVersion").Text())

	_, err = r.Resolve(ctx, "cdr:CDR0000099999")
	assert.ErrorIs(t, err, ErrResolve)
	_, err = r.Resolve(ctx, "cdr:"+id+"/1/Nope")
	assert.ErrorIs(t, err, ErrResolve)
	_, err = r.Resolve(ctx, "http://example.com/x")
	assert.ErrorIs(t, err, ErrUnsupportedURI)
	_, err = r.Resolve(ctx, "no-scheme")
	assert.ErrorIs(t, err, ErrUnsupportedURI)

	none := &Resolver{lib: f.lib}
	_, err = none.Resolve(ctx, "cdr:*")
	assert.ErrorIs(t, err, ErrResolve)
}

func TestUtilFunctions(t *testing.T) {
	s := tester.NewStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	lib := NewLibrary(s, Options{Now: func() time.Time { return now }})
	doc := tester.Document(t, s, "Summary", "Breast Cancer", "<Summary/>")
	tester.Version(t, s, doc, 1, true, "<Summary/>")
	tester.Version(t, s, doc, 2, false, "<Summary/>")
	require.NoError(t, s.DB().Create(&model.Zipcode{Zip: "20892"}).Error)

	r := &Resolver{lib: lib, subject: Subject{ID: doc.ID}}
	text := func(uri string) string {
		t.Helper()
		got, err := r.Resolve(ctx, uri)
		require.NoError(t, err, uri)
		return got.Root().Text()
	}

	assert.Equal(t, "2024-01-02T03:04:05.006", text("cdrutil:/ts"))
	assert.Equal(t, cdrid.Format(doc.ID), text("cdrutil:/docid"))
	assert.Equal(t, "1", text("cdrutil:/get-pv-num/"+cdrid.Format(doc.ID)))
	assert.Equal(t, "20892", text("cdrutil:/valid-zip/20892-1234"))
	assert.Equal(t, "", text("cdrutil:/valid-zip/99999"))
	assert.Equal(t, "", text("cdrutil:/valid-zip/abc"))

	dedup, err := r.Resolve(ctx, "cdrutil:/dedup-ids/NCT001~Ab-12/ab 12~NCT002~nct002~%C3%89mile~nct 001")
	require.NoError(t, err)
	var got []string
	for _, el := range dedup.Root().SelectElements("id") {
		got = append(got, el.Text())
	}
	assert.Equal(t, []string{"NCT002", "Émile"}, got)

	rows, err := r.Resolve(ctx, fmt.Sprintf("cdrutil:/sql-query/SELECT title, updated_at FROM all_docs WHERE id = ?/%d", doc.ID))
	require.NoError(t, err)
	assert.Equal(t, "SqlResult", rows.Root().Tag)
	require.Len(t, rows.Root().SelectElements("row"), 1)
	assert.Equal(t, "Breast Cancer", rows.FindElement("//row/col[@name='title']").Text())

	_, err = r.Resolve(ctx, "cdrutil:/sql-query/delete from all_docs")
	assert.ErrorIs(t, err, ErrForbiddenSQL)
	_, err = r.Resolve(ctx, "cdrutil:/sql-query/SELECT 1; Exec sp_who")
	assert.ErrorIs(t, err, ErrForbiddenSQL)

	for _, name := range []string{"extern-map", "get-lookup-value", "pretty-url"} {
		_, err = r.Resolve(ctx, "cdrutil:/"+name+"/x")
		assert.ErrorIs(t, err, ErrObsolete, name)
	}
	_, err = r.Resolve(ctx, "cdrutil:/nope")
	assert.ErrorIs(t, err, ErrUnknownFunction)
	_, err = r.Resolve(ctx, "cdrutil:/")
	assert.ErrorIs(t, err, ErrUnsupportedURI)
}

func TestUtilSQLQuery_ReadOnly(t *testing.T) {
	s := tester.NewStore(t)
	ctx := context.Background()
	r := &Resolver{lib: NewLibrary(s, Options{})}

	tests := []struct {
		name  string
		query string
	}{
		{"drop", "DROP TABLE filter_set_member"},
		{"stacked drop", "SELECT 1; DROP TABLE link_type"},
		{"stacked drop trailing semicolon", "SELECT 1; DROP TABLE link_type;"},
		{"replace", "REPLACE INTO zipcode (zip) VALUES ('00000')"},
		{"with replace", "WITH z AS (SELECT 1) REPLACE INTO zipcode (zip) VALUES ('00000')"},
		{"pragma", "PRAGMA query_only = OFF"},
		{"attach", "ATTACH DATABASE 'x.db' AS x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, "cdrutil:/sql-query/"+tt.query)
			assert.ErrorIs(t, err, ErrForbiddenSQL)
		})
	}

	for _, table := range []string{"filter_set_member", "link_type"} {
		assert.True(t, s.DB().Migrator().HasTable(table), table)
	}
	var zips int64
	require.NoError(t, s.DB().Model(&model.Zipcode{}).Count(&zips).Error)
	assert.Zero(t, zips)

	got, err := r.Resolve(ctx, "cdrutil:/sql-query/SELECT 1 AS one;")
	require.NoError(t, err)
	assert.Equal(t, "1", got.FindElement("//row/col[@name='one']").Text())
}

func termXML(name, termType string, parent uint) string {
	xml := `<Term xmlns:cdr="cips.nci.nih.gov/cdr"><PreferredName>` + name + `</PreferredName>`
	if termType != "" {
		xml += `<TermType><TermTypeName>` + termType + `</TermTypeName></TermType>`
	}
	if parent != 0 {
		xml += `<TermRelationship><ParentTerm><TermId cdr:ref="` + cdrid.Format(parent) + `"/></ParentTerm></TermRelationship>`
	}
	return xml + `</Term>`
}

func TestDenormalizeTerm(t *testing.T) {
	s := tester.NewStore(t)
	ctx := context.Background()
	lib := NewLibrary(s, Options{TermCacheSize: 10})

	cancer := tester.Document(t, s, "Term", "Cancer", termXML("Cancer", "Header term", 0))
	lung := tester.Document(t, s, "Term", "Lung cancer", termXML("Lung cancer", "Index term", cancer.ID))

	plain, err := lib.DenormalizeTerm(ctx, lung.ID, false)
	require.NoError(t, err)
	assert.Equal(t, cdrid.Format(lung.ID), plain.SelectAttrValue("id", ""))
	assert.Equal(t, "Lung cancer", plain.SelectElement("PreferredName").Text())
	assert.Equal(t, "Index term", plain.SelectElement("TermType").Text())
	assert.Nil(t, plain.SelectElement("Parents"))

	r := &Resolver{lib: lib}
	doc, err := r.Resolve(ctx, "cdrutil:/denormalizeTerm/"+cdrid.Format(lung.ID)+"/Upcode")
	require.NoError(t, err)
	parent := doc.FindElement("/Term/Parents/Term")
	require.NotNil(t, parent)
	assert.Equal(t, cdrid.Format(cancer.ID), parent.SelectAttrValue("id", ""))
	assert.Equal(t, "Cancer", parent.SelectElement("PreferredName").Text())

	// callers get copies
	plain.SelectElement("PreferredName").SetText("changed")
	again, err := lib.DenormalizeTerm(ctx, lung.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "Lung cancer", again.SelectElement("PreferredName").Text())

	summary := tester.Document(t, s, "Summary", "S", "<Summary/>")
	_, err = lib.DenormalizeTerm(ctx, summary.ID, false)
	assert.Error(t, err)
}

func TestDenormalizeTerm_Cycle(t *testing.T) {
	s := tester.NewStore(t)
	ctx := context.Background()
	lib := NewLibrary(s, Options{})

	x := tester.Document(t, s, "Term", "X", termXML("X", "", 0))
	y := tester.Document(t, s, "Term", "Y", termXML("Y", "", x.ID))
	x.XML = termXML("X", "", y.ID)
	require.NoError(t, s.UpdateDocument(ctx, x))

	_, err := lib.DenormalizeTerm(ctx, x.ID, true)
	assert.ErrorIs(t, err, ErrUpcodeDepth)

	_, err = lib.DenormalizeTerm(ctx, x.ID, false)
	assert.NoError(t, err)
}
