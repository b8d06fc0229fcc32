package doc

import (
	"context"
	"fmt"
	"testing"

	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/linktype"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const termTypePath = "/Term/TermType/TermTypeName"

type linkFixture struct {
	*fixture
	lt      *linktype.LinkType
	index   *model.Document
	untyped *model.Document
}

func setupLinks(t *testing.T, props ...linktype.Property) *linkFixture {
	t.Helper()
	f := setup(t)
	lf := &linkFixture{
		fixture: f,
		index:   tester.Document(t, f.st, "Term", "Aspirin", "<Term><TermType><TermTypeName>Index term</TermTypeName></TermType></Term>"),
		untyped: tester.Document(t, f.st, "Term", "Asthma", "<Term/>"),
	}
	tester.QueryTerm(t, f.st, model.QueryTermTable, lf.index.ID, termTypePath, "Index term")
	tester.QueryTerm(t, f.st, model.QueryTermTable, lf.index.ID, "/Term/@cdr:id", "_1")

	lf.lt = &linktype.LinkType{
		Name:       "Summary to Term",
		ChkType:    linktype.CheckCurrent,
		Sources:    []linktype.Source{{DocType: "Summary", Element: "Ref"}},
		Targets:    []string{"Term"},
		Properties: props,
	}
	require.NoError(t, linktype.Save(context.Background(), f.sess, lf.lt, ""))
	return lf
}

func summaryWithRefs(refs ...string) string {
	xml := `<Summary xmlns:cdr="cips.nci.nih.gov/cdr"><Title>Refs</Title><Foo>f</Foo>`
	for _, r := range refs {
		xml += fmt.Sprintf(`<Ref cdr:ref="%s"/>`, r)
	}
	return xml + "</Summary>"
}

func TestLinks_Stored(t *testing.T) {
	f := setupLinks(t)
	ctx := context.Background()
	target := cdrid.Format(f.index.ID)

	a := f.saved(t, "Summary", summaryWithRefs(target, target), SaveOptions{})
	links, err := f.st.ListLinks(ctx, a.ID())
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "Ref", links[0].SourceElem)
	assert.Equal(t, f.index.ID, *links[0].TargetDoc)
	assert.Equal(t, f.lt.ID, links[0].LinkType)

	require.Len(t, a.Links, 2)
	assert.True(t, a.Links[0].Store)
	assert.False(t, a.Links[1].Store)

	require.NoError(t, a.Save(ctx, SaveOptions{}))
	again, err := f.st.ListLinks(ctx, a.ID())
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, links[0].ID, again[0].ID)

	b, err := Open(ctx, f.sess, f.env, f.index.ID, "")
	require.NoError(t, err)
	in, err := b.LinksTo(ctx)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, a.ID(), in[0].SourceDoc)

	// dropping the reference drops the row
	a.SetXML(summaryWithRefs())
	require.NoError(t, a.Save(ctx, SaveOptions{}))
	links, err = f.st.ListLinks(ctx, a.ID())
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestLinks_SharedRegistry(t *testing.T) {
	f := setupLinks(t)
	ctx := context.Background()
	target := cdrid.Format(f.index.ID)

	a := f.saved(t, "Summary", summaryWithRefs(target), SaveOptions{})
	b := f.saved(t, "Summary", summaryWithRefs(target), SaveOptions{})
	require.Len(t, a.Links, 1)
	require.Len(t, b.Links, 1)
	assert.Same(t, a.Links[0].Type, b.Links[0].Type)

	cached, err := f.env.LinkTypes.Get(ctx, f.st, f.lt.ID)
	require.NoError(t, err)
	assert.Same(t, a.Links[0].Type, cached)
}

func TestDelete_LinkedDocument(t *testing.T) {
	f := setupLinks(t)
	ctx := context.Background()

	a := f.saved(t, "Summary", summaryWithRefs(cdrid.Format(f.index.ID)), SaveOptions{Unlock: true})
	b, err := Open(ctx, f.sess, f.env, f.index.ID, "")
	require.NoError(t, err)

	err = b.Delete(ctx, DeleteOptions{})
	require.ErrorIs(t, err, ErrLinkedDocument)
	assert.Contains(t, err.Error(), a.CdrID())
	require.Len(t, b.Errors, 1)
	assert.Contains(t, b.Errors[0].Message, a.CdrID())
	assert.Contains(t, b.Errors[0].Message, "Ref element")

	row, err := f.st.GetDocument(ctx, b.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ActiveStatusActive, row.ActiveStatus)

	require.NoError(t, b.Delete(ctx, DeleteOptions{SkipLinkCheck: true, Reason: "duplicate"}))
	assert.Equal(t, model.ActiveStatusDeleted, b.ActiveStatus())
	row, err = f.st.GetDocument(ctx, b.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ActiveStatusDeleted, row.ActiveStatus)

	in, err := b.LinksTo(ctx)
	require.NoError(t, err)
	assert.Empty(t, in)

	// the link now points at a deleted document
	require.NoError(t, a.Validate(ctx, ValidateOptions{Types: []string{ValidateLinks}}))
	assert.Contains(t, messages(a.Errors), fmt.Sprintf("Link target %s not found", b.CdrID()))
}

func TestDelete_LockedByOther(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`, SaveOptions{})

	other, err := Open(ctx, sessionFor(f, "other"), f.env, d.ID(), "")
	require.NoError(t, err)
	err = other.Delete(ctx, DeleteOptions{})
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "editor", locked.User)

	// the holder may delete, which releases the lock
	require.NoError(t, d.Delete(ctx, DeleteOptions{}))
	lock, err := d.Lock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestLinks_TargetProperties(t *testing.T) {
	expr := termTypePath + ` == "Index term" OR ` + termTypePath + ` == "Header term"`
	p, err := linktype.NewProperty(linktype.TargetContains, expr, "")
	require.NoError(t, err)
	f := setupLinks(t, p)
	ctx := context.Background()

	d := New(f.sess, f.env, "Summary", summaryWithRefs(cdrid.Format(f.index.ID)))
	require.NoError(t, d.Validate(ctx, ValidateOptions{Types: []string{ValidateLinks}}))
	assert.Empty(t, d.Errors)
	require.Len(t, d.Links, 1)
	assert.Equal(t, "Aspirin", d.Links[0].TargetTitle)
	assert.True(t, d.Links[0].Valid())

	d = New(f.sess, f.env, "Summary", summaryWithRefs(cdrid.Format(f.untyped.ID)))
	require.NoError(t, d.Validate(ctx, ValidateOptions{Types: []string{ValidateLinks}}))
	require.Len(t, d.Errors, 1)
	assert.Equal(t, "Failed link target rule: "+expr, d.Errors[0].Message)
	assert.Equal(t, TypeLink, d.Errors[0].Type)
}

func TestLinks_Problems(t *testing.T) {
	f := setupLinks(t)
	ctx := context.Background()
	index := cdrid.Format(f.index.ID)
	summary := tester.Document(t, f.st, "Summary", "Other", "<Summary/>")

	tests := []struct {
		name string
		xml  string
		want string
	}{
		{
			"fragment found",
			summaryWithRefs(index + "#_1"),
			"",
		},
		{
			"fragment missing",
			summaryWithRefs(index + "#_9"),
			fmt.Sprintf("Fragment _9 not found in %s", index),
		},
		{
			"missing target",
			summaryWithRefs("CDR0000099999"),
			"Link target CDR0000099999 not found",
		},
		{
			"bad target",
			summaryWithRefs("nonsense"),
			`Invalid link target "nonsense"`,
		},
		{
			"wrong target type",
			summaryWithRefs(cdrid.Format(summary.ID)),
			"Link from Ref elements of Summary documents not permitted to Summary documents",
		},
		{
			"element without link type",
			`<Summary xmlns:cdr="cips.nci.nih.gov/cdr"><Title>T</Title><Foo>f</Foo><Para cdr:ref="` + index + `">x</Para></Summary>`,
			"Para elements of Summary documents may not carry links",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(f.sess, f.env, "Summary", tt.xml)
			require.NoError(t, d.Validate(ctx, ValidateOptions{Types: []string{ValidateLinks}, Locators: true}))
			if tt.want == "" {
				assert.Empty(t, d.Errors)
				return
			}
			require.Len(t, d.Errors, 1)
			assert.Equal(t, tt.want, d.Errors[0].Message)
			assert.NotEmpty(t, d.Errors[0].Location)
		})
	}
}

func TestLinks_DuplicateFragmentID(t *testing.T) {
	f := setup(t)
	xml := `<Summary xmlns:cdr="cips.nci.nih.gov/cdr"><Title>T</Title><Foo>f</Foo><Para cdr:id="_1">a</Para><Para cdr:id="_1">b</Para></Summary>`
	d := New(f.sess, f.env, "Summary", xml)
	require.NoError(t, d.Validate(context.Background(), ValidateOptions{Types: []string{ValidateLinks}}))
	assert.Equal(t, []string{"Duplicate fragment id _1"}, messages(d.Errors))
}
