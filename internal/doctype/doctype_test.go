package doctype

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/emrgen/cdr/internal/store"
	"github.com/emrgen/cdr/internal/tester"
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
      <xsd:element name="Status" type="Status" minOccurs="0"/>
      <xsd:element name="Para" type="Para" minOccurs="0" maxOccurs="unbounded"/>
      <xsd:element name="Ref" type="Ref" minOccurs="0"/>
    </xsd:sequence>
    <xsd:attribute name="cdr-id" type="xsd:string"/>
  </xsd:complexType>
</xsd:schema>`

const commonSchema = `<?xml version="1.0" encoding="UTF-8"?>
<xsd:schema xmlns:xsd="http://www.w3.org/2001/XMLSchema">
  <xsd:complexType name="Para" mixed="true">
    <xsd:choice minOccurs="0" maxOccurs="unbounded">
      <xsd:element name="B" type="xsd:string"/>
    </xsd:choice>
    <xsd:attributeGroup ref="FragmentAttrs"/>
  </xsd:complexType>
  <xsd:attributeGroup name="FragmentAttrs">
    <xsd:attribute name="cdr-id" type="xsd:string"/>
  </xsd:attributeGroup>
  <xsd:complexType name="Ref">
    <xsd:attribute name="cdr-ref" type="xsd:string" use="required"/>
    <xsd:attribute name="Kind" type="Kind"/>
  </xsd:complexType>
  <xsd:simpleType name="Kind">
    <xsd:restriction base="xsd:string">
      <xsd:enumeration value="primary"/>
      <xsd:enumeration value="see also"/>
    </xsd:restriction>
  </xsd:simpleType>
  <xsd:simpleType name="Status">
    <xsd:restriction base="xsd:string">
      <xsd:enumeration value="Draft"/>
      <xsd:enumeration value="Final"/>
    </xsd:restriction>
  </xsd:simpleType>
</xsd:schema>`

func setupSchema(t *testing.T) (store.Store, *Doctype) {
	t.Helper()
	s := tester.NewStore(t)
	top := tester.Schema(t, s, "Summary.xml", summarySchema)
	tester.Schema(t, s, "Common.xml", commonSchema)
	tester.GovernedDocType(t, s, "Summary", top)

	dt, err := Get(context.Background(), s, "Summary")
	require.NoError(t, err)
	return s, dt
}

func TestGet(t *testing.T) {
	s, dt := setupSchema(t)
	ctx := context.Background()

	assert.Equal(t, "DocTitle for Summary", dt.TitleFilter())
	assert.Equal(t, "Denormalization Summary", dt.DenormalizationSet())
	assert.False(t, dt.IsControl())
	assert.True(t, dt.IsActive())

	_, err := Get(ctx, s, "Nope")
	assert.ErrorIs(t, err, ErrNotFound)

	byID, err := GetByID(ctx, s, dt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Summary", byID.Name)

	tester.DocType(t, s, "Bare")
	bare, err := Get(ctx, s, "Bare")
	require.NoError(t, err)
	_, err = bare.Schema(ctx, s)
	assert.ErrorIs(t, err, ErrNoSchema)
}

func TestIsControl(t *testing.T) {
	for _, name := range []string{"Filter", "schema", "css"} {
		assert.True(t, IsControl(name), name)
	}
	assert.False(t, IsControl("Term"))
}

func TestLoadSchema(t *testing.T) {
	s, dt := setupSchema(t)
	ctx := context.Background()

	set, err := dt.Schema(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Summary.xml", "Common.xml"}, set.Files())

	// a transaction reads the schema rows it has changed itself
	err = s.Transaction(ctx, func(tx store.Store) error {
		top, err := tx.GetDocument(ctx, *dt.XMLSchema)
		require.NoError(t, err)
		top.XML = `<xsd:schema xmlns:xsd="http://www.w3.org/2001/XMLSchema"><xsd:element name="Summary" type="xsd:string"/></xsd:schema>`
		require.NoError(t, tx.UpdateDocument(ctx, top))

		inTx, err := dt.Schema(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Summary.xml"}, inTx.Files())
		return errors.New("roll back")
	})
	require.Error(t, err)

	set, err = dt.Schema(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Summary.xml", "Common.xml"}, set.Files())
}

func TestLoadSchema_Cycle(t *testing.T) {
	s := tester.NewStore(t)
	tester.Schema(t, s, "A.xml", `<xsd:schema xmlns:xsd="http://www.w3.org/2001/XMLSchema"><xsd:include schemaLocation="B.xml"/></xsd:schema>`)
	tester.Schema(t, s, "B.xml", `<xsd:schema xmlns:xsd="http://www.w3.org/2001/XMLSchema"><xsd:include schemaLocation="A.xml"/></xsd:schema>`)

	set, err := LoadSchema(context.Background(), s, "A.xml")
	require.NoError(t, err)
	assert.Equal(t, []string{"A.xml", "B.xml"}, set.Files())

	_, err = LoadSchema(context.Background(), s, "Missing.xml")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestFragmentElements(t *testing.T) {
	s, dt := setupSchema(t)
	set, err := dt.Schema(context.Background(), s)
	require.NoError(t, err)

	elems := set.FragmentElements()
	assert.True(t, elems.Contains("Summary"))
	assert.True(t, elems.Contains("Para"))
	assert.False(t, elems.Contains("Title"))
	assert.False(t, elems.Contains("Ref"))
	assert.False(t, elems.Contains("B"))
}

func TestDTD(t *testing.T) {
	s, dt := setupSchema(t)
	set, err := dt.Schema(context.Background(), s)
	require.NoError(t, err)

	d, err := set.DTD()
	require.NoError(t, err)

	expected := `<!ELEMENT Summary (Title, Foo, Status?, Para*, Ref?)>
<!ATTLIST Summary cdr:id CDATA #IMPLIED xmlns:cdr CDATA #FIXED "cips.nci.nih.gov/cdr">
<!ELEMENT Title (#PCDATA)>
<!ELEMENT Foo (#PCDATA)>
<!ELEMENT Status (#PCDATA)>
<!ELEMENT Para (#PCDATA | B)*>
<!ATTLIST Para cdr:id CDATA #IMPLIED>
<!ELEMENT Ref EMPTY>
<!ATTLIST Ref cdr:ref CDATA #REQUIRED Kind CDATA #IMPLIED>
<!ELEMENT B (#PCDATA)>
`
	assert.Equal(t, expected, d.String())

	children, err := d.Children("")
	require.NoError(t, err)
	assert.Equal(t, []string{"Title", "Foo", "Status", "Para", "Ref"}, children)

	children, err = d.Children("Para")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, children)

	_, err = d.Children("Nope")
	assert.Error(t, err)
}

func TestValidValues(t *testing.T) {
	s, dt := setupSchema(t)
	set, err := dt.Schema(context.Background(), s)
	require.NoError(t, err)

	vv := set.ValidValues()
	assert.Equal(t, []string{"Draft", "Final"}, vv["Status"])
	assert.Equal(t, []string{"primary", "see also"}, vv["@Kind"])
	assert.NotContains(t, vv, "Title")
}

func TestIsNMToken(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"primary", true},
		{"a.b-c_d:e", true},
		{"123", true},
		{"Überschrift", true},
		{"see also", false},
		{"", false},
		{"a/b", false},
		{"a\uf900", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsNMToken(tt.value), tt.value)
	}
}

func TestRuleSets(t *testing.T) {
	s, dt := setupSchema(t)
	set, err := dt.Schema(context.Background(), s)
	require.NoError(t, err)

	rules, err := set.RuleSets()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Summary Rules", rules[0].Name)
	require.Len(t, rules[0].Rules, 1)
	assert.Equal(t, "Para", rules[0].Rules[0].Context)
	assert.Equal(t, Assert{Test: "string-length(.) > 0", Message: "Para must not be empty"}, rules[0].Rules[0].Asserts[0])

	xsl := rules[0].Stylesheet()
	assert.Contains(t, xsl, `id="rule-set:Summary Rules"`)
	assert.Contains(t, xsl, `match="Para"`)
	assert.Contains(t, xsl, `not(string-length(.)`)
	assert.Contains(t, xsl, `Para must not be empty`)
}

func TestCompileAndValidate(t *testing.T) {
	s, dt := setupSchema(t)
	set, err := dt.Schema(context.Background(), s)
	require.NoError(t, err)

	schema, err := set.Compile()
	require.NoError(t, err)

	diags, err := Validate(schema, `<Summary cdr-id="CDR0000000001"><Title>T</Title><Foo>f</Foo><Para cdr-id="_1">x</Para></Summary>`)
	require.NoError(t, err)
	assert.Empty(t, diags)

	diags, err = Validate(schema, "<Summary>\n<Title>T</Title>\n<Para>x</Para>\n</Summary>")
	require.NoError(t, err)
	require.NotEmpty(t, diags)
	assert.Greater(t, diags[0].Line, 0)
}
