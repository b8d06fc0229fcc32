package doc

import (
	"context"
	"strings"
	"testing"

	"github.com/emrgen/cdr/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(errs []*Error) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Message)
	}
	return out
}

func TestValidate_SchemaError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	xml := "<Summary>\n<Title>T</Title>\n<Para>x</Para>\n</Summary>"

	d := New(f.sess, f.env, "Summary", xml)
	require.NoError(t, d.Validate(ctx, ValidateOptions{Locators: true}))
	assert.Equal(t, model.ValStatusInvalid, d.ValStatus())
	require.NotEmpty(t, d.Errors)
	assert.Equal(t, TypeValidation, d.Errors[0].Type)
	assert.Equal(t, LevelError, d.Errors[0].Level)
	assert.NotEmpty(t, d.Errors[0].Location)
	assert.NotNil(t, d.ValDate())

	d = New(f.sess, f.env, "Summary", xml)
	require.NoError(t, d.Validate(ctx, ValidateOptions{}))
	assert.Equal(t, model.ValStatusInvalid, d.ValStatus())
	require.NotEmpty(t, d.Errors)
	for _, e := range d.Errors {
		assert.Empty(t, e.Location, e.Message)
	}
	// the content itself never keeps breadcrumbs
	assert.Equal(t, xml, d.XML())
}

func TestValidate_RuleSet(t *testing.T) {
	f := setup(t)
	d := New(f.sess, f.env, "Summary", `<Summary><Title>T</Title><Foo>f</Foo><Para/></Summary>`)
	require.NoError(t, d.Validate(context.Background(), ValidateOptions{Types: []string{ValidateSchema}, Locators: true}))

	require.Len(t, d.Errors, 1)
	assert.Equal(t, "Para must not be empty", d.Errors[0].Message)
	assert.Equal(t, "_4", d.Errors[0].Location)
	assert.Equal(t, model.ValStatusInvalid, d.ValStatus())
}

func TestValidate_PrivateUseCharacters(t *testing.T) {
	f := setup(t)
	d := New(f.sess, f.env, "Summary", "<Summary><Title>T\ue001</Title><Foo>f</Foo></Summary>")
	require.NoError(t, d.Validate(context.Background(), ValidateOptions{}))

	assert.Contains(t, messages(d.Errors), "Document contains private use characters: U+E001")
	assert.Equal(t, model.ValStatusInvalid, d.ValStatus())
}

func TestValidate_Malformed(t *testing.T) {
	f := setup(t)
	d := New(f.sess, f.env, "Summary", "<Summary><Title>T</Summary>")
	require.NoError(t, d.Validate(context.Background(), ValidateOptions{}))

	assert.Equal(t, model.ValStatusMalformed, d.ValStatus())
	require.Len(t, d.Errors, 1)
	assert.Equal(t, LevelFatal, d.Errors[0].Level)
	assert.True(t, strings.HasPrefix(d.Errors[0].Message, "Document is not well-formed"))
}

func TestValidate_PartialTypes(t *testing.T) {
	f := setup(t)
	valid := `<Summary><Title>T</Title><Foo>f</Foo><Para>x</Para></Summary>`

	tests := []struct {
		name  string
		types []string
		want  string
	}{
		{"both", []string{ValidateSchema, ValidateLinks}, model.ValStatusValid},
		{"default", nil, model.ValStatusValid},
		{"schema only", []string{ValidateSchema}, model.ValStatusUnvalidated},
		{"links only", []string{ValidateLinks}, model.ValStatusUnvalidated},
		{"case and spaces", []string{" Schema", "LINKS "}, model.ValStatusValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(f.sess, f.env, "Summary", valid)
			require.NoError(t, d.Validate(context.Background(), ValidateOptions{Types: tt.types}))
			assert.Empty(t, d.Errors)
			assert.Equal(t, tt.want, d.ValStatus())
		})
	}

	d := New(f.sess, f.env, "Summary", valid)
	assert.Error(t, d.Validate(context.Background(), ValidateOptions{Types: []string{"dtd"}}))
}

func TestValidate_ControlDocument(t *testing.T) {
	f := setup(t)
	d := New(f.sess, f.env, "Filter", sheet("x"))
	require.NoError(t, d.Validate(context.Background(), ValidateOptions{}))
	assert.Equal(t, model.ValStatusUnvalidated, d.ValStatus())
	assert.Empty(t, d.Errors)
}

func TestValidate_StorePolicy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`, SaveOptions{})

	stored := func() string {
		row, err := f.st.GetDocument(ctx, d.ID())
		require.NoError(t, err)
		return row.ValStatus
	}

	require.NoError(t, d.Validate(ctx, ValidateOptions{}))
	assert.Equal(t, model.ValStatusValid, d.ValStatus())
	assert.Equal(t, model.ValStatusUnvalidated, stored())

	require.NoError(t, d.Validate(ctx, ValidateOptions{Store: StoreIfValid}))
	assert.Equal(t, model.ValStatusValid, stored())

	d.SetXML(`<Summary><Title>T</Title></Summary>`)
	require.NoError(t, d.Validate(ctx, ValidateOptions{Store: StoreIfValid}))
	assert.Equal(t, model.ValStatusInvalid, d.ValStatus())
	assert.Equal(t, model.ValStatusValid, stored())

	require.NoError(t, d.Validate(ctx, ValidateOptions{Store: StoreAlways}))
	assert.Equal(t, model.ValStatusInvalid, stored())
}

func TestErrorsXML(t *testing.T) {
	errs := []*Error{
		{Message: "Para must not be empty", Location: "_4", Type: TypeValidation, Level: LevelError},
		{Message: nonPublishableWarning, Type: TypeOther, Level: LevelWarning},
	}
	out, err := ErrorsXML(errs)
	require.NoError(t, err)
	assert.Contains(t, out, "Para must not be empty")
	assert.Contains(t, out, `count="2"`)
	assert.Contains(t, out, `eref="_4"`)
	assert.Contains(t, out, LevelWarning)

	assert.True(t, errs[0].IsHard())
	assert.False(t, errs[1].IsHard())
}
