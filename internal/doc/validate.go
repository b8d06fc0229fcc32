package doc

import (
	"context"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/filter"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/xmlutil"
)

const (
	ValidateSchema = "schema"
	ValidateLinks  = "links"
)

// StorePolicy says when the outcome of a validation is written back.
type StorePolicy string

const (
	// StoreNever only reports. It is the zero value.
	StoreNever   StorePolicy = ""
	StoreIfValid StorePolicy = "valid"
	StoreAlways  StorePolicy = "always"
)

func (p StorePolicy) allows(status string) bool {
	switch p {
	case StoreAlways:
		return true
	case StoreIfValid:
		return status == model.ValStatusValid
	}
	return false
}

type ValidateOptions struct {
	// Types lists the checks to run; empty means schema and links.
	Types []string
	// Locators attaches the breadcrumb id of the offending element to each
	// diagnostic.
	Locators bool
	// Level is the revision markup level; 0 means DefaultRevisionLevel.
	Level int
	// Store controls whether the status and link rows are persisted.
	Store StorePolicy
}

func (o ValidateOptions) types() mapset.Set[string] {
	if len(o.Types) == 0 {
		return mapset.NewThreadUnsafeSet(ValidateSchema, ValidateLinks)
	}
	set := mapset.NewThreadUnsafeSet[string]()
	for _, t := range o.Types {
		set.Add(strings.ToLower(strings.TrimSpace(t)))
	}
	return set
}

// Validate checks the document and sets its validation status. The
// diagnostics are left in Errors; only failures to run the checks are
// returned.
func (d *Doc) Validate(ctx context.Context, opts ValidateOptions) error {
	if err := d.sess.Require(ctx, session.ActionValidateDocument, d.docTypeName); err != nil {
		return err
	}
	dt, err := d.DocType(ctx)
	if err != nil {
		return err
	}
	for _, t := range opts.Types {
		if t := strings.ToLower(strings.TrimSpace(t)); t != ValidateSchema && t != ValidateLinks {
			return fmt.Errorf("unknown validation type %q", t)
		}
	}

	d.Errors = nil
	frags, err := d.validate(ctx, dt, opts)
	if err != nil {
		return err
	}
	d.log().Infof("validated, status %s with %d diagnostics", d.valStatus, len(d.Errors))

	if d.id == 0 || d.version != 0 || !opts.Store.allows(d.valStatus) {
		return nil
	}
	return d.transaction(ctx, "validate", func() error {
		if frags != nil {
			if err := d.storeLinks(ctx, d.Links); err != nil {
				return err
			}
			if err := d.storeFragments(ctx, frags); err != nil {
				return err
			}
		}
		return d.st.UpdateValStatus(ctx, d.id, d.valStatus, *d.valDate)
	})
}

// validate runs the requested checks. It returns the fragment ids found
// when links were checked, and nil otherwise.
func (d *Doc) validate(ctx context.Context, dt *doctype.Doctype, opts ValidateOptions) (mapset.Set[string], error) {
	now := d.env.Clock.Now()
	d.valStatus = model.ValStatusUnvalidated
	d.Links = nil
	start := len(d.Errors)

	if _, err := d.tree(); err != nil {
		d.valStatus = model.ValStatusMalformed
		d.valDate = &now
		d.addError(fmt.Sprintf("Document is not well-formed: %v", err), "", TypeValidation, LevelFatal)
		return nil, nil
	}

	types := opts.types()
	var frags mapset.Set[string]
	complete := false
	if !dt.IsControl() {
		resolved, err := d.Resolved(ctx, opts.Level)
		if err != nil {
			return nil, err
		}
		// rule sets report against breadcrumbs, so the copy always has them
		work := resolved.Copy()
		xmlutil.AddLocators(work.Root())

		complete = types.Contains(ValidateSchema) && types.Contains(ValidateLinks)
		if types.Contains(ValidateSchema) {
			if err := d.validateSchema(ctx, dt, work); err != nil {
				return nil, err
			}
		}
		if types.Contains(ValidateLinks) {
			links, found, err := d.collectLinks(ctx, work.Root(), dt, true)
			if err != nil {
				return nil, err
			}
			d.reportLinks(links)
			d.Links, frags = links, found
		}
	}

	if pua := xmlutil.PrivateUseChars(d.xml); len(pua) > 0 {
		d.addError("Document contains private use characters: "+xmlutil.FormatRunes(pua), "", TypeValidation, LevelError)
	}

	if !opts.Locators {
		for _, e := range d.Errors[start:] {
			e.Location = ""
		}
		for _, l := range d.Links {
			l.Location = ""
		}
	}

	switch {
	case d.HasHardErrors():
		d.valStatus = model.ValStatusInvalid
	case complete:
		d.valStatus = model.ValStatusValid
	}
	d.valDate = &now
	return frags, nil
}

// validateSchema checks the tree against the doctype schema and its rule
// sets. The tree carries breadcrumbs.
func (d *Doc) validateSchema(ctx context.Context, dt *doctype.Doctype, work *etree.Document) error {
	set, err := dt.Schema(ctx, d.st)
	if err != nil {
		return err
	}
	schema, err := set.Compile()
	if err != nil {
		return err
	}

	flat := work.Copy()
	xmlutil.StripLocators(flat.Root())
	xmlutil.FlattenNamespaces(flat.Root())
	text, err := xmlutil.Serialize(flat)
	if err != nil {
		return err
	}
	lines, err := xmlutil.BuildLineMap(text)
	if err != nil {
		return err
	}
	diags, err := doctype.Validate(schema, text)
	if err != nil {
		return err
	}
	for _, diag := range diags {
		d.addError(xmlutil.UnflattenName(diag.Message), lines.Locate(diag.Line, diag.Message), TypeValidation, LevelError)
	}

	rules, err := set.RuleSets()
	if err != nil {
		return err
	}
	for _, rs := range rules {
		d.runRuleSet(ctx, work, rs)
	}
	return nil
}

// runRuleSet applies the stylesheet generated for a rule set. Emitted Err
// elements and engine messages both become diagnostics.
func (d *Doc) runRuleSet(ctx context.Context, work *etree.Document, rs doctype.RuleSet) {
	res, err := d.apply(ctx, work, filter.Request{Inline: rs.Stylesheet()})
	if res != nil {
		for _, m := range res.Messages {
			d.addError(m.Text, "", TypeValidation, LevelError)
		}
	}
	if err != nil {
		d.addError(fmt.Sprintf("Rule set %s failed: %v", rs.Name, err), "", TypeValidation, LevelError)
		return
	}
	if res.Doc == nil || res.Doc.Root() == nil {
		return
	}
	for _, e := range res.Doc.Root().SelectElements("Err") {
		d.addError(strings.TrimSpace(e.Text()), e.SelectAttrValue("eref", ""), TypeValidation, LevelError)
	}
}
