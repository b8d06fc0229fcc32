// Package doctype resolves document types and derives structural facts
// (fragment-eligible elements, DTD, valid values, custom rules) from their
// schemas. Nothing here is cached by doctype name: a schema may change
// between versions of the documents it governs.
package doctype

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/store"
)

const (
	Filter = "Filter"
	Schema = "schema"
	CSS    = "css"
	Media  = "Media"
)

var (
	ErrNotFound       = errors.New("document type not found")
	ErrNoSchema       = errors.New("document type has no schema")
	ErrSchemaNotFound = errors.New("schema document not found")
)

// IsControl reports whether documents of the named type hold control
// information (filters, schemas, stylesheets) rather than content.
func IsControl(name string) bool {
	switch name {
	case Filter, Schema, CSS:
		return true
	}
	return false
}

type Doctype struct {
	model.DocType
}

// Get looks up a doctype by name.
func Get(ctx context.Context, st store.Store, name string) (*Doctype, error) {
	dt, err := st.GetDocTypeByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return &Doctype{DocType: *dt}, nil
}

// GetByID looks up a doctype by id.
func GetByID(ctx context.Context, st store.Store, id uint) (*Doctype, error) {
	dt, err := st.GetDocType(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &Doctype{DocType: *dt}, nil
}

func (d *Doctype) IsControl() bool {
	return IsControl(d.Name)
}

func (d *Doctype) IsActive() bool {
	return d.Active == model.Yes
}

func (d *Doctype) Versioned() bool {
	return d.Versioning == model.Yes
}

// TitleFilter is the name of the filter which generates titles for
// documents of this type.
func (d *Doctype) TitleFilter() string {
	return "DocTitle for " + d.Name
}

// DenormalizationSet is the name of the filter set expanding links in
// documents of this type.
func (d *Doctype) DenormalizationSet() string {
	return "Denormalization " + d.Name
}

// Schema loads and parses the governing schema with every include it
// pulls in, reading through st so that a transaction sees its own schema
// rows.
func (d *Doctype) Schema(ctx context.Context, st store.Store) (*SchemaSet, error) {
	if d.XMLSchema == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSchema, d.Name)
	}
	doc, err := st.GetDocument(ctx, *d.XMLSchema)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrSchemaNotFound, *d.XMLSchema)
		}
		return nil, err
	}
	return LoadSchema(ctx, st, doc.Title)
}
