package doctype

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/beevik/etree"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/store"
	"github.com/jacoelho/xsd"
	xsderrors "github.com/jacoelho/xsd/errors"
)

// SchemaSet is a top-level schema document together with every document
// it includes, indexed by the named components they declare.
type SchemaSet struct {
	Top string

	files       map[string][]byte
	order       []string
	topElements []*etree.Element
	elements    map[string]mapset.Set[string]
	complex     map[string]*etree.Element
	simple      map[string]*etree.Element
	groups      map[string]*etree.Element
	attrGroups  map[string]*etree.Element
	attributes  map[string]*etree.Element
}

// LoadSchema reads the schema document with the given title and follows
// its includes through a worklist; the visited set stops include cycles.
func LoadSchema(ctx context.Context, st store.Store, title string) (*SchemaSet, error) {
	schemaType, err := st.GetDocTypeByName(ctx, Schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, Schema)
	}

	set := &SchemaSet{
		Top:        title,
		files:      make(map[string][]byte),
		elements:   make(map[string]mapset.Set[string]),
		complex:    make(map[string]*etree.Element),
		simple:     make(map[string]*etree.Element),
		groups:     make(map[string]*etree.Element),
		attrGroups: make(map[string]*etree.Element),
		attributes: make(map[string]*etree.Element),
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	queue := []string{title}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if !seen.Add(name) {
			continue
		}

		docs, err := st.FindDocumentsByTitle(ctx, name, &schemaType.ID)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
		}
		doc, err := st.GetDocument(ctx, docs[0].ID)
		if err != nil {
			return nil, err
		}

		tree := etree.NewDocument()
		if err := tree.ReadFromString(doc.XML); err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", name, err)
		}
		root := tree.Root()
		if root == nil || root.Tag != "schema" {
			return nil, fmt.Errorf("parsing schema %s: missing schema element", name)
		}

		set.files[name] = []byte(doc.XML)
		set.order = append(set.order, name)
		queue = append(queue, set.index(root, name == title)...)
	}

	return set, nil
}

// index records the named components of one schema document and returns
// the locations it includes.
func (s *SchemaSet) index(root *etree.Element, top bool) []string {
	var includes []string
	for _, child := range root.ChildElements() {
		name := child.SelectAttrValue("name", "")
		switch child.Tag {
		case "include":
			if loc := child.SelectAttrValue("schemaLocation", ""); loc != "" {
				includes = append(includes, loc)
			}
		case "element":
			if top {
				s.topElements = append(s.topElements, child)
			}
			s.indexElement(child)
		case "complexType":
			s.complex[name] = child
			s.indexLocalElements(child)
		case "simpleType":
			s.simple[name] = child
		case "group":
			s.groups[name] = child
			s.indexLocalElements(child)
		case "attributeGroup":
			s.attrGroups[name] = child
		case "attribute":
			s.attributes[name] = child
		}
	}
	return includes
}

func (s *SchemaSet) indexElement(el *etree.Element) {
	name := el.SelectAttrValue("name", "")
	if name == "" {
		return
	}
	typ := localName(el.SelectAttrValue("type", ""))
	if typ == "" {
		if ct := el.SelectElement("complexType"); ct != nil {
			typ = anonymousType(name)
			s.complex[typ] = ct
			s.indexLocalElements(ct)
		} else if st := el.SelectElement("simpleType"); st != nil {
			typ = anonymousType(name)
			s.simple[typ] = st
		}
	}
	if _, ok := s.elements[name]; !ok {
		s.elements[name] = mapset.NewThreadUnsafeSet[string]()
	}
	if typ != "" {
		s.elements[name].Add(typ)
	}
}

func (s *SchemaSet) indexLocalElements(parent *etree.Element) {
	for _, child := range parent.ChildElements() {
		if child.Tag == "element" {
			s.indexElement(child)
			continue
		}
		if child.Tag == "complexType" || child.Tag == "simpleType" {
			continue
		}
		s.indexLocalElements(child)
	}
}

func anonymousType(element string) string {
	return "#" + element
}

func localName(qname string) string {
	if i := strings.IndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

// Files lists the schema documents in load order, top document first.
func (s *SchemaSet) Files() []string {
	return append([]string(nil), s.order...)
}

// FS exposes the loaded schema documents by title, which is how include
// locations refer to them.
func (s *SchemaSet) FS() fs.FS {
	return schemaFS(s.files)
}

// Diagnostic is one schema validation failure.
type Diagnostic struct {
	Message string
	Line    int
	Column  int
}

// Compile builds a validator for the schema set.
func (s *SchemaSet) Compile() (*xsd.Schema, error) {
	schema, err := xsd.LoadWithOptions(s.FS(), s.Top, xsd.NewLoadOptions())
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", s.Top, err)
	}
	return schema, nil
}

// Validate checks a serialized document against the compiled schema.
// Validation failures come back as diagnostics; any other failure is an
// error.
func Validate(schema *xsd.Schema, text string) ([]Diagnostic, error) {
	err := schema.Validate(strings.NewReader(text))
	if err == nil {
		return nil, nil
	}
	list, ok := xsderrors.AsValidations(err)
	if !ok {
		return nil, err
	}
	out := make([]Diagnostic, 0, len(list))
	for _, v := range list {
		msg := v.Message
		if v.Code != "" && !strings.Contains(msg, v.Code) {
			msg = fmt.Sprintf("%s (%s)", msg, v.Code)
		}
		out = append(out, Diagnostic{Message: msg, Line: v.Line, Column: v.Column})
	}
	return out, nil
}

type schemaFS map[string][]byte

func (f schemaFS) Open(name string) (fs.File, error) {
	data, ok := f[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &schemaFile{name: name, Reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

type schemaFile struct {
	*bytes.Reader
	name string
	size int64
}

func (f *schemaFile) Stat() (fs.FileInfo, error) { return f, nil }
func (f *schemaFile) Close() error               { return nil }
func (f *schemaFile) Name() string               { return f.name }
func (f *schemaFile) Size() int64                { return f.size }
func (f *schemaFile) Mode() fs.FileMode          { return 0o444 }
func (f *schemaFile) ModTime() time.Time         { return time.Time{} }
func (f *schemaFile) IsDir() bool                { return false }
func (f *schemaFile) Sys() any                   { return nil }

var _ io.Reader = (*schemaFile)(nil)

var errUnresolved = errors.New("unresolved schema component")
