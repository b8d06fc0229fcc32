// Package seed loads the control data of a repository (doctypes, schemas,
// filters, link types, filter sets, index paths and permission groups)
// from a YAML fixture. Applying a fixture twice changes nothing.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/doc"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/filter"
	"github.com/emrgen/cdr/internal/linktype"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/store"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid fixture")

type Fixture struct {
	DocTypes      []DocType      `yaml:"doctypes"`
	Documents     []Document     `yaml:"documents"`
	QueryTermDefs []QueryTermDef `yaml:"query_term_defs"`
	LinkTypes     []LinkType     `yaml:"link_types"`
	FilterSets    []FilterSet    `yaml:"filter_sets"`
	Groups        []Group        `yaml:"groups"`
}

type DocType struct {
	Name string `yaml:"name"`
	// Schema is the title of the schema document governing the doctype.
	Schema      string `yaml:"schema"`
	Comment     string `yaml:"comment"`
	Unversioned bool   `yaml:"unversioned"`
	Inactive    bool   `yaml:"inactive"`
}

// Document is a control document. Its XML is given inline or read from
// File, relative to the fixture directory.
type Document struct {
	DocType string `yaml:"doctype"`
	Title   string `yaml:"title"`
	File    string `yaml:"file"`
	XML     string `yaml:"xml"`
}

type QueryTermDef struct {
	Path string `yaml:"path"`
	Rule string `yaml:"rule"`
}

type LinkType struct {
	Name       string     `yaml:"name"`
	Check      string     `yaml:"check"`
	Comment    string     `yaml:"comment"`
	Sources    []Source   `yaml:"sources"`
	Targets    []string   `yaml:"targets"`
	Properties []Property `yaml:"properties"`
}

type Source struct {
	DocType string `yaml:"doctype"`
	Element string `yaml:"element"`
}

type Property struct {
	Type    string `yaml:"type"`
	Value   string `yaml:"value"`
	Comment string `yaml:"comment"`
}

// FilterSet members are "name:TITLE" for a filter or "set:NAME" for a
// nested set.
type FilterSet struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Notes       string   `yaml:"notes"`
	Members     []string `yaml:"members"`
}

type Group struct {
	Name    string   `yaml:"name"`
	Users   []string `yaml:"users"`
	Actions []Action `yaml:"actions"`
}

type Action struct {
	Action  string `yaml:"action"`
	DocType string `yaml:"doctype"`
}

// Load decodes a fixture. Unknown keys are rejected.
func Load(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return &fx, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &fx, nil
}

// Stats counts what an Apply created or replaced.
type Stats struct {
	DocTypes      int
	Documents     int
	QueryTermDefs int
	LinkTypes     int
	FilterSets    int
	Grants        int
}

// Seeder applies fixtures through the regular document operations, so the
// session needs every ADD and MODIFY permission involved.
type Seeder struct {
	sess *session.Session
	env  *doc.Env
	// Files resolves Document.File.
	Files fs.FS
}

func New(sess *session.Session, env *doc.Env, files fs.FS) *Seeder {
	return &Seeder{sess: sess, env: env, Files: files}
}

func (s *Seeder) Apply(ctx context.Context, fx *Fixture) (Stats, error) {
	var stats Stats
	steps := []struct {
		name string
		run  func(context.Context, *Fixture, *Stats) error
	}{
		{"doctypes", s.docTypes},
		{"documents", s.documents},
		{"schemas", s.bindSchemas},
		{"query term defs", s.queryTermDefs},
		{"link types", s.linkTypes},
		{"filter sets", s.filterSets},
		{"groups", s.groups},
	}
	for _, step := range steps {
		if err := step.run(ctx, fx, &stats); err != nil {
			return stats, fmt.Errorf("seeding %s: %w", step.name, err)
		}
	}
	s.sess.Logger().Infof("seeded %+v", stats)
	return stats, nil
}

func (s *Seeder) st() store.Store {
	return s.sess.Store
}

func yesNo(no bool) string {
	if no {
		return model.No
	}
	return model.Yes
}

func (s *Seeder) docTypes(ctx context.Context, fx *Fixture, stats *Stats) error {
	for _, d := range fx.DocTypes {
		if d.Name == "" {
			return fmt.Errorf("%w: doctype without a name", ErrInvalid)
		}
		row, err := s.st().GetDocTypeByName(ctx, d.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			row = &model.DocType{Name: d.Name, Format: "xml"}
		case err != nil:
			return err
		}
		versioning, active := yesNo(d.Unversioned), yesNo(d.Inactive)
		if row.ID != 0 && row.Comment == d.Comment && row.Versioning == versioning && row.Active == active {
			continue
		}
		row.Comment, row.Versioning, row.Active = d.Comment, versioning, active
		if err := s.st().SaveDocType(ctx, row); err != nil {
			return err
		}
		stats.DocTypes++
	}
	return nil
}

func (s *Seeder) content(d Document) (string, error) {
	if d.XML != "" {
		return d.XML, nil
	}
	if d.File == "" {
		return "", fmt.Errorf("%w: %s %q has neither xml nor file", ErrInvalid, d.DocType, d.Title)
	}
	if s.Files == nil {
		return "", fmt.Errorf("%w: no directory to read %s from", ErrInvalid, d.File)
	}
	data, err := fs.ReadFile(s.Files, d.File)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// documents stores control documents whose title is not taken yet.
func (s *Seeder) documents(ctx context.Context, fx *Fixture, stats *Stats) error {
	for _, d := range fx.Documents {
		if !doctype.IsControl(d.DocType) {
			return fmt.Errorf("%w: %s is not a control doctype", ErrInvalid, d.DocType)
		}
		xml, err := s.content(d)
		if err != nil {
			return err
		}
		title := d.Title
		if d.DocType == doctype.Filter {
			if t := filter.TitleFromComment(xml); t != "" {
				title = t
			}
		}
		if title == "" {
			return fmt.Errorf("%w: %s document without a title", ErrInvalid, d.DocType)
		}

		dt, err := doctype.Get(ctx, s.st(), d.DocType)
		if err != nil {
			return err
		}
		existing, err := s.st().FindDocumentsByTitle(ctx, title, &dt.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}

		nd := doc.New(s.sess, s.env, d.DocType, xml)
		nd.SetTitle(title)
		if err := nd.Save(ctx, doc.SaveOptions{Version: true, Unlock: true, Comment: "seeded"}); err != nil {
			return fmt.Errorf("%s %q: %w", d.DocType, title, err)
		}
		stats.Documents++
	}
	return nil
}

func (s *Seeder) bindSchemas(ctx context.Context, fx *Fixture, stats *Stats) error {
	var schemaType *doctype.Doctype
	for _, d := range fx.DocTypes {
		if d.Schema == "" {
			continue
		}
		if schemaType == nil {
			var err error
			if schemaType, err = doctype.Get(ctx, s.st(), doctype.Schema); err != nil {
				return err
			}
		}
		docs, err := s.st().FindDocumentsByTitle(ctx, d.Schema, &schemaType.ID)
		if err != nil {
			return err
		}
		if len(docs) != 1 {
			return fmt.Errorf("%w: %d schema documents titled %q", ErrInvalid, len(docs), d.Schema)
		}
		row, err := s.st().GetDocTypeByName(ctx, d.Name)
		if err != nil {
			return err
		}
		if row.XMLSchema != nil && *row.XMLSchema == docs[0].ID {
			continue
		}
		row.XMLSchema = &docs[0].ID
		if err := s.st().SaveDocType(ctx, row); err != nil {
			return err
		}
		stats.DocTypes++
	}
	return nil
}

func (s *Seeder) queryTermDefs(ctx context.Context, fx *Fixture, stats *Stats) error {
	rows, err := s.st().ListQueryTermDefs(ctx)
	if err != nil {
		return err
	}
	known := mapset.NewThreadUnsafeSet[string]()
	for _, r := range rows {
		known.Add(r.Path)
	}
	for _, def := range fx.QueryTermDefs {
		if !known.Add(def.Path) {
			continue
		}
		if err := doc.AddQueryTermDef(ctx, s.sess, def.Path, def.Rule); err != nil {
			return err
		}
		stats.QueryTermDefs++
	}
	return nil
}

func (s *Seeder) linkTypes(ctx context.Context, fx *Fixture, stats *Stats) error {
	for _, lt := range fx.LinkTypes {
		def := &linktype.LinkType{Name: lt.Name, ChkType: lt.Check, Comment: lt.Comment, Targets: lt.Targets}
		for _, src := range lt.Sources {
			def.Sources = append(def.Sources, linktype.Source{DocType: src.DocType, Element: src.Element})
		}
		for _, p := range lt.Properties {
			prop, err := linktype.NewProperty(p.Type, p.Value, p.Comment)
			if err != nil {
				return fmt.Errorf("%s: %w", lt.Name, err)
			}
			def.Properties = append(def.Properties, prop)
		}

		original := ""
		if _, err := s.st().GetLinkTypeByName(ctx, lt.Name); err == nil {
			original = lt.Name
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := linktype.Save(ctx, s.sess, def, original); err != nil {
			return err
		}
		stats.LinkTypes++
	}
	if s.env.LinkTypes != nil && len(fx.LinkTypes) > 0 {
		s.env.LinkTypes.Purge()
	}
	return nil
}

func (s *Seeder) filterSets(ctx context.Context, fx *Fixture, stats *Stats) error {
	lib := s.env.Filters.WithStore(s.st())
	for _, set := range fx.FilterSets {
		def := &filter.Set{Name: set.Name, Description: set.Description, Notes: set.Notes}
		for _, spec := range set.Members {
			m, err := s.member(ctx, lib, spec)
			if err != nil {
				return fmt.Errorf("%s: %w", set.Name, err)
			}
			def.Members = append(def.Members, m)
		}

		original := ""
		if _, err := s.st().GetFilterSetByName(ctx, set.Name); err == nil {
			original = set.Name
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := lib.SaveSet(ctx, s.sess, def, original); err != nil {
			return err
		}
		stats.FilterSets++
	}
	return nil
}

func (s *Seeder) member(ctx context.Context, lib *filter.Library, spec string) (filter.Member, error) {
	if name, ok := strings.CutPrefix(spec, "set:"); ok && name != "" {
		return filter.Member{Subset: name}, nil
	}
	if title, ok := strings.CutPrefix(spec, "name:"); ok && title != "" {
		id, err := lib.FindByTitle(ctx, title)
		if err != nil {
			return filter.Member{}, err
		}
		return filter.Member{Filter: id}, nil
	}
	return filter.Member{}, fmt.Errorf("%w: filter set member %q", ErrInvalid, spec)
}

func (s *Seeder) groups(ctx context.Context, fx *Fixture, stats *Stats) error {
	for _, g := range fx.Groups {
		if g.Name == "" {
			return fmt.Errorf("%w: group without a name", ErrInvalid)
		}
		for _, usr := range g.Users {
			if err := s.st().AddGroupUser(ctx, g.Name, usr); err != nil {
				return err
			}
		}
		for _, a := range g.Actions {
			if a.DocType != "" {
				if _, err := doctype.Get(ctx, s.st(), a.DocType); err != nil {
					return err
				}
			}
			if err := s.st().SaveGroupAction(ctx, &model.GrpAction{Grp: g.Name, Action: a.Action, DocType: a.DocType}); err != nil {
				return err
			}
			stats.Grants++
		}
	}
	return nil
}
