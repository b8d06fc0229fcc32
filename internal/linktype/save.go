package linktype

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/store"
)

var ErrInUse = errors.New("link type in use")

// Save adds a link type, or replaces the one named original when original
// is not empty. The definition's ID is set on success.
func Save(ctx context.Context, sess *session.Session, def *LinkType, original string) error {
	st := sess.Store
	action := session.ActionAddLinkType
	if original != "" {
		action = session.ActionModifyLinkType
	}
	if err := sess.Require(ctx, action, ""); err != nil {
		return err
	}

	if def.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalid)
	}
	if def.ChkType == "" {
		def.ChkType = CheckPublishable
	}
	switch def.ChkType {
	case CheckCurrent, CheckPublishable, CheckVersioned:
	default:
		return fmt.Errorf("%w: check type %q", ErrInvalid, def.ChkType)
	}

	row := &model.LinkType{Name: def.Name, ChkType: def.ChkType, Comment: def.Comment}
	if original != "" {
		existing, err := st.GetLinkTypeByName(ctx, original)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, original)
			}
			return err
		}
		row.ID = existing.ID
	}
	if other, err := st.GetLinkTypeByName(ctx, def.Name); err == nil {
		if other.ID != row.ID {
			return fmt.Errorf("%w: name %s already in use", ErrInvalid, def.Name)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	sources := make([]*model.LinkXML, 0, len(def.Sources))
	for _, s := range def.Sources {
		dt, err := doctype.Get(ctx, st, s.DocType)
		if err != nil {
			return err
		}
		if s.Element == "" {
			return fmt.Errorf("%w: source element missing for %s", ErrInvalid, s.DocType)
		}
		claimed, err := st.FindLinkTypeForElement(ctx, dt.ID, s.Element)
		if err == nil && claimed.ID != row.ID {
			return fmt.Errorf("%w: %s/%s already links with %s", ErrInvalid, s.DocType, s.Element, claimed.Name)
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		sources = append(sources, &model.LinkXML{DocType: dt.ID, Element: s.Element})
	}

	targets := make([]*model.LinkTarget, 0, len(def.Targets))
	for _, name := range def.Targets {
		dt, err := doctype.Get(ctx, st, name)
		if err != nil {
			return err
		}
		targets = append(targets, &model.LinkTarget{TargetDocType: dt.ID})
	}

	props := make([]*model.LinkProperty, 0, len(def.Properties))
	for _, p := range def.Properties {
		// reparse so a hand-built property gets the same checks as stored ones
		if _, err := NewProperty(p.Type(), p.Value(), p.Comment()); err != nil {
			return err
		}
		pt, err := st.GetLinkPropTypeByName(ctx, p.Type())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %q", ErrUnknownProperty, p.Type())
			}
			return err
		}
		props = append(props, &model.LinkProperty{PropertyID: pt.ID, Value: p.Value(), Comment: p.Comment()})
	}

	if err := st.SaveLinkType(ctx, row, sources, targets, props); err != nil {
		return err
	}
	def.ID = row.ID

	sess.Logger().WithField("linktype", def.Name).Info("link type saved")
	return nil
}

// Delete removes a link type which no stored link uses.
func Delete(ctx context.Context, sess *session.Session, name string) error {
	if err := sess.Require(ctx, session.ActionDeleteLinkType, ""); err != nil {
		return err
	}
	st := sess.Store
	row, err := st.GetLinkTypeByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	n, err := st.CountLinksOfType(ctx, row.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s has %d links", ErrInUse, name, n)
	}
	if err := st.DeleteLinkType(ctx, row.ID); err != nil {
		return err
	}

	sess.Logger().WithField("linktype", name).Info("link type deleted")
	return nil
}
