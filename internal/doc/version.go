package doc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/store"
)

const labelPrefix = "label "

// ResolveVersion turns a version spec into a version number, 0 being the
// working copy.
func ResolveVersion(ctx context.Context, st store.Store, id uint, spec string) (int, error) {
	spec = strings.TrimSpace(spec)
	lower := strings.ToLower(spec)

	switch {
	case lower == "" || lower == "current":
		return 0, nil
	case lower == "last" || lower == "lastp":
		n, err := st.LastVersion(ctx, id, lower == "lastp")
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("%w: %s has no %s version", ErrVersionNotFound, cdrid.Format(id), lower)
		}
		return n, nil
	case strings.HasPrefix(lower, labelPrefix):
		label := strings.TrimSpace(spec[len(labelPrefix):])
		n, err := st.GetLabeledVersion(ctx, label, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, fmt.Errorf("%w: %s has no version labeled %q", ErrVersionNotFound, cdrid.Format(id), label)
			}
			return 0, err
		}
		return n, nil
	}

	n, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersionSpec, spec)
	}
	if n >= 0 {
		return n, nil
	}
	last, err := st.LastVersion(ctx, id, false)
	if err != nil {
		return 0, err
	}
	if last+n+1 < 1 {
		return 0, fmt.Errorf("%w: %s has only %d versions", ErrVersionNotFound, cdrid.Format(id), last)
	}
	return last + n + 1, nil
}

// CreateLabel adds a version label.
func CreateLabel(ctx context.Context, sess *session.Session, name, comment string) error {
	if err := sess.Require(ctx, session.ActionCreateLabel, ""); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: label name is required", ErrInvalidVersionSpec)
	}
	if err := sess.Store.CreateLabel(ctx, &model.VersionLabel{Name: name, Comment: comment}); err != nil {
		return err
	}
	sess.Logger().Infof("created version label %q", name)
	return nil
}

// DeleteLabel removes a version label from every version carrying it.
func DeleteLabel(ctx context.Context, sess *session.Session, name string) error {
	if err := sess.Require(ctx, session.ActionDeleteLabel, ""); err != nil {
		return err
	}
	label, err := getLabel(ctx, sess.Store, name)
	if err != nil {
		return err
	}
	return sess.Store.DeleteLabel(ctx, label.ID)
}

func getLabel(ctx context.Context, st store.Store, name string) (*model.VersionLabel, error) {
	label, err := st.GetLabelByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrLabelNotFound, name)
		}
		return nil, err
	}
	return label, nil
}

// Label binds a label to this version of the document. A label names at
// most one version per document.
func (d *Doc) Label(ctx context.Context, name string) error {
	if d.version == 0 {
		return fmt.Errorf("%w: only numbered versions can be labeled", ErrInvalidVersionSpec)
	}
	if err := d.sess.Require(ctx, session.ActionLabelDocument, d.docTypeName); err != nil {
		return err
	}
	return d.transaction(ctx, "label", func() error {
		label, err := getLabel(ctx, d.st, name)
		if err != nil {
			return err
		}
		err = d.st.SetVersionLabel(ctx, &model.DocVersionLabel{Label: label.ID, Document: d.id, Num: d.version})
		if err != nil {
			return err
		}
		d.log().Infof("labeled version %d %q", d.version, name)
		return nil
	})
}

// Unlabel removes a label from the document.
func (d *Doc) Unlabel(ctx context.Context, name string) error {
	if d.id == 0 {
		return ErrNotSaved
	}
	if err := d.sess.Require(ctx, session.ActionUnlabelDocument, d.docTypeName); err != nil {
		return err
	}
	return d.transaction(ctx, "unlabel", func() error {
		label, err := getLabel(ctx, d.st, name)
		if err != nil {
			return err
		}
		if err := d.st.DeleteVersionLabel(ctx, label.ID, d.id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s is not labeled %q", ErrLabelNotFound, d.CdrID(), name)
			}
			return err
		}
		return nil
	})
}

// freeze copies the working copy into a new immutable version.
func (d *Doc) freeze(ctx context.Context, publishable bool, comment string) (int, error) {
	last, err := d.st.LastVersion(ctx, d.id, false)
	if err != nil {
		return 0, err
	}
	row, err := d.st.GetDocument(ctx, d.id)
	if err != nil {
		return 0, err
	}

	v := &model.DocVersion{
		ID:          d.id,
		Num:         last + 1,
		DocType:     row.DocType,
		Title:       row.Title,
		XML:         row.XML,
		Comment:     comment,
		ValStatus:   row.ValStatus,
		ValDate:     row.ValDate,
		Publishable: model.No,
		UpdatedDT:   d.env.Clock.Now(),
		Usr:         d.sess.User,
	}
	if v.Comment == "" {
		v.Comment = row.Comment
	}
	if publishable && (row.ValStatus == model.ValStatusValid || d.docTypeName == doctype.Filter) {
		v.Publishable = model.Yes
	}
	if err := d.st.CreateVersion(ctx, v); err != nil {
		return 0, err
	}

	blob, err := d.st.GetDocBlob(ctx, d.id)
	if err != nil {
		return 0, err
	}
	if blob != nil {
		err = d.st.CreateVersionBlobUsage(ctx, &model.VersionBlobUsage{DocID: d.id, DocVersion: v.Num, BlobID: blob.ID})
		if err != nil {
			return 0, err
		}
	}

	d.savedVersion = v.Num
	return v.Num, nil
}
