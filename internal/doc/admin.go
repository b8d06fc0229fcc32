package doc

import (
	"context"
	"fmt"
	"strings"

	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/queue"
	"github.com/emrgen/cdr/internal/session"
)

type DeleteOptions struct {
	// SkipLinkCheck removes links from other documents instead of
	// refusing to delete a linked document.
	SkipLinkCheck bool
	Reason        string
}

// Delete marks the document deleted and drops its links, fragment ids
// and index rows. The row and its versions are kept. When other documents
// link here, each link is reported in Errors and nothing changes.
func (d *Doc) Delete(ctx context.Context, opts DeleteOptions) error {
	if d.id == 0 {
		return ErrNotSaved
	}
	if err := d.sess.Require(ctx, session.ActionDeleteDocument, d.docTypeName); err != nil {
		return err
	}

	d.Errors = nil
	err := d.transaction(ctx, "delete", func() error {
		lock, err := d.st.GetActiveCheckout(ctx, d.id)
		if err != nil {
			return err
		}
		if lock != nil && lock.Usr != d.sess.User {
			return &LockedError{DocID: d.CdrID(), User: lock.Usr}
		}

		published, err := d.st.IsPublished(ctx, d.id)
		if err != nil {
			return err
		}
		if published {
			return fmt.Errorf("%w: %s", ErrPublished, d.CdrID())
		}
		mappings, err := d.st.CountExternalMappings(ctx, d.id)
		if err != nil {
			return err
		}
		if mappings > 0 {
			return fmt.Errorf("%w: %s has %d", ErrExternalMapping, d.CdrID(), mappings)
		}

		inbound, err := d.st.ListLinksTo(ctx, d.id)
		if err != nil {
			return err
		}
		var sources []string
		for _, l := range inbound {
			if l.SourceDoc == d.id {
				continue
			}
			src := cdrid.Format(l.SourceDoc)
			sources = append(sources, src)
			d.addError(fmt.Sprintf("Document %s links to this document (%s element)", src, l.SourceElem), "", TypeLink, LevelError)
		}
		if len(sources) > 0 && !opts.SkipLinkCheck {
			return fmt.Errorf("%w: %s", ErrLinkedDocument, strings.Join(sources, ", "))
		}
		d.Errors = nil

		if err := d.st.DeleteLinksTo(ctx, d.id); err != nil {
			return err
		}
		if err := d.st.DeleteAllLinks(ctx, d.id); err != nil {
			return err
		}
		if err := d.st.DeleteAllFragments(ctx, d.id); err != nil {
			return err
		}
		for _, table := range []string{model.QueryTermTable, model.QueryTermPubTable} {
			if err := d.st.DeleteAllQueryTerms(ctx, table, d.id); err != nil {
				return err
			}
		}
		if err := d.st.UpdateActiveStatus(ctx, d.id, model.ActiveStatusDeleted); err != nil {
			return err
		}
		if lock != nil {
			if err := d.st.CloseCheckout(ctx, lock.ID, d.env.Clock.Now(), nil, "deleted"); err != nil {
				return err
			}
		}
		return d.audit(ctx, model.ActionDeleteDocument, opts.Reason)
	})
	if err != nil {
		return err
	}

	d.activeStatus = model.ActiveStatusDeleted
	d.log().Infof("deleted %s", d.CdrID())
	d.publish(ctx, queue.EventDeleted, 0)
	return nil
}

// SetStatus blocks (I) or unblocks (A) the document.
func (d *Doc) SetStatus(ctx context.Context, status, comment string) error {
	if status != model.ActiveStatusActive && status != model.ActiveStatusInactive {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if d.id == 0 {
		return ErrNotSaved
	}
	if err := d.sess.Require(ctx, session.ActionPublishDocument, d.docTypeName); err != nil {
		return err
	}

	changed := false
	err := d.transaction(ctx, "set status", func() error {
		row, err := d.st.GetDocument(ctx, d.id)
		if err != nil {
			return err
		}
		if row.ActiveStatus == model.ActiveStatusDeleted {
			return fmt.Errorf("%w: %s is deleted", ErrInvalidStatus, d.CdrID())
		}
		if row.ActiveStatus == status {
			return nil
		}
		if err := d.st.UpdateActiveStatus(ctx, d.id, status); err != nil {
			return err
		}
		changed = true
		return d.audit(ctx, statusAction(status), comment)
	})
	if err != nil {
		return err
	}

	d.activeStatus = status
	if changed {
		d.log().Infof("active status set to %s", status)
		d.publish(ctx, queue.EventStatusChanged, 0)
	}
	return nil
}

// Unblock makes a blocked document active again.
func (d *Doc) Unblock(ctx context.Context, comment string) error {
	return d.SetStatus(ctx, model.ActiveStatusActive, comment)
}
