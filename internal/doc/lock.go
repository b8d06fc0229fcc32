package doc

import (
	"context"

	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/queue"
	"github.com/emrgen/cdr/internal/session"
)

type CheckOutOptions struct {
	// Force takes the lock away from another user.
	Force   bool
	Comment string
}

type CheckInOptions struct {
	// Force releases a lock held by another user.
	Force bool
	// Abandon releases the lock without creating a version.
	Abandon bool
	Comment string
}

// CheckOut locks the document for the session user. Checking out a
// document the user already holds is a no-op.
func (d *Doc) CheckOut(ctx context.Context, opts CheckOutOptions) error {
	if d.id == 0 {
		return ErrNotSaved
	}
	if err := d.sess.Require(ctx, session.ActionModifyDocument, d.docTypeName); err != nil {
		return err
	}

	return d.transaction(ctx, "check-out", func() error {
		lock, err := d.st.GetActiveCheckout(ctx, d.id)
		if err != nil {
			return err
		}
		if lock != nil {
			if lock.Usr == d.sess.User {
				return nil
			}
			if !opts.Force {
				return &LockedError{DocID: d.CdrID(), User: lock.Usr}
			}
			if err := d.sess.Require(ctx, session.ActionForceCheckout, d.docTypeName); err != nil {
				return err
			}
			comment := "forced check-out by " + d.sess.User
			if err := d.st.CloseCheckout(ctx, lock.ID, d.env.Clock.Now(), nil, comment); err != nil {
				return err
			}
			d.log().Warnf("abandoned lock held by %s", lock.Usr)
		}
		return d.st.CreateCheckout(ctx, &model.Checkout{
			DocID:   d.id,
			Usr:     d.sess.User,
			DtOut:   d.env.Clock.Now(),
			Comment: opts.Comment,
		})
	})
}

// CheckIn releases the lock. Unless abandoned, changes made since the
// last version are frozen into a new version first.
func (d *Doc) CheckIn(ctx context.Context, opts CheckInOptions) error {
	if d.id == 0 {
		return ErrNotSaved
	}

	var version int
	err := d.transaction(ctx, "check-in", func() error {
		lock, err := d.st.GetActiveCheckout(ctx, d.id)
		if err != nil {
			return err
		}
		if lock == nil {
			return ErrNotLocked
		}
		if lock.Usr != d.sess.User {
			if !opts.Force {
				return &LockedError{DocID: d.CdrID(), User: lock.Usr}
			}
			if err := d.sess.Require(ctx, session.ActionForceCheckin, d.docTypeName); err != nil {
				return err
			}
		}

		var frozen *int
		if !opts.Abandon {
			changed, err := d.changedSinceVersion(ctx)
			if err != nil {
				return err
			}
			if changed {
				if version, err = d.freeze(ctx, false, opts.Comment); err != nil {
					return err
				}
				frozen = &version
			}
		}
		return d.st.CloseCheckout(ctx, lock.ID, d.env.Clock.Now(), frozen, opts.Comment)
	})
	if err != nil {
		return err
	}

	d.log().Infof("checked in, version %d", version)
	d.publish(ctx, queue.EventCheckedIn, version)
	return nil
}

// changedSinceVersion reports whether the stored working copy differs from
// the latest version.
func (d *Doc) changedSinceVersion(ctx context.Context) (bool, error) {
	last, err := d.st.LastVersion(ctx, d.id, false)
	if err != nil || last == 0 {
		return last == 0, err
	}
	v, err := d.st.GetVersion(ctx, d.id, last)
	if err != nil {
		return false, err
	}
	row, err := d.st.GetDocument(ctx, d.id)
	if err != nil {
		return false, err
	}
	return row.XML != v.XML || row.Title != v.Title || row.DocType != v.DocType, nil
}

// lockHeld checks that the session user holds the lock of an existing
// document.
func (d *Doc) lockHeld(ctx context.Context) (*model.Checkout, error) {
	lock, err := d.st.GetActiveCheckout(ctx, d.id)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, ErrNotLocked
	}
	if lock.Usr != d.sess.User {
		return nil, &LockedError{DocID: d.CdrID(), User: lock.Usr}
	}
	return lock, nil
}
