package doc

import (
	"context"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/queue"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/xmlutil"
)

const nonPublishableWarning = "Non-publishable version will be created."

type SaveOptions struct {
	// Version freezes a new version after the save.
	Version bool
	// Publishable marks the new version publishable; it implies Version.
	// A version which did not validate is downgraded with a warning.
	Publishable bool
	// ValTypes lists the validations to run; none when empty.
	ValTypes []string
	Locators bool
	Level    int
	// Unlock releases the lock when done. New documents saved with
	// Unlock are never checked out.
	Unlock bool
	// SkipLinks leaves the link tables alone unless links are validated.
	SkipLinks bool
	// ActiveStatus changes the active status; empty keeps it.
	ActiveStatus string
	// DelBlobs purges every blob of a Media document before storing the
	// new one.
	DelBlobs bool
	// Reason is recorded in the audit trail.
	Reason string
	// Comment is recorded on the version and the released lock.
	Comment string
}

// Save writes the working copy. Every step runs in one transaction; on
// failure nothing is stored and a new document stays unsaved.
func (d *Doc) Save(ctx context.Context, opts SaveOptions) error {
	if d.version != 0 {
		return fmt.Errorf("%w: version %d of %s is frozen", ErrInvalidVersionSpec, d.version, d.CdrID())
	}

	before := d.snapshot()
	d.Errors = nil
	d.valStatus = model.ValStatusUnvalidated
	if _, err := d.tree(); err != nil {
		d.valStatus = model.ValStatusMalformed
	}

	dt, err := d.DocType(ctx)
	if err != nil {
		return err
	}
	isNew := d.id == 0
	action, audited := session.ActionModifyDocument, model.ActionModifyDocument
	if isNew {
		action, audited = session.ActionAddDocument, model.ActionAddDocument
	}
	if err := d.sess.Require(ctx, action, dt.Name); err != nil {
		return err
	}

	status := d.activeStatus
	if opts.ActiveStatus != "" {
		if opts.ActiveStatus != model.ActiveStatusActive && opts.ActiveStatus != model.ActiveStatusInactive {
			return fmt.Errorf("%w: %q", ErrInvalidStatus, opts.ActiveStatus)
		}
		status = opts.ActiveStatus
	}
	var added []string
	if status != d.activeStatus {
		if err := d.sess.Require(ctx, session.ActionPublishDocument, dt.Name); err != nil {
			return err
		}
		added = append(added, statusAction(status))
	}
	if opts.DelBlobs {
		if dt.Name != doctype.Media {
			return ErrNotMedia
		}
		if err := d.sess.Require(ctx, session.ActionPurgeBlobs, dt.Name); err != nil {
			return err
		}
		added = append(added, model.ActionPurgeBlobs)
	}
	if opts.Publishable {
		opts.Version = true
	}
	publishable := opts.Publishable

	var version int
	err = d.transaction(ctx, "save", func() error {
		var lock *model.Checkout
		if !isNew {
			var err error
			if lock, err = d.lockHeld(ctx); err != nil {
				return err
			}
		}

		if !dt.IsControl() {
			if err := d.preprocess(ctx, dt, len(opts.ValTypes) > 0); err != nil {
				return err
			}
		}
		title, err := d.generateTitle(ctx, dt)
		if err != nil {
			return err
		}
		if dt.IsControl() {
			if err := d.checkUniqueTitle(ctx, dt, title); err != nil {
				return err
			}
		}
		d.title = title

		now := d.env.Clock.Now()
		if isNew {
			row := &model.Document{
				DocType:      dt.ID,
				Title:        title,
				XML:          d.xml,
				Comment:      d.comment,
				ActiveStatus: status,
				ValStatus:    d.valStatus,
			}
			if err := d.st.CreateDocument(ctx, row); err != nil {
				return err
			}
			d.id = row.ID
			if !opts.Unlock {
				err := d.st.CreateCheckout(ctx, &model.Checkout{DocID: d.id, Usr: d.sess.User, DtOut: now})
				if err != nil {
					return err
				}
			}
		}

		var frags mapset.Set[string]
		if len(opts.ValTypes) > 0 {
			frags, err = d.validate(ctx, dt, ValidateOptions{Types: opts.ValTypes, Locators: opts.Locators, Level: opts.Level})
			if err != nil {
				return err
			}
		}
		if publishable && d.valStatus != model.ValStatusValid && dt.Name != doctype.Filter {
			d.addError(nonPublishableWarning, "", TypeOther, LevelWarning)
			publishable = false
		}

		wellFormed := d.valStatus != model.ValStatusMalformed
		if !dt.IsControl() && wellFormed {
			switch {
			case frags != nil:
				if err := d.storeLinks(ctx, d.Links); err != nil {
					return err
				}
				if err := d.storeFragments(ctx, frags); err != nil {
					return err
				}
			case !opts.SkipLinks:
				if err := d.updateLinks(ctx, dt); err != nil {
					return err
				}
			}
		}

		row, err := d.st.GetDocument(ctx, d.id)
		if err != nil {
			return err
		}
		row.Title, row.XML, row.Comment = title, d.xml, d.comment
		row.ActiveStatus, row.ValStatus, row.ValDate = status, d.valStatus, d.valDate
		if err := d.st.UpdateDocument(ctx, row); err != nil {
			return err
		}
		d.updatedAt = row.UpdatedAt

		if wellFormed {
			if err := d.updateQueryTerms(ctx, publishable); err != nil {
				return err
			}
		}

		if err := d.audit(ctx, audited, opts.Reason, added...); err != nil {
			return err
		}

		if opts.DelBlobs {
			if err := d.st.PurgeBlobs(ctx, d.id); err != nil {
				return err
			}
			d.log().Warnf("purged blobs")
		}
		if d.blobDirty && len(d.blob) > 0 {
			if err := d.storeBlob(ctx); err != nil {
				return err
			}
		}

		if opts.Version {
			if version, err = d.freeze(ctx, publishable, opts.Comment); err != nil {
				return err
			}
		}

		if opts.Unlock && lock != nil {
			var frozen *int
			if version > 0 {
				frozen = &version
			}
			return d.st.CloseCheckout(ctx, lock.ID, now, frozen, opts.Comment)
		}
		return nil
	})
	if err != nil {
		d.restore(before)
		return err
	}

	d.activeStatus = status
	d.blobDirty = false
	d.log().Infof("saved %s version %d", d.CdrID(), version)
	d.publish(ctx, queue.EventSaved, version)
	return nil
}

// saveState is the part of a Doc a failed save puts back. Errors are
// kept so the caller can see why the save failed.
type saveState struct {
	id        uint
	xml       string
	title     string
	valStatus string
	valDate   *time.Time
	updatedAt time.Time
	links     []*Link
}

func (d *Doc) snapshot() saveState {
	return saveState{
		id:        d.id,
		xml:       d.xml,
		title:     d.title,
		valStatus: d.valStatus,
		valDate:   d.valDate,
		updatedAt: d.updatedAt,
		links:     d.Links,
	}
}

func (d *Doc) restore(s saveState) {
	if d.xml != s.xml {
		d.SetXML(s.xml)
	}
	d.id = s.id
	d.title = s.title
	d.valStatus = s.valStatus
	d.valDate = s.valDate
	d.updatedAt = s.updatedAt
	d.Links = s.links
}

func statusAction(status string) string {
	if status == model.ActiveStatusInactive {
		return model.ActionBlockDocument
	}
	return model.ActionUnblockDoc
}

// preprocess prepares content for storage: editor processing
// instructions go when validating, eligible elements get fragment ids,
// and breadcrumbs left by an earlier validation are dropped. Malformed
// content is stored as is.
func (d *Doc) preprocess(ctx context.Context, dt *doctype.Doctype, validating bool) error {
	tree, err := d.Root()
	if err != nil {
		return nil
	}
	changed := false
	if validating && xmlutil.StripEditorPIs(tree) {
		changed = true
	}
	eligible, err := d.fragmentElements(ctx, dt)
	if err != nil {
		return err
	}
	if assignFragmentIDs(tree.Root(), eligible) > 0 {
		changed = true
	}
	if xmlutil.StripLocators(tree.Root()) {
		changed = true
	}
	if !changed {
		return nil
	}
	text, err := xmlutil.Serialize(tree)
	if err != nil {
		return err
	}
	d.SetXML(text)
	return nil
}

// checkUniqueTitle rejects a control document whose title another
// document of its type already has.
func (d *Doc) checkUniqueTitle(ctx context.Context, dt *doctype.Doctype, title string) error {
	docs, err := d.st.FindDocumentsByTitle(ctx, title, &dt.ID)
	if err != nil {
		return err
	}
	for _, other := range docs {
		if other.ID != d.id {
			return fmt.Errorf("%w: %q is used by %s", ErrDuplicateTitle, title, cdrid.Format(other.ID))
		}
	}
	return nil
}

func (d *Doc) storeBlob(ctx context.Context) error {
	data, err := d.env.Codec.Encode(d.blob)
	if err != nil {
		return err
	}
	blob := &model.DocBlob{Data: data, Compression: d.env.Codec.Name()}
	if err := d.st.CreateBlob(ctx, blob); err != nil {
		return err
	}
	return d.st.SetDocBlobUsage(ctx, d.id, blob.ID)
}
