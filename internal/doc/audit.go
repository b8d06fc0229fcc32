package doc

import (
	"context"
	"fmt"
	"time"

	"github.com/emrgen/cdr/internal/model"
)

// auditTime waits until the clock has moved into a second later than the
// latest audit row of the document and returns that second. Audit rows
// are keyed by (document, whole second).
func (d *Doc) auditTime(ctx context.Context) (time.Time, error) {
	clock := d.env.Clock
	now := clock.Now().Truncate(time.Second)

	last, err := d.st.LastAuditTime(ctx, d.id)
	if err != nil || last == nil {
		return now, err
	}

	floor := last.Truncate(time.Second)
	deadline := clock.Now().Add(d.env.AuditTimeout)
	for !now.After(floor) {
		if clock.Now().After(deadline) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrAuditTimeout, d.CdrID())
		}
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		clock.Sleep(d.env.AuditPoll)
		now = clock.Now().Truncate(time.Second)
	}
	return now, nil
}

// audit records one write, plus any secondary actions made by it.
func (d *Doc) audit(ctx context.Context, action, comment string, added ...string) error {
	at, err := d.auditTime(ctx)
	if err != nil {
		return err
	}
	err = d.st.CreateAuditTrail(ctx, &model.AuditTrail{
		Document: d.id,
		DT:       at,
		Usr:      d.sess.User,
		Action:   action,
		Program:  d.sess.Program,
		Comment:  comment,
	})
	if err != nil {
		return err
	}
	for _, a := range added {
		if err := d.st.CreateAddedAction(ctx, &model.AuditTrailAddedAction{Document: d.id, DT: at, Action: a}); err != nil {
			return err
		}
	}
	return nil
}
